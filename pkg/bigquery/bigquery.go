// Package bigquery is a thin shim over the BigQuery client. It renders templated SQL,
// runs it as labelled jobs, and hands back rows with normalised column names. Results can
// also be staged into tables and extracted to Cloud Storage.
package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gfxtelemetry/bigquery-shim/internal/telem"

	bq "cloud.google.com/go/bigquery"
	"github.com/alecthomas/kingpin"
	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

type Options struct {
	ProjectID                     string
	Dataset                       string
	DatasetDefaultTableExpiration time.Duration
	Location                      string
	CredentialsFile               string
	MaxBytesBilled                int64
	Labels                        map[string]string
}

func (opt *Options) Bind(cmd *kingpin.CmdClause, prefix string) *Options {
	cmd.Flag(fmt.Sprintf("%sproject-id", prefix), "Google Project ID").Envar("GOOGLE_CLOUD_PROJECT").StringVar(&opt.ProjectID)
	cmd.Flag(fmt.Sprintf("%sdataset", prefix), "BigQuery dataset name, used for staging tables").Default("bigquery_shim").StringVar(&opt.Dataset)
	cmd.Flag(fmt.Sprintf("%sdataset-default-table-expiration", prefix), "BigQuery dataset default table expiration, applied only if creating the dataset").
		Default("168h").DurationVar(&opt.DatasetDefaultTableExpiration)
	cmd.Flag(fmt.Sprintf("%slocation", prefix), "BigQuery location").Default("US").StringVar(&opt.Location)
	cmd.Flag(fmt.Sprintf("%scredentials-file", prefix), "Service account credentials, defaulting to application default credentials").
		Envar("GOOGLE_APPLICATION_CREDENTIALS").StringVar(&opt.CredentialsFile)
	cmd.Flag(fmt.Sprintf("%smax-bytes-billed", prefix), "Fail queries that would bill more than this many bytes, 0 for no limit").
		Default("0").Int64Var(&opt.MaxBytesBilled)
	cmd.Flag(fmt.Sprintf("%slabel", prefix), "Label applied to every job, as key=value").StringMapVar(&opt.Labels)

	return opt
}

// Client runs queries within a single project, and stages results into one dataset.
type Client struct {
	client  *bq.Client
	dataset *bq.Dataset
	opts    Options
}

func New(ctx context.Context, opts Options) (*Client, error) {
	if opts.ProjectID == "" {
		return nil, fmt.Errorf("no Google project configured")
	}

	for key := range opts.Labels {
		if !labelPattern.MatchString(key) {
			return nil, fmt.Errorf("invalid job label %q", key)
		}
	}

	clientOpts := []option.ClientOption{}
	if opts.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}

	client, err := bq.NewClient(ctx, opts.ProjectID, clientOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create BigQuery client")
	}

	return &Client{
		client:  client,
		dataset: client.Dataset(opts.Dataset),
		opts:    opts,
	}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// EnsureDataset creates the staging dataset if it does not already exist.
func (c *Client) EnsureDataset(ctx context.Context) error {
	ctx, span := trace.StartSpan(ctx, "pkg/bigquery/Client.EnsureDataset")
	defer span.End()

	md, err := c.dataset.Metadata(ctx)
	if allowNotFound(err) != nil {
		return errors.Wrap(err, "failed to get dataset metadata")
	}

	logger := telem.LoggerFrom(ctx, "project", c.opts.ProjectID, "dataset", c.opts.Dataset, "location", c.opts.Location)
	if md != nil {
		logger.Log("event", "dataset.exists", "msg", "dataset already exists")
		return nil
	}

	logger.Log("event", "dataset.create", "msg", "dataset does not exist, creating")
	md = &bq.DatasetMetadata{
		Name:                   c.opts.Dataset,
		Location:               c.opts.Location,
		Description:            "Dataset created by bigquery-shim",
		DefaultTableExpiration: c.opts.DatasetDefaultTableExpiration,
		Labels:                 c.opts.Labels,
	}

	return errors.Wrap(c.dataset.Create(ctx, md), "failed to create dataset")
}

// ParseFormat maps a user facing format name onto a BigQuery extract format.
func ParseFormat(format string) (bq.DataFormat, error) {
	switch strings.ToLower(format) {
	case "json", "ndjson":
		return bq.JSON, nil
	case "csv":
		return bq.CSV, nil
	case "avro":
		return bq.Avro, nil
	}

	return "", fmt.Errorf("unsupported export format: %s", format)
}

// ExportTable extracts a staging table into Cloud Storage, waiting for the extract job to
// finish. The destination may contain a single * wildcard to shard large tables.
func (c *Client) ExportTable(ctx context.Context, table, destination string, format bq.DataFormat) error {
	ctx, span, logger := telem.StartSpan(ctx, "pkg/bigquery/Client.ExportTable")
	span.AddAttributes(
		trace.StringAttribute("table", table),
		trace.StringAttribute("destination", destination),
	)
	defer span.End()

	if !strings.HasPrefix(destination, "gs://") {
		return fmt.Errorf("export destination must be a gs:// URI, not %s", destination)
	}

	gcsRef := bq.NewGCSReference(destination)
	gcsRef.DestinationFormat = format

	extractor := c.dataset.Table(table).ExtractorTo(gcsRef)
	extractor.Location = c.opts.Location
	extractor.Labels = c.opts.Labels
	extractor.JobID = newJobID()

	logger = kitlog.With(logger, "table", table, "destination", destination, "job_id", extractor.JobID)
	logger.Log("event", "extract.start", "format", format)

	job, err := extractor.Run(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to start extract job")
	}

	if err := waitForJob(ctx, job); err != nil {
		return errors.Wrap(err, "extract job failed")
	}

	logger.Log("event", "extract.done")
	return nil
}

func waitForJob(ctx context.Context, job *bq.Job) error {
	status, err := job.Wait(ctx)
	if err != nil {
		return err
	}

	return status.Err()
}

func allowNotFound(err error) error {
	if err, ok := err.(*googleapi.Error); ok && err.Code == 404 {
		return nil
	}

	return err
}
