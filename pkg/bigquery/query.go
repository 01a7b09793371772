package bigquery

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/gfxtelemetry/bigquery-shim/internal/telem"

	bq "cloud.google.com/go/bigquery"
	"github.com/Masterminds/sprig"
	"github.com/alecthomas/template"
	kitlog "github.com/go-kit/kit/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	"google.golang.org/api/iterator"
)

var labelPattern = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,62}$`)

// Query is a named, templated SQL statement. SQL is rendered as a template against Vars
// before submission, which allows table names and other identifiers to be substituted.
// Values should go in Params instead, where they are passed as named query parameters
// (@name) and never interpolated.
type Query struct {
	Name   string
	SQL    string
	Params map[string]interface{}
	Vars   map[string]interface{}
}

// Row is a single result row, keyed by normalised column name.
type Row map[string]bq.Value

type Result struct {
	JobID               string
	Schema              bq.Schema
	Rows                []Row
	TotalBytesProcessed int64
}

// Query runs the query to completion and reads every result row into memory. It is
// intended for aggregate queries whose results are small; use QueryToTable and
// ExportTable for anything else.
func (c *Client) Query(ctx context.Context, query Query) (*Result, error) {
	ctx, span, logger := telem.StartSpan(ctx, "pkg/bigquery/Client.Query")
	span.AddAttributes(trace.StringAttribute("query", query.Name))
	defer span.End()

	q, err := c.buildQuery(query)
	if err != nil {
		return nil, err
	}

	q.JobID = newJobID()
	logger = kitlog.With(logger, "query", query.Name, "job_id", q.JobID)
	logger.Log("event", "query.start")

	started := time.Now()
	job, err := q.Run(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start query %s", query.Name)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed waiting for query %s", query.Name)
	}

	if err := status.Err(); err != nil {
		return nil, errors.Wrapf(err, "query %s failed", query.Name)
	}

	it, err := job.Read(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read results of query %s", query.Name)
	}

	result := &Result{JobID: q.JobID, Rows: make([]Row, 0, it.TotalRows)}
	for {
		var row map[string]bq.Value
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}

		if err != nil {
			return nil, errors.Wrapf(err, "failed to read row of query %s", query.Name)
		}

		normalised, err := NormaliseRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "query %s", query.Name)
		}

		result.Rows = append(result.Rows, normalised)
	}

	result.Schema = it.Schema
	if status.Statistics != nil {
		result.TotalBytesProcessed = status.Statistics.TotalBytesProcessed
	}

	duration := time.Since(started).Seconds()
	queryDurationSeconds.WithLabelValues(query.Name).Observe(duration)
	queryRowsTotal.WithLabelValues(query.Name).Add(float64(len(result.Rows)))
	queryBytesProcessedTotal.WithLabelValues(query.Name).Add(float64(result.TotalBytesProcessed))

	span.AddAttributes(
		trace.Int64Attribute("rows", int64(len(result.Rows))),
		trace.Int64Attribute("bytes_processed", result.TotalBytesProcessed),
	)
	logger.Log("event", "query.done", "duration", duration,
		"rows", len(result.Rows), "bytes_processed", result.TotalBytesProcessed)

	return result, nil
}

// DryRun validates the query without running it, returning the number of bytes it
// would process.
func (c *Client) DryRun(ctx context.Context, query Query) (int64, error) {
	ctx, span := trace.StartSpan(ctx, "pkg/bigquery/Client.DryRun")
	span.AddAttributes(trace.StringAttribute("query", query.Name))
	defer span.End()

	q, err := c.buildQuery(query)
	if err != nil {
		return 0, err
	}

	q.DryRun = true
	job, err := q.Run(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "dry run of query %s failed", query.Name)
	}

	status := job.LastStatus()
	if err := status.Err(); err != nil {
		return 0, errors.Wrapf(err, "dry run of query %s failed", query.Name)
	}

	if status.Statistics == nil {
		return 0, nil
	}

	return status.Statistics.TotalBytesProcessed, nil
}

// QueryToTable writes query results into a table of the staging dataset, replacing any
// existing contents. It returns the fully qualified name of the table.
func (c *Client) QueryToTable(ctx context.Context, query Query, table string) (string, error) {
	ctx, span, logger := telem.StartSpan(ctx, "pkg/bigquery/Client.QueryToTable")
	span.AddAttributes(
		trace.StringAttribute("query", query.Name),
		trace.StringAttribute("table", table),
	)
	defer span.End()

	q, err := c.buildQuery(query)
	if err != nil {
		return "", err
	}

	dst := c.dataset.Table(table)
	q.Dst = dst
	q.CreateDisposition = bq.CreateIfNeeded
	q.WriteDisposition = bq.WriteTruncate
	q.JobID = newJobID()

	logger = kitlog.With(logger, "query", query.Name, "job_id", q.JobID, "table", dst.FullyQualifiedName())
	logger.Log("event", "query.start", "msg", "writing query results to table")

	job, err := q.Run(ctx)
	if err != nil {
		return "", errors.Wrapf(err, "failed to start query %s", query.Name)
	}

	if err := waitForJob(ctx, job); err != nil {
		return "", errors.Wrapf(err, "query %s failed", query.Name)
	}

	logger.Log("event", "query.done")
	return dst.FullyQualifiedName(), nil
}

// buildQuery renders the SQL and applies the client-wide job configuration.
func (c *Client) buildQuery(query Query) (*bq.Query, error) {
	sql, err := RenderSQL(query)
	if err != nil {
		return nil, err
	}

	q := c.client.Query(sql)
	q.Location = c.opts.Location
	q.Labels = c.opts.Labels
	q.MaxBytesBilled = c.opts.MaxBytesBilled
	q.Parameters = BuildParameters(query.Params)

	return q, nil
}

// RenderSQL executes the query template against its Vars. Sprig functions are available,
// so templates can use helpers such as {{ .since | default "2020-01-01" | quote }}.
func RenderSQL(query Query) (string, error) {
	tmpl, err := template.New(query.Name).
		Funcs(template.FuncMap(sprig.GenericFuncMap())).
		Parse(query.SQL)
	if err != nil {
		return "", errors.Wrapf(err, "failed to parse query %s", query.Name)
	}

	var buffer bytes.Buffer
	if err := tmpl.Execute(&buffer, query.Vars); err != nil {
		return "", errors.Wrapf(err, "failed to render query %s", query.Name)
	}

	if len(bytes.TrimSpace(buffer.Bytes())) == 0 {
		return "", fmt.Errorf("query %s rendered to empty SQL", query.Name)
	}

	return buffer.String(), nil
}

// BuildParameters converts params into BigQuery named parameters, sorted by name so
// identical queries produce identical jobs.
func BuildParameters(params map[string]interface{}) []bq.QueryParameter {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	sort.Strings(names)

	parameters := make([]bq.QueryParameter, 0, len(names))
	for _, name := range names {
		parameters = append(parameters, bq.QueryParameter{Name: name, Value: params[name]})
	}

	return parameters
}

func newJobID() string {
	return fmt.Sprintf("shim_%s", uuid.New().String())
}
