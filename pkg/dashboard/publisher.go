package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/gfxtelemetry/bigquery-shim/internal/telem"
	"github.com/gfxtelemetry/bigquery-shim/pkg/bigquery"
	"github.com/gfxtelemetry/bigquery-shim/pkg/store"
	"github.com/gfxtelemetry/bigquery-shim/pkg/util"

	"github.com/alecthomas/kingpin"
	kitlog "github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opencensus.io/trace"
)

var (
	publishReportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigquery_shim_publish_reports_total",
			Help: "Count of reports published, by report key and outcome",
		},
		[]string{"report", "outcome"},
	)
	publishReportDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bigquery_shim_publish_report_duration_seconds",
			Help:    "Distribution of time spent building and writing each report",
			Buckets: prometheus.ExponentialBuckets(0.125, 2, 12), // 0.125 -> 512s
		},
		[]string{"report"},
	)
)

// publishedAtKey is added to every document, recording when it was built.
const publishedAtKey = "publishedAt"

// Querier runs a query to completion. It is satisfied by *bigquery.Client.
type Querier interface {
	Query(ctx context.Context, query bigquery.Query) (*bigquery.Result, error)
}

type PublisherOptions struct {
	Concurrency int
	Prefix      string
}

func (opt *PublisherOptions) Bind(cmd *kingpin.CmdClause, prefix string) *PublisherOptions {
	cmd.Flag(fmt.Sprintf("%sconcurrency", prefix), "Number of reports to build concurrently").Default("4").IntVar(&opt.Concurrency)
	cmd.Flag(fmt.Sprintf("%sprefix", prefix), "Store prefix that report files are written beneath").Default("data").StringVar(&opt.Prefix)

	return opt
}

// Result is the outcome of publishing a single report.
type Result struct {
	Key      string
	URI      string
	Duration time.Duration
	Err      error
}

type Publisher struct {
	querier Querier
	store   store.Store
	opts    PublisherOptions
	now     func() time.Time
}

func NewPublisher(querier Querier, s store.Store, opts PublisherOptions) *Publisher {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}

	return &Publisher{querier: querier, store: s, opts: opts, now: time.Now}
}

// Publish builds and writes every report, returning one result per report in the order
// given. Reports are independent: a failed report is not written, but does not prevent
// the others from publishing. The returned error joins every report failure.
func (p *Publisher) Publish(ctx context.Context, reports []Report) ([]Result, error) {
	ctx, span, logger := telem.StartSpan(ctx, "pkg/dashboard/Publisher.Publish")
	span.AddAttributes(trace.Int64Attribute("reports", int64(len(reports))))
	defer span.End()

	results := make([]Result, len(reports))
	work := make(chan int)

	var wg sync.WaitGroup
	for worker := 0; worker < p.opts.Concurrency; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				results[idx] = p.publish(ctx, reports[idx])
			}
		}()
	}

	for idx := range reports {
		work <- idx
	}

	close(work)
	wg.Wait()

	errs := []error{}
	for _, result := range results {
		if result.Err != nil {
			errs = append(errs, errors.Wrapf(result.Err, "report %s", result.Key))
		}
	}

	logger.Log("event", "publish.done", "reports", len(reports), "failed", len(errs))
	return results, util.JoinErrors(errs)
}

func (p *Publisher) publish(ctx context.Context, report Report) (result Result) {
	ctx, span, logger := telem.StartSpan(ctx, "pkg/dashboard/Publisher.publish")
	span.AddAttributes(trace.StringAttribute("report", report.Key))
	defer span.End()

	key := path.Join(p.opts.Prefix, report.Key)
	logger = kitlog.With(logger, "report", report.Key)
	result = Result{Key: report.Key, URI: p.store.URI(key)}

	defer prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		outcome := "success"
		if result.Err != nil {
			outcome = "failure"
			span.SetStatus(trace.Status{Code: trace.StatusCodeUnknown, Message: result.Err.Error()})
		}

		result.Duration = time.Duration(v * float64(time.Second))
		logger.Log("event", "report.publish", "outcome", outcome, "duration", v, "uri", result.URI, "error", result.Err)
		publishReportsTotal.WithLabelValues(report.Key, outcome).Inc()
		publishReportDurationSeconds.WithLabelValues(report.Key).Observe(v)
	})).ObserveDuration()

	content, err := p.Build(ctx, report)
	if err != nil {
		result.Err = err
		return result
	}

	result.Err = p.store.Put(ctx, key, content, "application/json")
	return result
}

// Build runs every section of the report in turn and renders the JSON document. The
// first failing section fails the whole report, as a partial document would render as
// a broken dashboard.
func (p *Publisher) Build(ctx context.Context, report Report) ([]byte, error) {
	document := map[string]interface{}{}
	for _, section := range report.Sections {
		result, err := p.querier.Query(ctx, bigquery.Query{
			Name:   fmt.Sprintf("%s/%s", report.Key, section.Name),
			SQL:    section.Query,
			Params: section.Params,
			Vars:   section.Vars,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "section %s", section.Name)
		}

		value, err := section.Build(result.Rows)
		if err != nil {
			return nil, errors.Wrapf(err, "section %s", section.Name)
		}

		document[section.Name] = value
	}

	document[publishedAtKey] = p.now().UTC().Format(time.RFC3339)

	// encoding/json sorts map keys, so documents are stable across runs
	return json.MarshalIndent(document, "", "  ")
}
