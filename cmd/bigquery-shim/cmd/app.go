package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/ioutil"
	stdlog "log"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gfxtelemetry/bigquery-shim/internal/telem"
	"github.com/gfxtelemetry/bigquery-shim/pkg/bigquery"
	"github.com/gfxtelemetry/bigquery-shim/pkg/dashboard"
	"github.com/gfxtelemetry/bigquery-shim/pkg/manifest"
	"github.com/gfxtelemetry/bigquery-shim/pkg/store"
	"github.com/gfxtelemetry/bigquery-shim/pkg/util"

	"github.com/alecthomas/kingpin"
	"github.com/davecgh/go-spew/spew"
	"github.com/getsentry/sentry-go"
	kitlog "github.com/go-kit/kit/log"
	level "github.com/go-kit/kit/log/level"
	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v2"
)

var logger kitlog.Logger

var (
	app = kingpin.New("bigquery-shim", "Run BigQuery reports for the graphics telemetry dashboard").Version(versionStanza())

	// Global flags
	debug          = app.Flag("debug", "Enable debug logging").Default("false").Bool()
	metricsAddress = app.Flag("metrics-address", "Address to bind HTTP metrics listener").Default("127.0.0.1").String()
	metricsPort    = app.Flag("metrics-port", "Port to bind HTTP metrics listener").Default("9525").Uint16()
	sentryDSN      = app.Flag("sentry-dsn", "Sentry DSN, enabling error reporting").Envar("SENTRY_DSN").String()
	tracingOptions = new(telem.TracingOptions).Bind(app, "tracing.")

	manifestCmd    = app.Command("manifest", "Print and validate the distribution manifest")
	manifestFile   = manifestCmd.Flag("file", "Manifest YAML file, defaulting to the built-in manifest").String()
	manifestRender = manifestCmd.Flag("render", "Render as setup.py instead of YAML").Default("false").Bool()

	query         = app.Command("query", "Run a query, printing rows as newline delimited JSON")
	querySource   = new(querySourceOptions).Bind(query)
	queryDryRun   = query.Flag("dry-run", "Validate the query and print the bytes it would process").Default("false").Bool()
	queryDump     = query.Flag("dump", "Dump rows in Go syntax, including column types").Default("false").Bool()
	queryBigQuery = new(bigquery.Options).Bind(query, "bigquery.")

	export            = app.Command("export", "Stage query results into a table, then extract them to Cloud Storage")
	exportSource      = new(querySourceOptions).Bind(export)
	exportTable       = export.Flag("table", "Staging table, within the configured dataset").Required().String()
	exportDestination = export.Flag("destination", "Cloud Storage URI, such as gs://bucket/export-*.json").Required().String()
	exportFormat      = export.Flag("format", "Export file format").Default("ndjson").Enum("json", "ndjson", "csv", "avro")
	exportBigQuery    = new(bigquery.Options).Bind(export, "bigquery.")

	publish         = app.Command("publish", "Run dashboard reports and write their data files")
	publishReports  = publish.Flag("reports", "Report configuration YAML").Required().ExistingFile()
	publishStore    = publish.Flag("store", "Store URL, such as gs://bucket/prefix or a local directory").Required().String()
	publishOnly     = publish.Flag("report", "Publish only this report key, may be repeated").Strings()
	publishOptions  = new(dashboard.PublisherOptions).Bind(publish, "")
	publishGCS      = new(store.GCSOptions).Bind(publish, "store.")
	publishBigQuery = new(bigquery.Options).Bind(publish, "bigquery.")

	serve        = app.Command("serve", "Serve published data files over HTTP")
	serveStore   = serve.Flag("store", "Store URL, such as gs://bucket/prefix or a local directory").Required().String()
	serveAddress = serve.Flag("listen", "Address to bind the data server").Default("127.0.0.1:8000").String()
	serveOrigin  = serve.Flag("allow-origin", "Access-Control-Allow-Origin for data responses").Default("*").String()
	serveGCS     = new(store.GCSOptions).Bind(serve, "store.")
)

// SilentError should be returned when the command wants to skip all logging of the error
// it has encountered. It wraps no error content as we should never inspect it.
var SilentError = errors.New("silent error")

type UsageError struct {
	error
}

func Run() (err error) {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	logger = kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = level.NewFilter(logger, level.AllowInfo())
	if *debug {
		logger = level.NewFilter(logger, level.AllowDebug())
	}
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC, "caller", kitlog.DefaultCaller)
	stdlog.SetOutput(kitlog.NewStdlibAdapter(logger))

	// Setup an error handler to log and print usage
	defer func() {
		var usageErr UsageError
		switch {
		// Do nothing if no error
		case err == nil:
			return
		// Suppress silent errors
		case errors.Is(err, SilentError):
			return
		// If we're a usage error, unwrap it and print out usage before returning
		case errors.As(err, &usageErr):
			context, _ := app.ParseContext(os.Args[1:])
			app.UsageForContext(context)
			fmt.Fprintf(os.Stderr, "error: %s\n", usageErr.Error())

			err = usageErr.error
			return
		// Otherwise we probably want to log our error
		default:
			sentry.CaptureException(err)
			logger.Log("event", "error", "error", err, "msg", "exiting with error")
		}
	}()

	// This is the root context for the application. Once terminated, everything we have
	// started should also finish.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stage our shutdown to first request termination, then cancel contexts if downstream
	// workers haven't responded.
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	shutdown := make(chan struct{})

	go func() {
		<-sigc
		close(shutdown)
		select {
		case <-time.After(30 * time.Second):
		case <-sigc:
		}
		cancel()
	}()

	ctx = telem.WithLogger(ctx, logger)

	if *sentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: *sentryDSN, Release: Version}); err != nil {
			return UsageError{fmt.Errorf("invalid sentry configuration: %w", err)}
		}

		defer sentry.Flush(5 * time.Second)
	}

	{
		tracingOptions.ServiceName = "bigquery-shim"
		flush, err := telem.Tracing(*tracingOptions)
		if err != nil {
			return UsageError{err}
		}

		defer flush()
	}

	switch command {
	case manifestCmd.FullCommand():
		m := manifest.Default()
		if *manifestFile != "" {
			if m, err = manifest.Load(*manifestFile); err != nil {
				return err
			}
		}

		if *manifestRender {
			err = m.Render(os.Stdout)
		} else {
			encoder := yaml.NewEncoder(os.Stdout)
			if err = encoder.Encode(m); err == nil {
				err = encoder.Close()
			}
		}

		if err != nil {
			return fmt.Errorf("failed to print manifest: %w", err)
		}

		if err := m.Validate(); err != nil {
			var multi interface{ Errors() []error }
			if errors.As(err, &multi) {
				for _, problem := range multi.Errors() {
					logger.Log("event", "manifest.invalid", "error", problem)
				}

				return SilentError
			}

			return err
		}

		return nil

	case query.FullCommand():
		q, err := querySource.Build("adhoc")
		if err != nil {
			return UsageError{err}
		}

		client, err := bigquery.New(ctx, *queryBigQuery)
		if err != nil {
			return UsageError{err}
		}
		defer client.Close()

		if *queryDryRun {
			bytesProcessed, err := client.DryRun(ctx, q)
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stdout, "%d\n", bytesProcessed)
			return nil
		}

		result, err := client.Query(ctx, q)
		if err != nil {
			return err
		}

		if *queryDump {
			spew.Fdump(os.Stdout, result.Rows)
			return nil
		}

		encoder := json.NewEncoder(os.Stdout)
		for _, row := range result.Rows {
			if err := encoder.Encode(row); err != nil {
				return err
			}
		}

		return nil

	case export.FullCommand():
		q, err := exportSource.Build(*exportTable)
		if err != nil {
			return UsageError{err}
		}

		format, err := bigquery.ParseFormat(*exportFormat)
		if err != nil {
			return UsageError{err}
		}

		client, err := bigquery.New(ctx, *exportBigQuery)
		if err != nil {
			return UsageError{err}
		}
		defer client.Close()

		if err := client.EnsureDataset(ctx); err != nil {
			return err
		}

		table, err := client.QueryToTable(ctx, q, *exportTable)
		if err != nil {
			return err
		}

		if err := client.ExportTable(ctx, *exportTable, *exportDestination, format); err != nil {
			return err
		}

		logger.Log("event", "export.done", "table", table, "destination", *exportDestination)
		return nil

	case publish.FullCommand():
		reports, err := dashboard.LoadReports(*publishReports)
		if err != nil {
			return err
		}

		if len(*publishOnly) > 0 {
			if reports, err = selectReports(reports, *publishOnly); err != nil {
				return UsageError{err}
			}
		}

		s, err := store.Open(ctx, *publishStore, *publishGCS)
		if err != nil {
			return UsageError{err}
		}

		client, err := bigquery.New(ctx, *publishBigQuery)
		if err != nil {
			return UsageError{err}
		}
		defer client.Close()

		publisher := dashboard.NewPublisher(client, store.Instrument("publish", s), *publishOptions)
		results, err := publisher.Publish(ctx, reports)
		for _, result := range results {
			logger.Log("event", "report.published", "report", result.Key, "uri", result.URI,
				"duration", result.Duration.Seconds(), "success", result.Err == nil)
		}

		return err

	case serve.FullCommand():
		s, err := store.Open(ctx, *serveStore, *serveGCS)
		if err != nil {
			return UsageError{err}
		}

		var g run.Group

		{
			logger := kitlog.With(logger, "component", "shutdown_handler")

			ctx, cancel := context.WithCancel(ctx)

			// If we're asked to shutdown, we use the rungroup to trigger interrupts for every
			// component
			g.Add(
				func() error {
					select {
					case <-shutdown:
						logger.Log("event", "requesting_shutdown", "msg", "received signal, requesting shutdown")
					case <-ctx.Done():
					}

					return nil
				},
				func(error) {
					cancel() // end the shutdown select
				},
			)
		}

		addServer(&g, kitlog.With(logger, "component", "metrics"), buildMetricsServer(fmt.Sprintf("%s:%d", *metricsAddress, *metricsPort)))
		addServer(&g, kitlog.With(logger, "component", "data"), buildHTTPServer(logger, *serveAddress, store.Instrument("serve", s), *serveOrigin, *debug))

		return g.Run()
	}

	return UsageError{fmt.Errorf("unsupported command")}
}

// querySourceOptions are the flags shared by every command that runs an ad-hoc query.
type querySourceOptions struct {
	SQL     string
	SQLFile string
	Params  map[string]string
	Vars    map[string]string
}

func (opt *querySourceOptions) Bind(cmd *kingpin.CmdClause) *querySourceOptions {
	cmd.Flag("sql", "SQL to run, as a template").StringVar(&opt.SQL)
	cmd.Flag("sql-file", "File containing the SQL template").ExistingFileVar(&opt.SQLFile)
	cmd.Flag("param", "Query parameter, as name=value").StringMapVar(&opt.Params)
	cmd.Flag("var", "Template variable, as name=value").StringMapVar(&opt.Vars)

	return opt
}

// Build produces a query from the flags. Values are parsed as YAML scalars, so numbers
// and booleans are passed to BigQuery with their natural types.
func (opt *querySourceOptions) Build(name string) (bigquery.Query, error) {
	var q bigquery.Query
	switch {
	case opt.SQL != "" && opt.SQLFile != "":
		return q, fmt.Errorf("--sql and --sql-file are mutually exclusive")
	case opt.SQL != "":
		q.SQL = opt.SQL
	case opt.SQLFile != "":
		content, err := ioutil.ReadFile(opt.SQLFile)
		if err != nil {
			return q, err
		}

		q.SQL = string(content)
	default:
		return q, fmt.Errorf("one of --sql or --sql-file is required")
	}

	params, err := parseValues(opt.Params)
	if err != nil {
		return q, fmt.Errorf("invalid --param: %w", err)
	}

	vars, err := parseValues(opt.Vars)
	if err != nil {
		return q, fmt.Errorf("invalid --var: %w", err)
	}

	q.Name, q.Params, q.Vars = name, params, vars
	return q, nil
}

func parseValues(raw map[string]string) (map[string]interface{}, error) {
	values := make(map[string]interface{}, len(raw))
	for key, value := range raw {
		var parsed interface{}
		if err := yaml.Unmarshal([]byte(value), &parsed); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}

		// Empty values and YAML collections are taken verbatim
		switch parsed.(type) {
		case nil, map[interface{}]interface{}, []interface{}:
			parsed = value
		}

		values[key] = parsed
	}

	return values, nil
}

// selectReports filters reports down to the given keys, failing on any that don't exist.
func selectReports(reports []dashboard.Report, keys []string) ([]dashboard.Report, error) {
	selected, known := []dashboard.Report{}, []string{}
	for _, report := range reports {
		known = append(known, report.Key)
		if util.Includes(keys, report.Key) {
			selected = append(selected, report)
		}
	}

	errs := []error{}
	for _, key := range keys {
		if !util.Includes(known, key) {
			errs = append(errs, fmt.Errorf("unknown report: %s", key))
		}
	}

	return selected, util.JoinErrors(errs)
}

func buildMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return &http.Server{Addr: addr, Handler: mux}
}

// addServer runs srv as part of the group, shutting it down gracefully on interrupt.
func addServer(g *run.Group, logger kitlog.Logger, srv *http.Server) {
	g.Add(
		func() error {
			logger.Log("event", "listen", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}

			return nil
		},
		func(error) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(ctx)
		},
	)
}
