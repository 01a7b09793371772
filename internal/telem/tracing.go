package telem

import (
	"fmt"

	"contrib.go.opencensus.io/exporter/jaeger"
	"contrib.go.opencensus.io/exporter/stackdriver"
	"github.com/alecthomas/kingpin"
	"go.opencensus.io/trace"
)

const (
	TracingNone        = "none"
	TracingJaeger      = "jaeger"
	TracingStackdriver = "stackdriver"
)

type TracingOptions struct {
	Exporter            string
	ServiceName         string
	JaegerAgentEndpoint string
	ProjectID           string
}

func (opt *TracingOptions) Bind(app *kingpin.Application, prefix string) *TracingOptions {
	app.Flag(fmt.Sprintf("%sexporter", prefix), "Trace exporter, one of none, jaeger or stackdriver").
		Default(TracingNone).EnumVar(&opt.Exporter, TracingNone, TracingJaeger, TracingStackdriver)
	app.Flag(fmt.Sprintf("%sjaeger-agent-endpoint", prefix), "Endpoint for Jaeger agent").
		Default("localhost:6831").StringVar(&opt.JaegerAgentEndpoint)
	app.Flag(fmt.Sprintf("%sproject-id", prefix), "Google Project ID receiving Stackdriver traces").
		Envar("GOOGLE_CLOUD_PROJECT").StringVar(&opt.ProjectID)

	return opt
}

// Tracing registers the configured trace exporter. The returned function flushes any
// buffered spans, and should be called before the process exits.
func Tracing(opts TracingOptions) (flush func(), err error) {
	switch opts.Exporter {
	case "", TracingNone:
		return func() {}, nil

	case TracingJaeger:
		exporter, err := jaeger.NewExporter(jaeger.Options{
			AgentEndpoint: opts.JaegerAgentEndpoint,
			Process: jaeger.Process{
				ServiceName: opts.ServiceName,
			},
		})
		if err != nil {
			return nil, err
		}

		trace.RegisterExporter(exporter)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})

		return exporter.Flush, nil

	case TracingStackdriver:
		exporter, err := stackdriver.NewExporter(stackdriver.Options{
			ProjectID: opts.ProjectID,
		})
		if err != nil {
			return nil, err
		}

		trace.RegisterExporter(exporter)
		trace.ApplyConfig(trace.Config{DefaultSampler: trace.AlwaysSample()})

		return exporter.Flush, nil
	}

	return nil, fmt.Errorf("unsupported trace exporter: %s", opts.Exporter)
}
