package store

import (
	"context"

	"github.com/gfxtelemetry/bigquery-shim/internal/telem"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bigquery_shim_store_operation_duration_seconds",
			Help:    "Distribution of time spent on store operations, by store and operation",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms -> ~10s
		},
		[]string{"store", "operation"},
	)
	storeOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigquery_shim_store_operation_errors_total",
			Help: "Count of failed store operations, by store and operation",
		},
		[]string{"store", "operation"},
	)
	storeWrittenBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigquery_shim_store_written_bytes_total",
			Help: "Bytes written into the store",
		},
		[]string{"store"},
	)
)

type instrumentedStore struct {
	Store
	name string
}

// Instrument wraps a store so every operation is logged, timed and counted.
func Instrument(name string, s Store) Store {
	return &instrumentedStore{Store: s, name: name}
}

func (s *instrumentedStore) Put(ctx context.Context, key string, content []byte, contentType string) (err error) {
	defer s.observe(ctx, "put", key, &err)()
	if err = s.Store.Put(ctx, key, content, contentType); err == nil {
		storeWrittenBytesTotal.WithLabelValues(s.name).Add(float64(len(content)))
	}

	return err
}

func (s *instrumentedStore) Get(ctx context.Context, key string) (content []byte, err error) {
	defer s.observe(ctx, "get", key, &err)()
	return s.Store.Get(ctx, key)
}

func (s *instrumentedStore) List(ctx context.Context, prefix string) (keys []string, err error) {
	defer s.observe(ctx, "list", prefix, &err)()
	return s.Store.List(ctx, prefix)
}

// observe starts a timer, returning a function that records the outcome of the
// operation. Missing objects are an expected outcome of Get, and not counted as errors.
func (s *instrumentedStore) observe(ctx context.Context, operation, key string, err *error) func() {
	timer := prometheus.NewTimer(prometheus.ObserverFunc(func(v float64) {
		telem.LoggerFrom(ctx).Log("event", "store."+operation, "store", s.name,
			"key", key, "duration", v, "error", *err)
		storeOperationDurationSeconds.WithLabelValues(s.name, operation).Observe(v)
		if *err != nil && *err != ErrNotFound {
			storeOperationErrorsTotal.WithLabelValues(s.name, operation).Inc()
		}
	}))

	return func() { timer.ObserveDuration() }
}
