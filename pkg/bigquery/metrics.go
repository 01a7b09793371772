package bigquery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bigquery_shim_query_duration_seconds",
			Help:    "Distribution of time spent running BigQuery queries, by query name",
			Buckets: prometheus.ExponentialBuckets(0.125, 2, 12), // 0.125 -> 512s
		},
		[]string{"query"},
	)
	queryRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigquery_shim_query_rows_total",
			Help: "Count of result rows read from BigQuery, by query name",
		},
		[]string{"query"},
	)
	queryBytesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bigquery_shim_query_bytes_processed_total",
			Help: "Bytes processed by BigQuery on our behalf, by query name",
		},
		[]string{"query"},
	)
)
