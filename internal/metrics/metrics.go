package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingestion metrics
var (
	IngestRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pharmastore",
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion runs by terminal status",
		},
		[]string{"status"},
	)

	IngestRowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pharmastore",
			Subsystem: "ingest",
			Name:      "rows_total",
			Help:      "Processed sheet rows by outcome",
		},
		[]string{"outcome"},
	)

	IngestRollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "pharmastore",
			Subsystem: "ingest",
			Name:      "rollbacks_total",
			Help:      "Products deleted by cancelled or failed runs",
		},
	)

	IngestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "pharmastore",
			Subsystem: "ingest",
			Name:      "run_duration_seconds",
			Help:      "Wall time of an ingestion run",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pharmastore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)
)

// Row outcomes
const (
	RowUploaded      = "uploaded"
	RowImageMissing  = "image_missing"
	RowEnrichFailed  = "enrichment_failed"
	RowInvalid       = "invalid"
	RowPersistFailed = "persist_failed"
)
