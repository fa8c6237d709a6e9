package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every fieldsync collector; kept apart from the default
// registry so tests can build several engines in one process.
var Registry = prometheus.NewRegistry()

var (
	opDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fieldsync",
		Name:      "operation_duration_seconds",
		Help:      "Duration of traced operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"op"})

	stepDuration = promauto.With(Registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fieldsync",
		Name:      "operation_step_seconds",
		Help:      "Duration of marked steps inside traced operations.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 4, 10),
	}, []string{"op", "step"})

	// RecordFragments counts fragments appended locally, by type.
	RecordFragments = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Name:      "record_fragments_total",
		Help:      "Fragments appended to local records.",
	}, []string{"type"})

	// SyncRecords counts records moved by the sync engine, by direction.
	SyncRecords = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Name:      "sync_records_total",
		Help:      "Records uploaded or downloaded.",
	}, []string{"direction"})

	// SyncFailures counts failed sync attempts, by phase.
	SyncFailures = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Name:      "sync_failures_total",
		Help:      "Failed sync attempts.",
	}, []string{"phase"})

	// DeployFiles counts files handled by publication, by action.
	DeployFiles = promauto.With(Registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "fieldsync",
		Name:      "deploy_files_total",
		Help:      "Files pushed or pulled by publication.",
	}, []string{"action"})

	// SyncAnchor exposes the last download cursor.
	SyncAnchor = promauto.With(Registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "fieldsync",
		Name:      "sync_anchor",
		Help:      "Last anchor observed by the download phase.",
	})
)

// Handler serves the fieldsync registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
