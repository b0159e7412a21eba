// Package metrics exposes Prometheus instrumentation for the backup engine.
//
// Available metrics:
//   - contentbackup_archives_created_total{rule}
//   - contentbackup_archive_failures_total{rule}
//   - contentbackup_archives_pruned_total{rule}
//   - contentbackup_last_success_timestamp_seconds{rule}
//   - contentbackup_contributor_errors_total{contributor,operation}
//   - contentbackup_persist_cycle_duration_seconds
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "contentbackup"

// Recorder implements backup.Metrics on top of a Prometheus registry.
type Recorder struct {
	registry *prometheus.Registry

	created           *prometheus.CounterVec
	failures          *prometheus.CounterVec
	pruned            *prometheus.CounterVec
	lastSuccess       *prometheus.GaugeVec
	contributorErrors *prometheus.CounterVec
	cycleDuration     prometheus.Histogram
}

// New creates a Recorder with its own registry, including the Go runtime and
// process collectors.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		created: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_created_total",
			Help:      "Backup archives written, by rule.",
		}, []string{"rule"}),
		failures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archive_failures_total",
			Help:      "Backup archives that could not be written, by rule.",
		}, []string{"rule"}),
		pruned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "archives_pruned_total",
			Help:      "Old backup archives removed by retention, by rule.",
		}, []string{"rule"}),
		lastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the newest archive written, by rule.",
		}, []string{"rule"}),
		contributorErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "contributor_errors_total",
			Help:      "Contributor callbacks that returned an error.",
		}, []string{"contributor", "operation"}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "persist_cycle_duration_seconds",
			Help:      "Duration of persist cycles.",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),
	}
}

func (r *Recorder) ArchiveCreated(rule string, at time.Time) {
	r.created.WithLabelValues(rule).Inc()
	r.lastSuccess.WithLabelValues(rule).Set(float64(at.Unix()))
}

func (r *Recorder) ArchiveFailed(rule string) {
	r.failures.WithLabelValues(rule).Inc()
}

func (r *Recorder) ArchivesPruned(rule string, n int) {
	r.pruned.WithLabelValues(rule).Add(float64(n))
}

func (r *Recorder) ContributorFailed(contributor, operation string) {
	r.contributorErrors.WithLabelValues(contributor, operation).Inc()
}

func (r *Recorder) CycleCompleted(d time.Duration) {
	r.cycleDuration.Observe(d.Seconds())
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
