// Package metrics exposes detection counters as Prometheus metrics.
//
// bgp-leakscan runs as a batch job, so metrics are written once at exit to a
// node_exporter textfile rather than served over HTTP.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bgp_leakscan"

// Recorder collects run and fit metrics. A nil *Recorder records nothing.
type Recorder struct {
	registry *prometheus.Registry

	runs          prometheus.Counter
	runDuration   prometheus.Histogram
	asesProcessed prometheus.Counter
	invalidSeries prometheus.Counter
	leaksDetected prometheus.Counter
	fitCandidates *prometheus.CounterVec
	fitDuration   *prometheus.HistogramVec
	fitCacheHits  prometheus.Counter
}

// NewRecorder creates a recorder backed by its own registry.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detection_runs_total",
			Help:      "Number of detection passes over a dataset.",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_run_duration_seconds",
			Help:      "Duration of one detection pass.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		asesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ases_processed_total",
			Help:      "Number of AS series evaluated.",
		}),
		invalidSeries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalid_series_total",
			Help:      "Number of AS series rejected as malformed.",
		}),
		leaksDetected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leak_days_detected_total",
			Help:      "Number of (AS, day) leak detections.",
		}),
		fitCandidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fit_candidates_total",
			Help:      "Number of parameter sets evaluated while fitting.",
		}, []string{"strategy"}),
		fitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fit_duration_seconds",
			Help:      "Duration of a parameter fit.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"strategy"}),
		fitCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fit_cache_hits_total",
			Help:      "Number of fits served from the cache.",
		}),
	}

	r.registry.MustRegister(
		r.runs, r.runDuration, r.asesProcessed, r.invalidSeries,
		r.leaksDetected, r.fitCandidates, r.fitDuration, r.fitCacheHits,
	)
	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRun records one detection pass.
func (r *Recorder) ObserveRun(elapsed time.Duration, ases, invalid, detections int) {
	if r == nil {
		return
	}
	r.runs.Inc()
	r.runDuration.Observe(elapsed.Seconds())
	r.asesProcessed.Add(float64(ases))
	r.invalidSeries.Add(float64(invalid))
	r.leaksDetected.Add(float64(detections))
}

// ObserveFit records a completed fit.
func (r *Recorder) ObserveFit(strategy string, candidates int, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.fitCandidates.WithLabelValues(strategy).Add(float64(candidates))
	r.fitDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// FitCacheHit records a fit answered by the cache.
func (r *Recorder) FitCacheHit() {
	if r == nil {
		return
	}
	r.fitCacheHits.Inc()
}

// WriteTextfile writes every metric in the Prometheus text format to path.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
