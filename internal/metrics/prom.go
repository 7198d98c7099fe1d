package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name:        "manim_bridge_build_info",
			Help:        "Build information",
			ConstLabels: prometheus.Labels{"component": "bridge"},
		},
		[]string{"date", "sha", "version"},
	)

	calls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manim_bridge_calls_total",
			Help: "Protocol calls sent to the tool server",
		},
		[]string{"method", "outcome"},
	)

	callDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "manim_bridge_call_duration_seconds",
			Help:    "Time from admission to response for each protocol call",
			Buckets: []float64{.005, .05, .25, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"method"},
	)

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "manim_bridge_queue_depth",
			Help: "Callers waiting to be admitted by the correlator",
		},
	)

	childUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "manim_bridge_child_up",
			Help: "1 when an initialized tool server process is running",
		},
	)

	childSpawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manim_bridge_child_spawns_total",
			Help: "Tool server spawn attempts",
		},
		[]string{"outcome"},
	)

	childInvalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "manim_bridge_child_invalidations_total",
			Help: "Tool server processes discarded after a transport failure",
		},
		[]string{"reason"},
	)

	jobsRecorded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "manim_bridge_jobs_recorded_total",
			Help: "Render jobs recorded in the job index",
		},
	)
)

// Register registers all metrics with the provided registerer.
func Register(r prometheus.Registerer) {
	r.MustRegister(buildInfo, calls, callDuration, queueDepth, childUp, childSpawns, childInvalidations, jobsRecorded)
}

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, sha, date string) {
	buildInfo.WithLabelValues(date, sha, version).Set(1)
}

// ObserveCall counts a finished call and records its latency.
func ObserveCall(method, outcome string, d time.Duration) {
	calls.WithLabelValues(method, outcome).Inc()
	callDuration.WithLabelValues(method).Observe(d.Seconds())
}

// SetQueueDepth sets the number of callers waiting for admission.
func SetQueueDepth(n int64) {
	queueDepth.Set(float64(n))
}

// SetChildUp reports whether a tool server is running.
func SetChildUp(up bool) {
	if up {
		childUp.Set(1)
		return
	}
	childUp.Set(0)
}

// ChildSpawn counts a spawn attempt.
func ChildSpawn(outcome string) {
	childSpawns.WithLabelValues(outcome).Inc()
}

// ChildInvalidated counts a discarded child.
func ChildInvalidated(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	childInvalidations.WithLabelValues(reason).Inc()
}

// RecordJob counts a render job added to the index.
func RecordJob() {
	jobsRecorded.Inc()
}
