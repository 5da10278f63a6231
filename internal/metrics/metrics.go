package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "jit",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ActiveSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jit",
		Name:      "active_sessions",
		Help:      "Number of currently active transcoder sessions.",
	})

	SessionStartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "session_starts_total",
		Help:      "Total transcoder sessions started by kind.",
	}, []string{"kind"})

	SessionFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "session_failures_total",
		Help:      "Total transcoder sessions that exited with an error.",
	})

	SeekRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "seek_restarts_total",
		Help:      "Total session restarts triggered by seek detection.",
	})

	SegmentRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "segment_requests_total",
		Help:      "Total segment requests by outcome.",
	}, []string{"outcome"})

	SegmentWaitDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jit",
		Name:      "segment_wait_duration_seconds",
		Help:      "Time spent waiting for a requested segment to become ready.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 9, 15},
	})

	SegmentTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "segment_timeouts_total",
		Help:      "Total segment waits that hit the readiness deadline.",
	})

	HwSlotsInUse = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "jit",
		Name:      "hw_slots_in_use",
		Help:      "Hardware encoder slots currently held.",
	})

	PausedSessionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "paused_sessions_total",
		Help:      "Total sessions paused by the idle sweeper.",
	})

	CleanupStopsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "cleanup_stops_total",
		Help:      "Total sessions reclaimed by the inactivity sweeper.",
	})

	PostProcessedSegmentsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "postprocessed_segments_total",
		Help:      "Total segments whose continuity counters were rewritten.",
	})

	GridPlansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "jit",
		Name:      "grid_plans_total",
		Help:      "Total segment grids planned, by alignment outcome.",
	}, []string{"alignment"})

	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "jit",
		Name:      "probe_duration_seconds",
		Help:      "Duration of media probe invocations in seconds.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ActiveSessions,
		SessionStartsTotal,
		SessionFailuresTotal,
		SeekRestartsTotal,
		SegmentRequestsTotal,
		SegmentWaitDuration,
		SegmentTimeoutsTotal,
		HwSlotsInUse,
		PausedSessionsTotal,
		CleanupStopsTotal,
		PostProcessedSegmentsTotal,
		GridPlansTotal,
		ProbeDuration,
	)
}
