// Package metrics exposes the gateway's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsActive tracks currently connected client sessions.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_sessions_active",
		Help: "Currently connected client sessions",
	})

	// SessionsTotal counts sessions created since process start.
	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_sessions_total",
		Help: "Total sessions created",
	})

	// StageDuration is per-stage latency (stt, llm, tts_first_chunk).
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_stage_duration_seconds",
		Help:    "Per-stage latency",
		Buckets: []float64{0.05, 0.1, 0.2, 0.3, 0.5, 0.8, 1.0, 2.0, 5.0, 10.0},
	}, []string{"stage"})

	// Errors counts failures by stage and ErrorKind.
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_errors_total",
		Help: "Error counts by stage and kind",
	}, []string{"stage", "kind"})

	// FramesEmitted counts PCM frames written to clients.
	FramesEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_frames_emitted_total",
		Help: "Total PCM frames emitted across all streams",
	})

	// StreamsStarted/StreamsCompleted/StreamsCancelled track stream outcomes.
	StreamsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_streams_started_total",
		Help: "Total frame streams started",
	})
	StreamsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_streams_completed_total",
		Help: "Total frame streams completed successfully",
	})
	StreamsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_streams_cancelled_total",
		Help: "Total frame streams cancelled or stalled",
	})

	// PacingDriftReset counts scheduler drift-reset events.
	PacingDriftReset = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_pacing_drift_reset_total",
		Help: "Times the frame scheduler snapped its deadline forward after falling behind",
	})

	// PacingSlow counts forced-20ms pacing switches under client underrun.
	PacingSlow = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_pacing_slow_total",
		Help: "Times pacing fell back to 20ms due to client buffer exhaustion",
	})

	// InterFrameInterval observes actual emission spacing for pacing audits.
	InterFrameInterval = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_inter_frame_interval_seconds",
		Help:    "Measured wall-clock spacing between consecutive frame emissions",
		Buckets: []float64{0.010, 0.012, 0.014, 0.016, 0.018, 0.020, 0.022, 0.025, 0.030},
	})

	// MemoryEvictions counts turn evictions from conversation memory.
	MemoryEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_memory_evictions_total",
		Help: "Total non-system turns evicted from conversation memory",
	})
)
