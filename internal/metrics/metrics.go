package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Gauges
var (
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medivoice_active_sessions",
		Help: "Number of registered voice sessions",
	})
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medivoice_active_connections",
		Help: "Number of open voice WebSocket connections",
	})
	TurnsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medivoice_turns_in_flight",
		Help: "Number of utterances currently being processed",
	})
)

// Counters
var (
	SessionsCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivoice_sessions_created_total",
		Help: "Total sessions created",
	})
	SessionsEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medivoice_sessions_ended_total",
		Help: "Total sessions removed by reason",
	}, []string{"reason"})
	FramesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medivoice_frames_total",
		Help: "Audio frames received by accumulator action",
	}, []string{"action"})
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medivoice_turns_total",
		Help: "Processed turns by outcome",
	}, []string{"outcome"})
	SeverityTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medivoice_turn_severity_total",
		Help: "Completed turns by emergency level",
	}, []string{"level"})
	StaleResultsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivoice_stale_results_total",
		Help: "Turn results dropped because their session ended",
	})
	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "medivoice_audio_decode_errors_total",
		Help: "Inbound audio chunks that could not be decoded",
	})
)

// Histograms
var (
	StageLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medivoice_stage_duration_ms",
		Help:    "Turn stage duration in milliseconds",
		Buckets: []float64{100, 250, 500, 1000, 2000, 5000, 10000, 30000},
	}, []string{"stage"})
	UtteranceSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "medivoice_utterance_seconds",
		Help:    "Duration of flushed utterances",
		Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 8, 12},
	})
)
