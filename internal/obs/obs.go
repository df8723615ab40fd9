// Package obs wires up the ambient observability stack shared by both
// binaries: structured logging via zap and a prometheus metrics registry
// served over HTTP.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a zap.SugaredLogger at the given level ("debug",
// "info", "warn", "error"). Unknown levels fall back to "info".
func NewLogger(level string) *zap.SugaredLogger {
	var zapLevel zapcore.Level
	if err := zapLevel.Set(level); err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// Metrics holds the mothership-side prometheus collectors named in
// SPEC_FULL.md §2.
type Metrics struct {
	Registry *prometheus.Registry

	TSFramesDecoded    *prometheus.CounterVec
	TSChecksumFailures prometheus.Counter
	MLDatagramsTotal   *prometheus.CounterVec
	MLDuplicates       prometheus.Counter
	MLChecksumFailures prometheus.Counter
	PendingReplies     prometheus.Gauge
	MissionsDispatched *prometheus.CounterVec
	MissionsCompleted  *prometheus.CounterVec
}

// NewMetrics constructs a fresh registry with all mothership metrics
// registered.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		TSFramesDecoded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovermesh_ts_frames_decoded_total",
			Help: "TS frames successfully decoded, by frame type.",
		}, []string{"frame_type"}),
		TSChecksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rovermesh_ts_checksum_failures_total",
			Help: "TS frames dropped due to CRC mismatch.",
		}),
		MLDatagramsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovermesh_ml_datagrams_total",
			Help: "ML datagrams received, by message type.",
		}, []string{"msg_type"}),
		MLDuplicates: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rovermesh_ml_duplicates_total",
			Help: "ML datagrams suppressed as duplicates.",
		}),
		MLChecksumFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rovermesh_ml_checksum_failures_total",
			Help: "ML datagrams dropped due to CRC mismatch.",
		}),
		PendingReplies: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rovermesh_ml_pending_replies",
			Help: "Current size of the ML pending-reply cache.",
		}),
		MissionsDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovermesh_missions_dispatched_total",
			Help: "Missions handed out by the dispatcher, by source queue.",
		}, []string{"queue"}),
		MissionsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rovermesh_missions_completed_total",
			Help: "Missions acknowledged as DONE, by mission kind.",
		}, []string{"mission_kind"}),
	}

	reg.MustRegister(
		m.TSFramesDecoded, m.TSChecksumFailures, m.MLDatagramsTotal,
		m.MLDuplicates, m.MLChecksumFailures, m.PendingReplies,
		m.MissionsDispatched, m.MissionsCompleted,
	)
	return m
}

// Handler returns the HTTP handler to serve at --metrics-addr.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
