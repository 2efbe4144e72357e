package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dj-oyu/posewatch/internal/signal"
	"github.com/dj-oyu/posewatch/pkg/types"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesIngested atomic.Uint64
	FramesEmpty    atomic.Uint64 // frames with zero detected poses
	FrameErrors    atomic.Uint64 // undecodable frames
	IdleTicks      atomic.Uint64
	AlertsFired    atomic.Uint64

	// Transport clients
	WebSocketClients atomic.Int64
	WebRTCClients    atomic.Int64
	StreamClients    atomic.Int64

	// Latest evaluation, stored as float64 bits
	series       [signal.TrackedKeypoints]atomic.Uint64
	average      atomic.Uint64
	threshold    atomic.Uint64
	alertEnabled atomic.Uint64
	retained     atomic.Uint64

	EvaluateLatencyUs atomic.Uint64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func loadUint(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

func loadInt(v *atomic.Int64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

func loadFloat(v *atomic.Uint64) func() float64 {
	return func() float64 { return math.Float64frombits(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	m.gauge("posewatch_frames_ingested_total", "Total pose frames ingested", loadUint(&m.FramesIngested))
	m.gauge("posewatch_frames_empty_total", "Total frames with no detected pose", loadUint(&m.FramesEmpty))
	m.gauge("posewatch_frame_errors_total", "Total frames rejected as malformed", loadUint(&m.FrameErrors))
	m.gauge("posewatch_idle_ticks_total", "Total idle evaluations without a new frame", loadUint(&m.IdleTicks))
	m.gauge("posewatch_alerts_fired_total", "Total threshold alerts fired", loadUint(&m.AlertsFired))

	m.gauge("posewatch_websocket_clients", "Connected WebSocket pose sources", loadInt(&m.WebSocketClients))
	m.gauge("posewatch_webrtc_clients", "Connected WebRTC data channel pose sources", loadInt(&m.WebRTCClients))
	m.gauge("posewatch_stream_clients", "Connected chart stream subscribers", loadInt(&m.StreamClients))

	m.gauge("posewatch_alert_window_average", "Pooled average Y over the alert window", loadFloat(&m.average))
	m.gauge("posewatch_alert_threshold", "Current alert threshold", loadFloat(&m.threshold))
	m.gauge("posewatch_alert_enabled", "Alerting enabled (0=off, 1=on)", loadUint(&m.alertEnabled))
	m.gauge("posewatch_retained_observations", "Observations held in the retention window", loadUint(&m.retained))
	m.gauge("posewatch_evaluate_latency_us", "Latency of the last ingest+evaluate in microseconds", loadUint(&m.EvaluateLatencyUs))

	for i := range m.series {
		v := &m.series[i]
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Name:        "posewatch_keypoint_average_y",
				Help:        "Windowed average Y per tracked keypoint",
				ConstLabels: prometheus.Labels{"keypoint": types.KeypointNames[i]},
			},
			loadFloat(v),
		))
	}
}

// UpdateEvaluation records the latest tick's outputs.
func (m *Metrics) UpdateEvaluation(ev signal.Evaluation, state signal.AlertState, retained int, took time.Duration) {
	for i, v := range ev.Series {
		m.series[i].Store(math.Float64bits(v))
	}
	if ev.HasSignal {
		m.average.Store(math.Float64bits(ev.Average))
	} else {
		m.average.Store(math.Float64bits(0))
	}
	if ev.Alerted {
		m.AlertsFired.Add(1)
	}
	m.UpdateControls(state)
	m.retained.Store(uint64(retained))
	m.EvaluateLatencyUs.Store(uint64(took.Microseconds()))
}

// UpdateControls records the threshold and toggle.
func (m *Metrics) UpdateControls(state signal.AlertState) {
	m.threshold.Store(math.Float64bits(state.Threshold))
	if state.Enabled {
		m.alertEnabled.Store(1)
	} else {
		m.alertEnabled.Store(0)
	}
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
