// Package engine owns the signal aggregator and its alert state. It is the
// single logical driver of the aggregator: frame ticks, idle ticks and control
// changes are serialised under one lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/clock"
	"github.com/dj-oyu/posewatch/internal/logger"
	"github.com/dj-oyu/posewatch/internal/metrics"
	"github.com/dj-oyu/posewatch/internal/signal"
	"github.com/dj-oyu/posewatch/pkg/types"
)

// ErrThresholdRange is returned when a threshold falls outside the control range.
var ErrThresholdRange = errors.New("threshold out of range")

// Publisher receives chart, alert and control events. It must not block.
type Publisher interface {
	Publish(kind string, payload any) error
}

// Config configures an Engine.
type Config struct {
	Signal       signal.Config
	Threshold    float64
	ThresholdMin float64
	ThresholdMax float64
	AlertEnabled bool
	// IdleInterval is how long without a frame before the engine runs an
	// empty tick so stale history decays. Zero disables idle ticks.
	IdleInterval time.Duration
}

// DefaultConfig matches the demo page: threshold 300 on a 0..480 slider, alerts off.
func DefaultConfig() Config {
	return Config{
		Signal:       signal.DefaultConfig(),
		Threshold:    signal.DefaultThreshold,
		ThresholdMin: 0,
		ThresholdMax: 480,
		IdleInterval: 200 * time.Millisecond,
	}
}

// Controls is the externally adjustable alert state.
type Controls struct {
	Enabled   bool    `json:"enabled"`
	Threshold float64 `json:"threshold"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
}

// DefaultControls returns the controls of a DefaultConfig engine.
func DefaultControls() Controls {
	d := DefaultConfig()
	return Controls{Enabled: d.AlertEnabled, Threshold: d.Threshold, Min: d.ThresholdMin, Max: d.ThresholdMax}
}

// ControlUpdate changes any subset of the controls.
type ControlUpdate struct {
	Enabled   *bool    `json:"enabled,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// ChartEvent is published after every tick and replaces the previous series.
type ChartEvent struct {
	FrameNumber  uint64                       `json:"frame_number"`
	Frames       uint64                       `json:"frames"`
	Series       signal.ChartSeries           `json:"series"`
	Labels       []string                     `json:"labels"`
	Counts       [signal.TrackedKeypoints]int `json:"counts"`
	Average      float64                      `json:"average"`
	HasSignal    bool                         `json:"has_signal"`
	Threshold    float64                      `json:"threshold"`
	AlertEnabled bool                         `json:"alert_enabled"`
	Alerted      bool                         `json:"alerted"`
	Idle         bool                         `json:"idle"`
	Timestamp    float64                      `json:"timestamp"`
}

// AlertEvent tells viewers to play the alert tone.
type AlertEvent struct {
	Average    float64 `json:"average"`
	Threshold  float64 `json:"threshold"`
	Volume     float64 `json:"volume"`
	Frequency  float64 `json:"frequency"`
	DurationMs int64   `json:"duration_ms"`
	Timestamp  float64 `json:"timestamp"`
}

// Engine drives an Aggregator from pose frames and idle ticks.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	clock     clock.Clock
	agg       *signal.Aggregator
	state     signal.AlertState
	latest    signal.Evaluation
	frames    uint64
	lastFrame time.Time
	lastEvent ChartEvent

	pub     Publisher
	metrics *metrics.Metrics
}

// New creates an Engine. extra receives every alert in addition to the
// publisher; pub, m and extra may be nil.
func New(cfg Config, clk clock.Clock, pub Publisher, m *metrics.Metrics, extra signal.Alerter) (*Engine, error) {
	if err := cfg.Signal.Validate(); err != nil {
		return nil, fmt.Errorf("signal config: %w", err)
	}
	if cfg.ThresholdMax < cfg.ThresholdMin {
		return nil, fmt.Errorf("threshold range [%v, %v] is empty", cfg.ThresholdMin, cfg.ThresholdMax)
	}
	if clk == nil {
		clk = clock.Real{}
	}

	e := &Engine{
		cfg:     cfg,
		clock:   clk,
		pub:     pub,
		metrics: m,
		state: signal.AlertState{
			Enabled:   cfg.AlertEnabled,
			Threshold: cfg.Threshold,
		},
	}
	if err := e.checkThreshold(cfg.Threshold); err != nil {
		return nil, err
	}
	e.agg = signal.New(cfg.Signal, signal.MultiAlerter(signal.AlerterFunc(e.onAlert), extra))
	if m != nil {
		m.UpdateControls(e.state)
	}
	return e, nil
}

// HandleFrame ingests one frame stamped with the engine clock and evaluates.
func (e *Engine) HandleFrame(frame types.PoseFrame) signal.Evaluation {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	now := e.clock.Now()
	e.agg.Ingest(frame.Poses, now)
	ev := e.agg.Evaluate(now, &e.state)

	e.frames++
	e.lastFrame = now
	e.latest = ev
	if e.metrics != nil {
		e.metrics.FramesIngested.Add(1)
		if len(frame.Poses) == 0 {
			e.metrics.FramesEmpty.Add(1)
		}
		e.metrics.UpdateEvaluation(ev, e.state, e.agg.Retained(), time.Since(start))
	}
	e.publishChartLocked(frame.FrameNumber, ev, now, false)
	return ev
}

// IdleTick runs an empty ingest+evaluate when no frame arrived within the idle
// interval and there is still history to decay. It reports whether it ran.
func (e *Engine) IdleTick() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.clock.Now()
	if !e.lastFrame.IsZero() && now.Sub(e.lastFrame) < e.cfg.IdleInterval {
		return false
	}
	if e.agg.Retained() == 0 && e.latest == (signal.Evaluation{}) {
		return false
	}

	e.agg.Ingest(nil, now)
	ev := e.agg.Evaluate(now, &e.state)
	e.latest = ev
	if e.metrics != nil {
		e.metrics.IdleTicks.Add(1)
		e.metrics.UpdateEvaluation(ev, e.state, e.agg.Retained(), 0)
	}
	e.publishChartLocked(e.lastEvent.FrameNumber, ev, now, true)
	return true
}

// Run performs idle ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.cfg.IdleInterval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := e.clock.NewTicker(e.cfg.IdleInterval)
	defer ticker.Stop()

	logger.Info("Engine", "Idle decay ticker running (interval=%v)", e.cfg.IdleInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			e.IdleTick()
		}
	}
}

// Controls returns the current controls.
func (e *Engine) Controls() Controls {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.controlsLocked()
}

func (e *Engine) controlsLocked() Controls {
	return Controls{
		Enabled:   e.state.Enabled,
		Threshold: e.state.Threshold,
		Min:       e.cfg.ThresholdMin,
		Max:       e.cfg.ThresholdMax,
	}
}

// SetThreshold changes the alert threshold.
func (e *Engine) SetThreshold(v float64) error {
	_, err := e.Apply(ControlUpdate{Threshold: &v})
	return err
}

// SetAlertEnabled toggles alerting.
func (e *Engine) SetAlertEnabled(enabled bool) {
	_, _ = e.Apply(ControlUpdate{Enabled: &enabled})
}

// Apply validates and applies u atomically; on error nothing changes.
func (e *Engine) Apply(u ControlUpdate) (Controls, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if u.Threshold != nil {
		if err := e.checkThreshold(*u.Threshold); err != nil {
			return e.controlsLocked(), err
		}
		e.state.Threshold = *u.Threshold
	}
	if u.Enabled != nil {
		e.state.Enabled = *u.Enabled
	}

	c := e.controlsLocked()
	logger.Info("Engine", "Controls updated (enabled=%v, threshold=%.1f)", c.Enabled, c.Threshold)
	if e.metrics != nil {
		e.metrics.UpdateControls(e.state)
	}
	e.publish(broadcast.KindControls, c)
	return c, nil
}

func (e *Engine) checkThreshold(v float64) error {
	if math.IsNaN(v) || v < e.cfg.ThresholdMin || v > e.cfg.ThresholdMax {
		return fmt.Errorf("%w: %v not in [%v, %v]", ErrThresholdRange, v, e.cfg.ThresholdMin, e.cfg.ThresholdMax)
	}
	return nil
}

// Latest returns the last evaluation and the chart event built from it.
func (e *Engine) Latest() (signal.Evaluation, ChartEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latest, e.lastEvent
}

// Frames returns the number of frames handled.
func (e *Engine) Frames() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frames
}

// Reset drops every history, e.g. when the page switches pose models.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.agg.Reset()
	e.latest = signal.Evaluation{}
	now := e.clock.Now()
	logger.Info("Engine", "History reset after %d frames", e.frames)
	e.publishChartLocked(e.lastEvent.FrameNumber, e.latest, now, false)
}

// onAlert runs inside Evaluate, with e.mu held.
func (e *Engine) onAlert(a signal.Alert) {
	logger.Info("Engine", "Alert: average %.1f above threshold %.1f", a.Average, a.Threshold)
	e.publish(broadcast.KindAlert, AlertEvent{
		Average:    a.Average,
		Threshold:  a.Threshold,
		Volume:     a.Tone.Volume,
		Frequency:  a.Tone.Frequency,
		DurationMs: a.Tone.Duration.Milliseconds(),
		Timestamp:  unixSeconds(a.At),
	})
}

func (e *Engine) publishChartLocked(frameNumber uint64, ev signal.Evaluation, now time.Time, idle bool) {
	e.lastEvent = ChartEvent{
		FrameNumber:  frameNumber,
		Frames:       e.frames,
		Series:       ev.Series,
		Labels:       KeypointLabels(),
		Counts:       ev.Counts,
		Average:      ev.Average,
		HasSignal:    ev.HasSignal,
		Threshold:    e.state.Threshold,
		AlertEnabled: e.state.Enabled,
		Alerted:      ev.Alerted,
		Idle:         idle,
		Timestamp:    unixSeconds(now),
	}
	e.publish(broadcast.KindChart, e.lastEvent)
}

func (e *Engine) publish(kind string, payload any) {
	if e.pub == nil {
		return
	}
	if err := e.pub.Publish(kind, payload); err != nil {
		logger.Warn("Engine", "Publish %s failed: %v", kind, err)
	}
}

// KeypointLabels returns the tracked keypoint names in series order.
func KeypointLabels() []string {
	labels := make([]string, signal.TrackedKeypoints)
	copy(labels, types.KeypointNames[:])
	return labels
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
