// Package signal turns per-frame pose detections into a smoothed chart series
// and a rate-limited threshold alert.
//
// Each tracked keypoint keeps a history bounded by the retention window. Every
// tick the chart average of each keypoint is recomputed from scratch, and the
// observations of all keypoints inside the shorter alert window are pooled and
// compared to the threshold. An Aggregator has a single owner and is not safe
// for concurrent use.
package signal

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/dj-oyu/posewatch/pkg/types"
)

// ChartSeries holds the windowed average Y of keypoints 0..4, in index order.
type ChartSeries [TrackedKeypoints]float64

// Evaluation is the outcome of one Evaluate tick.
type Evaluation struct {
	Series ChartSeries `json:"series"`
	// Counts is the number of retained observations per keypoint.
	Counts [TrackedKeypoints]int `json:"counts"`
	// Average is the pooled alert-window mean; valid only when HasSignal.
	Average   float64 `json:"average"`
	Pooled    int     `json:"pooled"`
	HasSignal bool    `json:"has_signal"`
	Alerted   bool    `json:"alerted"`
}

// Aggregator maintains the keypoint histories.
type Aggregator struct {
	cfg       Config
	alerter   Alerter
	histories [TrackedKeypoints]history
	scratch   []float64
}

// New returns an Aggregator. Zero-valued windows in cfg fall back to the
// defaults; a nil alerter discards alerts.
func New(cfg Config, alerter Alerter) *Aggregator {
	def := DefaultConfig()
	if cfg.Retention <= 0 {
		cfg.Retention = def.Retention
	}
	if cfg.AlertWindow <= 0 {
		cfg.AlertWindow = def.AlertWindow
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.Tone == (Tone{}) {
		cfg.Tone = def.Tone
	}
	if cfg.Selector == nil {
		cfg.Selector = def.Selector
	}
	if alerter == nil {
		alerter = AlerterFunc(func(Alert) {})
	}
	return &Aggregator{cfg: cfg, alerter: alerter}
}

// Config returns the effective configuration.
func (a *Aggregator) Config() Config { return a.cfg }

// Ingest records the selected pose's tracked keypoints at now, then prunes
// every history to the retention window. Pruning happens even when poses is
// empty.
func (a *Aggregator) Ingest(poses []types.Pose, now time.Time) {
	if pose, ok := a.cfg.Selector(poses); ok {
		for i := 0; i < TrackedKeypoints; i++ {
			kp := pose.At(i)
			if !a.usable(kp) {
				continue
			}
			a.histories[i].push(Observation{Keypoint: i, Timestamp: now, Y: kp.Y})
		}
	}

	for i := range a.histories {
		a.histories[i].prune(now, a.cfg.Retention)
	}
}

func (a *Aggregator) usable(kp *types.Keypoint) bool {
	if kp == nil {
		return false
	}
	if math.IsNaN(kp.Y) || math.IsInf(kp.Y, 0) {
		return false
	}
	return kp.Score >= a.cfg.MinScore
}

// Evaluate recomputes the chart series and decides whether to alert. A fired
// alert updates state.LastAlert.
func (a *Aggregator) Evaluate(now time.Time, state *AlertState) Evaluation {
	var ev Evaluation

	for i := range a.histories {
		a.scratch = a.histories[i].appendWithin(a.scratch[:0], now, a.cfg.Retention)
		ev.Counts[i] = len(a.scratch)
		if len(a.scratch) > 0 {
			ev.Series[i] = stat.Mean(a.scratch, nil)
		}
	}

	a.scratch = a.scratch[:0]
	for i := range a.histories {
		a.scratch = a.histories[i].appendWithin(a.scratch, now, a.cfg.AlertWindow)
	}
	if len(a.scratch) == 0 {
		return ev
	}

	ev.HasSignal = true
	ev.Pooled = len(a.scratch)
	ev.Average = stat.Mean(a.scratch, nil)

	if state == nil || !state.Enabled || ev.Average <= state.Threshold {
		return ev
	}
	if !state.debounced(now, a.cfg.Debounce) {
		return ev
	}

	state.LastAlert = now
	ev.Alerted = true
	a.alerter.Alert(Alert{
		At:        now,
		Average:   ev.Average,
		Threshold: state.Threshold,
		Tone:      a.cfg.Tone,
	})
	return ev
}

// Observations returns a copy of keypoint i's history.
func (a *Aggregator) Observations(i int) []Observation {
	if i < 0 || i >= TrackedKeypoints {
		return nil
	}
	return a.histories[i].snapshot()
}

// Retained returns the total number of observations held.
func (a *Aggregator) Retained() int {
	n := 0
	for i := range a.histories {
		n += a.histories[i].len()
	}
	return n
}

// Reset drops every history.
func (a *Aggregator) Reset() {
	for i := range a.histories {
		a.histories[i].clear()
	}
}
