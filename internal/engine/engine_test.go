package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/clock"
	"github.com/dj-oyu/posewatch/internal/metrics"
	"github.com/dj-oyu/posewatch/internal/signal"
	"github.com/dj-oyu/posewatch/pkg/types"
)

type recorder struct {
	mu     sync.Mutex
	events []published
}

type published struct {
	kind    string
	payload any
}

func (r *recorder) Publish(kind string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{kind, payload})
	return nil
}

func (r *recorder) kinds(kind string) []any {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []any
	for _, e := range r.events {
		if e.kind == kind {
			out = append(out, e.payload)
		}
	}
	return out
}

func noseFrame(n uint64, y float64) types.PoseFrame {
	return types.PoseFrame{
		FrameNumber: n,
		Poses: []types.Pose{{
			Score:     0.9,
			Keypoints: []*types.Keypoint{{Name: "nose", Y: y, Score: 0.9}},
		}},
	}
}

func newTestEngine(t *testing.T) (*Engine, *clock.Manual, *recorder) {
	t.Helper()
	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	rec := &recorder{}
	e, err := New(DefaultConfig(), clk, rec, metrics.New(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e, clk, rec
}

func TestHandleFramePublishesChart(t *testing.T) {
	e, clk, rec := newTestEngine(t)

	e.HandleFrame(noseFrame(1, 100))
	clk.AdvanceMillis(100)
	ev := e.HandleFrame(noseFrame(2, 200))

	if ev.Series[types.KeypointNose] != 150 {
		t.Errorf("nose = %v, want 150", ev.Series[types.KeypointNose])
	}
	charts := rec.kinds(broadcast.KindChart)
	if len(charts) != 2 {
		t.Fatalf("chart events = %d, want 2", len(charts))
	}
	last := charts[1].(ChartEvent)
	if last.FrameNumber != 2 || last.Frames != 2 {
		t.Errorf("frame counters = %d/%d", last.FrameNumber, last.Frames)
	}
	if len(last.Labels) != signal.TrackedKeypoints || last.Labels[0] != "nose" {
		t.Errorf("labels = %v", last.Labels)
	}
	if last.Threshold != signal.DefaultThreshold || last.AlertEnabled {
		t.Errorf("controls in event = %v/%v", last.Threshold, last.AlertEnabled)
	}
	if !last.HasSignal || last.Idle {
		t.Errorf("has_signal=%v idle=%v", last.HasSignal, last.Idle)
	}
}

func TestAlertPublishedWithTone(t *testing.T) {
	e, clk, rec := newTestEngine(t)
	e.SetAlertEnabled(true)

	var extra []signal.Alert
	e.agg = signal.New(e.cfg.Signal, signal.MultiAlerter(signal.AlerterFunc(e.onAlert), signal.AlerterFunc(func(a signal.Alert) {
		extra = append(extra, a)
	})))

	e.HandleFrame(noseFrame(1, 400))
	clk.AdvanceMillis(500)
	e.HandleFrame(noseFrame(2, 400))

	alerts := rec.kinds(broadcast.KindAlert)
	if len(alerts) != 1 {
		t.Fatalf("alerts = %d, want 1", len(alerts))
	}
	a := alerts[0].(AlertEvent)
	if a.Volume != 0.2 || a.Frequency != 440 || a.DurationMs != 300 {
		t.Errorf("tone = %+v", a)
	}
	if a.Average != 400 || a.Threshold != 300 {
		t.Errorf("average/threshold = %v/%v", a.Average, a.Threshold)
	}
	if len(extra) != 1 {
		t.Errorf("extra alerter calls = %d, want 1", len(extra))
	}
}

func TestSetThresholdRange(t *testing.T) {
	e, _, rec := newTestEngine(t)

	for _, v := range []float64{-1, 481} {
		if err := e.SetThreshold(v); !errors.Is(err, ErrThresholdRange) {
			t.Errorf("SetThreshold(%v) = %v, want ErrThresholdRange", v, err)
		}
	}
	if got := e.Controls().Threshold; got != signal.DefaultThreshold {
		t.Errorf("threshold changed to %v after rejected update", got)
	}

	if err := e.SetThreshold(480); err != nil {
		t.Fatalf("SetThreshold(480): %v", err)
	}
	c := e.Controls()
	if c.Threshold != 480 || c.Min != 0 || c.Max != 480 {
		t.Errorf("controls = %+v", c)
	}
	if len(rec.kinds(broadcast.KindControls)) != 1 {
		t.Errorf("controls events = %d, want 1", len(rec.kinds(broadcast.KindControls)))
	}
}

func TestApplyIsAllOrNothing(t *testing.T) {
	e, _, _ := newTestEngine(t)
	on := true
	bad := 999.0

	if _, err := e.Apply(ControlUpdate{Enabled: &on, Threshold: &bad}); err == nil {
		t.Fatal("expected error")
	}
	if e.Controls().Enabled {
		t.Error("enabled flipped despite rejected threshold")
	}
}

func TestIdleTickDecaysStaleHistory(t *testing.T) {
	e, clk, rec := newTestEngine(t)

	e.HandleFrame(noseFrame(1, 250))
	if e.IdleTick() {
		t.Error("idle tick ran right after a frame")
	}

	clk.AdvanceMillis(4999)
	if !e.IdleTick() {
		t.Fatal("idle tick skipped while history pending")
	}
	ev, chart := e.Latest()
	if ev.Series[types.KeypointNose] != 250 || !chart.Idle {
		t.Errorf("at 4999ms nose=%v idle=%v", ev.Series[types.KeypointNose], chart.Idle)
	}

	clk.AdvanceMillis(1)
	e.IdleTick()
	ev, _ = e.Latest()
	if ev.Series[types.KeypointNose] != 0 {
		t.Errorf("at 5000ms nose=%v, want 0", ev.Series[types.KeypointNose])
	}

	before := len(rec.kinds(broadcast.KindChart))
	clk.AdvanceMillis(1000)
	if e.IdleTick() {
		t.Error("idle tick ran with nothing left to decay")
	}
	if len(rec.kinds(broadcast.KindChart)) != before {
		t.Error("chart published for a no-op idle tick")
	}
}

func TestRunDrivesIdleTicks(t *testing.T) {
	e, clk, _ := newTestEngine(t)
	e.HandleFrame(noseFrame(1, 250))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	// Wait for Run to register its ticker, then push past retention.
	deadline := time.Now().Add(2 * time.Second)
	for {
		clk.AdvanceMillis(200)
		ev, _ := e.Latest()
		if ev.Series[types.KeypointNose] == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("series never decayed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run returned %v", err)
	}
}

func TestResetClearsSeries(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.HandleFrame(noseFrame(1, 250))
	e.Reset()

	ev, chart := e.Latest()
	if ev.HasSignal || chart.Series != (signal.ChartSeries{}) {
		t.Errorf("after reset ev=%+v chart=%+v", ev, chart.Series)
	}
	if e.Frames() != 1 {
		t.Errorf("frames = %d, reset must keep the counter", e.Frames())
	}
}

func TestNewRejectsBadThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Threshold = 1000
	if _, err := New(cfg, nil, nil, nil, nil); !errors.Is(err, ErrThresholdRange) {
		t.Errorf("New = %v, want ErrThresholdRange", err)
	}
}
