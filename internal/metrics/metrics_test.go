package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dj-oyu/posewatch/internal/signal"
)

func TestUpdateEvaluationExported(t *testing.T) {
	m := New()
	ev := signal.Evaluation{
		Series:    signal.ChartSeries{120, 0, 0, 0, 0},
		HasSignal: true,
		Average:   120,
		Alerted:   true,
	}
	m.UpdateEvaluation(ev, signal.AlertState{Enabled: true, Threshold: 100}, 7, 2*time.Millisecond)
	m.FramesIngested.Add(3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		"posewatch_frames_ingested_total 3",
		"posewatch_alerts_fired_total 1",
		"posewatch_alert_enabled 1",
		"posewatch_alert_threshold 100",
		"posewatch_retained_observations 7",
		`posewatch_keypoint_average_y{keypoint="nose"} 120`,
		`posewatch_keypoint_average_y{keypoint="right_ear"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("metrics output missing %q", want)
		}
	}
}
