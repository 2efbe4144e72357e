package clock

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	before := time.Now()
	now := Real{}.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealTickerFires(t *testing.T) {
	ticker := Real{}.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	select {
	case <-ticker.C():
	case <-time.After(500 * time.Millisecond):
		t.Fatal("ticker did not fire")
	}
}

func TestManualAdvance(t *testing.T) {
	start := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	c := NewManual(start)

	c.AdvanceMillis(1500)
	if got := c.Now().Sub(start); got != 1500*time.Millisecond {
		t.Errorf("elapsed = %v, want 1.5s", got)
	}
}

func TestManualTicker(t *testing.T) {
	c := NewManual(time.Unix(0, 0))
	ticker := c.NewTicker(100 * time.Millisecond)

	c.AdvanceMillis(50)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period")
	default:
	}

	c.AdvanceMillis(50)
	select {
	case <-ticker.C():
	default:
		t.Fatal("ticker did not fire after its period")
	}

	ticker.Stop()
	c.AdvanceMillis(500)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}
