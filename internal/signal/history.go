package signal

import (
	"time"

	"github.com/gammazero/deque"
)

// Observation is one recorded keypoint height.
type Observation struct {
	Keypoint  int       `json:"keypoint"`
	Timestamp time.Time `json:"-"`
	Y         float64   `json:"y"`
}

// history is a time-ordered window of observations for one keypoint.
type history struct {
	obs deque.Deque[Observation]
	// unordered is set when an observation arrived older than the newest one,
	// so pruning from the front alone is not enough.
	unordered bool
}

func (h *history) push(o Observation) {
	if h.obs.Len() > 0 && o.Timestamp.Before(h.obs.Back().Timestamp) {
		h.unordered = true
	}
	h.obs.PushBack(o)
}

// prune drops every observation with now - ts >= window.
func (h *history) prune(now time.Time, window time.Duration) {
	if h.unordered {
		h.filter(now, window)
		return
	}
	for h.obs.Len() > 0 && now.Sub(h.obs.Front().Timestamp) >= window {
		h.obs.PopFront()
	}
}

func (h *history) filter(now time.Time, window time.Duration) {
	n := h.obs.Len()
	for i := 0; i < n; i++ {
		o := h.obs.PopFront()
		if now.Sub(o.Timestamp) < window {
			h.obs.PushBack(o)
		}
	}
	h.unordered = false
	for i := 1; i < h.obs.Len(); i++ {
		if h.obs.At(i).Timestamp.Before(h.obs.At(i - 1).Timestamp) {
			h.unordered = true
			break
		}
	}
}

// appendWithin appends the Y of every observation inside window to dst.
func (h *history) appendWithin(dst []float64, now time.Time, window time.Duration) []float64 {
	for i := 0; i < h.obs.Len(); i++ {
		o := h.obs.At(i)
		if now.Sub(o.Timestamp) < window {
			dst = append(dst, o.Y)
		}
	}
	return dst
}

func (h *history) len() int { return h.obs.Len() }

func (h *history) snapshot() []Observation {
	out := make([]Observation, h.obs.Len())
	for i := range out {
		out[i] = h.obs.At(i)
	}
	return out
}

func (h *history) clear() {
	h.obs.Clear()
	h.unordered = false
}
