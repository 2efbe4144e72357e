package signal

import "time"

// AlertState is the mutable alert configuration handed to Evaluate each tick.
// The zero LastAlert means no alert has fired yet.
type AlertState struct {
	Enabled   bool      `json:"enabled"`
	Threshold float64   `json:"threshold"`
	LastAlert time.Time `json:"-"`
}

// NewAlertState returns the startup state: alerts off, default threshold.
func NewAlertState() AlertState {
	return AlertState{Threshold: DefaultThreshold}
}

// Alert is emitted when the pooled average crosses the threshold.
type Alert struct {
	At        time.Time `json:"-"`
	Average   float64   `json:"average"`
	Threshold float64   `json:"threshold"`
	Tone      Tone      `json:"tone"`
}

// Alerter receives fire-and-forget alert triggers. Implementations must not block.
type Alerter interface {
	Alert(a Alert)
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(a Alert)

// Alert calls f(a).
func (f AlerterFunc) Alert(a Alert) { f(a) }

type multiAlerter []Alerter

func (m multiAlerter) Alert(a Alert) {
	for _, al := range m {
		al.Alert(a)
	}
}

// MultiAlerter fans an alert out to every non-nil alerter.
func MultiAlerter(alerters ...Alerter) Alerter {
	out := make(multiAlerter, 0, len(alerters))
	for _, a := range alerters {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// debounced reports whether enough time has passed since the last alert.
func (s *AlertState) debounced(now time.Time, spacing time.Duration) bool {
	if s.LastAlert.IsZero() {
		return true
	}
	return now.Sub(s.LastAlert) >= spacing
}
