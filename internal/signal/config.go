package signal

import (
	"fmt"
	"time"
)

// TrackedKeypoints is the number of landmarks monitored, indices 0..4.
const TrackedKeypoints = 5

const (
	DefaultRetention   = 5000 * time.Millisecond
	DefaultAlertWindow = 1000 * time.Millisecond
	DefaultDebounce    = 1000 * time.Millisecond
	DefaultThreshold   = 300.0
)

// Tone describes the audible alert played by the viewer.
type Tone struct {
	Volume    float64       `json:"volume" mapstructure:"volume"`
	Frequency float64       `json:"frequency" mapstructure:"frequency"`
	Duration  time.Duration `json:"duration" mapstructure:"duration"`
}

// DefaultTone is a 300ms 440Hz beep at 20% volume.
func DefaultTone() Tone {
	return Tone{Volume: 0.2, Frequency: 440, Duration: 300 * time.Millisecond}
}

// Config holds the window sizes and alert parameters of an Aggregator.
type Config struct {
	// Retention bounds every keypoint history and the chart average.
	Retention time.Duration
	// AlertWindow is the pooled sub-window compared against the threshold.
	AlertWindow time.Duration
	// Debounce is the minimum spacing between two alerts.
	Debounce time.Duration
	// MinScore drops keypoints whose model confidence is below it. Zero keeps all.
	MinScore float64
	Tone     Tone
	Selector PoseSelector
}

// DefaultConfig returns the reference windows: 5s chart, 1s alert, 1s debounce.
func DefaultConfig() Config {
	return Config{
		Retention:   DefaultRetention,
		AlertWindow: DefaultAlertWindow,
		Debounce:    DefaultDebounce,
		Tone:        DefaultTone(),
		Selector:    SelectFirst,
	}
}

// Validate reports window settings that cannot work together.
func (c Config) Validate() error {
	if c.Retention <= 0 {
		return fmt.Errorf("retention must be positive, got %v", c.Retention)
	}
	if c.AlertWindow <= 0 {
		return fmt.Errorf("alert window must be positive, got %v", c.AlertWindow)
	}
	if c.AlertWindow > c.Retention {
		return fmt.Errorf("alert window %v exceeds retention %v", c.AlertWindow, c.Retention)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %v", c.Debounce)
	}
	if c.Tone.Volume < 0 || c.Tone.Volume > 1 {
		return fmt.Errorf("tone volume must be within [0,1], got %v", c.Tone.Volume)
	}
	return nil
}
