package webmonitor

import "time"

// Config defines the runtime configuration for the web monitor server.
type Config struct {
	Addr string
	// KeepAlive is the idle gap after which the chart stream sends a comment.
	KeepAlive time.Duration
	// MaxFrameBytes caps a POSTed frame body and a WebSocket message.
	MaxFrameBytes int64
	// PingInterval is how often WebSocket clients are pinged.
	PingInterval time.Duration
	Version      string
}

// DefaultConfig returns the default monitor settings.
func DefaultConfig() Config {
	return Config{
		Addr:          ":8080",
		KeepAlive:     30 * time.Second,
		MaxFrameBytes: 1 << 20,
		PingInterval:  30 * time.Second,
		Version:       "dev",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.KeepAlive <= 0 {
		c.KeepAlive = d.KeepAlive
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.Version == "" {
		c.Version = d.Version
	}
	return c
}
