// Package config loads posewatch settings from defaults, an optional YAML
// file, a .env file and POSEWATCH_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dj-oyu/posewatch/internal/engine"
	"github.com/dj-oyu/posewatch/internal/logger"
	"github.com/dj-oyu/posewatch/internal/signal"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// EnvPrefix prefixes every environment override, e.g. POSEWATCH_SERVER_ADDR.
const EnvPrefix = "POSEWATCH"

// Config contains application configuration
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	WebRTC WebRTCConfig `mapstructure:"webrtc"`
	Signal SignalConfig `mapstructure:"signal"`
	Alert  AlertConfig  `mapstructure:"alert"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds the HTTP surface settings.
type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	StreamBuffer int           `mapstructure:"stream-buffer"`
	KeepAlive    time.Duration `mapstructure:"keepalive"`
	// MaxFrameBytes caps a single pose frame body or WebSocket message.
	MaxFrameBytes int64 `mapstructure:"max-frame-bytes"`
}

// WebRTCConfig holds the data channel transport settings.
type WebRTCConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	MaxClients int      `mapstructure:"max-clients"`
	ICEServers []string `mapstructure:"ice-servers"`
}

// SignalConfig holds the aggregation windows and tone.
type SignalConfig struct {
	Retention     time.Duration `mapstructure:"retention"`
	AlertWindow   time.Duration `mapstructure:"alert-window"`
	Debounce      time.Duration `mapstructure:"debounce"`
	MinScore      float64       `mapstructure:"min-score"`
	Selector      string        `mapstructure:"selector"`
	ToneVolume    float64       `mapstructure:"tone-volume"`
	ToneFrequency float64       `mapstructure:"tone-frequency"`
	ToneDuration  time.Duration `mapstructure:"tone-duration"`
}

// AlertConfig holds the initial controls and their range.
type AlertConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Threshold    float64       `mapstructure:"threshold"`
	ThresholdMin float64       `mapstructure:"threshold-min"`
	ThresholdMax float64       `mapstructure:"threshold-max"`
	IdleInterval time.Duration `mapstructure:"idle-interval"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level string `mapstructure:"level"`
	Color bool   `mapstructure:"color"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	tone := signal.DefaultTone()
	eng := engine.DefaultConfig()
	return Config{
		Server: ServerConfig{
			Addr:          ":8080",
			StreamBuffer:  8,
			KeepAlive:     30 * time.Second,
			MaxFrameBytes: 1 << 20,
		},
		WebRTC: WebRTCConfig{
			Enabled:    true,
			MaxClients: 4,
			ICEServers: []string{"stun:stun.l.google.com:19302"},
		},
		Signal: SignalConfig{
			Retention:     signal.DefaultRetention,
			AlertWindow:   signal.DefaultAlertWindow,
			Debounce:      signal.DefaultDebounce,
			Selector:      "first",
			ToneVolume:    tone.Volume,
			ToneFrequency: tone.Frequency,
			ToneDuration:  tone.Duration,
		},
		Alert: AlertConfig{
			Enabled:      eng.AlertEnabled,
			Threshold:    eng.Threshold,
			ThresholdMin: eng.ThresholdMin,
			ThresholdMax: eng.ThresholdMax,
			IdleInterval: eng.IdleInterval,
		},
		Log: LogConfig{
			Level: "info",
			Color: true,
		},
	}
}

// Load reads configuration. configPath may be empty; a missing file is not an
// error. The .env file in the working directory is applied first when present.
func Load(configPath string) (Config, error) {
	var cfg Config

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Warn("Config", "Ignoring .env: %v", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !os.IsNotExist(err) {
				return cfg, fmt.Errorf("reading %s: %w", configPath, err)
			}
			logger.Info("Config", "No config file at %s, using defaults", configPath)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.stream-buffer", d.Server.StreamBuffer)
	v.SetDefault("server.keepalive", d.Server.KeepAlive)
	v.SetDefault("server.max-frame-bytes", d.Server.MaxFrameBytes)

	v.SetDefault("webrtc.enabled", d.WebRTC.Enabled)
	v.SetDefault("webrtc.max-clients", d.WebRTC.MaxClients)
	v.SetDefault("webrtc.ice-servers", d.WebRTC.ICEServers)

	v.SetDefault("signal.retention", d.Signal.Retention)
	v.SetDefault("signal.alert-window", d.Signal.AlertWindow)
	v.SetDefault("signal.debounce", d.Signal.Debounce)
	v.SetDefault("signal.min-score", d.Signal.MinScore)
	v.SetDefault("signal.selector", d.Signal.Selector)
	v.SetDefault("signal.tone-volume", d.Signal.ToneVolume)
	v.SetDefault("signal.tone-frequency", d.Signal.ToneFrequency)
	v.SetDefault("signal.tone-duration", d.Signal.ToneDuration)

	v.SetDefault("alert.enabled", d.Alert.Enabled)
	v.SetDefault("alert.threshold", d.Alert.Threshold)
	v.SetDefault("alert.threshold-min", d.Alert.ThresholdMin)
	v.SetDefault("alert.threshold-max", d.Alert.ThresholdMax)
	v.SetDefault("alert.idle-interval", d.Alert.IdleInterval)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.color", d.Log.Color)
}

// Validate checks the configuration; every error wraps ErrInvalid.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("%w: server.addr is empty", ErrInvalid)
	}
	if c.Server.StreamBuffer <= 0 {
		return fmt.Errorf("%w: server.stream-buffer must be positive", ErrInvalid)
	}
	if c.Server.MaxFrameBytes <= 0 {
		return fmt.Errorf("%w: server.max-frame-bytes must be positive", ErrInvalid)
	}
	if c.WebRTC.MaxClients <= 0 {
		return fmt.Errorf("%w: webrtc.max-clients must be positive", ErrInvalid)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := c.Engine(); err != nil {
		return err
	}
	return nil
}

// Engine builds the engine configuration.
func (c Config) Engine() (engine.Config, error) {
	sel, err := signal.ParseSelector(c.Signal.Selector)
	if err != nil {
		return engine.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	sc := signal.Config{
		Retention:   c.Signal.Retention,
		AlertWindow: c.Signal.AlertWindow,
		Debounce:    c.Signal.Debounce,
		MinScore:    c.Signal.MinScore,
		Tone: signal.Tone{
			Volume:    c.Signal.ToneVolume,
			Frequency: c.Signal.ToneFrequency,
			Duration:  c.Signal.ToneDuration,
		},
		Selector: sel,
	}
	if err := sc.Validate(); err != nil {
		return engine.Config{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	a := c.Alert
	if a.ThresholdMax < a.ThresholdMin {
		return engine.Config{}, fmt.Errorf("%w: alert.threshold-max %v below threshold-min %v", ErrInvalid, a.ThresholdMax, a.ThresholdMin)
	}
	if a.Threshold < a.ThresholdMin || a.Threshold > a.ThresholdMax {
		return engine.Config{}, fmt.Errorf("%w: alert.threshold %v outside [%v, %v]", ErrInvalid, a.Threshold, a.ThresholdMin, a.ThresholdMax)
	}
	if a.IdleInterval < 0 {
		return engine.Config{}, fmt.Errorf("%w: alert.idle-interval must not be negative", ErrInvalid)
	}

	return engine.Config{
		Signal:       sc,
		Threshold:    a.Threshold,
		ThresholdMin: a.ThresholdMin,
		ThresholdMax: a.ThresholdMax,
		AlertEnabled: a.Enabled,
		IdleInterval: a.IdleInterval,
	}, nil
}

// LogLevel returns the parsed log level.
func (c Config) LogLevel() logger.LogLevel {
	level, _ := logger.ParseLevel(c.Log.Level)
	return level
}
