package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dj-oyu/posewatch/internal/broadcast"
	"github.com/dj-oyu/posewatch/internal/clock"
	"github.com/dj-oyu/posewatch/internal/config"
	"github.com/dj-oyu/posewatch/internal/engine"
	"github.com/dj-oyu/posewatch/internal/logger"
	"github.com/dj-oyu/posewatch/internal/metrics"
	"github.com/dj-oyu/posewatch/internal/webmonitor"
	"github.com/dj-oyu/posewatch/internal/webrtc"
)

var version = "dev"

var (
	// Command-line flags override the config file and environment.
	configPath = flag.String("config", "", "Config file (YAML)")
	httpAddr   = flag.String("http", "", "HTTP server address")
	logLevel   = flag.String("log-level", "", "Log level (debug, info, warn, error, silent)")
	logColor   = flag.Bool("log-color", true, "Enable colored log output")
	noWebRTC   = flag.Bool("no-webrtc", false, "Disable the WebRTC pose data channel")
	threshold  = flag.Float64("threshold", 0, "Initial alert threshold")
	alertOn    = flag.Bool("alert", false, "Start with alerts enabled")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	applyFlags(&cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger.Init(cfg.LogLevel(), os.Stderr, cfg.Log.Color)
	logger.Info("Main", "posewatch %s starting...", version)
	logger.Info("Main", "Log level: %s", cfg.LogLevel())

	if err := run(cfg); err != nil {
		logger.Error("Main", "%v", err)
		os.Exit(1)
	}
	logger.Info("Main", "Server stopped")
}

// applyFlags copies explicitly set flags over the loaded config.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "http":
			cfg.Server.Addr = *httpAddr
		case "log-level":
			cfg.Log.Level = *logLevel
		case "log-color":
			cfg.Log.Color = *logColor
		case "no-webrtc":
			cfg.WebRTC.Enabled = !*noWebRTC
		case "threshold":
			cfg.Alert.Threshold = *threshold
		case "alert":
			cfg.Alert.Enabled = *alertOn
		}
	})
}

func run(cfg config.Config) error {
	engCfg, err := cfg.Engine()
	if err != nil {
		return err
	}

	m := metrics.New()
	events := broadcast.New(cfg.Server.StreamBuffer)
	defer events.Close()

	eng, err := engine.New(engCfg, clock.Real{}, events, m, nil)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	var offers webmonitor.OfferHandler
	if cfg.WebRTC.Enabled {
		rtc := webrtc.NewServer(cfg.WebRTC.ICEServers, cfg.WebRTC.MaxClients, eng, m)
		defer rtc.Close()
		offers = rtc

		subID, rtcEvents := events.Subscribe()
		g.Go(func() error {
			defer events.Unsubscribe(subID)
			rtc.Forward(gctx, rtcEvents)
			return nil
		})
		logger.Info("Main", "WebRTC pose channel enabled (max clients: %d)", cfg.WebRTC.MaxClients)
	}

	web := webmonitor.NewServer(webmonitor.Config{
		Addr:          cfg.Server.Addr,
		KeepAlive:     cfg.Server.KeepAlive,
		MaxFrameBytes: cfg.Server.MaxFrameBytes,
		Version:       version,
	}, eng, events, m, offers)

	g.Go(func() error {
		return eng.Run(gctx)
	})
	g.Go(func() error {
		return web.ListenAndServe(gctx)
	})

	logger.Info("Main", "Threshold %.0f (range %.0f..%.0f), alerts enabled: %v",
		engCfg.Threshold, engCfg.ThresholdMin, engCfg.ThresholdMax, engCfg.AlertEnabled)

	<-gctx.Done()
	logger.Info("Main", "Shutting down...")

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(10 * time.Second):
		return fmt.Errorf("shutdown timed out")
	}
}
