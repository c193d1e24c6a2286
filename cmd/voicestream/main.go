package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"voicestream/config"
	"voicestream/internal/application"
	"voicestream/internal/domain"
	"voicestream/internal/infra"
	"voicestream/internal/infra/audio"
	"voicestream/internal/infra/console"
	"voicestream/internal/infra/control"
	"voicestream/internal/infra/metrics"
	"voicestream/internal/infra/pipecat"
	"voicestream/internal/infra/websocket"
)

// playbackOutput is an Output that owns the device loop feeding it.
type playbackOutput interface {
	application.Output
	Name() string
	Run(ctx context.Context) error
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	autostart := flag.Bool("autostart", false, "start streaming as soon as the schema is loaded")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("loading config", "error", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var recorder application.Recorder = application.NoopRecorder{}
	var promMetrics *metrics.Metrics
	if cfg.Metrics.Enabled {
		promMetrics = metrics.NewMetrics()
		recorder = promMetrics
	}

	output := createOutput(cfg.Playback, logger)
	decoder := audio.NewDecoder(logger)
	scheduler := application.NewPlaybackScheduler(output, decoder, application.PlaybackConfig{
		ResetThreshold: cfg.Playback.ResetThreshold,
		QueueSize:      cfg.Playback.DecodeQueue,
	}, recorder, logger)

	capture := application.NewCapturePipeline(createInputDevice(cfg.Capture, logger), application.CaptureConfig{
		Constraints: application.CaptureConstraints{
			SampleRate:       cfg.Capture.SampleRate,
			Channels:         cfg.Capture.Channels,
			EchoCancellation: *cfg.Capture.EchoCancellation,
			NoiseSuppression: *cfg.Capture.NoiseSuppression,
			AutoGainControl:  *cfg.Capture.AutoGainControl,
		},
		BlockSize: cfg.Capture.BlockSize,
	}, recorder, logger)

	dialer := &websocket.Dialer{
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		DialTimeout:      cfg.Server.DialTimeout,
		SendQueue:        cfg.Server.SendQueue,
		Retry: infra.RetryConfig{
			MaxAttempts:  cfg.Server.DialRetry.MaxAttempts,
			InitialDelay: cfg.Server.DialRetry.InitialDelay,
			MaxDelay:     cfg.Server.DialRetry.MaxDelay,
			Multiplier:   cfg.Server.DialRetry.Multiplier,
		},
		Logger: logger,
	}
	loader := &pipecat.Loader{Path: cfg.Schema.Path, FrameType: cfg.Schema.FrameType}

	controller := application.NewController(
		cfg.Server.URL,
		loader,
		dialer,
		capture,
		scheduler,
		console.NewObserver(os.Stdout, console.DefaultBarWidth),
		recorder,
		logger,
	)

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logger.Info("shutting down")
		controller.StopAudio(true)
		cancel()
	}()

	logger.Info("starting voicestream",
		"url", cfg.Server.URL,
		"capture_device", cfg.Capture.Device,
		"playback_output", output.Name(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return controller.Run(gctx)
	})
	g.Go(func() error {
		return output.Run(gctx)
	})
	if cfg.Control.Enabled {
		controlCfg := control.Config{
			Addr:      cfg.Control.Addr,
			AuthToken: cfg.Control.AuthToken,
			RateLimit: cfg.Control.RateLimit,
		}
		if promMetrics != nil {
			controlCfg.Metrics = promMetrics.Handler()
			controlCfg.MetricsPath = cfg.Metrics.Path
		}
		server := control.NewServer(controlCfg, controller, logger)
		g.Go(func() error {
			return server.Run(gctx)
		})
	}
	if *autostart {
		g.Go(func() error {
			startWhenReady(gctx, controller, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("voicestream error", "error", err)
		os.Exit(1)
	}
}

// startWhenReady retries StartAudio until the schema has loaded.
func startWhenReady(ctx context.Context, controller *application.Controller, logger *slog.Logger) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		err := controller.StartAudio(ctx)
		if err == nil {
			return
		}
		if !errors.Is(err, domain.ErrNotReady) {
			logger.Error("autostart failed", "error", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func createInputDevice(cfg config.CaptureConfig, logger *slog.Logger) application.InputDevice {
	switch cfg.Device {
	case "file":
		return audio.NewFileDevice(cfg.FilePath, cfg.Loop, logger)
	case "microphone":
		return audio.NewMicrophone(logger)
	default:
		logger.Warn("unknown capture device, using microphone", "device", cfg.Device)
		return audio.NewMicrophone(logger)
	}
}

func createOutput(cfg config.PlaybackConfig, logger *slog.Logger) playbackOutput {
	switch cfg.Output {
	case "discard":
		return audio.NewDiscardOutput(cfg.SampleRate, cfg.BufferSize)
	case "speaker":
		return audio.NewSpeaker(cfg.SampleRate, cfg.BufferSize, logger)
	default:
		logger.Warn("unknown playback output, using speaker", "output", cfg.Output)
		return audio.NewSpeaker(cfg.SampleRate, cfg.BufferSize, logger)
	}
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	// stdout carries the status line, so logs go to stderr
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
