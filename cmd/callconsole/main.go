package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/api"
	"github.com/M1TCH3llM/VideoChat/internal/audio"
	"github.com/M1TCH3llM/VideoChat/internal/auth"
	"github.com/M1TCH3llM/VideoChat/internal/call"
	"github.com/M1TCH3llM/VideoChat/internal/capture"
	"github.com/M1TCH3llM/VideoChat/internal/config"
	"github.com/M1TCH3llM/VideoChat/internal/console"
	"github.com/M1TCH3llM/VideoChat/internal/metrics"
	"github.com/M1TCH3llM/VideoChat/internal/protocol"
	"github.com/M1TCH3llM/VideoChat/internal/server"
	"github.com/M1TCH3llM/VideoChat/internal/signaling"
	"github.com/M1TCH3llM/VideoChat/internal/transcript"
	"github.com/M1TCH3llM/VideoChat/internal/transcription"
	"github.com/M1TCH3llM/VideoChat/internal/vad"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "callconsole"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	envFile := flag.String("env", ".env", "Path to an optional .env file")
	headless := flag.Bool("headless", false, "Disable the interactive console")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load environment: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.String("api_url", cfg.Server.APIURL),
		slog.String("signaling_url", cfg.Server.GetSignalingURL()),
		slog.String("username", cfg.Auth.Username),
		slog.String("capture_source", captureSource(cfg.Capture)),
		slog.Int("min_chunk_ms", cfg.Segmentation.MinChunkMs),
		slog.Int("max_chunk_ms", cfg.Segmentation.MaxChunkMs),
		slog.Int("silence_cut_ms", cfg.Segmentation.SilenceCutMs),
		slog.Float64("volume_threshold", cfg.Segmentation.VolumeThreshold),
		slog.String("log_level", cfg.Logging.Level),
	)

	if err := run(cfg, *headless, logger); err != nil {
		logger.Error("Service failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Service stopped")
}

func run(cfg *config.Config, headless bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	appMetrics := metrics.NewMetrics(registry)
	logger.Info("Prometheus metrics initialized")

	// Login
	store := &auth.Store{}
	defer store.Clear()

	client, err := api.NewClient(cfg.Server.APIURL, cfg.Server.GetTimeoutDuration(), store, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	cred, err := client.Login(ctx, cfg.Auth.Username, cfg.Auth.Password)
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	defer client.Logout()

	// Capture and voice activity
	stream, err := capture.Open(ctx, capture.Config{
		WAVPath:    cfg.Capture.WAVPath,
		SampleRate: cfg.Capture.SampleRate,
		FrameSize:  cfg.Capture.GetFrameDuration(),
		Loop:       cfg.Capture.Loop,
		BufferSize: cfg.Capture.BufferSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to open capture: %w", err)
	}
	defer stream.StopAll()

	analyserCfg := vad.DefaultAnalyserConfig()
	analyserCfg.FFTSize = cfg.Segmentation.FFTSize
	monitor, err := vad.NewMonitor(stream, vad.Config{
		Bins:            analyserCfg.FFTSize / 2,
		VolumeThreshold: cfg.Segmentation.VolumeThreshold,
		Analyser:        analyserCfg,
	})
	if err != nil {
		return fmt.Errorf("failed to create voice monitor: %w", err)
	}

	// Segmentation and upload
	uploader, err := transcription.NewUploader(transcription.Config{
		Endpoint:      strings.TrimRight(cfg.Server.APIURL, "/") + cfg.Upload.Path,
		Timeout:       cfg.Upload.GetTimeoutDuration(),
		MaxConcurrent: cfg.Upload.MaxConcurrent,
		MaxRetries:    cfg.Upload.MaxRetries,
		RetryBackoff:  cfg.Upload.GetRetryBackoffDuration(),
		FileName:      cfg.Upload.FileName,
		UserAgent:     serviceName + "/" + serviceVersion,
	}, store, logger, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create uploader: %w", err)
	}

	policy := cfg.Segmentation.Policy()
	maxSamples := stream.SampleRate() * int(2*policy.MaxChunkDuration/time.Second)
	recorder := audio.NewPCMRecorder(stream, maxSamples)
	format, mimeType := recorder.Format()

	segmenter, err := audio.NewSegmenter(policy, recorder, monitor, uploader, logger,
		audio.WithMetrics(appMetrics),
		audio.WithFormat(format, mimeType))
	if err != nil {
		return fmt.Errorf("failed to create segmenter: %w", err)
	}

	// Call session
	buf := transcript.NewBuffer()

	var con *console.Console
	machine := call.NewMachine(call.Config{
		Self:          cred.Username,
		DefaultCallID: protocol.CallID(cfg.Server.DefaultCallID),
	}, client, segmenter, logger, appMetrics, call.ObserverFunc(func(e call.Event) {
		if con != nil {
			con.OnCallEvent(e)
		}
	}))
	con = console.New(cred.Username, machine, buf, os.Stdout, logger)

	channel, err := signaling.Dial(ctx, signaling.Config{
		URL:                 cfg.Server.GetSignalingURL(),
		HandshakeTimeout:    cfg.Signaling.GetHandshakeTimeoutDuration(),
		WriteTimeout:        cfg.Signaling.GetWriteTimeoutDuration(),
		ReconnectAttempts:   cfg.Signaling.ReconnectAttempts,
		ReconnectBackoff:    cfg.Signaling.GetReconnectBackoffDuration(),
		MaxReconnectBackoff: cfg.Signaling.GetMaxReconnectBackoffDuration(),
		BufferSize:          cfg.Signaling.BufferSize,
	}, cred.Username, cred.Token, logger, appMetrics)
	if err != nil {
		segmenter.Close()
		return fmt.Errorf("failed to open signaling channel: %w", err)
	}

	dispatcher := call.NewDispatcher(machine, buf, logger, appMetrics)

	// Status server
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(server.HTTPServerConfig{
			Port:    cfg.HTTP.Port,
			Address: cfg.HTTP.Address,
		}, server.Deps{
			Identity:   store,
			Session:    machine,
			Transcript: buf,
			Stats: map[string]server.StatsFunc{
				"capture":   func() any { return stream.GetStats() },
				"monitor":   func() any { return monitor.GetStats() },
				"segmenter": func() any { return segmenter.GetStats() },
				"uploader":  func() any { return uploader.GetStats() },
				"signaling": func() any { return channel.GetStats() },
			},
			Gatherer: registry,
		}, logger, appMetrics)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start status server", slog.String("error", err.Error()))
		}
	}

	logger.Info("Service started successfully",
		slog.String("username", cred.Username),
		slog.Bool("headless", headless),
	)

	g, gctx := errgroup.WithContext(ctx)
	runCtx, cancel := context.WithCancel(gctx)
	defer cancel()

	goCancelOnExit(g, cancel, func() error {
		return dispatcher.Run(runCtx, channel.Messages())
	})

	if !headless {
		goCancelOnExit(g, cancel, func() error {
			return con.Run(runCtx, os.Stdin)
		})
	}

	<-runCtx.Done()
	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if machine.Snapshot().Status != call.StatusIdle {
		if err := machine.Hangup(shutdownCtx); err != nil {
			logger.Warn("Failed to hang up on shutdown", slog.String("error", err.Error()))
		}
	}

	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping status server", slog.String("error", err.Error()))
		}
	}

	segmenter.Close()
	if err := channel.Close(); err != nil {
		logger.Warn("Error closing signaling channel", slog.String("error", err.Error()))
	}
	stream.StopAll()

	if err := uploader.Close(shutdownCtx); err != nil {
		logger.Warn("Uploads did not drain", slog.String("error", err.Error()))
	}

	segStats := segmenter.GetStats()
	upStats := uploader.GetStats()
	logger.Info("Final statistics",
		slog.Uint64("chunks_dispatched", segStats.ChunksDispatched),
		slog.Uint64("chunks_discarded", segStats.ChunksDiscarded),
		slog.Uint64("uploads_succeeded", upStats.Succeeded),
		slog.Uint64("uploads_failed", upStats.Failed),
		slog.Int("transcript_lines", buf.Len()),
	)

	return g.Wait()
}

// goCancelOnExit runs fn in g and cancels the run context when fn returns.
func goCancelOnExit(g *errgroup.Group, cancel context.CancelFunc, fn func() error) {
	g.Go(func() error {
		defer cancel()
		return ignoreCanceled(fn())
	})
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func captureSource(cfg config.CaptureConfig) string {
	if cfg.WAVPath == "" {
		return "silence"
	}
	return cfg.WAVPath
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	// stdout is shared with the interactive console
	var output *os.File
	switch cfg.Output {
	case "stderr", "":
		output = os.Stderr
	case "stdout":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stderr\n", cfg.Output, err)
			output = os.Stderr
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
