// Command server runs the audio transcription service: it captures audio,
// gates silence, schedules inference calls, and serves results over HTTP
// and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/audio"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/broadcast"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/config"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/metrics"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/server"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/session"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/store"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/transcription"
	"github.com/JahazielHernandezHoyos/audio-transcribe/internal/vad"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("Starting audio transcription service",
		"config", *configPath,
		"device", cfg.Audio.Device,
		"sample_rate", cfg.Audio.SampleRate,
		"endpoint", cfg.Transcription.Endpoint)

	m := metrics.New()

	st, err := store.New(cfg.Store.Path)
	if err != nil {
		logger.Error("Failed to open transcript store", "path", cfg.Store.Path, "error", err)
		os.Exit(1)
	}
	defer st.Close()
	if st.Enabled() {
		logger.Info("Transcript store enabled", "path", cfg.Store.Path)
	}

	broadcaster := broadcast.New(broadcast.Config{
		BufferSize:  cfg.Broadcast.BufferSize,
		SendTimeout: cfg.Broadcast.GetSendTimeout(),
	}, logger, m)

	client := transcription.NewClient(transcription.ClientConfig{
		Endpoint: cfg.Transcription.Endpoint,
		APIKey:   cfg.Transcription.APIKey,
		Language: cfg.Transcription.Language,
		Model:    cfg.Transcription.Model,
		Timeout:  cfg.Transcription.GetCallTimeout(),
	})

	gate := vad.NewGate(cfg.Gate.RMSThreshold, cfg.Gate.PeakThreshold)

	controller := session.NewController(session.Config{
		Source: audio.SourceConfig{
			Device:         cfg.Audio.Device,
			PreferLoopback: cfg.Audio.PreferLoopback,
			SampleRate:     cfg.Audio.SampleRate,
			FrameSize:      cfg.Audio.FrameSize,
		},
		ChunkDuration:   cfg.Audio.GetChunkDuration(),
		OverlapDuration: cfg.Audio.GetOverlapDuration(),
		Scheduler: transcription.SchedulerConfig{
			Workers:         cfg.Transcription.MaxConcurrent,
			QueueSize:       cfg.Transcription.QueueSize,
			CallTimeout:     cfg.Transcription.GetCallTimeout(),
			ConfidenceFloor: float32(cfg.Transcription.ConfidenceFloor),
		},
	}, client, gate, broadcaster, st, logger, m)

	srv := server.New(cfg, controller, broadcaster, st, client, logger, m)
	if cfg.HTTP.Enabled {
		if err := srv.Start(); err != nil {
			logger.Error("Failed to start HTTP server", "error", err)
			os.Exit(1)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", "signal", sig.String())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	controller.Close()
	broadcaster.Close()
	if cfg.HTTP.Enabled {
		if err := srv.Stop(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", "error", err)
		}
	}
	logger.Info("Shutdown complete")
}

// initLogger builds the process logger from the logging section. Returns a
// close function for file outputs.
func initLogger(cfg config.LoggingConfig) (*slog.Logger, func(), error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, nil, fmt.Errorf("unknown log level: %s", cfg.Level)
	}

	var out io.Writer = os.Stdout
	closeFn := func() {}
	switch cfg.Output {
	case "", "stdout":
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler), closeFn, nil
}
