package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"sentry-worker-go/internal/api"
	"sentry-worker-go/internal/config"
	"sentry-worker-go/internal/detector"
	"sentry-worker-go/internal/identity"
	"sentry-worker-go/internal/logging"
	"sentry-worker-go/internal/services/alerting"
	"sentry-worker-go/internal/services/liveview"
	"sentry-worker-go/internal/services/messaging"
	"sentry-worker-go/internal/services/streamcapture"
	"sentry-worker-go/internal/services/telegram"
	"sentry-worker-go/internal/store"
	"sentry-worker-go/internal/worker"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	// Load configuration
	cfg := config.Load()

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	// Optionally tee logs into the embedded Logdy UI
	if cfg.LogdyEnabled {
		logdyWriter, url, err := logging.StartLogdy(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to start Logdy UI, console only")
		} else {
			console := zerolog.ConsoleWriter{Out: os.Stderr}
			log.Logger = log.Output(io.MultiWriter(console, logdyWriter))
			log.Info().Str("url", url).Msg("Logs mirrored to Logdy")
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("worker_id", cfg.WorkerID).
		Int("port", cfg.Port).
		Int("cameras", len(cfg.CameraURLs)).
		Msg("Starting sentry worker")

	// Persistence first: notified sets and the notification log must be
	// loaded before any tracker hands out identity numbers.
	st, err := store.Open(cfg.NotifiedSetsPath, cfg.NotificationLog, cfg.ImageDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open persistence store")
	}
	alloc := identity.NewAllocator(st.MaxNotifiedID())
	log.Info().Int64("max_persisted_id", alloc.Peek()).Msg("Identity allocator seeded from persisted state")

	// Detection model
	det, err := detector.NewYOLO(detector.Config{
		WeightsPath:         cfg.ModelWeightsPath,
		ConfigPath:          cfg.ModelConfigPath,
		NamesPath:           cfg.ModelNamesPath,
		ConfidenceThreshold: float32(cfg.ConfidenceThreshold),
		NMSThreshold:        float32(cfg.NMSThreshold),
		InputSize:           cfg.ModelInputSize,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load detection model")
	}
	defer det.Close()

	// Outbound notification channels, both optional
	var notifier telegram.Notifier
	if cfg.TelegramEnabled {
		notifier = telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramTimeout)
		log.Info().Msg("Telegram notifications enabled")
	}
	var events alerting.EventPublisher
	if cfg.NatsEnabled {
		nats, err := messaging.NewService(cfg)
		if err != nil {
			log.Warn().Err(err).Msg("NATS unavailable, alert events disabled")
		} else {
			events = nats
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := nats.Shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("NATS shutdown error")
				}
			}()
		}
	}

	alerts := alerting.NewService(st, notifier, events, cfg.NotificationCooldown)
	live := liveview.NewPublisher(len(cfg.CameraURLs))

	// Capture transport applies process-wide before any stream opens
	streamcapture.ConfigureTransport(cfg.RTSPTransport)

	w := worker.New(cfg, det, alerts, live, alloc, streamcapture.DefaultOpener(cfg))
	w.Start()

	server := api.NewServer(cfg, w, live, st)
	server.Setup()
	go func() {
		log.Info().Int("port", cfg.Port).Msg("Starting API server")
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("API server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("API server forced to shutdown")
	}
	w.Stop()
	live.Shutdown()
	log.Info().Msg("Shutdown complete")
}
