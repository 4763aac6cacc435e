package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/api"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/backend"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/config"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/events"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/jobs"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/modelwatch"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/mqttclient"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/pipeline"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.ModelsFile, "models", "", "models file (overrides MODELS_FILE)")
	flag.StringVar(&overrides.TempDir, "temp-dir", "", "directory for uploaded audio (overrides TEMP_DIR)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version + "\n")
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("asr-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Models. A broken models file still starts the service with nothing
	// loaded so an operator can fix it and reload.
	modelLog := log.With().Str("component", "models").Logger()
	build := backend.BuildFunc(cfg.ModelsFile, modelLog)
	initial, err := build(ctx)
	if err != nil {
		modelLog.Error().Err(err).Str("file", cfg.ModelsFile).Msg("initial model build failed, starting with no models loaded")
		initial = model.Set{}
	}
	registry := model.NewRegistry(initial)
	registry.OnPublish = func(s *model.Snapshot) {
		metrics.RegistryGeneration.Set(float64(s.Generation))
	}
	for c, st := range registry.Status() {
		modelLog.Info().Str("capability", c.String()).Str("state", string(st)).Msg("model status")
	}

	bus := events.NewBus(512)

	// MQTT (optional)
	var notifier jobs.Notifier
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			Log:         log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		notifier = mqtt
	}

	// Audio archive (optional)
	archive, stopArchive, err := storage.New(cfg.S3, cfg.ArchiveDir, log.With().Str("component", "storage").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio archive")
	}

	// Pipeline and jobs
	orch := pipeline.New(registry, log.With().Str("component", "pipeline").Logger())
	store := jobs.NewStore(cfg.MaxJobs, log.With().Str("component", "jobs").Logger())
	runner := jobs.NewRunner(jobs.RunnerOptions{
		Store:         store,
		Pipeline:      orch,
		MaxConcurrent: cfg.MaxConcurrentJobs,
		Events:        bus,
		Notifier:      notifier,
		Log:           log.With().Str("component", "runner").Logger(),
	})

	reloader := backend.NewReloader(registry, build, bus, modelLog)

	// Models file watcher (optional)
	var watcher *modelwatch.Watcher
	if cfg.WatchModels {
		watcher = modelwatch.New(cfg.ModelsFile, reloader.ReloadAll, log)
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("models watcher failed to start, hot reload by file disabled")
			watcher = nil
		}
	}

	prometheus.MustRegister(metrics.NewCollector(store, bus, registry))

	// HTTP Server
	opts := api.ServerOptions{
		Config:    cfg,
		Registry:  registry,
		Pipeline:  orch,
		Store:     store,
		Runner:    runner,
		Reloader:  reloader,
		Events:    bus,
		Archive:   archive,
		Version:   version,
		StartTime: startTime,
		Log:       log.With().Str("component", "http").Logger(),
	}
	if mqtt != nil {
		opts.MQTT = mqtt
	}
	srv := api.NewServer(opts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 30s timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	watcher.Stop()
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight jobs did not finish before shutdown deadline")
	}
	stopArchive()

	log.Info().Msg("asr-engine stopped")
}
