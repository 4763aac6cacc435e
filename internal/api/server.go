package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/config"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/events"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/jobs"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/pipeline"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/storage"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ServerOptions holds the dependencies of the HTTP server.
type ServerOptions struct {
	Config    *config.Config
	Registry  *model.Registry
	Pipeline  *pipeline.Orchestrator
	Store     *jobs.Store
	Runner    *jobs.Runner
	Reloader  Reloader
	Events    *events.Bus        // nil disables /events/stream
	Archive   storage.AudioStore // nil disables archiving
	MQTT      ConnectionStatus   // nil if MQTT is not configured
	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	log := opts.Log

	intake := &AudioIntake{
		TempDir:    cfg.TempDir,
		MaxBytes:   cfg.MaxUploadBytes,
		Transcode:  cfg.Transcode,
		MaxSeconds: cfg.MaxAudioSeconds,
		Archive:    opts.Archive,
		Log:        log.With().Str("component", "intake").Logger(),
	}

	var live EventSource
	if opts.Events != nil {
		live = opts.Events
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", NewHealthHandler(opts.Registry, opts.MQTT, opts.Version, opts.StartTime).ServeHTTP)

		NewSystemHandler(opts.Registry, opts.Pipeline, opts.Store, opts.Runner, intake, cfg.SyncTimeout, log).Routes(r)
		NewModulesHandler(opts.Registry, intake, log).Routes(r)
		NewEventsHandler(live).Routes(r)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AdminToken))
			NewAdminHandler(opts.Reloader, opts.Registry, opts.Store, opts.Runner, cfg, opts.StartTime).Routes(r)
		})
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
