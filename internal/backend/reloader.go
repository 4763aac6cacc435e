package backend

import (
	"context"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/events"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/rs/zerolog"
)

// Publisher receives registry events.
type Publisher interface {
	Publish(typ, jobID string, payload any)
}

// Reloader rebuilds the registry from the models file. It is shared by the
// admin endpoint and the models-file watcher.
type Reloader struct {
	registry *model.Registry
	build    model.BuildFunc
	events   Publisher
	log      zerolog.Logger
}

// NewReloader creates a reloader. events may be nil.
func NewReloader(registry *model.Registry, build model.BuildFunc, events Publisher, log zerolog.Logger) *Reloader {
	return &Reloader{
		registry: registry,
		build:    build,
		events:   events,
		log:      log.With().Str("component", "reload").Logger(),
	}
}

// Reload rebuilds every backend and reports the requested capabilities. An
// empty request reports all four.
func (r *Reloader) Reload(ctx context.Context, requested []model.Capability) (model.ReloadReport, error) {
	if len(requested) == 0 {
		requested = []model.Capability{model.ASR, model.VAD, model.LID, model.Punc}
	}

	report, err := r.registry.Reload(ctx, requested, r.build)
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("failed").Inc()
		r.log.Error().Err(err).Uint64("generation", report.Generation).Msg("model reload failed, keeping current models")
		return report, err
	}

	metrics.ReloadsTotal.WithLabelValues("ok").Inc()
	r.log.Info().
		Uint64("generation", report.Generation).
		Interface("succeeded", report.Succeeded).
		Interface("failed", report.Failed).
		Msg("models reloaded")
	if r.events != nil {
		r.events.Publish(events.TypeModelsReload, "", report)
	}
	return report, nil
}

// ReloadAll is the watcher entry point.
func (r *Reloader) ReloadAll(ctx context.Context) error {
	_, err := r.Reload(ctx, nil)
	return err
}
