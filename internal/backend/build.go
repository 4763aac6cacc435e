package backend

import (
	"context"
	"fmt"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/config"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/rs/zerolog"
)

// Build constructs a complete adapter set from the models configuration.
// Disabled slots stay nil. Any construction failure fails the whole build so
// the registry never publishes a half-built set.
func Build(ctx context.Context, models config.Models, log zerolog.Logger) (model.Set, error) {
	var set model.Set

	if models.ASR.Enabled {
		a, err := newTranscriber(ctx, models.ASR)
		if err != nil {
			return model.Set{}, fmt.Errorf("asr: %w", err)
		}
		set.ASR = a
	}
	if models.VAD.Enabled {
		v, err := newSegmentDetector(ctx, models.VAD)
		if err != nil {
			return model.Set{}, fmt.Errorf("vad: %w", err)
		}
		set.VAD = v
	}
	if models.LID.Enabled {
		l, err := newLanguageIdentifier(ctx, models.LID)
		if err != nil {
			return model.Set{}, fmt.Errorf("lid: %w", err)
		}
		set.LID = l
	}
	if models.Punc.Enabled {
		p, err := newPunctuationRestorer(ctx, models.Punc)
		if err != nil {
			return model.Set{}, fmt.Errorf("punc: %w", err)
		}
		set.Punc = p
	}

	log.Info().
		Str("asr", describe(models.ASR)).
		Str("vad", describe(models.VAD)).
		Str("lid", describe(models.LID)).
		Str("punc", describe(models.Punc)).
		Msg("model backends built")
	return set, nil
}

// BuildFunc adapts Build to the registry's reload contract: each call
// re-reads the models file so edits take effect on reload.
func BuildFunc(modelsFile string, log zerolog.Logger) model.BuildFunc {
	return func(ctx context.Context) (model.Set, error) {
		models, err := config.LoadModels(modelsFile)
		if err != nil {
			return model.Set{}, err
		}
		return Build(ctx, *models, log)
	}
}

func describe(b config.Backend) string {
	if !b.Enabled {
		return "disabled"
	}
	if b.Model != "" {
		return b.Provider + ":" + b.Model
	}
	return b.Provider
}

func newTranscriber(ctx context.Context, b config.Backend) (model.Transcriber, error) {
	switch b.Provider {
	case "whisper":
		if b.URL == "" {
			return nil, fmt.Errorf("whisper: url is required")
		}
		return NewWhisperClient(b.URL, b.Model, b.APIKey, b.Language, b.Timeout), nil
	case "deepinfra":
		if b.APIKey == "" || b.Model == "" {
			return nil, fmt.Errorf("deepinfra: api_key and model are required")
		}
		return NewDeepInfraClient(b.URL, b.APIKey, b.Model, b.Timeout), nil
	case "elevenlabs":
		if b.APIKey == "" {
			return nil, fmt.Errorf("elevenlabs: api_key is required")
		}
		return NewElevenLabsClient(b.URL, b.APIKey, modelOr(b.Model, "scribe_v1"), b.Language, b.Keyterms, b.Timeout), nil
	case "firered":
		return newFireRed(ctx, b)
	}
	return nil, fmt.Errorf("unsupported provider %q", b.Provider)
}

func newSegmentDetector(ctx context.Context, b config.Backend) (model.SegmentDetector, error) {
	if b.Provider != "firered" {
		return nil, fmt.Errorf("unsupported provider %q", b.Provider)
	}
	return newFireRed(ctx, b)
}

func newLanguageIdentifier(ctx context.Context, b config.Backend) (model.LanguageIdentifier, error) {
	switch b.Provider {
	case "whisper":
		if b.URL == "" {
			return nil, fmt.Errorf("whisper: url is required")
		}
		return NewWhisperClient(b.URL, b.Model, b.APIKey, "", b.Timeout), nil
	case "elevenlabs":
		if b.APIKey == "" {
			return nil, fmt.Errorf("elevenlabs: api_key is required")
		}
		return NewElevenLabsClient(b.URL, b.APIKey, modelOr(b.Model, "scribe_v1"), "", b.Keyterms, b.Timeout), nil
	case "firered":
		return newFireRed(ctx, b)
	}
	return nil, fmt.Errorf("unsupported provider %q", b.Provider)
}

func newPunctuationRestorer(ctx context.Context, b config.Backend) (model.PunctuationRestorer, error) {
	if b.Provider != "firered" {
		return nil, fmt.Errorf("unsupported provider %q", b.Provider)
	}
	return newFireRed(ctx, b)
}

// newFireRed builds a sidecar client and checks that it answers.
func newFireRed(ctx context.Context, b config.Backend) (*FireRedClient, error) {
	if b.URL == "" {
		return nil, fmt.Errorf("firered: url is required")
	}
	fr := NewFireRedClient(b.URL, b.Type, b.SpeechThreshold, b.Timeout)
	if err := fr.Ping(ctx); err != nil {
		return nil, fmt.Errorf("firered: %w", err)
	}
	return fr, nil
}

func modelOr(m, def string) string {
	if m == "" {
		return def
	}
	return m
}
