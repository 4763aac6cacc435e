// Package pipeline runs one audio unit through the inference stages
// (VAD, ASR, LID, Punc) against a single registry snapshot.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/metrics"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/rs/zerolog"
)

// StageState is the outcome of one stage.
type StageState string

const (
	StageDone    StageState = "done"
	StageSkipped StageState = "skipped"
	StageFailed  StageState = "failed"
)

// Skip reasons.
const (
	ReasonDisabled  = "disabled"
	ReasonNotLoaded = "not loaded"
	ReasonEmptyText = "empty text"
)

// StageOutcome records what happened to one stage, so a missing result
// field can be traced to its cause.
type StageOutcome struct {
	Stage  model.Capability `json:"stage"`
	State  StageState       `json:"state"`
	Reason string           `json:"reason,omitempty"`
}

// Options selects the optional stages and configures transcription.
type Options struct {
	UttID           string `json:"uttid,omitempty"`
	EnableVAD       bool   `json:"enable_vad"`
	EnableLID       bool   `json:"enable_lid"`
	EnablePunc      bool   `json:"enable_punc"`
	ASRType         string `json:"asr_type,omitempty"`
	ReturnTimestamp bool   `json:"return_timestamp"`
}

// Result is the merged output of one pipeline run. Optional fields are
// omitted when their stage did not produce output.
type Result struct {
	UttID            string         `json:"uttid"`
	Text             string         `json:"text"`
	Confidence       float64        `json:"confidence"`
	DurationSeconds  float64        `json:"dur_s"`
	Segments         [][2]int64     `json:"vad_segments_ms,omitempty"`
	Language         string         `json:"language,omitempty"`
	LanguageScore    *float64       `json:"language_score,omitempty"`
	Words            []model.Word   `json:"words,omitempty"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	Generation       uint64         `json:"model_generation"`
	Stages           []StageOutcome `json:"stages"`
}

// Outcome returns the recorded outcome of stage c.
func (r *Result) Outcome(c model.Capability) (StageOutcome, bool) {
	for _, s := range r.Stages {
		if s.Stage == c {
			return s, true
		}
	}
	return StageOutcome{}, false
}

func (r *Result) record(c model.Capability, state StageState, reason string) {
	r.Stages = append(r.Stages, StageOutcome{Stage: c, State: state, Reason: reason})
}

// SnapshotSource provides the current registry snapshot.
type SnapshotSource interface {
	Snapshot() *model.Snapshot
}

// Resource is a temporary audio file owned by the caller for one run.
type Resource interface {
	Path() string
	Release() error
}

// Orchestrator runs enabled stages in order: VAD, ASR, LID, Punc.
type Orchestrator struct {
	models SnapshotSource
	log    zerolog.Logger
	now    func() time.Time
}

// New creates an orchestrator reading adapters from models.
func New(models SnapshotSource, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		models: models,
		log:    log.With().Str("component", "pipeline").Logger(),
		now:    time.Now,
	}
}

// Run processes the audio at audioPath. The registry snapshot is taken once,
// so a concurrent reload never mixes backends within one run. A missing or
// failing ASR stage fails the run; optional stages fail in isolation.
func (o *Orchestrator) Run(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	start := o.now()

	snap := o.models.Snapshot()
	if snap == nil || snap.ASR == nil {
		metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: asr not loaded", model.ErrModelUnavailable)
	}

	uttid := opts.UttID
	if uttid == "" {
		uttid = uuid.NewString()
	}
	log := o.log.With().Str("uttid", uttid).Uint64("generation", snap.Generation).Logger()
	res := &Result{UttID: uttid, Generation: snap.Generation, Stages: make([]StageOutcome, 0, 4)}

	// VAD
	var vadDuration float64
	switch {
	case !opts.EnableVAD:
		res.record(model.VAD, StageSkipped, ReasonDisabled)
	case snap.VAD == nil:
		res.record(model.VAD, StageSkipped, ReasonNotLoaded)
	default:
		var segs *model.SpeechSegments
		err := o.stage(log, model.VAD, func() (err error) {
			segs, err = snap.VAD.DetectSegments(ctx, audioPath)
			return err
		})
		if err != nil {
			res.record(model.VAD, StageFailed, err.Error())
			break
		}
		res.Segments = make([][2]int64, len(segs.Segments))
		for i, s := range segs.Segments {
			res.Segments[i] = [2]int64{s.StartMs, s.EndMs}
		}
		vadDuration = segs.DurationSeconds
		res.record(model.VAD, StageDone, "")
	}

	// ASR
	var tr *model.Transcription
	err := o.stage(log, model.ASR, func() (err error) {
		tr, err = snap.ASR.Transcribe(ctx, audioPath, model.TranscribeOptions{
			UttID:           uttid,
			ASRType:         opts.ASRType,
			ReturnTimestamp: opts.ReturnTimestamp,
		})
		return err
	})
	if err != nil {
		metrics.PipelineRunsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("asr: %w", err)
	}
	res.record(model.ASR, StageDone, "")
	res.Text = tr.Text
	res.Confidence = tr.Confidence
	res.DurationSeconds = tr.DurationSeconds
	if res.DurationSeconds == 0 {
		res.DurationSeconds = vadDuration
	}
	if opts.ReturnTimestamp {
		res.Words = tr.Words
	}

	// LID
	switch {
	case !opts.EnableLID:
		res.record(model.LID, StageSkipped, ReasonDisabled)
	case snap.LID == nil:
		res.record(model.LID, StageSkipped, ReasonNotLoaded)
	default:
		var guess *model.LanguageGuess
		err := o.stage(log, model.LID, func() (err error) {
			guess, err = snap.LID.DetectLanguage(ctx, audioPath)
			return err
		})
		if err != nil {
			res.record(model.LID, StageFailed, err.Error())
			break
		}
		res.Language = guess.Language
		score := guess.Confidence
		res.LanguageScore = &score
		res.record(model.LID, StageDone, "")
	}

	// Punc
	switch {
	case !opts.EnablePunc:
		res.record(model.Punc, StageSkipped, ReasonDisabled)
	case snap.Punc == nil:
		res.record(model.Punc, StageSkipped, ReasonNotLoaded)
	case res.Text == "":
		res.record(model.Punc, StageSkipped, ReasonEmptyText)
	default:
		var out []model.Punctuated
		err := o.stage(log, model.Punc, func() (err error) {
			out, err = snap.Punc.RestorePunctuation(ctx, []string{res.Text}, []string{uttid})
			if err == nil && len(out) != 1 {
				err = fmt.Errorf("%w: expected 1 punctuation result, got %d", model.ErrInference, len(out))
			}
			return err
		})
		if err != nil {
			res.record(model.Punc, StageFailed, err.Error())
			break
		}
		res.Text = out[0].PunctuatedText
		res.record(model.Punc, StageDone, "")
	}

	res.ProcessingTimeMs = o.now().Sub(start).Milliseconds()
	metrics.PipelineRunsTotal.WithLabelValues("ok").Inc()
	log.Info().
		Int64("processing_time_ms", res.ProcessingTimeMs).
		Float64("dur_s", res.DurationSeconds).
		Msg("pipeline complete")
	return res, nil
}

// RunResource acquires a resource, runs the pipeline on it and releases it.
// ProcessingTimeMs covers acquisition and release as well as the stages.
// The resource is released even if an adapter panics.
func (o *Orchestrator) RunResource(ctx context.Context, acquire func() (Resource, error), opts Options) (res *Result, err error) {
	start := o.now()
	r, err := acquire()
	if err != nil {
		return nil, err
	}
	defer func() {
		if rerr := r.Release(); rerr != nil {
			o.log.Warn().Err(rerr).Str("path", r.Path()).Msg("failed to release audio")
		}
		if res != nil {
			res.ProcessingTimeMs = o.now().Sub(start).Milliseconds()
		}
	}()

	res, err = o.Run(ctx, r.Path(), opts)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// stage runs fn, observing its duration. Failures are logged here; the
// caller decides whether they are fatal.
func (o *Orchestrator) stage(log zerolog.Logger, c model.Capability, fn func() error) error {
	t := o.now()
	err := fn()
	elapsed := o.now().Sub(t)

	outcome := "ok"
	if err != nil {
		outcome = "error"
		ev := log.Warn()
		if c == model.ASR {
			ev = log.Error()
		}
		ev.Err(err).Str("stage", c.String()).Dur("elapsed", elapsed).Msg("stage failed")
	} else {
		log.Debug().Str("stage", c.String()).Dur("elapsed", elapsed).Msg("stage done")
	}
	metrics.StageDuration.WithLabelValues(c.String(), outcome).Observe(elapsed.Seconds())
	return err
}
