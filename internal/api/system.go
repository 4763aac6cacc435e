package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/jobs"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/pipeline"
	"github.com/rs/zerolog"
)

// SnapshotSource yields the current model snapshot.
type SnapshotSource interface {
	Snapshot() *model.Snapshot
}

// Transcriber runs the full pipeline on an upload and releases it.
type Transcriber interface {
	RunResource(ctx context.Context, acquire func() (pipeline.Resource, error), opts pipeline.Options) (*pipeline.Result, error)
}

// JobSubmitter hands uploads to the background runner.
type JobSubmitter interface {
	Submit(audio jobs.Resource, filename, uttid string, params jobs.Params) string
}

// SystemHandler serves the one-stop transcription endpoints, sync and async.
type SystemHandler struct {
	models      SnapshotSource
	pipeline    Transcriber
	store       *jobs.Store
	runner      JobSubmitter
	intake      *AudioIntake
	syncTimeout time.Duration
	log         zerolog.Logger
}

func NewSystemHandler(models SnapshotSource, p Transcriber, store *jobs.Store, runner JobSubmitter, intake *AudioIntake, syncTimeout time.Duration, log zerolog.Logger) *SystemHandler {
	return &SystemHandler{
		models:      models,
		pipeline:    p,
		store:       store,
		runner:      runner,
		intake:      intake,
		syncTimeout: syncTimeout,
		log:         log.With().Str("handler", "system").Logger(),
	}
}

// Routes registers the system routes on the given router.
func (h *SystemHandler) Routes(r chi.Router) {
	r.Post("/system/transcribe", h.Transcribe)
	r.Post("/system/transcribe/submit", h.Submit)
	r.Get("/system/transcribe/status/{jobID}", h.Status)
	r.Get("/system/transcribe/result/{jobID}", h.Result)
	r.Get("/system/jobs", h.ListJobs)
}

// parseParams reads the pipeline switches from the parsed form.
func parseParams(r *http.Request) (jobs.Params, error) {
	var p jobs.Params
	var err error
	if p.EnableVAD, err = FormBool(r, "enable_vad", true); err != nil {
		return p, err
	}
	if p.EnableLID, err = FormBool(r, "enable_lid", true); err != nil {
		return p, err
	}
	if p.EnablePunc, err = FormBool(r, "enable_punc", true); err != nil {
		return p, err
	}
	if p.ReturnTimestamp, err = FormBool(r, "return_timestamp", false); err != nil {
		return p, err
	}
	p.ASRType = r.FormValue("asr_type")
	switch p.ASRType {
	case "":
		p.ASRType = "aed"
	case "aed", "llm":
	default:
		return p, fmt.Errorf("%w: asr_type must be aed or llm, got %q", model.ErrValidation, p.ASRType)
	}
	return p, nil
}

// Transcribe handles POST /api/v1/system/transcribe.
func (h *SystemHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	up, err := h.intake.Receive(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	params, err := parseParams(r)
	if err != nil {
		up.File.Release()
		writeDomainError(w, err)
		return
	}

	ctx := r.Context()
	if h.syncTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.syncTimeout)
		defer cancel()
	}

	res, err := h.pipeline.RunResource(ctx, func() (pipeline.Resource, error) {
		return up.File, nil
	}, params.Options(up.UttID))
	if err != nil {
		h.log.Warn().Err(err).Str("uttid", up.UttID).Str("filename", up.Filename).Msg("transcription failed")
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, res, "transcription complete")
}

// Submit handles POST /api/v1/system/transcribe/submit. No job is created
// unless ASR is loaded.
func (h *SystemHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.models.Snapshot().Has(model.ASR) {
		WriteErrorWithCode(w, http.StatusServiceUnavailable, CodeModelNotLoaded, "asr model is not loaded")
		return
	}

	up, err := h.intake.Receive(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	params, err := parseParams(r)
	if err != nil {
		up.File.Release()
		writeDomainError(w, err)
		return
	}

	id := h.runner.Submit(up.File, up.Filename, up.UttID, params)
	WriteSuccess(w, map[string]string{"job_id": id}, "job submitted, poll the status endpoint for progress")
}

type jobStatus struct {
	ID        string      `json:"job_id"`
	Status    jobs.Status `json:"status"`
	Filename  string      `json:"filename"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// Status handles GET /api/v1/system/transcribe/status/{jobID}.
func (h *SystemHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, jobStatus{
		ID:        job.ID,
		Status:    job.Status,
		Filename:  job.Filename,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}, "")
}

// Result handles GET /api/v1/system/transcribe/result/{jobID}. Completed
// jobs return the pipeline result; failed jobs return their message under
// code 5001; anything else reports it is still in progress.
func (h *SystemHandler) Result(w http.ResponseWriter, r *http.Request) {
	job, err := h.store.Get(chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	switch job.Status {
	case jobs.StatusCompleted:
		WriteSuccess(w, job.Result, "transcription complete")
	case jobs.StatusFailed:
		WriteJSON(w, http.StatusOK, Envelope{
			Code:    CodeInferenceError,
			Message: "job failed",
			Data: map[string]any{
				"status":        job.Status,
				"error_message": job.Error,
			},
		})
	default:
		WriteSuccess(w, map[string]any{
			"status":  job.Status,
			"message": "in progress",
		}, "job in progress")
	}
}

// ListJobs handles GET /api/v1/system/jobs. Optional filters: status, limit.
func (h *SystemHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	all := h.store.List()

	status, hasStatus := QueryString(r, "status")
	if hasStatus {
		switch jobs.Status(status) {
		case jobs.StatusPending, jobs.StatusProcessing, jobs.StatusCompleted, jobs.StatusFailed:
		default:
			WriteErrorWithCode(w, http.StatusBadRequest, CodeInvalidParams, fmt.Sprintf("unknown status %q", status))
			return
		}
	}

	list := make([]jobs.PublicJob, 0, len(all))
	for _, j := range all {
		if hasStatus && string(j.Status) != status {
			continue
		}
		list = append(list, j)
	}
	total := len(list)
	if limit, ok := QueryInt(r, "limit"); ok && limit > 0 && limit < len(list) {
		list = list[:limit]
	}

	WriteSuccess(w, map[string]any{
		"jobs":  list,
		"total": total,
	}, "")
}
