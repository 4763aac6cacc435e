package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/rs/zerolog"
)

// ModulesHandler exposes each capability on its own, bypassing the pipeline.
type ModulesHandler struct {
	models SnapshotSource
	intake *AudioIntake
	log    zerolog.Logger
}

func NewModulesHandler(models SnapshotSource, intake *AudioIntake, log zerolog.Logger) *ModulesHandler {
	return &ModulesHandler{
		models: models,
		intake: intake,
		log:    log.With().Str("handler", "modules").Logger(),
	}
}

// Routes registers the module routes on the given router.
func (h *ModulesHandler) Routes(r chi.Router) {
	r.Route("/modules", func(r chi.Router) {
		r.Post("/asr/transcribe", h.Transcribe)
		r.Post("/vad/detect", h.DetectSegments)
		r.Post("/lid/detect", h.DetectLanguage)
		r.Post("/punc/predict", h.Punctuate)
	})
}

func notLoaded(c model.Capability) error {
	return fmt.Errorf("%w: %s is not loaded", model.ErrModelUnavailable, c)
}

type transcribeResponse struct {
	UttID           string       `json:"uttid"`
	Text            string       `json:"text"`
	Confidence      float64      `json:"confidence"`
	DurationSeconds float64      `json:"dur_s"`
	Words           []model.Word `json:"words,omitempty"`
}

// Transcribe handles POST /api/v1/modules/asr/transcribe.
func (h *ModulesHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	asr := h.models.Snapshot().ASR
	if asr == nil {
		writeDomainError(w, notLoaded(model.ASR))
		return
	}
	up, err := h.intake.Receive(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer up.File.Release()

	params, err := parseParams(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	tr, err := asr.Transcribe(r.Context(), up.File.Path(), model.TranscribeOptions{
		UttID:           up.UttID,
		ASRType:         params.ASRType,
		ReturnTimestamp: params.ReturnTimestamp,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := transcribeResponse{
		UttID:           up.UttID,
		Text:            tr.Text,
		Confidence:      tr.Confidence,
		DurationSeconds: tr.DurationSeconds,
	}
	if params.ReturnTimestamp {
		resp.Words = tr.Words
	}
	WriteSuccess(w, resp, "transcription complete")
}

// DetectSegments handles POST /api/v1/modules/vad/detect.
func (h *ModulesHandler) DetectSegments(w http.ResponseWriter, r *http.Request) {
	vad := h.models.Snapshot().VAD
	if vad == nil {
		writeDomainError(w, notLoaded(model.VAD))
		return
	}
	up, err := h.intake.Receive(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer up.File.Release()

	seg, err := vad.DetectSegments(r.Context(), up.File.Path())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	timestamps := make([][2]int64, 0, len(seg.Segments))
	for _, s := range seg.Segments {
		timestamps = append(timestamps, [2]int64{s.StartMs, s.EndMs})
	}
	WriteSuccess(w, map[string]any{
		"uttid":      up.UttID,
		"dur_s":      seg.DurationSeconds,
		"timestamps": timestamps,
	}, "")
}

// DetectLanguage handles POST /api/v1/modules/lid/detect.
func (h *ModulesHandler) DetectLanguage(w http.ResponseWriter, r *http.Request) {
	lid := h.models.Snapshot().LID
	if lid == nil {
		writeDomainError(w, notLoaded(model.LID))
		return
	}
	up, err := h.intake.Receive(w, r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer up.File.Release()

	guess, err := lid.DetectLanguage(r.Context(), up.File.Path())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, map[string]any{
		"uttid":      up.UttID,
		"language":   guess.Language,
		"confidence": guess.Confidence,
		"dur_s":      guess.DurationSeconds,
	}, "")
}

type puncRequest struct {
	Texts  []string `json:"texts"`
	UttIDs []string `json:"uttids"`
}

// Punctuate handles POST /api/v1/modules/punc/predict. uttids default to
// the text indexes; when given they must match texts one to one.
func (h *ModulesHandler) Punctuate(w http.ResponseWriter, r *http.Request) {
	var req puncRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, CodeInvalidParams, "invalid request body: "+err.Error())
		return
	}
	if req.UttIDs == nil {
		req.UttIDs = make([]string, len(req.Texts))
		for i := range req.Texts {
			req.UttIDs[i] = strconv.Itoa(i)
		}
	}
	if err := model.CheckPunctuationArgs(req.Texts, req.UttIDs); err != nil {
		writeDomainError(w, err)
		return
	}

	punc := h.models.Snapshot().Punc
	if punc == nil {
		writeDomainError(w, notLoaded(model.Punc))
		return
	}
	if len(req.Texts) == 0 {
		WriteSuccess(w, []model.Punctuated{}, "")
		return
	}

	out, err := punc.RestorePunctuation(r.Context(), req.Texts, req.UttIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	WriteSuccess(w, out, "")
}
