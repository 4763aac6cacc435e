package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/config"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/jobs"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// Reloader rebuilds the model registry.
type Reloader interface {
	Reload(ctx context.Context, requested []model.Capability) (model.ReloadReport, error)
}

// ModelStatus reports the registry state.
type ModelStatus interface {
	SnapshotSource
	Status() map[model.Capability]model.LoadState
}

// RunnerStats reports background job activity.
type RunnerStats interface {
	Stats() jobs.RunnerStats
}

type AdminHandler struct {
	reloader  Reloader
	models    ModelStatus
	store     *jobs.Store
	runner    RunnerStats
	cfg       *config.Config
	startTime time.Time
}

func NewAdminHandler(reloader Reloader, models ModelStatus, store *jobs.Store, runner RunnerStats, cfg *config.Config, startTime time.Time) *AdminHandler {
	return &AdminHandler{
		reloader:  reloader,
		models:    models,
		store:     store,
		runner:    runner,
		cfg:       cfg,
		startTime: startTime,
	}
}

// Routes registers the admin routes on the given router.
func (h *AdminHandler) Routes(r chi.Router) {
	r.Route("/admin", func(r chi.Router) {
		r.Post("/reload", h.Reload)
		r.Get("/status", h.Status)
		r.Get("/config", h.Config)
	})
}

// Reload handles POST /api/v1/admin/reload. The body is optional; an empty
// module list reloads everything.
func (h *AdminHandler) Reload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Modules []string `json:"modules"`
	}
	if err := DecodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		WriteErrorWithCode(w, http.StatusBadRequest, CodeInvalidParams, "invalid request body: "+err.Error())
		return
	}
	caps, err := model.ParseCapabilities(req.Modules)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	report, err := h.reloader.Reload(r.Context(), caps)
	if err != nil {
		WriteJSON(w, http.StatusInternalServerError, Envelope{
			Code:    CodeReloadFailed,
			Message: err.Error(),
			Data:    report,
		})
		return
	}
	WriteSuccess(w, report, "reload complete")
}

type adminStatus struct {
	Service       string                               `json:"service"`
	Models        map[model.Capability]model.LoadState `json:"models"`
	Generation    uint64                               `json:"generation"`
	LoadedAt      time.Time                            `json:"loaded_at"`
	Jobs          map[string]int                       `json:"jobs"`
	Runner        *jobs.RunnerStats                    `json:"runner,omitempty"`
	UptimeSeconds int64                                `json:"uptime_seconds"`
	Resources     resourceStatus                       `json:"resources"`
}

type resourceStatus struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc_bytes"`
	Sys        uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	NumCPU     int    `json:"num_cpu"`
	GoMaxProcs int    `json:"gomaxprocs"`
}

// Status handles GET /api/v1/admin/status.
func (h *AdminHandler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.models.Snapshot()

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	st := adminStatus{
		Service:       "running",
		Models:        h.models.Status(),
		Generation:    snap.Generation,
		LoadedAt:      snap.LoadedAt,
		Jobs:          h.store.Counts(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Resources: resourceStatus{
			Goroutines: runtime.NumGoroutine(),
			HeapAlloc:  ms.HeapAlloc,
			Sys:        ms.Sys,
			NumGC:      ms.NumGC,
			NumCPU:     runtime.NumCPU(),
			GoMaxProcs: runtime.GOMAXPROCS(0),
		},
	}
	if h.runner != nil {
		stats := h.runner.Stats()
		st.Runner = &stats
	}
	WriteSuccess(w, st, "")
}

// Config handles GET /api/v1/admin/config. Secrets are masked.
func (h *AdminHandler) Config(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"service": h.cfg.Redacted(),
	}
	if models, err := config.LoadModels(h.cfg.ModelsFile); err != nil {
		resp["models_error"] = err.Error()
	} else {
		resp["models"] = models.Redacted()
	}
	WriteSuccess(w, resp, "")
}
