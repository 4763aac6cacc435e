package api

import (
	"net/http"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// ConnectionStatus is implemented by optional outbound clients (MQTT).
type ConnectionStatus interface {
	IsConnected() bool
}

type HealthResponse struct {
	Status        string                               `json:"status"`
	Version       string                               `json:"version"`
	UptimeSeconds int64                                `json:"uptime_seconds"`
	ModelsLoaded  bool                                 `json:"models_loaded"`
	Models        map[model.Capability]model.LoadState `json:"models"`
	Generation    uint64                               `json:"generation"`
	Checks        map[string]string                    `json:"checks"`
}

type HealthHandler struct {
	models    ModelStatus
	mqtt      ConnectionStatus
	version   string
	startTime time.Time
}

// NewHealthHandler creates a health handler. mqtt may be nil.
func NewHealthHandler(models ModelStatus, mqtt ConnectionStatus, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		models:    models,
		mqtt:      mqtt,
		version:   version,
		startTime: startTime,
	}
}

// ServeHTTP reports healthy while ASR is loaded. Without ASR no request can
// succeed, so the handler answers 503.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK
	code := CodeSuccess

	models := h.models.Status()
	allLoaded := true
	for _, st := range models {
		if st != model.Loaded {
			allLoaded = false
		}
	}
	if models[model.ASR] != model.Loaded {
		checks["asr"] = "unloaded"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
		code = CodeModelNotLoaded
	} else {
		checks["asr"] = "ok"
	}

	// MQTT check
	if h.mqtt != nil {
		if h.mqtt.IsConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			if status == "healthy" {
				status = "degraded"
			}
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	WriteJSON(w, httpStatus, Envelope{
		Code:    code,
		Message: status,
		Data: HealthResponse{
			Status:        status,
			Version:       h.version,
			UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
			ModelsLoaded:  allLoaded,
			Models:        models,
			Generation:    h.models.Snapshot().Generation,
			Checks:        checks,
		},
	})
}
