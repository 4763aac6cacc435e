package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/audio"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// ── errorStatus ──────────────────────────────────────────────────────

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   Code
	}{
		{"validation", fmt.Errorf("%w: bad", model.ErrValidation), http.StatusBadRequest, CodeInvalidParams},
		{"unsupported_format", fmt.Errorf("%w: .xyz", audio.ErrUnsupportedFormat), http.StatusBadRequest, CodeBadAudioFormat},
		{"too_large", fmt.Errorf("%w: 99 bytes", audio.ErrTooLarge), http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{"duration_exceeded", fmt.Errorf("%w: 90.00s, limit is 60s", audio.ErrDurationExceeded), http.StatusBadRequest, CodeDurationExceeded},
		{"max_bytes_reader", &http.MaxBytesError{Limit: 10}, http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{"transcode", fmt.Errorf("%w: ffmpeg exit 1", errTranscode), http.StatusBadRequest, CodeTranscode},
		{"job_not_found", fmt.Errorf("%w: abc", model.ErrJobNotFound), http.StatusNotFound, CodeJobNotFound},
		{"model_unavailable", fmt.Errorf("%w: asr", model.ErrModelUnavailable), http.StatusServiceUnavailable, CodeModelNotLoaded},
		{"inference", fmt.Errorf("asr: %w", model.ErrInference), http.StatusInternalServerError, CodeInferenceError},
		{"reload", fmt.Errorf("%w: boom", model.ErrReloadFailed), http.StatusInternalServerError, CodeReloadFailed},
		{"resource_missing", model.ErrResourceMissing, http.StatusInternalServerError, CodeInternal},
		{"other", errors.New("disk on fire"), http.StatusInternalServerError, CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := errorStatus(tt.err)
			if status != tt.wantStatus || code != tt.wantCode {
				t.Errorf("errorStatus = (%d, %d), want (%d, %d)", status, code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}

func TestWriteDomainError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("%w: job xyz", model.ErrJobNotFound))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Code != CodeJobNotFound {
		t.Errorf("Code = %d, want %d", body.Code, CodeJobNotFound)
	}
	if body.Message != CodeJobNotFound.Message() {
		t.Errorf("Message = %q", body.Message)
	}
	if !strings.Contains(body.Error, "job xyz") {
		t.Errorf("Error = %q, want the wrapped text", body.Error)
	}
}

func TestWriteDomainError_UnsupportedFormatListsExtensions(t *testing.T) {
	rec := httptest.NewRecorder()
	writeDomainError(rec, fmt.Errorf("%w: .xyz", audio.ErrUnsupportedFormat))

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Code != CodeBadAudioFormat {
		t.Errorf("Code = %d, want %d", body.Code, CodeBadAudioFormat)
	}
	if !strings.HasPrefix(body.Detail, "supported: ") || !strings.Contains(body.Detail, "wav") || !strings.Contains(body.Detail, "mp3") {
		t.Errorf("Detail = %q, want the supported extension list", body.Detail)
	}
}

// ── WriteJSON / WriteSuccess ─────────────────────────────────────────

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"msg": "ok"})

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body["msg"] != "ok" {
		t.Errorf("body = %v, want msg=ok", body)
	}
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, map[string]string{"job_id": "j1"}, "")

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Code    Code              `json:"code"`
		Message string            `json:"message"`
		Data    map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Code != CodeSuccess || body.Message != "success" {
		t.Errorf("envelope = %+v", body)
	}
	if body.Data["job_id"] != "j1" {
		t.Errorf("data = %v", body.Data)
	}
}

// ── WriteErrorDetail ─────────────────────────────────────────────────

func TestWriteErrorDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteErrorDetail(rec, http.StatusBadRequest, CodeInvalidParams, "validation failed", "texts is required")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if body.Error != "validation failed" {
		t.Errorf("Error = %q, want %q", body.Error, "validation failed")
	}
	if body.Detail != "texts is required" {
		t.Errorf("Detail = %q, want %q", body.Detail, "texts is required")
	}
}

func TestCodeMessageUnknown(t *testing.T) {
	if got := Code(1234).Message(); got != "unknown error" {
		t.Errorf("Message = %q", got)
	}
}

// ── Query helpers ────────────────────────────────────────────────────

func TestQueryInt(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?n=42", nil)
		v, ok := QueryInt(req, "n")
		if !ok || v != 42 {
			t.Errorf("got (%d, %v), want (42, true)", v, ok)
		}
	})
	t.Run("missing", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/", nil)
		if _, ok := QueryInt(req, "n"); ok {
			t.Error("expected ok=false for missing param")
		}
	})
	t.Run("non_numeric", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/?n=abc", nil)
		if _, ok := QueryInt(req, "n"); ok {
			t.Error("expected ok=false for non-numeric param")
		}
	})
}

func TestQueryString(t *testing.T) {
	req := httptest.NewRequest("GET", "/?q=hello", nil)
	v, ok := QueryString(req, "q")
	if !ok || v != "hello" {
		t.Errorf("got (%q, %v), want (\"hello\", true)", v, ok)
	}
	if _, ok := QueryString(req, "missing"); ok {
		t.Error("expected ok=false")
	}
}

// ── FormBool ─────────────────────────────────────────────────────────

func TestFormBool(t *testing.T) {
	form := func(v url.Values) *http.Request {
		req := httptest.NewRequest("POST", "/", strings.NewReader(v.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req
	}

	t.Run("default_when_absent", func(t *testing.T) {
		v, err := FormBool(form(url.Values{}), "enable_vad", true)
		if err != nil || !v {
			t.Errorf("got (%v, %v), want (true, nil)", v, err)
		}
	})
	t.Run("explicit_false", func(t *testing.T) {
		v, err := FormBool(form(url.Values{"enable_vad": {"false"}}), "enable_vad", true)
		if err != nil || v {
			t.Errorf("got (%v, %v), want (false, nil)", v, err)
		}
	})
	t.Run("invalid_is_validation_error", func(t *testing.T) {
		_, err := FormBool(form(url.Values{"enable_vad": {"sometimes"}}), "enable_vad", true)
		if !errors.Is(err, model.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})
}

// ── DecodeJSON ───────────────────────────────────────────────────────

func TestDecodeJSON(t *testing.T) {
	t.Run("valid_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{"name":"test"}`))
		var dst struct {
			Name string `json:"name"`
		}
		if err := DecodeJSON(req, &dst); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dst.Name != "test" {
			t.Errorf("Name = %q, want %q", dst.Name, "test")
		}
	})
	t.Run("nil_body", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", nil)
		req.Body = nil
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for nil body")
		}
	})
	t.Run("malformed_json", func(t *testing.T) {
		req := httptest.NewRequest("POST", "/", strings.NewReader(`{bad`))
		var dst struct{}
		if err := DecodeJSON(req, &dst); err == nil {
			t.Error("expected error for malformed JSON")
		}
	})
}
