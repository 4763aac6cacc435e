package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/audio"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// Code is the numeric result code carried in every response body.
type Code int

const (
	CodeSuccess          Code = 0
	CodeInvalidParams    Code = 4000
	CodeBadAudioFormat   Code = 4001
	CodeFileTooLarge     Code = 4002
	CodeDurationExceeded Code = 4003
	CodeTranscode        Code = 4004
	CodeJobNotFound      Code = 4005
	CodeModelNotLoaded   Code = 4010
	CodeInternal         Code = 5000
	CodeInferenceError   Code = 5001
	CodeReloadFailed     Code = 5003
	CodeUnauthorized     Code = 4011
)

var codeMessages = map[Code]string{
	CodeSuccess:          "success",
	CodeInvalidParams:    "invalid request parameters",
	CodeBadAudioFormat:   "unsupported audio format",
	CodeFileTooLarge:     "audio file too large",
	CodeDurationExceeded: "audio duration exceeds limit",
	CodeTranscode:        "audio transcode failed",
	CodeJobNotFound:      "job not found or expired",
	CodeModelNotLoaded:   "model not loaded",
	CodeInternal:         "internal server error",
	CodeInferenceError:   "model inference error",
	CodeReloadFailed:     "model reload failed",
	CodeUnauthorized:     "unauthorized",
}

// Message returns the canonical message for c.
func (c Code) Message() string {
	if m, ok := codeMessages[c]; ok {
		return m
	}
	return "unknown error"
}

// Envelope is the success response body.
type Envelope struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data"`
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Detail  string `json:"detail,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteSuccess wraps data in the success envelope.
func WriteSuccess(w http.ResponseWriter, data any, msg string) {
	if msg == "" {
		msg = CodeSuccess.Message()
	}
	WriteJSON(w, http.StatusOK, Envelope{Code: CodeSuccess, Message: msg, Data: data})
}

// WriteErrorWithCode writes an error body carrying code.
func WriteErrorWithCode(w http.ResponseWriter, status int, code Code, msg string) {
	WriteJSON(w, status, ErrorResponse{Code: code, Message: code.Message(), Error: msg})
}

// WriteErrorDetail writes an error body with an extra detail string.
func WriteErrorDetail(w http.ResponseWriter, status int, code Code, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Code: code, Message: code.Message(), Error: msg, Detail: detail})
}

// errorStatus maps a domain error onto an HTTP status and result code.
// Specific sentinels are checked before the ErrValidation they wrap.
func errorStatus(err error) (int, Code) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.Is(err, audio.ErrTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge, CodeFileTooLarge
	case errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusBadRequest, CodeBadAudioFormat
	case errors.Is(err, audio.ErrDurationExceeded):
		return http.StatusBadRequest, CodeDurationExceeded
	case errors.Is(err, errTranscode):
		return http.StatusBadRequest, CodeTranscode
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, CodeInvalidParams
	case errors.Is(err, model.ErrJobNotFound):
		return http.StatusNotFound, CodeJobNotFound
	case errors.Is(err, model.ErrModelUnavailable):
		return http.StatusServiceUnavailable, CodeModelNotLoaded
	case errors.Is(err, model.ErrInference):
		return http.StatusInternalServerError, CodeInferenceError
	case errors.Is(err, model.ErrReloadFailed):
		return http.StatusInternalServerError, CodeReloadFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// writeDomainError is the single place domain errors become HTTP responses.
// Format rejections list the accepted extensions in detail.
func writeDomainError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if code == CodeBadAudioFormat {
		WriteErrorDetail(w, status, code, err.Error(), "supported: "+strings.Join(audio.SupportedExtensions(), ","))
		return
	}
	WriteErrorWithCode(w, status, code, err.Error())
}

// QueryString extracts a non-empty string query parameter.
func QueryString(r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return "", false
	}
	return v, true
}

// QueryInt extracts an integer query parameter. Returns 0, false if missing or invalid.
func QueryInt(r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// FormBool parses a multipart/form boolean, falling back to def when the
// field is absent. Invalid values are a validation error.
func FormBool(r *http.Request, name string, def bool) (bool, error) {
	v := r.FormValue(name)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean, got %q", model.ErrValidation, name, v)
	}
	return b, nil
}

// DecodeJSON reads and decodes a JSON request body into v.
func DecodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("missing request body")
	}
	return json.NewDecoder(r.Body).Decode(v)
}
