// Package backend implements the capability adapters on top of concrete
// inference services and builds a complete adapter set from the models file.
package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// multipartRequest describes one audio upload to an inference endpoint.
type multipartRequest struct {
	URL       string
	FileField string
	AudioPath string
	Fields    [][2]string // ordered name/value pairs
	Headers   map[string]string
}

// postMultipart uploads an audio file and returns the body of a 200 response.
// Transport failures and non-200 responses wrap model.ErrInference.
func postMultipart(ctx context.Context, client *http.Client, provider string, mr multipartRequest) ([]byte, error) {
	f, err := os.Open(mr.AudioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(mr.FileField, filepath.Base(mr.AudioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	for _, kv := range mr.Fields {
		w.WriteField(kv[0], kv[1])
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, mr.URL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	for k, v := range mr.Headers {
		req.Header.Set(k, v)
	}
	return do(client, provider, req)
}

// do executes req and returns the body of a 200 response.
func do(client *http.Client, provider string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s request: %v", model.ErrInference, provider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s read response: %v", model.ErrInference, provider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s API error (status %d): %s", model.ErrInference, provider, resp.StatusCode, string(body))
	}
	return body, nil
}

func secondsToMs(s float64) int64 {
	return int64(s*1000 + 0.5)
}
