package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	baseURL string
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
type deepInfraResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Words    []deepInfraWord    `json:"words"`
	Segments []deepInfraSegment `json:"segments"`
}

// deepInfraWord is a word with timestamps from DeepInfra.
// Note: DeepInfra uses "text" for the word field, not "word" like OpenAI.
type deepInfraWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// deepInfraSegment is a segment-level timestamp from DeepInfra.
// Used as fallback when word-level timestamps are not returned.
type deepInfraSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client. baseURL may
// be empty to use the public endpoint.
func NewDeepInfraClient(baseURL, apiKey, modelName string, timeout time.Duration) *DeepInfraClient {
	if baseURL == "" {
		baseURL = deepInfraBaseURL
	}
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &DeepInfraClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   modelName,
		client:  &http.Client{Timeout: timeout},
	}
}

// Transcribe sends an audio file to DeepInfra's inference API.
// Uses multipart/form-data with field name "audio" (DeepInfra's convention).
func (di *DeepInfraClient) Transcribe(ctx context.Context, audioPath string, opts model.TranscribeOptions) (*model.Transcription, error) {
	body, err := postMultipart(ctx, di.client, "deepinfra", multipartRequest{
		URL:       di.baseURL + di.model,
		FileField: "audio",
		AudioPath: audioPath,
		Headers:   map[string]string{"Authorization": "Bearer " + di.apiKey},
	})
	if err != nil {
		return nil, err
	}

	var result deepInfraResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode deepinfra response: %v", model.ErrInference, err)
	}

	out := &model.Transcription{
		Text:            strings.TrimSpace(result.Text),
		DurationSeconds: result.Duration,
	}
	if !opts.ReturnTimestamp {
		return out, nil
	}

	if len(result.Words) > 0 {
		out.Words = make([]model.Word, len(result.Words))
		for i, dw := range result.Words {
			out.Words[i] = model.Word{
				Word:    dw.Text,
				StartMs: secondsToMs(dw.Start),
				EndMs:   secondsToMs(dw.End),
			}
		}
	} else if len(result.Segments) > 0 {
		out.Words = wordsFromSegments(result.Segments)
	}
	return out, nil
}

// wordsFromSegments synthesizes word-level entries from segment-level
// timestamps, spreading each segment's duration evenly over its words.
func wordsFromSegments(segments []deepInfraSegment) []model.Word {
	var words []model.Word
	for _, seg := range segments {
		tokens := strings.Fields(seg.Text)
		n := len(tokens)
		if n == 0 {
			continue
		}
		wordDur := (seg.End - seg.Start) / float64(n)
		for i, tok := range tokens {
			words = append(words, model.Word{
				Word:    tok,
				StartMs: secondsToMs(seg.Start + float64(i)*wordDur),
				EndMs:   secondsToMs(seg.Start + float64(i+1)*wordDur),
			})
		}
	}
	return words
}
