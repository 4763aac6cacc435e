package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint.
// It serves both transcription and language identification, since the
// verbose_json response carries the detected language.
type WhisperClient struct {
	url      string
	model    string
	apiKey   string
	language string
	client   *http.Client
}

// whisperResponse is the parsed response from the Whisper API (verbose_json format).
type whisperResponse struct {
	Text                string        `json:"text"`
	Language            string        `json:"language"`
	LanguageProbability float64       `json:"language_probability"`
	Duration            float64       `json:"duration"`
	Words               []whisperWord `json:"words"`
}

// whisperWord is a word with start/end timestamps from Whisper.
type whisperWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewWhisperClient creates a new Whisper HTTP client. An empty language
// lets the server auto-detect.
func NewWhisperClient(url, modelName, apiKey, language string, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:      url,
		model:    modelName,
		apiKey:   apiKey,
		language: language,
		client:   &http.Client{Timeout: timeout},
	}
}

// Transcribe sends an audio file to the Whisper API.
func (wc *WhisperClient) Transcribe(ctx context.Context, audioPath string, opts model.TranscribeOptions) (*model.Transcription, error) {
	res, err := wc.call(ctx, audioPath, wc.language, opts.ReturnTimestamp)
	if err != nil {
		return nil, err
	}

	var words []model.Word
	if opts.ReturnTimestamp && len(res.Words) > 0 {
		words = make([]model.Word, len(res.Words))
		for i, ww := range res.Words {
			words[i] = model.Word{
				Word:    ww.Word,
				StartMs: secondsToMs(ww.Start),
				EndMs:   secondsToMs(ww.End),
			}
		}
	}

	return &model.Transcription{
		Text:            res.Text,
		DurationSeconds: res.Duration,
		Words:           words,
	}, nil
}

// DetectLanguage transcribes with auto-detection and reports the language.
func (wc *WhisperClient) DetectLanguage(ctx context.Context, audioPath string) (*model.LanguageGuess, error) {
	res, err := wc.call(ctx, audioPath, "", false)
	if err != nil {
		return nil, err
	}
	if res.Language == "" {
		return nil, fmt.Errorf("%w: whisper returned no language", model.ErrInference)
	}
	return &model.LanguageGuess{
		Language:        res.Language,
		Confidence:      res.LanguageProbability,
		DurationSeconds: res.Duration,
	}, nil
}

func (wc *WhisperClient) call(ctx context.Context, audioPath, language string, wordTimestamps bool) (*whisperResponse, error) {
	mr := multipartRequest{
		URL:       wc.url,
		FileField: "file",
		AudioPath: audioPath,
		Fields: [][2]string{
			{"response_format", "verbose_json"},
		},
	}
	if wc.model != "" {
		mr.Fields = append(mr.Fields, [2]string{"model", wc.model})
	}
	if language != "" {
		mr.Fields = append(mr.Fields, [2]string{"language", language})
	}
	if wordTimestamps {
		mr.Fields = append(mr.Fields, [2]string{"timestamp_granularities[]", "word"})
	}
	if wc.apiKey != "" {
		mr.Headers = map[string]string{"Authorization": "Bearer " + wc.apiKey}
	}

	body, err := postMultipart(ctx, wc.client, "whisper", mr)
	if err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode whisper response: %v", model.ErrInference, err)
	}
	return &result, nil
}
