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

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API. It serves
// transcription and, through language_probability, language identification.
type ElevenLabsClient struct {
	endpoint string
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	language string
	keyterms string // comma-separated boost terms
	client   *http.Client
}

// elevenlabsResponse is the JSON response from the ElevenLabs STT API.
type elevenlabsResponse struct {
	LanguageCode        string           `json:"language_code"`
	LanguageProbability float64          `json:"language_probability"`
	Text                string           `json:"text"`
	Words               []elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word or spacing entry from ElevenLabs.
type elevenlabsWord struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"` // "word" or "spacing"
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client. endpoint may be
// empty to use the public API.
func NewElevenLabsClient(endpoint, apiKey, modelName, language, keyterms string, timeout time.Duration) *ElevenLabsClient {
	if endpoint == "" {
		endpoint = elevenLabsSTTEndpoint
	}
	return &ElevenLabsClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    modelName,
		language: language,
		keyterms: keyterms,
		client:   &http.Client{Timeout: timeout},
	}
}

// Transcribe sends an audio file to the ElevenLabs STT API.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, audioPath string, opts model.TranscribeOptions) (*model.Transcription, error) {
	res, err := el.call(ctx, audioPath, el.language)
	if err != nil {
		return nil, err
	}

	// Convert to common Word type, filtering out spacing entries
	var words []model.Word
	var duration float64
	for _, ew := range res.Words {
		if ew.End > duration {
			duration = ew.End
		}
		if ew.Type != "word" || !opts.ReturnTimestamp {
			continue
		}
		words = append(words, model.Word{
			Word:    ew.Text,
			StartMs: secondsToMs(ew.Start),
			EndMs:   secondsToMs(ew.End),
		})
	}

	return &model.Transcription{
		Text:            res.Text,
		Confidence:      res.LanguageProbability,
		DurationSeconds: duration,
		Words:           words,
	}, nil
}

// DetectLanguage runs auto-detected transcription and reports the language.
func (el *ElevenLabsClient) DetectLanguage(ctx context.Context, audioPath string) (*model.LanguageGuess, error) {
	res, err := el.call(ctx, audioPath, "")
	if err != nil {
		return nil, err
	}
	var duration float64
	for _, ew := range res.Words {
		if ew.End > duration {
			duration = ew.End
		}
	}
	return &model.LanguageGuess{
		Language:        res.LanguageCode,
		Confidence:      res.LanguageProbability,
		DurationSeconds: duration,
	}, nil
}

func (el *ElevenLabsClient) call(ctx context.Context, audioPath, language string) (*elevenlabsResponse, error) {
	mr := multipartRequest{
		URL:       el.endpoint,
		FileField: "file",
		AudioPath: audioPath,
		Fields: [][2]string{
			{"model_id", el.model},
			{"timestamps_granularity", "word"},
		},
		Headers: map[string]string{"xi-api-key": el.apiKey},
	}
	if language != "" {
		mr.Fields = append(mr.Fields, [2]string{"language_code", language})
	}
	if kt := el.buildKeyterms(); kt != "" {
		mr.Fields = append(mr.Fields, [2]string{"keyterms", kt})
	}

	body, err := postMultipart(ctx, el.client, "elevenlabs", mr)
	if err != nil {
		return nil, err
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode elevenlabs response: %v", model.ErrInference, err)
	}
	return &result, nil
}

// buildKeyterms turns the comma-separated config string into the JSON array
// of {"text": "term"} objects the ElevenLabs API expects.
func (el *ElevenLabsClient) buildKeyterms() string {
	var terms []string
	for _, t := range strings.Split(el.keyterms, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return ""
	}

	type keyterm struct {
		Text string `json:"text"`
	}
	arr := make([]keyterm, len(terms))
	for i, t := range terms {
		arr[i] = keyterm{Text: t}
	}
	b, _ := json.Marshal(arr)
	return string(b)
}
