package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
)

// FireRedClient talks to a FireRedASR2S inference sidecar that exposes one
// JSON endpoint per model: /asr, /vad, /lid and /punc. A single client can
// fill all four capability slots.
type FireRedClient struct {
	baseURL         string
	asrType         string
	speechThreshold float64
	client          *http.Client
}

type fireRedASRResponse struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurS       float64 `json:"dur_s"`
	// Timestamp entries are [token, start_s, end_s].
	Timestamp [][3]any `json:"timestamp"`
}

type fireRedVADResponse struct {
	Dur        float64      `json:"dur"`
	Timestamps [][2]float64 `json:"timestamps"` // seconds
}

type fireRedLIDResponse struct {
	Lang       string  `json:"lang"`
	Confidence float64 `json:"confidence"`
	DurS       float64 `json:"dur_s"`
}

type fireRedPuncRequest struct {
	Texts  []string `json:"texts"`
	UttIDs []string `json:"uttids"`
}

type fireRedPuncResult struct {
	PuncText   string `json:"punc_text"`
	OriginText string `json:"origin_text"`
	UttID      string `json:"uttid"`
}

// NewFireRedClient creates a sidecar client. asrType is the default
// decoder ("aed" or "llm") when a request does not name one.
func NewFireRedClient(baseURL, asrType string, speechThreshold float64, timeout time.Duration) *FireRedClient {
	if asrType == "" {
		asrType = "aed"
	}
	return &FireRedClient{
		baseURL:         strings.TrimRight(baseURL, "/"),
		asrType:         asrType,
		speechThreshold: speechThreshold,
		client:          &http.Client{Timeout: timeout},
	}
}

// Ping checks that the sidecar is up and its models are loaded.
func (fr *FireRedClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fr.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	_, err = do(fr.client, "firered", req)
	return err
}

// Transcribe runs the sidecar's ASR model.
func (fr *FireRedClient) Transcribe(ctx context.Context, audioPath string, opts model.TranscribeOptions) (*model.Transcription, error) {
	asrType := opts.ASRType
	if asrType == "" {
		asrType = fr.asrType
	}
	uttid := opts.UttID
	if uttid == "" {
		uttid = "tmp"
	}

	body, err := postMultipart(ctx, fr.client, "firered", multipartRequest{
		URL:       fr.baseURL + "/asr",
		FileField: "audio",
		AudioPath: audioPath,
		Fields: [][2]string{
			{"uttid", uttid},
			{"asr_type", asrType},
			{"return_timestamp", strconv.FormatBool(opts.ReturnTimestamp)},
		},
	})
	if err != nil {
		return nil, err
	}

	var res fireRedASRResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode firered asr response: %v", model.ErrInference, err)
	}

	out := &model.Transcription{
		Text:            res.Text,
		Confidence:      res.Confidence,
		DurationSeconds: res.DurS,
	}
	if opts.ReturnTimestamp {
		for _, ts := range res.Timestamp {
			word, _ := ts[0].(string)
			start, _ := ts[1].(float64)
			end, _ := ts[2].(float64)
			out.Words = append(out.Words, model.Word{
				Word:    word,
				StartMs: secondsToMs(start),
				EndMs:   secondsToMs(end),
			})
		}
	}
	return out, nil
}

// DetectSegments runs the sidecar's VAD model.
func (fr *FireRedClient) DetectSegments(ctx context.Context, audioPath string) (*model.SpeechSegments, error) {
	mr := multipartRequest{
		URL:       fr.baseURL + "/vad",
		FileField: "audio",
		AudioPath: audioPath,
	}
	if fr.speechThreshold > 0 {
		mr.Fields = append(mr.Fields, [2]string{"speech_threshold", strconv.FormatFloat(fr.speechThreshold, 'f', 3, 64)})
	}
	body, err := postMultipart(ctx, fr.client, "firered", mr)
	if err != nil {
		return nil, err
	}

	var res fireRedVADResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode firered vad response: %v", model.ErrInference, err)
	}

	segs := make([]model.Segment, len(res.Timestamps))
	for i, ts := range res.Timestamps {
		segs[i] = model.Segment{StartMs: secondsToMs(ts[0]), EndMs: secondsToMs(ts[1])}
	}
	return &model.SpeechSegments{DurationSeconds: res.Dur, Segments: segs}, nil
}

// DetectLanguage runs the sidecar's LID model.
func (fr *FireRedClient) DetectLanguage(ctx context.Context, audioPath string) (*model.LanguageGuess, error) {
	body, err := postMultipart(ctx, fr.client, "firered", multipartRequest{
		URL:       fr.baseURL + "/lid",
		FileField: "audio",
		AudioPath: audioPath,
	})
	if err != nil {
		return nil, err
	}

	var res fireRedLIDResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode firered lid response: %v", model.ErrInference, err)
	}
	return &model.LanguageGuess{
		Language:        res.Lang,
		Confidence:      res.Confidence,
		DurationSeconds: res.DurS,
	}, nil
}

// RestorePunctuation runs the sidecar's punctuation model.
func (fr *FireRedClient) RestorePunctuation(ctx context.Context, texts, ids []string) ([]model.Punctuated, error) {
	if err := model.CheckPunctuationArgs(texts, ids); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return []model.Punctuated{}, nil
	}

	payload, err := json.Marshal(fireRedPuncRequest{Texts: texts, UttIDs: ids})
	if err != nil {
		return nil, fmt.Errorf("marshal punc request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fr.baseURL+"/punc", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := do(fr.client, "firered", req)
	if err != nil {
		return nil, err
	}

	var res []fireRedPuncResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: decode firered punc response: %v", model.ErrInference, err)
	}
	if len(res) != len(texts) {
		return nil, fmt.Errorf("%w: firered punc returned %d results for %d texts", model.ErrInference, len(res), len(texts))
	}

	out := make([]model.Punctuated, len(res))
	for i, r := range res {
		out[i] = model.Punctuated{ID: r.UttID, OriginalText: r.OriginText, PunctuatedText: r.PuncText}
	}
	return out, nil
}
