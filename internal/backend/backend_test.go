package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/config"
	"github.com/inkorcloud-bot/fireredasr2s-rest-api/internal/model"
	"github.com/rs/zerolog"
)

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.wav")
	if err := os.WriteFile(path, []byte("RIFF0000WAVEfmt "), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// fireRedServer fakes the sidecar endpoints.
func fireRedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	})
	mux.HandleFunc("/asr", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if _, _, err := r.FormFile("audio"); err != nil {
			http.Error(w, "missing audio", http.StatusBadRequest)
			return
		}
		if r.FormValue("asr_type") != "llm" {
			http.Error(w, "unexpected asr_type "+r.FormValue("asr_type"), http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"uttid":"` + r.FormValue("uttid") + `","text":"hello world","confidence":0.93,"dur_s":1.5,
			"timestamp":[["hello",0.12,0.5],["world",0.6,1.0]]}`))
	})
	mux.HandleFunc("/vad", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"dur":3.2,"timestamps":[[0.1,1.25],[2.0,3.0]]}`))
	})
	mux.HandleFunc("/lid", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"lang":"zh","confidence":0.88,"dur_s":3.2}`))
	})
	mux.HandleFunc("/punc", func(w http.ResponseWriter, r *http.Request) {
		var req fireRedPuncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		out := make([]fireRedPuncResult, len(req.Texts))
		for i, txt := range req.Texts {
			out[i] = fireRedPuncResult{PuncText: txt + ".", OriginText: txt, UttID: req.UttIDs[i]}
		}
		json.NewEncoder(w).Encode(out)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestFireRed_Transcribe(t *testing.T) {
	srv := fireRedServer(t)
	fr := NewFireRedClient(srv.URL+"/", "llm", 0, 5*time.Second)

	res, err := fr.Transcribe(context.Background(), writeAudio(t), model.TranscribeOptions{UttID: "u1", ReturnTimestamp: true})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Text != "hello world" {
		t.Errorf("text = %q", res.Text)
	}
	if res.DurationSeconds != 1.5 {
		t.Errorf("duration = %v, want 1.5", res.DurationSeconds)
	}
	if len(res.Words) != 2 {
		t.Fatalf("words = %d, want 2", len(res.Words))
	}
	if res.Words[0].Word != "hello" || res.Words[0].StartMs != 120 || res.Words[0].EndMs != 500 {
		t.Errorf("word[0] = %+v", res.Words[0])
	}
}

func TestFireRed_TranscribeWithoutTimestamps(t *testing.T) {
	srv := fireRedServer(t)
	fr := NewFireRedClient(srv.URL, "llm", 0, 5*time.Second)

	res, err := fr.Transcribe(context.Background(), writeAudio(t), model.TranscribeOptions{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.Words != nil {
		t.Errorf("expected no words, got %v", res.Words)
	}
}

func TestFireRed_DetectSegments(t *testing.T) {
	srv := fireRedServer(t)
	fr := NewFireRedClient(srv.URL, "", 0.5, 5*time.Second)

	res, err := fr.DetectSegments(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("DetectSegments: %v", err)
	}
	want := []model.Segment{{StartMs: 100, EndMs: 1250}, {StartMs: 2000, EndMs: 3000}}
	if len(res.Segments) != len(want) {
		t.Fatalf("segments = %v", res.Segments)
	}
	for i := range want {
		if res.Segments[i] != want[i] {
			t.Errorf("segment[%d] = %+v, want %+v", i, res.Segments[i], want[i])
		}
	}
	if res.DurationSeconds != 3.2 {
		t.Errorf("duration = %v", res.DurationSeconds)
	}
}

func TestFireRed_DetectLanguage(t *testing.T) {
	srv := fireRedServer(t)
	fr := NewFireRedClient(srv.URL, "", 0, 5*time.Second)

	res, err := fr.DetectLanguage(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("DetectLanguage: %v", err)
	}
	if res.Language != "zh" || res.Confidence != 0.88 {
		t.Errorf("got %+v", res)
	}
}

func TestFireRed_RestorePunctuation(t *testing.T) {
	srv := fireRedServer(t)
	fr := NewFireRedClient(srv.URL, "", 0, 5*time.Second)

	res, err := fr.RestorePunctuation(context.Background(), []string{"hi there", "bye"}, []string{"a", "b"})
	if err != nil {
		t.Fatalf("RestorePunctuation: %v", err)
	}
	if len(res) != 2 {
		t.Fatalf("results = %d, want 2", len(res))
	}
	if res[1].ID != "b" || res[1].OriginalText != "bye" || res[1].PunctuatedText != "bye." {
		t.Errorf("res[1] = %+v", res[1])
	}
}

func TestFireRed_RestorePunctuationMismatchedArgs(t *testing.T) {
	fr := NewFireRedClient("http://127.0.0.1:1", "", 0, time.Second)

	_, err := fr.RestorePunctuation(context.Background(), []string{"a", "b"}, []string{"x"})
	if !errors.Is(err, model.ErrValidation) {
		t.Errorf("expected ErrValidation, got %v", err)
	}
}

func TestFireRed_RestorePunctuationEmpty(t *testing.T) {
	fr := NewFireRedClient("http://127.0.0.1:1", "", 0, time.Second)

	res, err := fr.RestorePunctuation(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res == nil || len(res) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", res)
	}
}

func TestFireRed_RestorePunctuationShortResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"punc_text":"a.","origin_text":"a","uttid":"1"}]`))
	}))
	defer srv.Close()
	fr := NewFireRedClient(srv.URL, "", 0, time.Second)

	_, err := fr.RestorePunctuation(context.Background(), []string{"a", "b"}, []string{"1", "2"})
	if !errors.Is(err, model.ErrInference) {
		t.Errorf("expected ErrInference, got %v", err)
	}
}

func TestHTTPErrorWrapsInference(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()
	fr := NewFireRedClient(srv.URL, "", 0, time.Second)

	_, err := fr.DetectLanguage(context.Background(), writeAudio(t))
	if !errors.Is(err, model.ErrInference) {
		t.Errorf("expected ErrInference, got %v", err)
	}
}

func TestWhisper_TranscribeAndDetect(t *testing.T) {
	var gotAuth, gotLanguage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.ParseMultipartForm(1 << 20)
		gotAuth = r.Header.Get("Authorization")
		gotLanguage = r.FormValue("language")
		if r.FormValue("response_format") != "verbose_json" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"text":" hi","language":"en","language_probability":0.97,"duration":2.0,
			"words":[{"word":"hi","start":0.25,"end":0.75}]}`))
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "whisper-1", "secret", "en", time.Second)
	audio := writeAudio(t)

	res, err := wc.Transcribe(context.Background(), audio, model.TranscribeOptions{ReturnTimestamp: true})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotLanguage != "en" {
		t.Errorf("language = %q, want en", gotLanguage)
	}
	if len(res.Words) != 1 || res.Words[0].StartMs != 250 || res.Words[0].EndMs != 750 {
		t.Errorf("words = %+v", res.Words)
	}

	lang, err := wc.DetectLanguage(context.Background(), audio)
	if err != nil {
		t.Fatalf("DetectLanguage: %v", err)
	}
	if gotLanguage != "" {
		t.Errorf("language detection should not pin a language, sent %q", gotLanguage)
	}
	if lang.Language != "en" || lang.Confidence != 0.97 {
		t.Errorf("lang = %+v", lang)
	}
}

func TestDeepInfra_SegmentFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/whisper-large-v3" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"text":"one two","duration":1.0,"segments":[{"text":"one two","start":0,"end":1.0}]}`))
	}))
	defer srv.Close()

	di := NewDeepInfraClient(srv.URL, "k", "openai/whisper-large-v3", time.Second)
	res, err := di.Transcribe(context.Background(), writeAudio(t), model.TranscribeOptions{ReturnTimestamp: true})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Words) != 2 {
		t.Fatalf("words = %+v", res.Words)
	}
	if res.Words[1].StartMs != 500 || res.Words[1].EndMs != 1000 {
		t.Errorf("word[1] = %+v", res.Words[1])
	}
}

func TestElevenLabs_Keyterms(t *testing.T) {
	el := NewElevenLabsClient("", "k", "scribe_v1", "", " alpha, ,beta ", time.Second)
	if got := el.buildKeyterms(); got != `[{"text":"alpha"},{"text":"beta"}]` {
		t.Errorf("buildKeyterms = %s", got)
	}
	el = NewElevenLabsClient("", "k", "scribe_v1", "", "", time.Second)
	if got := el.buildKeyterms(); got != "" {
		t.Errorf("buildKeyterms = %q, want empty", got)
	}
}

func TestBuild_AllFireRed(t *testing.T) {
	srv := fireRedServer(t)
	b := config.Backend{Enabled: true, Provider: "firered", URL: srv.URL, Timeout: time.Second}

	set, err := Build(context.Background(), config.Models{ASR: b, VAD: b, LID: b, Punc: b}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, c := range model.Capabilities {
		if !set.Has(c) {
			t.Errorf("capability %s missing", c)
		}
	}
}

func TestBuild_DisabledSlotsStayEmpty(t *testing.T) {
	srv := fireRedServer(t)
	asr := config.Backend{Enabled: true, Provider: "firered", URL: srv.URL, Timeout: time.Second}

	set, err := Build(context.Background(), config.Models{ASR: asr}, zerolog.Nop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !set.Has(model.ASR) {
		t.Error("ASR should be loaded")
	}
	if set.Has(model.VAD) || set.Has(model.LID) || set.Has(model.Punc) {
		t.Error("disabled slots should be empty")
	}
}

func TestBuild_Errors(t *testing.T) {
	tests := []struct {
		name   string
		models config.Models
	}{
		{"vad from whisper", config.Models{VAD: config.Backend{Enabled: true, Provider: "whisper", URL: "http://x"}}},
		{"punc from elevenlabs", config.Models{Punc: config.Backend{Enabled: true, Provider: "elevenlabs", APIKey: "k"}}},
		{"unknown asr provider", config.Models{ASR: config.Backend{Enabled: true, Provider: "kaldi"}}},
		{"whisper without url", config.Models{ASR: config.Backend{Enabled: true, Provider: "whisper"}}},
		{"deepinfra without key", config.Models{ASR: config.Backend{Enabled: true, Provider: "deepinfra", Model: "m"}}},
		{"firered unreachable", config.Models{ASR: config.Backend{Enabled: true, Provider: "firered", URL: "http://127.0.0.1:1", Timeout: time.Second}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Build(context.Background(), tt.models, zerolog.Nop()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestBuildFunc_MissingModelsFile(t *testing.T) {
	build := BuildFunc(filepath.Join(t.TempDir(), "absent.yaml"), zerolog.Nop())
	set, err := build(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if set.Has(model.ASR) {
		t.Error("missing models file should build an empty set")
	}
}

type recordingPublisher struct{ types []string }

func (p *recordingPublisher) Publish(typ, jobID string, payload any) { p.types = append(p.types, typ) }

func TestReloader(t *testing.T) {
	srv := fireRedServer(t)
	reg := model.NewRegistry(model.Set{})
	pub := &recordingPublisher{}
	healthy := true
	build := func(ctx context.Context) (model.Set, error) {
		b := config.Backend{Enabled: true, Provider: "firered", URL: srv.URL, Timeout: time.Second}
		if !healthy {
			b.URL = "http://127.0.0.1:1"
		}
		return Build(ctx, config.Models{ASR: b, LID: b}, zerolog.Nop())
	}
	r := NewReloader(reg, build, pub, zerolog.Nop())

	report, err := r.Reload(context.Background(), nil)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if report.Generation != 1 || len(report.Succeeded) != 2 || len(report.Failed) != 2 {
		t.Errorf("report = %+v, want asr+lid succeeded and vad+punc failed", report)
	}
	if len(pub.types) != 1 {
		t.Errorf("events = %v", pub.types)
	}

	healthy = false
	before := reg.Status()
	report, err = r.Reload(context.Background(), []model.Capability{model.LID})
	if !errors.Is(err, model.ErrReloadFailed) {
		t.Fatalf("expected ErrReloadFailed, got %v", err)
	}
	if len(report.Failed) != 1 || report.Failed[0] != model.LID {
		t.Errorf("report = %+v", report)
	}
	after := reg.Status()
	for c, st := range before {
		if after[c] != st {
			t.Errorf("status of %s changed from %s to %s", c, st, after[c])
		}
	}
	if reg.Snapshot().Generation != 1 {
		t.Errorf("generation = %d, want 1", reg.Snapshot().Generation)
	}
}
