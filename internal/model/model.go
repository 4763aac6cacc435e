// Package model defines the four inference capabilities the pipeline consumes,
// the adapter interfaces that concrete backends implement, and the registry
// that publishes the active adapter set as an immutable snapshot.
package model

import (
	"context"
	"fmt"
	"strings"
)

// Capability identifies one of the fixed inference capabilities.
type Capability int

const (
	ASR Capability = iota
	VAD
	LID
	Punc
)

// Capabilities lists every capability in pipeline stage order.
var Capabilities = []Capability{VAD, ASR, LID, Punc}

func (c Capability) String() string {
	switch c {
	case ASR:
		return "asr"
	case VAD:
		return "vad"
	case LID:
		return "lid"
	case Punc:
		return "punc"
	default:
		return fmt.Sprintf("capability(%d)", int(c))
	}
}

// MarshalText encodes the capability as its short name.
func (c Capability) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText accepts "asr", "vad", "lid" or "punc" (case-insensitive).
func (c *Capability) UnmarshalText(b []byte) error {
	p, err := ParseCapability(string(b))
	if err != nil {
		return err
	}
	*c = p
	return nil
}

// ParseCapability maps a short name to a Capability.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "asr":
		return ASR, nil
	case "vad":
		return VAD, nil
	case "lid":
		return LID, nil
	case "punc":
		return Punc, nil
	}
	return 0, fmt.Errorf("%w: unknown module %q", ErrValidation, s)
}

// ParseCapabilities parses a list of names. An empty list means all four.
func ParseCapabilities(names []string) ([]Capability, error) {
	if len(names) == 0 {
		return []Capability{ASR, VAD, LID, Punc}, nil
	}
	seen := make(map[Capability]bool, len(names))
	caps := make([]Capability, 0, len(names))
	for _, n := range names {
		c, err := ParseCapability(n)
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			caps = append(caps, c)
		}
	}
	return caps, nil
}

// TranscribeOptions are per-call options for a Transcriber.
type TranscribeOptions struct {
	UttID           string
	ASRType         string // "aed" or "llm"
	ReturnTimestamp bool
}

// Word is a timestamped token from a transcription.
type Word struct {
	Word    string  `json:"word"`
	StartMs int64   `json:"start_ms"`
	EndMs   int64   `json:"end_ms"`
	Score   float64 `json:"score,omitempty"`
}

// Transcription is the output of a Transcriber.
type Transcription struct {
	Text            string
	Confidence      float64
	DurationSeconds float64
	Words           []Word
}

// Segment is a detected speech span in milliseconds.
type Segment struct {
	StartMs int64
	EndMs   int64
}

// SpeechSegments is the output of a SegmentDetector.
type SpeechSegments struct {
	DurationSeconds float64
	Segments        []Segment
}

// LanguageGuess is the output of a LanguageIdentifier.
type LanguageGuess struct {
	Language        string
	Confidence      float64
	DurationSeconds float64
}

// Punctuated is one punctuation-restored text.
type Punctuated struct {
	ID             string `json:"uttid"`
	OriginalText   string `json:"origin_text"`
	PunctuatedText string `json:"punc_text"`
}

// Transcriber turns speech into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, opts TranscribeOptions) (*Transcription, error)
}

// SegmentDetector finds speech-present spans.
type SegmentDetector interface {
	DetectSegments(ctx context.Context, audioPath string) (*SpeechSegments, error)
}

// LanguageIdentifier guesses the spoken language.
type LanguageIdentifier interface {
	DetectLanguage(ctx context.Context, audioPath string) (*LanguageGuess, error)
}

// PunctuationRestorer adds punctuation to raw transcripts. texts and ids are
// parallel slices.
type PunctuationRestorer interface {
	RestorePunctuation(ctx context.Context, texts, ids []string) ([]Punctuated, error)
}

// CheckPunctuationArgs validates the parallel-slice contract of
// PunctuationRestorer. Implementations call it before touching the backend.
func CheckPunctuationArgs(texts, ids []string) error {
	if len(texts) != len(ids) {
		return fmt.Errorf("%w: %d texts but %d ids", ErrValidation, len(texts), len(ids))
	}
	return nil
}

// Set is one complete adapter set as produced by a build. Any slot may be nil.
type Set struct {
	ASR  Transcriber
	VAD  SegmentDetector
	LID  LanguageIdentifier
	Punc PunctuationRestorer
}

// Has reports whether the slot for c is populated.
func (s Set) Has(c Capability) bool {
	switch c {
	case ASR:
		return s.ASR != nil
	case VAD:
		return s.VAD != nil
	case LID:
		return s.LID != nil
	case Punc:
		return s.Punc != nil
	}
	return false
}
