package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Models describes which backend serves each capability. It is read from
// the YAML models file at startup and again on every reload.
type Models struct {
	ASR  Backend `yaml:"asr"`
	VAD  Backend `yaml:"vad"`
	LID  Backend `yaml:"lid"`
	Punc Backend `yaml:"punc"`
}

// Backend configures one capability slot.
type Backend struct {
	Enabled  bool          `yaml:"enabled"`
	Provider string        `yaml:"provider"` // whisper, deepinfra, elevenlabs, firered
	URL      string        `yaml:"url"`
	Model    string        `yaml:"model"`
	APIKey   string        `yaml:"api_key"`
	Timeout  time.Duration `yaml:"timeout"`

	// ASR
	Type     string `yaml:"type"` // aed or llm
	Language string `yaml:"language"`
	Keyterms string `yaml:"keyterms"`

	// VAD
	SpeechThreshold float64 `yaml:"speech_threshold"`
}

const defaultBackendTimeout = 120 * time.Second

// LoadModels reads and validates the models file. ${VAR} references are
// expanded from the environment so API keys can stay out of the file.
// A missing file yields an all-disabled configuration.
func LoadModels(path string) (*Models, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Models{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read models file: %w", err)
	}
	return ParseModels([]byte(os.ExpandEnv(string(data))))
}

// ParseModels decodes and validates a models document.
func ParseModels(data []byte) (*Models, error) {
	var m Models
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse models file: %w", err)
	}
	for name, b := range map[string]*Backend{"asr": &m.ASR, "vad": &m.VAD, "lid": &m.LID, "punc": &m.Punc} {
		if !b.Enabled {
			continue
		}
		b.Provider = strings.ToLower(strings.TrimSpace(b.Provider))
		if b.Provider == "" {
			return nil, fmt.Errorf("models.%s: provider is required when enabled", name)
		}
		if b.Timeout <= 0 {
			b.Timeout = defaultBackendTimeout
		}
	}
	return &m, nil
}

// Redacted returns a copy with API keys masked, for display.
func (m Models) Redacted() Models {
	mask := func(b Backend) Backend {
		if b.APIKey != "" {
			b.APIKey = "***FILTERED***"
		}
		return b
	}
	m.ASR = mask(m.ASR)
	m.VAD = mask(m.VAD)
	m.LID = mask(m.LID)
	m.Punc = mask(m.Punc)
	return m
}
