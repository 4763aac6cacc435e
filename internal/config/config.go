package config

import (
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"10m"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" envSeparator:","`

	AdminToken string `env:"ADMIN_TOKEN"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	ModelsFile  string `env:"MODELS_FILE" envDefault:"models.yaml"`
	WatchModels bool   `env:"WATCH_MODELS" envDefault:"false"`

	MaxJobs           int    `env:"MAX_JOBS" envDefault:"1000"`
	MaxConcurrentJobs int    `env:"MAX_CONCURRENT_JOBS" envDefault:"0"`
	MaxUploadBytes    int64  `env:"MAX_UPLOAD_BYTES" envDefault:"52428800"`
	TempDir           string `env:"TEMP_DIR"`
	Transcode         bool   `env:"TRANSCODE" envDefault:"false"`

	// MaxAudioSeconds rejects longer uploads. Zero means no limit.
	MaxAudioSeconds float64 `env:"MAX_AUDIO_SECONDS" envDefault:"0"`

	// SyncTimeout bounds a synchronous /system/transcribe call. Zero means no limit.
	SyncTimeout time.Duration `env:"SYNC_TIMEOUT" envDefault:"0s"`

	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"asr-engine"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"asr-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`

	// Audio archive. Empty ArchiveDir and S3 bucket disables archiving.
	ArchiveDir string   `env:"ARCHIVE_DIR"`
	S3         S3Config `envPrefix:"S3_"`
}

// S3Config configures the S3-compatible audio archive.
type S3Config struct {
	Bucket    string `env:"BUCKET"`
	Endpoint  string `env:"ENDPOINT"`
	Region    string `env:"REGION" envDefault:"us-east-1"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Prefix    string `env:"PREFIX"`
}

// Enabled reports whether an S3 bucket is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile    string
	HTTPAddr   string
	LogLevel   string
	ModelsFile string
	TempDir    string
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.ModelsFile != "" {
		cfg.ModelsFile = overrides.ModelsFile
	}
	if overrides.TempDir != "" {
		cfg.TempDir = overrides.TempDir
	}

	return cfg, nil
}

// Redacted returns a copy with secrets masked, for display.
func (c Config) Redacted() Config {
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "***FILTERED***"
	}
	c.AdminToken = mask(c.AdminToken)
	c.MQTTPassword = mask(c.MQTTPassword)
	c.S3.AccessKey = mask(c.S3.AccessKey)
	c.S3.SecretKey = mask(c.S3.SecretKey)
	return c
}
