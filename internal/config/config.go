package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// OpenAIKey maps to OPENAI_API_KEY. Required: the pipeline is useless
	// without the enrichment backend.
	OpenAIKey string `envconfig:"OPENAI_API_KEY" required:"true"`

	// OpenAIModel maps to OPENAI_MODEL.
	OpenAIModel string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// OpenAIBaseURL overrides the API endpoint. Useful for proxies/testing.
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`

	// Workers maps to WORKERS. Each worker owns one browser session.
	Workers int `envconfig:"WORKERS" default:"4"`

	// MaxRetries maps to MAX_RETRIES: re-enqueue budget per target.
	MaxRetries int `envconfig:"MAX_RETRIES" default:"2"`

	// RateCapacity / RateRefill shape the token bucket guarding the
	// enrichment API. Capacity is the burst size; refill is the steady rate.
	RateCapacity int           `envconfig:"RATE_CAPACITY" default:"5"`
	RateRefill   time.Duration `envconfig:"RATE_REFILL" default:"1s"`

	// AcquireTimeout bounds the wait for a rate-limit permit.
	AcquireTimeout time.Duration `envconfig:"ACQUIRE_TIMEOUT" default:"30s"`

	// PageTimeout bounds navigation + element waits per extraction.
	PageTimeout time.Duration `envconfig:"PAGE_TIMEOUT" default:"25s"`

	// EnrichTimeout bounds a single classification API call.
	EnrichTimeout time.Duration `envconfig:"ENRICH_TIMEOUT" default:"60s"`

	// BackoffInitial / BackoffMax shape the dispatcher's retry delay.
	BackoffInitial time.Duration `envconfig:"BACKOFF_INITIAL" default:"500ms"`
	BackoffMax     time.Duration `envconfig:"BACKOFF_MAX" default:"15s"`

	// Headless maps to HEADLESS; disable to watch the browser work.
	Headless bool `envconfig:"HEADLESS" default:"true"`

	// DatabaseURL maps to DB_URL. Optional: when empty, leads are kept
	// in memory only and exported on demand.
	DatabaseURL string `envconfig:"DB_URL" default:""`

	// ListenAddr maps to LISTEN_ADDR for the UI polling API.
	ListenAddr string `envconfig:"LISTEN_ADDR" default:"127.0.0.1:8808"`

	// LogLevel maps to LOG_LEVEL (debug, info, warn, error).
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load processes environment variables and populates the Config struct.
func Load() (*Config, error) {
	// Try to load .env first. In production the vars are usually injected
	// directly, so a missing file is not an error.
	if err := godotenv.Load(); err != nil {
		if _, statErr := os.Stat(".env"); statErr == nil {
			log.Printf("Warning: .env file found but could not be loaded: %v", err)
		}
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, eris.Wrap(err, "config: process environment")
	}
	return &cfg, nil
}

// InitLogger installs the global zap logger at the configured level.
func InitLogger(level string) error {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return eris.Wrapf(err, "config: parse log level %q", level)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	logger, err := zc.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)
	return nil
}
