package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowedOrigins" env:"LIVEPOLL_ALLOWED_ORIGINS" envSeparator:","`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level" env:"LIVEPOLL_LOG_LEVEL"`
		Format string `yaml:"format" env:"LIVEPOLL_LOG_FORMAT"`
	} `yaml:"log"`
	Session struct {
		MaxParticipants   int    `yaml:"maxParticipants" env:"LIVEPOLL_MAX_PARTICIPANTS"`
		InactivityTimeout string `yaml:"inactivityTimeout" env:"LIVEPOLL_INACTIVITY_TIMEOUT"`
		SweepInterval     string `yaml:"sweepInterval" env:"LIVEPOLL_SWEEP_INTERVAL"`
		SubscriberBuffer  int    `yaml:"subscriberBuffer" env:"LIVEPOLL_SUBSCRIBER_BUFFER"`
	} `yaml:"session"`
	Poll struct {
		DefaultTimeLimit int `yaml:"defaultTimeLimit" env:"LIVEPOLL_DEFAULT_TIME_LIMIT"`
		MaxTimeLimit     int `yaml:"maxTimeLimit" env:"LIVEPOLL_MAX_TIME_LIMIT"`
	} `yaml:"poll"`
	Redis struct {
		Addr     string `yaml:"addr" env:"LIVEPOLL_REDIS_ADDR"`
		Password string `yaml:"password" env:"LIVEPOLL_REDIS_PASSWORD"`
		DB       int    `yaml:"db" env:"LIVEPOLL_REDIS_DB"`
		TTL      string `yaml:"ttl" env:"LIVEPOLL_REDIS_TTL"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url" env:"LIVEPOLL_POSTGRES_URL"`
	} `yaml:"postgres"`
	SQLite struct {
		Path string `yaml:"path" env:"LIVEPOLL_SQLITE_PATH"`
	} `yaml:"sqlite"`
	AMQP struct {
		URL           string `yaml:"url" env:"LIVEPOLL_AMQP_URL"`
		ResultsQueue  string `yaml:"resultsQueue" env:"LIVEPOLL_AMQP_RESULTS_QUEUE"`
		SessionsQueue string `yaml:"sessionsQueue" env:"LIVEPOLL_AMQP_SESSIONS_QUEUE"`
	} `yaml:"amqp"`
	OpenAI struct {
		APIKey      string  `yaml:"apiKey" env:"OPENAI_API_KEY"`
		BaseURL     string  `yaml:"baseURL" env:"OPENAI_BASE_URL"`
		Model       string  `yaml:"model" env:"LIVEPOLL_OPENAI_MODEL"`
		Temperature float64 `yaml:"temperature"`
		MaxTokens   int64   `yaml:"maxTokens"`
		Timeout     string  `yaml:"timeout"`
	} `yaml:"openai"`
	Drafts struct {
		CacheTTL string `yaml:"cacheTTL" env:"LIVEPOLL_DRAFT_CACHE_TTL"`
		QueueTTL string `yaml:"queueTTL" env:"LIVEPOLL_DRAFT_QUEUE_TTL"`
	} `yaml:"drafts"`
	Archive struct {
		QueueSize int `yaml:"queueSize" env:"LIVEPOLL_ARCHIVE_QUEUE_SIZE"`
		Workers   int `yaml:"workers" env:"LIVEPOLL_ARCHIVE_WORKERS"`
	} `yaml:"archive"`
	Telemetry struct {
		Endpoint string `yaml:"endpoint" env:"LIVEPOLL_OTEL_ENDPOINT"`
	} `yaml:"telemetry"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	cfg.Session.MaxParticipants = 100
	cfg.Session.InactivityTimeout = "30m"
	cfg.Session.SweepInterval = "1m"
	cfg.Session.SubscriberBuffer = 64
	cfg.Poll.DefaultTimeLimit = 30
	cfg.Poll.MaxTimeLimit = 300
	cfg.Redis.TTL = "10m"
	cfg.AMQP.ResultsQueue = "live-poll.results"
	cfg.AMQP.SessionsQueue = "live-poll.sessions"
	cfg.OpenAI.Temperature = 0.7
	cfg.OpenAI.MaxTokens = 1500
	cfg.OpenAI.Timeout = "30s"
	cfg.Drafts.CacheTTL = "1h"
	cfg.Drafts.QueueTTL = "12h"
	cfg.Archive.QueueSize = 1024
	cfg.Archive.Workers = 4
	return cfg
}

// Load reads YAML config from path on top of the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
