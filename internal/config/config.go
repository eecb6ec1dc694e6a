package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"

	"content-podcaster/internal/invalidation"
)

const (
	EventBusRedis = "redis"
	EventBusKafka = "kafka"
	EventBusNone  = "none"
)

type Config struct {
	Port        string `env:"PORT" envDefault:"8080"`
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisAddr   string `env:"REDIS_ADDR" envDefault:"127.0.0.1:6379"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	AudioDir    string `env:"AUDIO_DIR" envDefault:"audio"`
	FeedsFile   string `env:"FEEDS_FILE" envDefault:"feeds.yaml"`

	Events       Events
	Cache        Cache
	Invalidation Invalidation
	Edge         Edge
	RateLimit    RateLimit
	Worker       Worker
}

// Events selects how episode changes travel from workers to servers.
type Events struct {
	Bus          string   `env:"EVENT_BUS" envDefault:"redis"`
	RedisChannel string   `env:"EVENT_REDIS_CHANNEL" envDefault:"podcaster:episode-changes"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" envDefault:"episode-changes"`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"podcaster-feeds"`
}

type Cache struct {
	TTL           time.Duration `env:"FEED_CACHE_TTL" envDefault:"5m"`
	MaxEntryBytes int64         `env:"FEED_CACHE_MAX_ENTRY_BYTES" envDefault:"5242880"`
	SweepInterval time.Duration `env:"FEED_CACHE_SWEEP_INTERVAL" envDefault:"1m"`
	RenderTimeout time.Duration `env:"FEED_RENDER_TIMEOUT" envDefault:"5s"`
}

type Invalidation struct {
	Strategy string        `env:"INVALIDATION_STRATEGY" envDefault:"immediate"`
	Interval time.Duration `env:"INVALIDATION_INTERVAL" envDefault:"30s"`
}

// Edge configures purging of an external HTTP cache. Purging is off when
// PurgeURL is empty.
type Edge struct {
	PurgeURL   string        `env:"EDGE_PURGE_URL"`
	PurgeToken string        `env:"EDGE_PURGE_TOKEN"`
	PurgeRPS   float64       `env:"EDGE_PURGE_RPS" envDefault:"5"`
	Timeout    time.Duration `env:"EDGE_PURGE_TIMEOUT" envDefault:"10s"`
}

type RateLimit struct {
	RPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"1"`
	Burst int     `env:"RATE_LIMIT_BURST" envDefault:"5"`
}

type Worker struct {
	Concurrency  int           `env:"WORKER_CONCURRENCY" envDefault:"2"`
	StalledAfter time.Duration `env:"STALLED_AFTER" envDefault:"30m"`
	// TTSCommand is run as "<cmd> <text file> <mp3 file>".
	TTSCommand       string        `env:"TTS_COMMAND" envDefault:"tts-mp3"`
	YtDlpPath        string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	PdfToTextPath    string        `env:"PDFTOTEXT_PATH" envDefault:"pdftotext"`
	HTTPFetchTimeout time.Duration `env:"HTTP_FETCH_TIMEOUT" envDefault:"30s"`
	MaxContentBytes  int64         `env:"MAX_CONTENT_BYTES" envDefault:"10485760"`
}

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")

	if _, err := invalidation.ParseStrategy(c.Invalidation.Strategy); err != nil {
		return err
	}
	switch c.Events.Bus {
	case EventBusRedis, EventBusKafka, EventBusNone:
	default:
		return fmt.Errorf("unknown event bus %q", c.Events.Bus)
	}
	if c.Cache.TTL <= 0 {
		return errors.New("FEED_CACHE_TTL must be positive")
	}
	return nil
}

// RequireDatabase fails when no database is configured.
func (c *Config) RequireDatabase() error {
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is not set")
	}
	return nil
}
