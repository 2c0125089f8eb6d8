// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/leejennwah/reliable-queue/internal/queue"
)

// Config is shared by the api and worker commands.
type Config struct {
	RedisURL      string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	APIAddr       string `env:"API_ADDR" envDefault:":8080"`
	MetricsAddr   string `env:"METRICS_ADDR" envDefault:":9091"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// APIWriteTimeoutSec bounds every API response, blocking claims
	// included, so reserve timeouts must stay below it.
	APIWriteTimeoutSec int `env:"API_WRITE_TIMEOUT_SEC" envDefault:"15"`

	Queue  Queue
	Worker Worker
}

// Queue holds queue defaults and per-queue overrides. Overrides are lists of
// name:value pairs separated by commas, e.g. QUEUE_LEASES=emails:60,sms:10.
type Queue struct {
	KeyPrefix         string `env:"QUEUE_KEY_PREFIX" envDefault:"rq"`
	ReserveTimeoutSec int    `env:"QUEUE_RESERVE_TIMEOUT_SEC"`
	LeaseSec          int    `env:"QUEUE_LEASE_SEC" envDefault:"30"`
	Engine            string `env:"QUEUE_ENGINE" envDefault:"reliable"`

	ReserveTimeouts map[string]int    `env:"QUEUE_RESERVE_TIMEOUTS"`
	Leases          map[string]int    `env:"QUEUE_LEASES"`
	Engines         map[string]string `env:"QUEUE_ENGINES"`
}

// Worker configures cmd/worker.
type Worker struct {
	Queues      []string `env:"WORKER_QUEUES" envDefault:"default"`
	Concurrency int      `env:"WORKER_CONCURRENCY" envDefault:"4"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) validate() error {
	q := c.Queue
	if c.APIWriteTimeoutSec <= 0 {
		return fmt.Errorf("API_WRITE_TIMEOUT_SEC must be positive, got %d", c.APIWriteTimeoutSec)
	}
	if q.ReserveTimeoutSec < 0 {
		return fmt.Errorf("QUEUE_RESERVE_TIMEOUT_SEC must not be negative, got %d", q.ReserveTimeoutSec)
	}
	if q.ReserveTimeoutSec >= c.APIWriteTimeoutSec {
		return fmt.Errorf("QUEUE_RESERVE_TIMEOUT_SEC (%d) must be below API_WRITE_TIMEOUT_SEC (%d)",
			q.ReserveTimeoutSec, c.APIWriteTimeoutSec)
	}
	if q.LeaseSec <= 0 {
		return fmt.Errorf("QUEUE_LEASE_SEC must be positive, got %d", q.LeaseSec)
	}
	if err := checkEngine(q.Engine); err != nil {
		return fmt.Errorf("QUEUE_ENGINE: %w", err)
	}
	for name, e := range q.Engines {
		if err := checkEngine(e); err != nil {
			return fmt.Errorf("QUEUE_ENGINES[%s]: %w", name, err)
		}
	}
	for name, sec := range q.ReserveTimeouts {
		if sec < 0 {
			return fmt.Errorf("QUEUE_RESERVE_TIMEOUTS[%s] must not be negative, got %d", name, sec)
		}
		if sec >= c.APIWriteTimeoutSec {
			return fmt.Errorf("QUEUE_RESERVE_TIMEOUTS[%s] (%d) must be below API_WRITE_TIMEOUT_SEC (%d)",
				name, sec, c.APIWriteTimeoutSec)
		}
	}
	for name, sec := range q.Leases {
		if sec <= 0 {
			return fmt.Errorf("QUEUE_LEASES[%s] must be positive, got %d", name, sec)
		}
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.Worker.Concurrency)
	}
	return nil
}

func checkEngine(e string) error {
	switch queue.Engine(e) {
	case queue.EngineReliable, queue.EngineBasic:
		return nil
	}
	return fmt.Errorf("unknown engine %q", e)
}

// Settings returns the settings resolver for queue.NewFactory.
func (q Queue) Settings() queue.SettingsFunc {
	return func(name string) queue.Settings {
		s := queue.DefaultSettings()
		s.KeyPrefix = q.KeyPrefix
		s.ReserveTimeout = time.Duration(q.ReserveTimeoutSec) * time.Second
		s.LeaseDuration = time.Duration(q.LeaseSec) * time.Second
		s.Engine = queue.Engine(q.Engine)

		if sec, ok := q.ReserveTimeouts[name]; ok {
			s.ReserveTimeout = time.Duration(sec) * time.Second
		}
		if sec, ok := q.Leases[name]; ok {
			s.LeaseDuration = time.Duration(sec) * time.Second
		}
		if e, ok := q.Engines[name]; ok {
			s.Engine = queue.Engine(e)
		}
		return s
	}
}

// APIWriteTimeout is the write deadline of the API server.
func (c Config) APIWriteTimeout() time.Duration {
	return time.Duration(c.APIWriteTimeoutSec) * time.Second
}

// RedisOptions builds client options. REDIS_URL may be a bare host:port or a
// redis:// URL; a URL's own password and database win over REDIS_PASSWORD
// and REDIS_DB.
func (c Config) RedisOptions() (*redis.Options, error) {
	if strings.HasPrefix(c.RedisURL, "redis://") || strings.HasPrefix(c.RedisURL, "rediss://") {
		opts, err := redis.ParseURL(c.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse REDIS_URL: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     c.RedisURL,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
	}, nil
}

// Logger builds a production zap logger at LOG_LEVEL.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
