package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the intelligence server.
type Config struct {
	Server ServerConfig
	Redis  RedisConfig
	Orion  OrionConfig
	Worker WorkerConfig
	Queue  QueueConfig
	Job    JobConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	LogLevel        string
	RateLimitPerMin int
}

type RedisConfig struct {
	URL string
}

type OrionConfig struct {
	URL        string
	ContextURL string
	Timeout    time.Duration
	MaxRetries int
}

type WorkerConfig struct {
	Count         int
	PluginTimeout time.Duration
}

type QueueConfig struct {
	PollTimeout       time.Duration
	VisibilityTimeout time.Duration
	ReapInterval      time.Duration
}

type JobConfig struct {
	TTL time.Duration
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated
// Config. Returns an error with a descriptive message if any required value is
// missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("INTELLIGENCE_PORT", 8080),
			Env:             envString("INTELLIGENCE_ENV", "development"),
			LogLevel:        envString("LOG_LEVEL", "info"),
			RateLimitPerMin: envInt("RATE_LIMIT_PER_MIN", 60),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Orion: OrionConfig{
			URL:        os.Getenv("ORION_URL"),
			ContextURL: envString("CONTEXT_URL", "https://nekazari.artotxiki.com/ngsi-ld-context.json"),
			Timeout:    envDuration("ORION_TIMEOUT", 10*time.Second),
			MaxRetries: envInt("ORION_MAX_RETRIES", 3),
		},
		Worker: WorkerConfig{
			Count:         envInt("WORKER_COUNT", 4),
			PluginTimeout: envDurationSecs("PLUGIN_TIMEOUT_SECS", 60*time.Second),
		},
		Queue: QueueConfig{
			PollTimeout:       envDuration("QUEUE_POLL_TIMEOUT", 5*time.Second),
			VisibilityTimeout: envDuration("QUEUE_VISIBILITY_TIMEOUT", time.Minute),
			ReapInterval:      envDuration("QUEUE_REAP_INTERVAL", 30*time.Second),
		},
		Job: JobConfig{
			TTL: envDuration("JOB_TTL", 7*24*time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.Orion.URL == "" {
		return fmt.Errorf("ORION_URL is required")
	}
	if !strings.HasPrefix(c.Orion.URL, "http://") && !strings.HasPrefix(c.Orion.URL, "https://") {
		return fmt.Errorf("ORION_URL must start with http:// or https://, got %q", c.Orion.URL)
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if c.Worker.Count < 1 {
		return fmt.Errorf("WORKER_COUNT must be at least 1, got %d", c.Worker.Count)
	}

	if c.Queue.VisibilityTimeout < c.Queue.PollTimeout {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT (%s) must not be shorter than QUEUE_POLL_TIMEOUT (%s)",
			c.Queue.VisibilityTimeout, c.Queue.PollTimeout)
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
