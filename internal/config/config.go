// Package config loads process configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for every falconq subcommand.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Engine   EngineConfig   `yaml:"engine"`
	HTTP     HTTPConfig     `yaml:"http"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig points at the Postgres instance backing the Datastore Gateway.
type DatabaseConfig struct {
	ConnString     string        `yaml:"conn_string"`
	MaxConns       int32         `yaml:"max_conns"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// EngineConfig bounds the dispatch engine's resource usage.
type EngineConfig struct {
	QueueCapacity          int           `yaml:"queue_capacity"`
	MaxConcurrentExecuting int64         `yaml:"max_concurrent_executing"`
	MaxSecondsToSleep      time.Duration `yaml:"max_seconds_to_sleep"`
	PollInterval           time.Duration `yaml:"poll_interval"`
	PollPageSize           int           `yaml:"poll_page_size"`
	ShutdownGrace          time.Duration `yaml:"shutdown_grace"`
	WorkerID               string        `yaml:"worker_id"`
}

// HTTPConfig controls the collaborator HTTP API surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

func defaults() Config {
	return Config{
		Database: DatabaseConfig{
			MaxConns:       10,
			ConnectTimeout: 5 * time.Second,
		},
		Engine: EngineConfig{
			QueueCapacity:          1000,
			MaxConcurrentExecuting: 10,
			MaxSecondsToSleep:      10 * time.Minute,
			PollInterval:           30 * time.Second,
			PollPageSize:           500,
			ShutdownGrace:          30 * time.Second,
			WorkerID:               hostnameOrDefault(),
		},
		HTTP:    HTTPConfig{Addr: ":8080"},
		Metrics: MetricsConfig{Addr: ":9090"},
	}
}

// Load reads path (if it exists) into defaults, then applies environment
// variable overrides. path may be empty, in which case only the environment
// and built-in defaults apply.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Database.ConnString == "" {
		return Config{}, fmt.Errorf("config: database.conn_string (or DATABASE_URL) is required")
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.ConnString = v
	}
	if v := os.Getenv("MAX_CONCURRENT_EXECUTING"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Engine.MaxConcurrentExecuting = n
		}
	}
	if v := os.Getenv("MAX_IN_MEMORY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.QueueCapacity = n
		}
	}
	if v := os.Getenv("MAX_SECONDS_TO_SLEEP"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.MaxSecondsToSleep = d
		}
	}
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.PollInterval = d
		}
	}
	if v := os.Getenv("SHUTDOWN_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.ShutdownGrace = d
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("WORKER_ID"); v != "" {
		cfg.Engine.WorkerID = v
	}
}

func hostnameOrDefault() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "falconq-worker"
	}
	return h
}
