// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config provides the engine's process-level configuration: one
// explicit Config struct built at process construction time, following
// the base code's internal/config package shape (Default, Load,
// environment variable overrides) scoped down to this module's actual
// components.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tombee/promptflow/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// EngineConfig configures the batch engine's worker pool.
type EngineConfig struct {
	// Concurrency is the maximum number of lines executed concurrently
	// within a batch. Zero means the engine's own default.
	Concurrency int `yaml:"concurrency"`

	// LineTimeout bounds one line's execution; zero disables the
	// per-line timeout.
	LineTimeout time.Duration `yaml:"line_timeout,omitempty"`

	// Heartbeat controls how often batch progress is logged.
	Heartbeat time.Duration `yaml:"heartbeat,omitempty"`
}

// CacheConfig configures the node result cache.
type CacheConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
}

// RunConfig configures the run metadata backend.
type RunConfig struct {
	// Backend selects the run store implementation: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// SQLitePath is the database file path when Backend is "sqlite".
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// TracingConfig configures OpenTelemetry span export.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Exporter selects the OTel exporter: "stdout", "otlpgrpc", or
	// "otlphttp". Ignored when Enabled is false.
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP collector endpoint, used by otlpgrpc/otlphttp.
	Endpoint string `yaml:"endpoint,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr,omitempty"`
}

// RateLimitConfig configures the per-tool rate limiter every registered
// tool is throttled through, for tools backed by rate-limited external
// APIs.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained rate allowed per tool name.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the maximum number of requests admitted in a single burst.
	Burst int `yaml:"burst"`
}

// Config is the complete PromptFlow engine configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Cache     CacheConfig     `yaml:"cache"`
	Run       RunConfig       `yaml:"run"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// RunsDir is the root directory under which each batch run's local
	// storage output_path is rooted, when a run does not specify its own.
	RunsDir string `yaml:"runs_dir,omitempty"`
}

// Default returns a configuration with sensible defaults, the
// zero-config starting point every Load call builds on.
func Default() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			Concurrency: 16,
			LineTimeout: 0,
			Heartbeat:   30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Dir:     defaultCacheDir(),
		},
		Run: RunConfig{
			Backend:    "sqlite",
			SQLitePath: filepath.Join(defaultDataDir(), "runs.db"),
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Exporter: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9464",
		},
		RateLimit: RateLimitConfig{
			Enabled:           false,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		RunsDir: filepath.Join(defaultDataDir(), "runs"),
	}
}

// Load builds a Config from defaults, an optional YAML file at
// configPath, and environment variable overrides, in that precedence
// order -- matching the base code's Default/file/env layering.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, &errors.ConfigError{Key: configPath, Reason: "reading config file", Cause: err}
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, &errors.ConfigError{Key: configPath, Reason: "parsing config file", Cause: err}
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants Load cannot express through YAML alone.
func (c *Config) Validate() error {
	switch c.Run.Backend {
	case "memory", "sqlite":
	default:
		return &errors.ConfigError{Key: "run.backend", Reason: fmt.Sprintf("unknown backend %q, must be memory or sqlite", c.Run.Backend)}
	}
	if c.Run.Backend == "sqlite" && c.Run.SQLitePath == "" {
		return &errors.ConfigError{Key: "run.sqlite_path", Reason: "required when run.backend is sqlite"}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PF_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PF_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("PF_ENGINE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Engine.Concurrency = n
		}
	}
	if v := os.Getenv("PF_ENGINE_LINE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Engine.LineTimeout = d
		}
	}
	if v := os.Getenv("PF_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PF_CACHE_DIR"); v != "" {
		cfg.Cache.Dir = v
	}
	if v := os.Getenv("PF_RUN_BACKEND"); v != "" {
		cfg.Run.Backend = v
	}
	if v := os.Getenv("PF_RUN_SQLITE_PATH"); v != "" {
		cfg.Run.SQLitePath = v
	}
	if v := os.Getenv("PF_TRACING_ENABLED"); v != "" {
		cfg.Tracing.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PF_TRACING_EXPORTER"); v != "" {
		cfg.Tracing.Exporter = v
	}
	if v := os.Getenv("PF_TRACING_ENDPOINT"); v != "" {
		cfg.Tracing.Endpoint = v
	}
	if v := os.Getenv("PF_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PF_METRICS_LISTEN_ADDR"); v != "" {
		cfg.Metrics.ListenAddr = v
	}
	if v := os.Getenv("PF_RUNS_DIR"); v != "" {
		cfg.RunsDir = v
	}
	if v := os.Getenv("PF_RATE_LIMIT_ENABLED"); v != "" {
		cfg.RateLimit.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("PF_RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimit.RequestsPerSecond = f
		}
	}
	if v := os.Getenv("PF_RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimit.Burst = n
		}
	}
}

// ConfigPath returns the default config file location,
// $HOME/.promptflow/config.yaml, matching the base code's
// dotfile-under-home convention for its own default config/socket/data
// paths.
func ConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".promptflow", "config.yaml"), nil
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".promptflow"
	}
	return filepath.Join(home, ".promptflow")
}

func defaultCacheDir() string {
	return filepath.Join(defaultDataDir(), "cache")
}
