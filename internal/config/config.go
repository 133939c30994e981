// Package config defines the harvester's configuration and loads it from
// defaults, an optional YAML file and HARVEST_ environment variables.
package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// FetcherKind selects the Fetcher implementation.
type FetcherKind string

const (
	FetcherHTTP FetcherKind = "http"
	FetcherMock FetcherKind = "mock"
)

// StorageBackend selects where results, failures and progress are kept.
type StorageBackend string

const (
	StorageFile     StorageBackend = "file"
	StoragePostgres StorageBackend = "postgres"
	StorageMemory   StorageBackend = "memory"
)

// Config represents the top-level configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Debug     DebugConfig     `mapstructure:"debug" yaml:"debug"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Paths     PathsConfig     `mapstructure:"paths" yaml:"paths"`
	Run       RunConfig       `mapstructure:"run" yaml:"run"`
	Retry     RetryConfig     `mapstructure:"retry" yaml:"retry"`
	Netcheck  NetcheckConfig  `mapstructure:"netcheck" yaml:"netcheck"`
	Fetcher   FetcherConfig   `mapstructure:"fetcher" yaml:"fetcher"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Events    EventsConfig    `mapstructure:"events" yaml:"events"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

// ServerConfig configures the control API listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// DebugConfig configures the pprof and statsviz listener.
type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr" validate:"required_if=Enabled true"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
}

// PathsConfig is the on-disk layout used by the file backend.
type PathsConfig struct {
	Input   string `mapstructure:"input" yaml:"input" validate:"required"`
	Results string `mapstructure:"results" yaml:"results" validate:"required"`
	Failed  string `mapstructure:"failed" yaml:"failed" validate:"required"`
	Status  string `mapstructure:"status" yaml:"status" validate:"required"`
	Log     string `mapstructure:"log" yaml:"log"`
}

type RunConfig struct {
	// FlushEvery is the number of attempted items between result flushes.
	FlushEvery int `mapstructure:"flush_every" yaml:"flush_every" validate:"min=1"`
	// AutoStart launches a run as soon as the service is up.
	AutoStart bool `mapstructure:"autostart" yaml:"autostart"`
}

type RetryConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	BaseDelay      time.Duration `mapstructure:"base_delay" yaml:"base_delay" validate:"gte=0"`
	AttemptTimeout time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout" validate:"gte=0"`
	ProbeInterval  time.Duration `mapstructure:"probe_interval" yaml:"probe_interval" validate:"gt=0"`
}

// NetcheckConfig configures the connectivity probe. An empty URL disables it.
type NetcheckConfig struct {
	URL     string        `mapstructure:"url" yaml:"url" validate:"omitempty,url"`
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
}

type FetcherConfig struct {
	Kind       FetcherKind   `mapstructure:"kind" yaml:"kind" validate:"oneof=http mock"`
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url" validate:"omitempty,url"`
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	HealthPath string        `mapstructure:"health_path" yaml:"health_path"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout" validate:"gt=0"`
	RateLimit  float64       `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst      int           `mapstructure:"burst" yaml:"burst" validate:"gte=0"`

	Mock MockFetcherConfig `mapstructure:"mock" yaml:"mock"`
}

type MockFetcherConfig struct {
	Months    int           `mapstructure:"months" yaml:"months" validate:"gte=0"`
	FailRatio float64       `mapstructure:"fail_ratio" yaml:"fail_ratio" validate:"gte=0,lte=1"`
	Latency   time.Duration `mapstructure:"latency" yaml:"latency" validate:"gte=0"`
}

type StorageConfig struct {
	Backend  StorageBackend `mapstructure:"backend" yaml:"backend" validate:"oneof=file postgres memory"`
	DSN      string         `mapstructure:"dsn" yaml:"dsn" validate:"required_if=Backend postgres"`
	MinConns int32          `mapstructure:"min_conns" yaml:"min_conns" validate:"gte=0"`
	MaxConns int32          `mapstructure:"max_conns" yaml:"max_conns" validate:"gte=0"`
}

// EventsConfig configures publishing of per-item outcomes to Kafka.
type EventsConfig struct {
	Enabled        bool          `mapstructure:"enabled" yaml:"enabled"`
	Brokers        []string      `mapstructure:"brokers" yaml:"brokers" validate:"required_if=Enabled true"`
	Topic          string        `mapstructure:"topic" yaml:"topic" validate:"required_if=Enabled true"`
	ClientID       string        `mapstructure:"client_id" yaml:"client_id"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout" validate:"gte=0"`
}

// TelemetryConfig configures OpenTelemetry export. An empty endpoint keeps
// tracing and metrics in-process only.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name" yaml:"service_name" validate:"required"`
	Endpoint    string  `mapstructure:"endpoint" yaml:"endpoint"`
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio" validate:"gte=0,lte=1"`
	Insecure    bool    `mapstructure:"insecure" yaml:"insecure"`
}

const redacted = "[REDACTED]"

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.Fetcher.APIKey != "" {
		c.Fetcher.APIKey = redacted
	}
	if c.Storage.DSN != "" {
		c.Storage.DSN = redacted
	}
	c.Events.Brokers = append([]string(nil), c.Events.Brokers...)
	return c
}

// YAML renders the redacted configuration.
func (c Config) YAML() (string, error) {
	out, err := yaml.Marshal(c.Redacted())
	if err != nil {
		return "", err
	}
	return string(out), nil
}
