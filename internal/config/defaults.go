package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default locations, relative to the working directory.
const (
	DefaultInputPath   = "data/input/cids.xlsx"
	DefaultResultsPath = "data/output/results.csv"
	DefaultFailedPath  = "data/output/failed.json"
	DefaultStatusPath  = "data/status.json"
	DefaultLogPath     = "logs/harvester.log"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9000")
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 10*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 20*time.Second)

	v.SetDefault("debug.enabled", true)
	v.SetDefault("debug.addr", "localhost:9010")

	v.SetDefault("log.level", "info")

	v.SetDefault("paths.input", DefaultInputPath)
	v.SetDefault("paths.results", DefaultResultsPath)
	v.SetDefault("paths.failed", DefaultFailedPath)
	v.SetDefault("paths.status", DefaultStatusPath)
	v.SetDefault("paths.log", DefaultLogPath)

	v.SetDefault("run.flush_every", 10)
	v.SetDefault("run.autostart", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.base_delay", 5*time.Second)
	v.SetDefault("retry.attempt_timeout", 30*time.Second)
	v.SetDefault("retry.probe_interval", 5*time.Second)

	v.SetDefault("netcheck.url", "https://www.google.com")
	v.SetDefault("netcheck.timeout", 5*time.Second)

	v.SetDefault("fetcher.kind", string(FetcherHTTP))
	v.SetDefault("fetcher.base_url", "")
	v.SetDefault("fetcher.api_key", "")
	v.SetDefault("fetcher.health_path", "")
	v.SetDefault("fetcher.timeout", 30*time.Second)
	v.SetDefault("fetcher.rate_limit", 2.0)
	v.SetDefault("fetcher.burst", 1)
	v.SetDefault("fetcher.mock.months", 12)
	v.SetDefault("fetcher.mock.fail_ratio", 0.0)
	v.SetDefault("fetcher.mock.latency", 0)

	v.SetDefault("storage.backend", string(StorageFile))
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.min_conns", 1)
	v.SetDefault("storage.max_conns", 4)

	v.SetDefault("events.enabled", false)
	v.SetDefault("events.brokers", []string{})
	v.SetDefault("events.topic", "harvest.outcomes")
	v.SetDefault("events.client_id", "billharvest")
	v.SetDefault("events.connect_timeout", time.Minute)

	v.SetDefault("telemetry.service_name", "billharvest")
	v.SetDefault("telemetry.endpoint", "")
	v.SetDefault("telemetry.sample_ratio", 0.05)
	v.SetDefault("telemetry.insecure", true)
}
