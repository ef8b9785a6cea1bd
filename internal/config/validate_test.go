package config

import (
	"strings"
	"testing"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/tmp/screenman-test"
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	if err := validate(validConfig()); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
}

func TestValidate_RejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		mention string
	}{
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"port zero", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown log level", func(c *Config) { c.Server.LogLevel = "verbose" }, "log_level"},
		{"empty data dir", func(c *Config) { c.Server.DataDir = "" }, "data_dir"},
		{"negative read timeout", func(c *Config) { c.Server.ReadTimeout = -1 }, "read_timeout"},
		{"negative write timeout", func(c *Config) { c.Server.WriteTimeout = -5 }, "write_timeout"},
		{"negative idle timeout", func(c *Config) { c.Server.IdleTimeout = -2 }, "idle_timeout"},
		{"negative memory entries", func(c *Config) { c.Cache.MemoryEntries = -1 }, "cache.memory_entries"},
		{"empty scrape url", func(c *Config) { c.Scrape.BaseURL = "" }, "scrape.base_url"},
		{"negative scrape timeout", func(c *Config) { c.Scrape.Timeout = -1 }, "scrape.timeout"},
		{"empty provider url", func(c *Config) { c.Provider.BaseURL = "" }, "provider.base_url"},
		{"negative provider timeout", func(c *Config) { c.Provider.Timeout = -1 }, "provider.timeout"},
		{"zero fetch concurrency", func(c *Config) { c.Provider.FetchConcurrency = 0 }, "fetch_concurrency"},
		{"negative symbol exchanges", func(c *Config) { c.Provider.MaxSymbolExchanges = -1 }, "max_symbol_exchanges"},
		{"fuzzy threshold above 100", func(c *Config) { c.Match.FuzzyThreshold = 101 }, "fuzzy_threshold"},
		{"negative fuzzy threshold", func(c *Config) { c.Match.FuzzyThreshold = -1 }, "fuzzy_threshold"},
		{"zero match workers", func(c *Config) { c.Match.Workers = 0 }, "match.workers"},
		{"negative retention", func(c *Config) { c.Archive.RetentionDays = -1 }, "retention_days"},
		{"unknown exporter", func(c *Config) { c.Tracing.Exporter = "jaeger" }, "tracing.exporter"},
		{"sample rate above 1", func(c *Config) { c.Tracing.SampleRate = 1.5 }, "sample_rate"},
		{"negative sample rate", func(c *Config) { c.Tracing.SampleRate = -0.1 }, "sample_rate"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)

			err := validate(cfg)
			if err == nil {
				t.Fatal("validate accepted the config")
			}
			if !strings.Contains(err.Error(), tc.mention) {
				t.Errorf("error does not mention %s: %v", tc.mention, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Server.Port = 0
	cfg.Server.LogLevel = "bad"
	cfg.Match.Workers = 0

	err := validate(cfg)
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"server.port", "log_level", "match.workers"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("combined error misses %s: %v", want, err)
		}
	}
}

func TestIsValidEnum(t *testing.T) {
	if !isValidEnum("INFO", ValidLogLevels) {
		t.Error("mixed-case level rejected")
	}
	if isValidEnum("verbose", ValidLogLevels) {
		t.Error("unknown level accepted")
	}
	if !isValidEnum("otlp-grpc", ValidTracingExporters) {
		t.Error("otlp-grpc rejected")
	}
}
