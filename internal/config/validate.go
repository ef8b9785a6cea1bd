package config

import (
	"fmt"
	"slices"
	"strings"
)

// validate checks cfg for out-of-range values. All failures are collected
// into one error so a broken file can be fixed in a single pass.
func validate(cfg *Config) error {
	var errs []string
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		fail("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if !isValidEnum(cfg.Server.LogLevel, ValidLogLevels) {
		fail("server.log_level must be one of %v, got %q", ValidLogLevels, cfg.Server.LogLevel)
	}
	if cfg.Server.DataDir == "" {
		fail("server.data_dir must not be empty")
	}
	if cfg.Server.ReadTimeout < 0 {
		fail("server.read_timeout must be non-negative, got %d", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout < 0 {
		fail("server.write_timeout must be non-negative, got %d", cfg.Server.WriteTimeout)
	}
	if cfg.Server.IdleTimeout < 0 {
		fail("server.idle_timeout must be non-negative, got %d", cfg.Server.IdleTimeout)
	}

	if cfg.Cache.MemoryEntries < 0 {
		fail("cache.memory_entries must be non-negative, got %d", cfg.Cache.MemoryEntries)
	}

	if cfg.Scrape.BaseURL == "" {
		fail("scrape.base_url must not be empty")
	}
	if cfg.Scrape.Timeout < 0 {
		fail("scrape.timeout must be non-negative, got %d", cfg.Scrape.Timeout)
	}

	if cfg.Provider.BaseURL == "" {
		fail("provider.base_url must not be empty")
	}
	if cfg.Provider.Timeout < 0 {
		fail("provider.timeout must be non-negative, got %d", cfg.Provider.Timeout)
	}
	if cfg.Provider.FetchConcurrency < 1 {
		fail("provider.fetch_concurrency must be at least 1, got %d", cfg.Provider.FetchConcurrency)
	}
	if cfg.Provider.MaxSymbolExchanges < 0 {
		fail("provider.max_symbol_exchanges must be non-negative, got %d", cfg.Provider.MaxSymbolExchanges)
	}

	if cfg.Match.FuzzyThreshold < 0 || cfg.Match.FuzzyThreshold > 100 {
		fail("match.fuzzy_threshold must be between 0 and 100, got %d", cfg.Match.FuzzyThreshold)
	}
	if cfg.Match.Workers < 1 {
		fail("match.workers must be at least 1, got %d", cfg.Match.Workers)
	}

	if cfg.Archive.RetentionDays < 0 {
		fail("archive.retention_days must be non-negative, got %d", cfg.Archive.RetentionDays)
	}

	if !isValidEnum(cfg.Tracing.Exporter, ValidTracingExporters) {
		fail("tracing.exporter must be one of %v, got %q", ValidTracingExporters, cfg.Tracing.Exporter)
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		fail("tracing.sample_rate must be between 0 and 1, got %g", cfg.Tracing.SampleRate)
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// isValidEnum reports whether val is in the allowed list, ignoring case.
func isValidEnum(val string, allowed []string) bool {
	return slices.ContainsFunc(allowed, func(a string) bool {
		return strings.EqualFold(a, val)
	})
}
