package api

import (
	"os"
	"sync"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/screenman/internal/archive"
	"github.com/allaspectsdev/screenman/internal/cache"
	"github.com/allaspectsdev/screenman/internal/config"
	"github.com/allaspectsdev/screenman/internal/dataroma"
	"github.com/allaspectsdev/screenman/internal/eodhd"
	"github.com/allaspectsdev/screenman/internal/match"
	"github.com/allaspectsdev/screenman/internal/metrics"
	"github.com/allaspectsdev/screenman/internal/screener"
	"github.com/allaspectsdev/screenman/internal/session"
	"github.com/allaspectsdev/screenman/internal/settings"
	"github.com/allaspectsdev/screenman/internal/vault"
)

// demoToken is EODHD's public sample token, the last resort when no key is
// configured anywhere. It only serves a handful of demo symbols.
const demoToken = "demo"

// ServiceHandle owns the process-wide screener service. The service is
// built on first use from config, settings, and the key vault, and
// discarded on Reset so the next request sees fresh provider keys. The
// latest-session pointer survives resets and is memory only: a restarted
// daemon has no latest session until one is created.
type ServiceHandle struct {
	cfg      *config.Config
	settings *settings.Store
	archive  *archive.Archive
	metrics  *metrics.Collector
	vault    *vault.Vault
	log      zerolog.Logger

	mu     sync.Mutex
	svc    *screener.Service
	latest string
}

// NewServiceHandle creates a handle over cfg and settingsStore. arc and
// collector may be nil to disable run history and instrumentation.
func NewServiceHandle(cfg *config.Config, settingsStore *settings.Store, arc *archive.Archive, collector *metrics.Collector, logger zerolog.Logger) *ServiceHandle {
	return &ServiceHandle{
		cfg:      cfg,
		settings: settingsStore,
		archive:  arc,
		metrics:  collector,
		vault:    vault.New(),
		log:      logger,
	}
}

// Service returns the current screener service, building it on first use.
func (h *ServiceHandle) Service() (*screener.Service, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.svc != nil {
		return h.svc, nil
	}
	svc, err := h.build()
	if err != nil {
		return nil, err
	}
	h.svc = svc
	return svc, nil
}

// Reset discards the built service so the next request rebuilds it from
// fresh settings. The latest-session pointer is kept.
func (h *ServiceHandle) Reset() {
	h.mu.Lock()
	h.svc = nil
	h.mu.Unlock()
	h.log.Debug().Msg("screener service reset")
}

// Latest returns the id of the most recently started session.
func (h *ServiceHandle) Latest() (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.latest, h.latest != ""
}

// SetLatest records id as the most recently started session.
func (h *ServiceHandle) SetLatest(id string) {
	h.mu.Lock()
	h.latest = id
	h.mu.Unlock()
}

// SettingsStore returns the settings store the handle was built with.
func (h *ServiceHandle) SettingsStore() *settings.Store {
	return h.settings
}

// Archive returns the run archive, or nil when history is disabled.
func (h *ServiceHandle) Archive() *archive.Archive {
	return h.archive
}

// Metrics returns the metrics collector, or nil when instrumentation is
// disabled.
func (h *ServiceHandle) Metrics() *metrics.Collector {
	return h.metrics
}

// build wires the scraper, provider, match engine, and stores into a
// screener service using the currently resolved provider token.
func (h *ServiceHandle) build() (*screener.Service, error) {
	cacheStore, err := cache.NewStore(h.cfg.CacheDir(), h.cfg.Cache.MemoryEntries)
	if err != nil {
		return nil, err
	}
	if h.metrics != nil {
		cacheStore.SetMetrics(h.metrics)
	}

	token := h.resolveToken(h.settings.Load())

	scraper := dataroma.NewScraper(dataroma.ScraperConfig{
		BaseURL:   h.cfg.Scrape.BaseURL,
		UserAgent: h.cfg.Scrape.UserAgent,
		Timeout:   h.cfg.Scrape.TimeoutDuration(),
		Cache:     cacheStore,
		Logger:    h.log,
	})

	provider := eodhd.NewProvider(eodhd.ProviderConfig{
		BaseURL: h.cfg.Provider.BaseURL,
		Token:   token,
		Timeout: h.cfg.Provider.TimeoutDuration(),
		Cache:   cacheStore,
		Logger:  h.log,
	})

	return screener.NewService(screener.Config{
		Scraper:            scraper,
		Provider:           provider,
		Engine:             match.NewEngine(h.cfg.Match.FuzzyThreshold),
		Sessions:           session.NewStore(h.cfg.SessionsDir()),
		Cache:              cacheStore,
		Archive:            h.archive,
		Metrics:            h.metrics,
		Logger:             h.log,
		FetchConcurrency:   h.cfg.Provider.FetchConcurrency,
		MaxSymbolExchanges: h.cfg.Provider.MaxSymbolExchanges,
		MatchWorkers:       h.cfg.Match.Workers,
	}), nil
}

// resolveToken returns the EODHD API token from the first source that
// yields one: a settings provider-key entry, the configured key reference
// (OS keychain with SCREENMAN_KEY_EODHD fallback), the EODHD_API_TOKEN
// variable, then the public demo token.
func (h *ServiceHandle) resolveToken(current settings.AppSettings) string {
	if key, ok := current.KeyFor(settings.DefaultProviderID); ok && key.APIKey != "" {
		return key.APIKey
	}

	if ref := h.cfg.Provider.KeyRef; ref != "" {
		if tok, err := h.vault.ResolveKeyRef(ref); err == nil && tok != "" {
			return tok
		}
	} else if tok, err := h.vault.Get(settings.DefaultProviderID); err == nil && tok != "" {
		return tok
	}

	if tok := os.Getenv("EODHD_API_TOKEN"); tok != "" {
		return tok
	}
	return demoToken
}
