// Package dataroma scrapes holdings from the Dataroma grand portfolio and
// serves repeat runs from the payload cache.
package dataroma

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/allaspectsdev/screenman/internal/cache"
)

// ProviderID namespaces Dataroma entries in the cache.
const ProviderID = "dataroma"

// scopeScrape is the cache scope for grand-portfolio scrapes.
const scopeScrape = "scrape"

var whitespaceRe = regexp.MustCompile(`\s+`)

// Scraper fetches the Dataroma grand portfolio page by page and caches the
// deduplicated result.
type Scraper struct {
	client *Client
	cache  *cache.Store
	log    zerolog.Logger
}

// ScraperConfig wires a Scraper.
type ScraperConfig struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	Cache     *cache.Store
	Logger    zerolog.Logger
}

// NewScraper creates a Scraper from cfg.
func NewScraper(cfg ScraperConfig) *Scraper {
	return &Scraper{
		client: NewClient(cfg.BaseURL, cfg.UserAgent, cfg.Timeout),
		cache:  cfg.Cache,
		log:    cfg.Logger.With().Str("component", "scraper").Logger(),
	}
}

// Scrape returns the grand portfolio holdings for opts. With UseCache set it
// serves a cached payload when one exists; otherwise it walks every page,
// deduplicates, and caches non-empty results.
func (s *Scraper) Scrape(ctx context.Context, opts ScrapeOptions) (*ScrapeResult, error) {
	if opts.MaxEntries < 0 {
		opts.MaxEntries = 0
	}
	desc := s.descriptor(opts)

	if opts.UseCache {
		if cached, ok := cache.Read[[]Entry](s.cache, desc); ok {
			entries := Deduplicate(cached.Payload)
			s.log.Debug().Str("key", desc.Key).Int("entries", len(entries)).Msg("grand portfolio served from cache")
			return &ScrapeResult{Entries: entries, Source: SourceCache, CachedPayload: cached}, nil
		}
	}

	raw, err := s.fetchAllPages(ctx, opts)
	if err != nil {
		return nil, err
	}
	entries := Deduplicate(raw)

	var payload *cache.Payload[[]Entry]
	if len(entries) > 0 {
		payload, err = cache.Write(s.cache, desc, entries)
		if err != nil {
			return nil, err
		}
	}

	s.log.Info().Str("key", desc.Key).Int("raw", len(raw)).Int("entries", len(entries)).Msg("grand portfolio scraped")
	return &ScrapeResult{Entries: entries, Source: SourceLive, CachedPayload: payload}, nil
}

func (s *Scraper) descriptor(opts ScrapeOptions) cache.Descriptor {
	key := opts.CacheToken
	if key == "" {
		key = buildCacheKey(opts)
	}
	return cache.Descriptor{Scope: scopeScrape, Provider: ProviderID, Key: key}
}

func buildCacheKey(opts ScrapeOptions) string {
	maxPart := "all"
	if opts.MaxEntries > 0 {
		maxPart = strconv.Itoa(opts.MaxEntries)
	}
	return fmt.Sprintf("grand-portfolio_v2_%s_max-%s", formatPercent(opts.MinPercent), maxPart)
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (s *Scraper) fetchAllPages(ctx context.Context, opts ScrapeOptions) ([]Entry, error) {
	first, err := s.fetchPage(ctx, opts, 1)
	if err != nil {
		return nil, err
	}
	all, totalPages, err := ParsePortfolioPage(strings.NewReader(first))
	if err != nil {
		return nil, err
	}
	if opts.MaxEntries > 0 && len(all) >= opts.MaxEntries {
		return all[:opts.MaxEntries], nil
	}

	for page := 2; page <= totalPages; page++ {
		body, err := s.fetchPage(ctx, opts, page)
		if err != nil {
			return nil, err
		}
		entries, _, err := ParsePortfolioPage(strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		if opts.MaxEntries > 0 && len(all) >= opts.MaxEntries {
			return all[:opts.MaxEntries], nil
		}
	}
	return all, nil
}

func (s *Scraper) fetchPage(ctx context.Context, opts ScrapeOptions, page int) (string, error) {
	if err := politeDelay(ctx); err != nil {
		return "", err
	}
	return s.client.GetPage(ctx, buildParams(opts, page))
}

// politeDelay pauses 100ms or 200ms before a page fetch so a full run does
// not hammer the site.
func politeDelay(ctx context.Context) error {
	delay := 100 * time.Millisecond
	if rand.IntN(2) == 1 {
		delay = 200 * time.Millisecond
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func buildParams(opts ScrapeOptions, page int) url.Values {
	params := url.Values{}
	if opts.MinPercent > 0 {
		params.Set("pct", formatPercent(opts.MinPercent))
	}
	if page > 1 {
		params.Set("L", strconv.Itoa(page))
	}
	return params
}

func cleanSymbol(v string) string {
	return strings.ToUpper(whitespaceRe.ReplaceAllString(v, ""))
}

// Deduplicate drops repeat holdings, keeping first-seen order. Rows are the
// same when symbol and stock name match case-insensitively.
func Deduplicate(entries []Entry) []Entry {
	seen := make(map[string]struct{}, len(entries))
	deduped := make([]Entry, 0, len(entries))
	for _, e := range entries {
		key := strings.ToUpper(e.Symbol) + "::" + strings.ToUpper(e.Stock)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, e)
	}
	return deduped
}
