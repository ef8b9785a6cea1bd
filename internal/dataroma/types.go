package dataroma

import (
	"github.com/allaspectsdev/screenman/internal/cache"
)

// Entry is one holding row from the grand portfolio table.
type Entry struct {
	Symbol   string `json:"symbol"`
	Stock    string `json:"stock"`
	Exchange string `json:"exchange,omitempty"`
}

// Source says where a scrape result came from.
type Source string

const (
	SourceLive  Source = "live"
	SourceCache Source = "cache"
)

// ScrapeResult bundles the holdings list with its cache provenance.
type ScrapeResult struct {
	Entries       []Entry                 `json:"entries"`
	Source        Source                  `json:"source"`
	CachedPayload *cache.Payload[[]Entry] `json:"cachedPayload,omitempty"`
}

// ScrapeOptions controls one grand-portfolio scrape. MinPercent filters
// holdings by ownership percentage upstream; MaxEntries caps how many raw
// rows are collected before deduplication. Zero values mean unset.
type ScrapeOptions struct {
	UseCache   bool
	CacheToken string
	MinPercent float64
	MaxEntries int
}
