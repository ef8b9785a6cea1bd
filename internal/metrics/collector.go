package metrics

import (
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

// stepDurationBuckets covers everything from a cached step replay to a full
// live scrape with polite inter-page delays.
var stepDurationBuckets = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}

// Collector tracks live metrics using atomic counters for lock-free,
// concurrent-safe updates. It provides an in-memory real-time view of API
// throughput, cache performance, and pipeline step activity.
type Collector struct {
	totalRequests   int64
	activeRequests  int64
	cacheHits       int64
	cacheMisses     int64
	holdingsScraped int64
	screenerRows    int64
	stepRunsTotal   int64

	stepRuns         *counterVec   // step, status
	stepDuration     *histogramVec // step
	providerRequests *counterVec   // provider, status
	cacheOps         *counterVec   // scope, outcome
	universeSymbols  *gaugeVec     // exchange

	startTime time.Time
}

// Stats is a point-in-time snapshot of the collector's counters, suitable
// for JSON serialisation and the status CLI summary.
type Stats struct {
	Uptime          string  `json:"uptime"`
	TotalRequests   int64   `json:"total_requests"`
	ActiveRequests  int64   `json:"active_requests"`
	CacheHits       int64   `json:"cache_hits"`
	CacheMisses     int64   `json:"cache_misses"`
	CacheHitRate    float64 `json:"cache_hit_rate"`
	HoldingsScraped int64   `json:"holdings_scraped"`
	ScreenerRows    int64   `json:"screener_rows"`
	StepRuns        int64   `json:"step_runs"`
}

// NewCollector creates a new Collector with all counters initialised to zero
// and the start time set to now.
func NewCollector() *Collector {
	return &Collector{
		stepRuns:         newCounterVec("step", "status"),
		stepDuration:     newHistogramVec(stepDurationBuckets, "step"),
		providerRequests: newCounterVec("provider", "status"),
		cacheOps:         newCounterVec("scope", "outcome"),
		universeSymbols:  newGaugeVec("exchange"),
		startTime:        time.Now(),
	}
}

// RecordRequest counts one completed API request.
func (c *Collector) RecordRequest() {
	atomic.AddInt64(&c.totalRequests, 1)
}

// IncrementActive increments the active request counter. Call this when a
// request enters the handler chain.
func (c *Collector) IncrementActive() {
	atomic.AddInt64(&c.activeRequests, 1)
}

// DecrementActive decrements the active request counter. Call this when a
// request leaves the handler chain (regardless of success or failure).
func (c *Collector) DecrementActive() {
	atomic.AddInt64(&c.activeRequests, -1)
}

// RecordCacheHit counts a cache read served from memory or disk.
func (c *Collector) RecordCacheHit(scope string) {
	atomic.AddInt64(&c.cacheHits, 1)
	c.cacheOps.inc(scope, "hit")
}

// RecordCacheMiss counts a cache read that found nothing usable.
func (c *Collector) RecordCacheMiss(scope string) {
	atomic.AddInt64(&c.cacheMisses, 1)
	c.cacheOps.inc(scope, "miss")
}

// RecordStepRun counts one pipeline step finishing with the given status
// ("complete" or "blocked").
func (c *Collector) RecordStepRun(step, status string) {
	atomic.AddInt64(&c.stepRunsTotal, 1)
	c.stepRuns.inc(step, status)
}

// ObserveStepDuration records how long a pipeline step took, in seconds.
func (c *Collector) ObserveStepDuration(step string, seconds float64) {
	c.stepDuration.observe(seconds, step)
}

// RecordProviderRequest counts an upstream call per provider and outcome
// status ("success" or "error").
func (c *Collector) RecordProviderRequest(provider, status string) {
	c.providerRequests.inc(provider, status)
}

// AddHoldingsScraped adds n freshly scraped holdings to the running total.
func (c *Collector) AddHoldingsScraped(n int) {
	atomic.AddInt64(&c.holdingsScraped, int64(n))
}

// AddScreenerRows adds n fetched fundamentals rows to the running total.
func (c *Collector) AddScreenerRows(n int) {
	atomic.AddInt64(&c.screenerRows, int64(n))
}

// SetUniverseSymbols records the size of the latest symbol batch fetched
// for an exchange.
func (c *Collector) SetUniverseSymbols(exchange string, n int) {
	c.universeSymbols.set(float64(n), exchange)
}

// Stats returns a point-in-time snapshot of all flat metrics.
func (c *Collector) Stats() *Stats {
	hits := atomic.LoadInt64(&c.cacheHits)
	misses := atomic.LoadInt64(&c.cacheMisses)

	var hitRate float64
	totalCacheOps := hits + misses
	if totalCacheOps > 0 {
		hitRate = float64(hits) / float64(totalCacheOps) * 100
	}

	return &Stats{
		Uptime:          formatDuration(time.Since(c.startTime)),
		TotalRequests:   atomic.LoadInt64(&c.totalRequests),
		ActiveRequests:  atomic.LoadInt64(&c.activeRequests),
		CacheHits:       hits,
		CacheMisses:     misses,
		CacheHitRate:    hitRate,
		HoldingsScraped: atomic.LoadInt64(&c.holdingsScraped),
		ScreenerRows:    atomic.LoadInt64(&c.screenerRows),
		StepRuns:        atomic.LoadInt64(&c.stepRunsTotal),
	}
}

// formatDuration renders an uptime like "2d 5h 32m". Sub-minute durations
// keep second precision.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return d.Round(time.Second).String()
	}

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	parts := make([]string, 0, 3)
	if days > 0 {
		parts = append(parts, strconv.Itoa(days)+"d")
	}
	if hours > 0 {
		parts = append(parts, strconv.Itoa(hours)+"h")
	}
	if minutes > 0 {
		parts = append(parts, strconv.Itoa(minutes)+"m")
	}
	if len(parts) == 0 {
		return "0m"
	}
	return strings.Join(parts, " ")
}
