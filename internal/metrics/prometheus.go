package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// scalarMetric is one unlabeled sample in the exposition output.
type scalarMetric struct {
	name  string
	kind  string
	help  string
	value string
}

// PrometheusHandler serves the collector in Prometheus text exposition
// format (version 0.0.4). The format is simple enough that formatting by
// hand beats pulling in the client library for a read-only endpoint.
func PrometheusHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := collector.Stats()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		scalars := []scalarMetric{
			{"screenman_requests_total", "counter", "Total number of API requests served.", itoa(stats.TotalRequests)},
			{"screenman_active_requests", "gauge", "Number of API requests currently being processed.", itoa(stats.ActiveRequests)},
			{"screenman_cache_hits_total", "counter", "Total number of cache hits.", itoa(stats.CacheHits)},
			{"screenman_cache_misses_total", "counter", "Total number of cache misses.", itoa(stats.CacheMisses)},
			{"screenman_cache_hit_rate", "gauge", "Cache hit rate percentage.", ftoa(stats.CacheHitRate)},
			{"screenman_holdings_scraped_total", "counter", "Total number of holdings rows scraped live.", itoa(stats.HoldingsScraped)},
			{"screenman_screener_rows_total", "counter", "Total number of fundamentals rows fetched.", itoa(stats.ScreenerRows)},
			{"screenman_uptime_seconds", "gauge", "Number of seconds since the service started.", ftoa(time.Since(collector.startTime).Seconds())},
		}
		for _, m := range scalars {
			header(w, m.name, m.help, m.kind)
			fmt.Fprintf(w, "%s %s\n", m.name, m.value)
		}

		writeCounterVec(w, "screenman_step_runs_total",
			"Total number of pipeline step runs by step and outcome status.",
			collector.stepRuns)

		writeHistogramVec(w, "screenman_step_duration_seconds",
			"Pipeline step duration in seconds by step.",
			collector.stepDuration)

		writeCounterVec(w, "screenman_provider_requests_total",
			"Total upstream calls per provider and outcome status.",
			collector.providerRequests)

		writeCounterVec(w, "screenman_cache_operations_total",
			"Total cache reads per scope and outcome.",
			collector.cacheOps)

		writeGaugeVec(w, "screenman_universe_symbols",
			"Size of the most recently fetched symbol batch per exchange.",
			collector.universeSymbols)
	}
}

// StatsHandler serves the collector's JSON snapshot for the status CLI
// command.
func StatsHandler(collector *Collector) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(collector.Stats())
	}
}

func itoa(v int64) string { return strconv.FormatInt(v, 10) }

// ftoa matches fmt's %g so values render identically to Fprintf output.
func ftoa(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }

func header(w io.Writer, name, help, kind string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, kind)
}

// promLabels renders a label set sorted by key, appending an le label when
// non-empty for histogram bucket lines. No labels and no le yields "".
func promLabels(labels map[string]string, le string) string {
	if len(labels) == 0 && le == "" {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "%s=%q", k, labels[k])
	}
	if le != "" {
		if len(keys) > 0 {
			b.WriteByte(',')
		}
		fmt.Fprintf(&b, "le=%q", le)
	}
	b.WriteByte('}')
	return b.String()
}

func writeCounterVec(w io.Writer, name, help string, cv *counterVec) {
	series := cv.snapshot()
	if len(series) == 0 {
		return
	}
	header(w, name, help, "counter")
	for _, s := range series {
		fmt.Fprintf(w, "%s%s %d\n", name, promLabels(s.labels, ""), s.value)
	}
}

func writeGaugeVec(w io.Writer, name, help string, gv *gaugeVec) {
	series := gv.snapshot()
	if len(series) == 0 {
		return
	}
	header(w, name, help, "gauge")
	for _, s := range series {
		fmt.Fprintf(w, "%s%s %s\n", name, promLabels(s.labels, ""), ftoa(s.value))
	}
}

// writeHistogramVec emits cumulative buckets, then the implicit +Inf bucket,
// then the _sum and _count series.
func writeHistogramVec(w io.Writer, name, help string, hv *histogramVec) {
	series := hv.snapshot()
	if len(series) == 0 {
		return
	}
	header(w, name, help, "histogram")
	for _, h := range series {
		var cumulative int64
		for i, bound := range h.buckets {
			cumulative += h.counts[i]
			fmt.Fprintf(w, "%s_bucket%s %d\n", name, promLabels(h.labels, ftoa(bound)), cumulative)
		}
		fmt.Fprintf(w, "%s_bucket%s %d\n", name, promLabels(h.labels, "+Inf"), h.count)
		fmt.Fprintf(w, "%s_sum%s %s\n", name, promLabels(h.labels, ""), ftoa(h.sum))
		fmt.Fprintf(w, "%s_count%s %d\n", name, promLabels(h.labels, ""), h.count)
	}
}
