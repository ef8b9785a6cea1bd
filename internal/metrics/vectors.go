package metrics

import (
	"sort"
	"strings"
	"sync"
)

// The vec types are small mutex-guarded families of labeled series. They see
// a handful of writes per pipeline step; the hot flat counters on Collector
// stay atomic.

// counterEntry is one labeled series of a counterVec.
type counterEntry struct {
	labels map[string]string
	value  int64
}

// counterVec is a family of counters sharing a fixed set of label names.
type counterVec struct {
	mu      sync.Mutex
	names   []string
	entries map[string]*counterEntry
}

func newCounterVec(labelNames ...string) *counterVec {
	return &counterVec{
		names:   labelNames,
		entries: make(map[string]*counterEntry),
	}
}

// inc adds one to the series identified by labelValues, creating it on
// first use. Calls with the wrong number of values are dropped.
func (cv *counterVec) inc(labelValues ...string) {
	cv.add(1, labelValues...)
}

func (cv *counterVec) add(delta int64, labelValues ...string) {
	if len(labelValues) != len(cv.names) {
		return
	}
	key := seriesKey(labelValues)

	cv.mu.Lock()
	defer cv.mu.Unlock()
	e, ok := cv.entries[key]
	if !ok {
		e = &counterEntry{labels: labelMap(cv.names, labelValues)}
		cv.entries[key] = e
	}
	e.value += delta
}

// snapshot returns a stable, sorted copy of all series.
func (cv *counterVec) snapshot() []counterEntry {
	cv.mu.Lock()
	defer cv.mu.Unlock()

	keys := make([]string, 0, len(cv.entries))
	for k := range cv.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]counterEntry, 0, len(keys))
	for _, k := range keys {
		e := cv.entries[k]
		out = append(out, counterEntry{labels: copyLabels(e.labels), value: e.value})
	}
	return out
}

// gaugeEntry is one labeled series of a gaugeVec.
type gaugeEntry struct {
	labels map[string]string
	value  float64
}

// gaugeVec is a family of gauges sharing a fixed set of label names.
type gaugeVec struct {
	mu      sync.Mutex
	names   []string
	entries map[string]*gaugeEntry
}

func newGaugeVec(labelNames ...string) *gaugeVec {
	return &gaugeVec{
		names:   labelNames,
		entries: make(map[string]*gaugeEntry),
	}
}

// set stores the current value of the series identified by labelValues.
func (gv *gaugeVec) set(value float64, labelValues ...string) {
	if len(labelValues) != len(gv.names) {
		return
	}
	key := seriesKey(labelValues)

	gv.mu.Lock()
	defer gv.mu.Unlock()
	e, ok := gv.entries[key]
	if !ok {
		e = &gaugeEntry{labels: labelMap(gv.names, labelValues)}
		gv.entries[key] = e
	}
	e.value = value
}

// snapshot returns a stable, sorted copy of all series.
func (gv *gaugeVec) snapshot() []gaugeEntry {
	gv.mu.Lock()
	defer gv.mu.Unlock()

	keys := make([]string, 0, len(gv.entries))
	for k := range gv.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]gaugeEntry, 0, len(keys))
	for _, k := range keys {
		e := gv.entries[k]
		out = append(out, gaugeEntry{labels: copyLabels(e.labels), value: e.value})
	}
	return out
}

// histogramEntry accumulates observations for one labeled series. counts
// holds per-bucket (non-cumulative) tallies aligned with the vec's bounds;
// observations above the last bound only raise count and sum.
type histogramEntry struct {
	labels map[string]string
	counts []int64
	sum    float64
	count  int64
}

// histogramSnapshot is the exported view of one histogram series.
type histogramSnapshot struct {
	labels  map[string]string
	buckets []float64
	counts  []int64
	sum     float64
	count   int64
}

// histogramVec is a family of histograms sharing bucket bounds and label names.
type histogramVec struct {
	mu      sync.Mutex
	names   []string
	buckets []float64
	entries map[string]*histogramEntry
}

func newHistogramVec(buckets []float64, labelNames ...string) *histogramVec {
	return &histogramVec{
		names:   labelNames,
		buckets: buckets,
		entries: make(map[string]*histogramEntry),
	}
}

// observe records a single value for the series identified by labelValues.
func (hv *histogramVec) observe(value float64, labelValues ...string) {
	if len(labelValues) != len(hv.names) {
		return
	}
	key := seriesKey(labelValues)

	hv.mu.Lock()
	defer hv.mu.Unlock()
	e, ok := hv.entries[key]
	if !ok {
		e = &histogramEntry{
			labels: labelMap(hv.names, labelValues),
			counts: make([]int64, len(hv.buckets)),
		}
		hv.entries[key] = e
	}

	for i, bound := range hv.buckets {
		if value <= bound {
			e.counts[i]++
			break
		}
	}
	e.sum += value
	e.count++
}

// snapshot returns a stable, sorted copy of all series.
func (hv *histogramVec) snapshot() []histogramSnapshot {
	hv.mu.Lock()
	defer hv.mu.Unlock()

	keys := make([]string, 0, len(hv.entries))
	for k := range hv.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]histogramSnapshot, 0, len(keys))
	for _, k := range keys {
		e := hv.entries[k]
		counts := make([]int64, len(e.counts))
		copy(counts, e.counts)
		out = append(out, histogramSnapshot{
			labels:  copyLabels(e.labels),
			buckets: hv.buckets,
			counts:  counts,
			sum:     e.sum,
			count:   e.count,
		})
	}
	return out
}

// seriesKey builds the map key for a label value combination. The separator
// cannot appear in exchange codes, step names, or cache scopes.
func seriesKey(values []string) string {
	return strings.Join(values, "\x1f")
}

// labelMap pairs label names with their values.
func labelMap(names, values []string) map[string]string {
	m := make(map[string]string, len(names))
	for i, n := range names {
		m[n] = values[i]
	}
	return m
}

// copyLabels copies a label map; snapshots never alias live entries.
func copyLabels(labels map[string]string) map[string]string {
	m := make(map[string]string, len(labels))
	for k, v := range labels {
		m[k] = v
	}
	return m
}
