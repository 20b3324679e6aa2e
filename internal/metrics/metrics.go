// Package metrics provides Prometheus-compatible counters, gauges and
// histograms for the sentryd daemon, with a text-exposition HTTP
// handler for scraping.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Labels represents metric labels.
type Labels map[string]string

// String renders labels in exposition-format order.
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}

	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(l))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf(`%s="%s"`, k, l[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Counter is a monotonically increasing counter.
type Counter struct {
	name   string
	help   string
	labels Labels
	value  atomic.Uint64
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	c.value.Add(1)
}

// Add adds the given value to the counter.
func (c *Counter) Add(v uint64) {
	c.value.Add(v)
}

// Value returns the current value.
func (c *Counter) Value() uint64 {
	return c.value.Load()
}

// Gauge is a value that can go up and down.
type Gauge struct {
	name   string
	help   string
	labels Labels
	value  atomic.Int64
}

// Set sets the gauge to the given value.
func (g *Gauge) Set(v int64) {
	g.value.Store(v)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.value.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.value.Add(-1)
}

// Value returns the current value.
func (g *Gauge) Value() int64 {
	return g.value.Load()
}

// Histogram tracks the distribution of values.
type Histogram struct {
	name    string
	help    string
	labels  Labels
	buckets []float64

	mu     sync.Mutex
	counts []uint64
	sum    float64
	count  uint64
}

// DurationBuckets are buckets for duration histograms, in seconds.
var DurationBuckets = []float64{
	0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5,
}

// Observe records a value.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	idx := sort.SearchFloat64s(h.buckets, v)
	if idx < len(h.buckets) && h.buckets[idx] == v {
		idx++
	}
	for i := idx; i < len(h.counts); i++ {
		h.counts[i]++
	}
}

// ObserveDuration records a duration in seconds.
func (h *Histogram) ObserveDuration(d time.Duration) {
	h.Observe(d.Seconds())
}

// Count returns the count of observations.
func (h *Histogram) Count() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// Registry holds registered metrics and renders them for scraping.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram

	namespace string
}

// NewRegistry creates a Registry. All metric names are prefixed with
// the namespace.
func NewRegistry(namespace string) *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
		namespace:  namespace,
	}
}

func (r *Registry) fullName(name string) string {
	if r.namespace == "" {
		return name
	}
	return r.namespace + "_" + name
}

// RegisterCounter registers a counter, returning the existing one when
// the name is already taken.
func (r *Registry) RegisterCounter(name, help string, labels Labels) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name) + labels.String()
	if c, ok := r.counters[full]; ok {
		return c
	}
	c := &Counter{name: r.fullName(name), help: help, labels: labels}
	r.counters[full] = c
	return c
}

// RegisterGauge registers a gauge.
func (r *Registry) RegisterGauge(name, help string, labels Labels) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name) + labels.String()
	if g, ok := r.gauges[full]; ok {
		return g
	}
	g := &Gauge{name: r.fullName(name), help: help, labels: labels}
	r.gauges[full] = g
	return g
}

// RegisterHistogram registers a histogram.
func (r *Registry) RegisterHistogram(name, help string, labels Labels, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	full := r.fullName(name) + labels.String()
	if h, ok := r.histograms[full]; ok {
		return h
	}

	if buckets == nil {
		buckets = DurationBuckets
	}
	sorted := make([]float64, len(buckets))
	copy(sorted, buckets)
	sort.Float64s(sorted)

	h := &Histogram{
		name:    r.fullName(name),
		help:    help,
		labels:  labels,
		buckets: sorted,
		counts:  make([]uint64, len(sorted)+1),
	}
	r.histograms[full] = h
	return h
}

// WriteText writes metrics in Prometheus text exposition format,
// sorted by metric name for stable output.
func (r *Registry) WriteText(w io.Writer) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, key := range sortedKeys(r.counters) {
		c := r.counters[key]
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s%s %d\n", c.name, c.labels.String(), c.Value())
	}

	for _, key := range sortedKeys(r.gauges) {
		g := r.gauges[key]
		fmt.Fprintf(w, "# HELP %s %s\n", g.name, g.help)
		fmt.Fprintf(w, "# TYPE %s gauge\n", g.name)
		fmt.Fprintf(w, "%s%s %d\n", g.name, g.labels.String(), g.Value())
	}

	for _, key := range sortedKeys(r.histograms) {
		h := r.histograms[key]
		h.mu.Lock()
		fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
		fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

		labelStr := h.labels.String()
		if labelStr == "" {
			labelStr = "{"
		} else {
			labelStr = labelStr[:len(labelStr)-1] + ","
		}

		cumulative := uint64(0)
		for i, bucket := range h.buckets {
			cumulative += h.counts[i]
			fmt.Fprintf(w, "%s_bucket%sle=\"%g\"} %d\n", h.name, labelStr, bucket, cumulative)
		}
		cumulative += h.counts[len(h.buckets)]
		fmt.Fprintf(w, "%s_bucket%sle=\"+Inf\"} %d\n", h.name, labelStr, cumulative)
		fmt.Fprintf(w, "%s_sum%s %f\n", h.name, h.labels.String(), h.sum)
		fmt.Fprintf(w, "%s_count%s %d\n", h.name, h.labels.String(), h.count)
		h.mu.Unlock()
	}

	return nil
}

// Handler returns an HTTP handler serving the text exposition.
func (r *Registry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.WriteText(w)
	})
}

func sortedKeys[M map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
