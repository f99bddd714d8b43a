// Prometheus text-format metrics
//
// Counter, Gauge and Histogram keyed by label sets, collected in a
// Registry that renders the exposition format for scraping.
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType int

const (
	TypeCounter MetricType = iota
	TypeGauge
	TypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case TypeCounter:
		return "counter"
	case TypeGauge:
		return "gauge"
	case TypeHistogram:
		return "histogram"
	}
	return "untyped"
}

// Labels represents metric labels as key-value pairs
type Labels map[string]string

func (l Labels) sortedKeys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Key generates a unique key for a label set
func (l Labels) Key() string {
	var sb strings.Builder
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(k + "=" + l[k])
	}
	return sb.String()
}

// String returns labels in Prometheus format
func (l Labels) String() string {
	if len(l) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range l.sortedKeys() {
		if i > 0 {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%s=\"%s\"", k, escapeLabel(l[k]))
	}
	sb.WriteByte('}')
	return sb.String()
}

func (l Labels) clone() Labels {
	out := make(Labels, len(l)+1)
	for k, v := range l {
		out[k] = v
	}
	return out
}

// With returns a copy of l with one more label.
func (l Labels) With(key, value string) Labels {
	out := l.clone()
	out[key] = value
	return out
}

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

func escapeLabel(s string) string { return labelEscaper.Replace(s) }

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Metric is the interface for all metric types
type Metric interface {
	Name() string
	Help() string
	Type() MetricType
	Write(sb *strings.Builder)
}

// family is the label-keyed storage shared by all metric types.
type family[V any] struct {
	name, help string
	mu         sync.Mutex
	series     map[string]*series[V]
}

type series[V any] struct {
	labels Labels
	v      V
}

func newFamily[V any](name, help string) family[V] {
	return family[V]{name: name, help: help, series: make(map[string]*series[V])}
}

// update runs fn on the series for labels, creating it with init if needed.
func (f *family[V]) update(labels Labels, init func() V, fn func(*V)) {
	key := labels.Key()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[key]
	if !ok {
		s = &series[V]{labels: labels.clone(), v: init()}
		f.series[key] = s
	}
	fn(&s.v)
}

func (f *family[V]) read(labels Labels, fn func(*V)) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[labels.Key()]
	if ok {
		fn(&s.v)
	}
	return ok
}

// each visits every series in label order.
func (f *family[V]) each(fn func(Labels, *V)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.series))
	for k := range f.series {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		s := f.series[k]
		fn(s.labels, &s.v)
	}
}

func (f *family[V]) header(sb *strings.Builder, t MetricType) {
	fmt.Fprintf(sb, "# HELP %s %s\n# TYPE %s %s\n", f.name, f.help, f.name, t)
}

// Counter is a monotonically increasing metric
type Counter struct{ f family[float64] }

// NewCounter creates a new counter metric
func NewCounter(name, help string) *Counter {
	return &Counter{f: newFamily[float64](name, help)}
}

func (c *Counter) Name() string     { return c.f.name }
func (c *Counter) Help() string     { return c.f.help }
func (c *Counter) Type() MetricType { return TypeCounter }

// Inc increments the counter by 1
func (c *Counter) Inc(labels Labels) { c.Add(labels, 1) }

// Add increases the counter. Negative deltas are ignored.
func (c *Counter) Add(labels Labels, delta float64) {
	if delta < 0 {
		return
	}
	c.f.update(labels, func() float64 { return 0 }, func(v *float64) { *v += delta })
}

// Get returns the current counter value for labels
func (c *Counter) Get(labels Labels) float64 {
	var out float64
	c.f.read(labels, func(v *float64) { out = *v })
	return out
}

func (c *Counter) Write(sb *strings.Builder) {
	c.f.header(sb, TypeCounter)
	c.f.each(func(l Labels, v *float64) {
		fmt.Fprintf(sb, "%s%s %s\n", c.f.name, l, formatFloat(*v))
	})
}

// Gauge is a metric that can go up and down
type Gauge struct{ f family[float64] }

// NewGauge creates a new gauge metric
func NewGauge(name, help string) *Gauge {
	return &Gauge{f: newFamily[float64](name, help)}
}

func (g *Gauge) Name() string     { return g.f.name }
func (g *Gauge) Help() string     { return g.f.help }
func (g *Gauge) Type() MetricType { return TypeGauge }

// Set sets the gauge to the given value
func (g *Gauge) Set(labels Labels, value float64) {
	g.f.update(labels, func() float64 { return 0 }, func(v *float64) { *v = value })
}

// SetBool sets the gauge to 1 or 0.
func (g *Gauge) SetBool(labels Labels, on bool) {
	if on {
		g.Set(labels, 1)
	} else {
		g.Set(labels, 0)
	}
}

// Add adds the given value to the gauge
func (g *Gauge) Add(labels Labels, delta float64) {
	g.f.update(labels, func() float64 { return 0 }, func(v *float64) { *v += delta })
}

// Get returns the current gauge value for labels
func (g *Gauge) Get(labels Labels) float64 {
	var out float64
	g.f.read(labels, func(v *float64) { out = *v })
	return out
}

func (g *Gauge) Write(sb *strings.Builder) {
	g.f.header(sb, TypeGauge)
	g.f.each(func(l Labels, v *float64) {
		fmt.Fprintf(sb, "%s%s %s\n", g.f.name, l, formatFloat(*v))
	})
}

// Histogram tracks the distribution of observations
type Histogram struct {
	f       family[histogramValue]
	buckets []float64
}

type histogramValue struct {
	count   uint64
	sum     float64
	buckets []uint64 // non-cumulative
}

// NewHistogram creates a histogram with the given upper bounds.
func NewHistogram(name, help string, buckets []float64) *Histogram {
	sorted := append([]float64(nil), buckets...)
	sort.Float64s(sorted)
	return &Histogram{f: newFamily[histogramValue](name, help), buckets: sorted}
}

// DefaultBuckets returns latency buckets in seconds.
func DefaultBuckets() []float64 {
	return []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1}
}

// ExponentialBuckets creates count buckets starting at start with factor multiplier
func ExponentialBuckets(start, factor float64, count int) []float64 {
	buckets := make([]float64, count)
	for i := range buckets {
		buckets[i] = start
		start *= factor
	}
	return buckets
}

func (h *Histogram) Name() string     { return h.f.name }
func (h *Histogram) Help() string     { return h.f.help }
func (h *Histogram) Type() MetricType { return TypeHistogram }

// Observe records a value in the histogram
func (h *Histogram) Observe(labels Labels, value float64) {
	h.f.update(labels,
		func() histogramValue { return histogramValue{buckets: make([]uint64, len(h.buckets))} },
		func(hv *histogramValue) {
			hv.count++
			hv.sum += value
			if i := sort.SearchFloat64s(h.buckets, value); i < len(h.buckets) {
				hv.buckets[i]++
			}
		})
}

// Timer returns a function that records the elapsed time when called
func (h *Histogram) Timer(labels Labels) func() {
	start := time.Now()
	return func() { h.Observe(labels, time.Since(start).Seconds()) }
}

// HistogramSnapshot is a point-in-time copy with cumulative buckets.
type HistogramSnapshot struct {
	Count   uint64
	Sum     float64
	Buckets map[float64]uint64
}

// GetSnapshot returns a snapshot of histogram values for the given labels
func (h *Histogram) GetSnapshot(labels Labels) HistogramSnapshot {
	snap := HistogramSnapshot{Buckets: make(map[float64]uint64, len(h.buckets))}
	h.f.read(labels, func(hv *histogramValue) {
		snap.Count, snap.Sum = hv.count, hv.sum
		var cum uint64
		for i, bound := range h.buckets {
			cum += hv.buckets[i]
			snap.Buckets[bound] = cum
		}
	})
	return snap
}

func (h *Histogram) Write(sb *strings.Builder) {
	h.f.header(sb, TypeHistogram)
	h.f.each(func(l Labels, hv *histogramValue) {
		var cum uint64
		for i, bound := range h.buckets {
			cum += hv.buckets[i]
			fmt.Fprintf(sb, "%s_bucket%s %d\n", h.f.name, l.With("le", formatFloat(bound)), cum)
		}
		fmt.Fprintf(sb, "%s_bucket%s %d\n", h.f.name, l.With("le", "+Inf"), hv.count)
		fmt.Fprintf(sb, "%s_sum%s %s\n", h.f.name, l, formatFloat(hv.sum))
		fmt.Fprintf(sb, "%s_count%s %d\n", h.f.name, l, hv.count)
	})
}

// Registry holds all registered metrics
type Registry struct {
	mu      sync.RWMutex
	metrics map[string]Metric
	order   []string
}

// NewRegistry creates a new metrics registry
func NewRegistry() *Registry {
	return &Registry{metrics: make(map[string]Metric)}
}

// Register adds a metric to the registry
func (r *Registry) Register(metric Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := metric.Name()
	if _, exists := r.metrics[name]; exists {
		return fmt.Errorf("metric %q already registered", name)
	}
	r.metrics[name] = metric
	r.order = append(r.order, name)
	return nil
}

// MustRegister adds a metric and panics on error
func (r *Registry) MustRegister(metrics ...Metric) {
	for _, m := range metrics {
		if err := r.Register(m); err != nil {
			panic(err)
		}
	}
}

// Get returns a metric by name
func (r *Registry) Get(name string) Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.metrics[name]
}

// Gather renders every metric in registration order.
func (r *Registry) Gather() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var sb strings.Builder
	for _, name := range r.order {
		r.metrics[name].Write(&sb)
	}
	return sb.String()
}
