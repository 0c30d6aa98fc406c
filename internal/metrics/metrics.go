package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

type MetricType string

const (
	Counter MetricType = "counter"
	Gauge   MetricType = "gauge"
)

// Timers keep this many recent samples for percentiles.
const timerWindow = 1000

// Percentiles are left at zero until a timer has this many samples.
const minPercentileSamples = 10

// Metric is one counter or gauge series.
type Metric struct {
	Name        string            `json:"name"`
	Type        MetricType        `json:"type"`
	Value       float64           `json:"value"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	LastUpdate  time.Time         `json:"last_update"`
}

// TimerMetric summarizes the durations recorded for one series, in
// milliseconds.
type TimerMetric struct {
	Name        string            `json:"name"`
	Labels      map[string]string `json:"labels,omitempty"`
	Description string            `json:"description,omitempty"`
	Count       int64             `json:"count"`
	Sum         float64           `json:"sum_ms"`
	Min         float64           `json:"min_ms"`
	Max         float64           `json:"max_ms"`
	Average     float64           `json:"avg_ms"`
	P95         float64           `json:"p95_ms,omitempty"`
	P99         float64           `json:"p99_ms,omitempty"`
}

// timerSeries accumulates totals plus a ring of the latest samples.
type timerSeries struct {
	TimerMetric
	ring [timerWindow]float64
	next int
	size int
}

func (t *timerSeries) observe(ms float64) {
	if t.Count == 0 || ms < t.Min {
		t.Min = ms
	}
	if ms > t.Max {
		t.Max = ms
	}
	t.Count++
	t.Sum += ms

	t.ring[t.next] = ms
	t.next = (t.next + 1) % timerWindow
	t.size = min(t.size+1, timerWindow)
}

func (t *timerSeries) summary() TimerMetric {
	out := t.TimerMetric
	out.Labels = copyLabels(t.Labels)
	if t.Count > 0 {
		out.Average = t.Sum / float64(t.Count)
	}
	if t.size >= minPercentileSamples {
		window := append([]float64(nil), t.ring[:t.size]...)
		sort.Float64s(window)
		out.P95 = percentile(window, 0.95)
		out.P99 = percentile(window, 0.99)
	}
	return out
}

// Snapshot is a point-in-time copy of the registry, served on /metrics.
type Snapshot struct {
	Counters  map[string]Metric      `json:"counters"`
	Timers    map[string]TimerMetric `json:"timers"`
	Gauges    map[string]Metric      `json:"gauges"`
	UptimeMs  int64                  `json:"uptime_ms"`
	Timestamp int64                  `json:"timestamp"`
}

// Registry holds every series in memory. Series are keyed by name plus
// sorted labels.
type Registry struct {
	mu       sync.RWMutex
	counters map[string]*Metric
	gauges   map[string]*Metric
	timers   map[string]*timerSeries
	started  time.Time
}

func NewRegistry() *Registry {
	r := &Registry{started: time.Now()}
	r.clear()
	return r
}

func (r *Registry) clear() {
	r.counters = make(map[string]*Metric)
	r.gauges = make(map[string]*Metric)
	r.timers = make(map[string]*timerSeries)
}

var globalRegistry = NewRegistry()

func GetRegistry() *Registry {
	return globalRegistry
}

func (r *Registry) IncrementCounter(name string, labels map[string]string, description string) {
	r.AddToCounter(name, 1, labels, description)
}

func (r *Registry) AddToCounter(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	series(r.counters, Counter, name, labels, description).Value += value
}

func (r *Registry) SetGauge(name string, value float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	series(r.gauges, Gauge, name, labels, description).Value = value
}

// AddToGauge moves a gauge by delta, for values such as in-flight requests.
func (r *Registry) AddToGauge(name string, delta float64, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	series(r.gauges, Gauge, name, labels, description).Value += delta
}

// series returns the entry for name and labels, creating it when missing,
// and stamps it as updated. Callers hold the write lock.
func series(set map[string]*Metric, kind MetricType, name string, labels map[string]string, description string) *Metric {
	key := metricKey(name, labels)
	m, ok := set[key]
	if !ok {
		m = &Metric{Name: name, Type: kind, Labels: copyLabels(labels), Description: description}
		set[key] = m
	}
	m.LastUpdate = time.Now()
	return m
}

func (r *Registry) RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := metricKey(name, labels)
	t, ok := r.timers[key]
	if !ok {
		t = &timerSeries{TimerMetric: TimerMetric{Name: name, Labels: copyLabels(labels), Description: description}}
		r.timers[key] = t
	}
	t.observe(float64(duration.Nanoseconds()) / 1e6)
}

// Snapshot copies every series so callers can serialize without holding the
// registry lock.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := Snapshot{
		Counters:  make(map[string]Metric, len(r.counters)),
		Timers:    make(map[string]TimerMetric, len(r.timers)),
		Gauges:    make(map[string]Metric, len(r.gauges)),
		UptimeMs:  time.Since(r.started).Milliseconds(),
		Timestamp: time.Now().Unix(),
	}
	for key, m := range r.counters {
		snap.Counters[key] = cloneMetric(m)
	}
	for key, m := range r.gauges {
		snap.Gauges[key] = cloneMetric(m)
	}
	for key, t := range r.timers {
		snap.Timers[key] = t.summary()
	}
	return snap
}

// Reset drops every series. Intended for tests.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clear()
}

func cloneMetric(m *Metric) Metric {
	out := *m
	out.Labels = copyLabels(m.Labels)
	return out
}

// metricKey renders name{k1=v1,k2=v2} with label keys sorted.
func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	keys := sortedKeys(labels)
	pairs := make([]string, len(keys))
	for i, k := range keys {
		pairs[i] = k + "=" + labels[k]
	}
	return name + "{" + strings.Join(pairs, ",") + "}"
}

func sortedKeys(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// percentile uses the nearest-rank method on an ascending slice.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[min(int(float64(len(sorted))*p), len(sorted)-1)]
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func IncrementCounter(name string, labels map[string]string, description string) {
	globalRegistry.IncrementCounter(name, labels, description)
}

func AddToCounter(name string, value float64, labels map[string]string, description string) {
	globalRegistry.AddToCounter(name, value, labels, description)
}

func RecordTimer(name string, duration time.Duration, labels map[string]string, description string) {
	globalRegistry.RecordTimer(name, duration, labels, description)
}

func SetGauge(name string, value float64, labels map[string]string, description string) {
	globalRegistry.SetGauge(name, value, labels, description)
}

func AddToGauge(name string, delta float64, labels map[string]string, description string) {
	globalRegistry.AddToGauge(name, delta, labels, description)
}

// GetAllMetrics snapshots the global registry.
func GetAllMetrics() Snapshot {
	return globalRegistry.Snapshot()
}
