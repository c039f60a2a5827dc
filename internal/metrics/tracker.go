// Package metrics implements the process-wide pairing and inventory
// metrics tracker: rolling windows, provider stats, confidence buckets
// and the health classification the health endpoint reports.
package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/sommos/sommos/internal/events"
)

// DefaultWindow is the rolling sample window when none is configured
const DefaultWindow = 100

// Health classifications reported by Summary
const (
	HealthHealthy   = "healthy"
	HealthDegraded  = "degraded"
	HealthUnhealthy = "unhealthy"
)

// Classification thresholds. One breach degrades, two or more are unhealthy.
const (
	maxErrorRate       = 0.10
	maxAvgResponseTime = 5000 * time.Millisecond
	minAvgConfidence   = 0.30
)

// Confidence bucket boundaries
const (
	highConfidenceFloor   = 0.70
	mediumConfidenceFloor = 0.40
)

// ProviderStats aggregates samples for one pairing provider
type ProviderStats struct {
	Attempts  int64 `json:"attempts"`
	Successes int64 `json:"successes"`
	Failures  int64 `json:"failures"`
	Timeouts  int64 `json:"timeouts"`
}

// ConfidenceBuckets is the histogram of returned confidences
type ConfidenceBuckets struct {
	High   int64 `json:"high"`   // >= 0.70
	Medium int64 `json:"medium"` // 0.40 - 0.69
	Low    int64 `json:"low"`    // < 0.40
}

// Percentiles holds response-time quantiles over the rolling window
type Percentiles struct {
	P50 float64 `json:"p50_ms"`
	P95 float64 `json:"p95_ms"`
	P99 float64 `json:"p99_ms"`
}

// Summary is the point-in-time snapshot returned to callers
type Summary struct {
	Providers     map[string]ProviderStats `json:"providers"`
	Operations    map[string]int64         `json:"operations"`
	Health        string                   `json:"health"`
	Breaches      []string                 `json:"breaches,omitempty"`
	Confidence    ConfidenceBuckets        `json:"confidence"`
	ResponseTimes Percentiles              `json:"response_times"`
	Requests      int64                    `json:"requests"`
	Successes     int64                    `json:"successes"`
	Failures      int64                    `json:"failures"`
	CacheHits     int64                    `json:"cache_hits"`
	CacheMisses   int64                    `json:"cache_misses"`
	ErrorRate     float64                  `json:"error_rate"`
	AvgResponseMs float64                  `json:"avg_response_ms"`
	AvgConfidence float64                  `json:"avg_confidence"`
}

// Tracker keeps lock-protected counters and rolling windows. Sampling is
// O(1) so it never blocks the hot path; quantiles are computed on demand
// in Summary.
type Tracker struct {
	providers   map[string]*ProviderStats
	operations  map[string]int64
	emitter     events.Emitter
	durations   []float64 // rolling, milliseconds
	confidences []float64 // rolling
	log         zerolog.Logger
	lastHealth  string
	window      int
	durIdx      int
	durFull     bool
	confIdx     int
	confFull    bool
	requests    int64
	successes   int64
	failures    int64
	cacheHits   int64
	cacheMisses int64
	buckets     ConfidenceBuckets
	mu          sync.Mutex
}

// New creates a tracker with the given rolling window size. The emitter is
// optional; when set, health transitions publish a HealthChanged event.
func New(window int, emitter events.Emitter, log zerolog.Logger) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:      window,
		durations:   make([]float64, window),
		confidences: make([]float64, window),
		providers:   make(map[string]*ProviderStats),
		operations:  make(map[string]int64),
		emitter:     emitter,
		lastHealth:  HealthHealthy,
		log:         log.With().Str("component", "metrics").Logger(),
	}
}

// RecordRequest samples one completed pairing request. Confidences are the
// returned selection confidences; empty on failure.
func (t *Tracker) RecordRequest(provider string, duration time.Duration, confidences []float64, err error) {
	t.mu.Lock()

	t.requests++
	if err != nil {
		t.failures++
	} else {
		t.successes++
	}

	t.pushDuration(float64(duration.Milliseconds()))
	for _, c := range confidences {
		t.pushConfidence(c)
		switch {
		case c >= highConfidenceFloor:
			t.buckets.High++
		case c >= mediumConfidenceFloor:
			t.buckets.Medium++
		default:
			t.buckets.Low++
		}
	}

	if provider != "" {
		stats := t.providerLocked(provider)
		stats.Attempts++
		if err != nil {
			stats.Failures++
		} else {
			stats.Successes++
		}
	}

	transition := t.healthTransitionLocked()
	t.mu.Unlock()

	t.publishTransition(transition)
}

// RecordProviderAttempt samples one provider-chain attempt, including the
// intermediate failures that fell through to the next provider.
func (t *Tracker) RecordProviderAttempt(provider string, duration time.Duration, err error, timedOut bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := t.providerLocked(provider)
	stats.Attempts++
	if err != nil {
		stats.Failures++
		if timedOut {
			stats.Timeouts++
		}
		return
	}
	stats.Successes++
}

// RecordCacheHit counts a pairing cache hit
func (t *Tracker) RecordCacheHit() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cacheHits++
}

// RecordCacheMiss counts a pairing cache miss
func (t *Tracker) RecordCacheMiss() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cacheMisses++
}

// RecordOperation samples one completed inventory mutation. Implements
// inventory.OperationRecorder.
func (t *Tracker) RecordOperation(op string, duration time.Duration, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.operations[op]++
	if err != nil {
		t.operations[op+"_failed"]++
	}
}

// Summary snapshots the tracker state with quantiles and the health
// classification.
func (t *Tracker) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Summary{
		Requests:    t.requests,
		Successes:   t.successes,
		Failures:    t.failures,
		CacheHits:   t.cacheHits,
		CacheMisses: t.cacheMisses,
		Confidence:  t.buckets,
		Providers:   make(map[string]ProviderStats, len(t.providers)),
		Operations:  make(map[string]int64, len(t.operations)),
	}
	for name, stats := range t.providers {
		s.Providers[name] = *stats
	}
	for op, count := range t.operations {
		s.Operations[op] = count
	}

	durations := t.windowValues(t.durations, t.durIdx, t.durFull)
	confidences := t.windowValues(t.confidences, t.confIdx, t.confFull)

	if len(durations) > 0 {
		s.AvgResponseMs = stat.Mean(durations, nil)
		sorted := append([]float64(nil), durations...)
		sort.Float64s(sorted)
		s.ResponseTimes = Percentiles{
			P50: stat.Quantile(0.50, stat.Empirical, sorted, nil),
			P95: stat.Quantile(0.95, stat.Empirical, sorted, nil),
			P99: stat.Quantile(0.99, stat.Empirical, sorted, nil),
		}
	}
	if len(confidences) > 0 {
		s.AvgConfidence = stat.Mean(confidences, nil)
	}
	if t.requests > 0 {
		s.ErrorRate = float64(t.failures) / float64(t.requests)
	}

	s.Health, s.Breaches = classify(s)
	return s
}

// Flush logs the final snapshot; called once at shutdown
func (t *Tracker) Flush() {
	s := t.Summary()
	t.log.Info().
		Int64("requests", s.Requests).
		Int64("failures", s.Failures).
		Int64("cache_hits", s.CacheHits).
		Str("health", s.Health).
		Msg("Final metrics snapshot")
}

type healthTransition struct {
	previous string
	current  string
	breaches []string
}

// healthTransitionLocked reclassifies after a sample and reports a
// transition when the classification changed. Caller holds the lock.
func (t *Tracker) healthTransitionLocked() *healthTransition {
	durations := t.windowValues(t.durations, t.durIdx, t.durFull)
	confidences := t.windowValues(t.confidences, t.confIdx, t.confFull)

	probe := Summary{Requests: t.requests, Failures: t.failures}
	if probe.Requests > 0 {
		probe.ErrorRate = float64(t.failures) / float64(t.requests)
	}
	if len(durations) > 0 {
		probe.AvgResponseMs = stat.Mean(durations, nil)
	}
	if len(confidences) > 0 {
		probe.AvgConfidence = stat.Mean(confidences, nil)
	}

	current, breaches := classify(probe)
	if current == t.lastHealth {
		return nil
	}
	previous := t.lastHealth
	t.lastHealth = current
	return &healthTransition{previous: previous, current: current, breaches: breaches}
}

func (t *Tracker) publishTransition(transition *healthTransition) {
	if transition == nil {
		return
	}
	t.log.Warn().
		Str("previous", transition.previous).
		Str("current", transition.current).
		Strs("breaches", transition.breaches).
		Msg("Health classification changed")
	if t.emitter != nil {
		t.emitter.Emit("metrics", &events.HealthChangedData{
			Previous: transition.previous,
			Current:  transition.current,
			Breaches: transition.breaches,
		})
	}
}

// classify applies the threshold table. Confidence is only judged once
// samples exist, so an idle process is healthy.
func classify(s Summary) (string, []string) {
	var breaches []string
	if s.Requests > 0 && s.ErrorRate > maxErrorRate {
		breaches = append(breaches, "error_rate")
	}
	if s.AvgResponseMs > float64(maxAvgResponseTime.Milliseconds()) {
		breaches = append(breaches, "avg_response_time")
	}
	if s.AvgConfidence > 0 && s.AvgConfidence < minAvgConfidence {
		breaches = append(breaches, "avg_confidence")
	}

	switch len(breaches) {
	case 0:
		return HealthHealthy, nil
	case 1:
		return HealthDegraded, breaches
	default:
		return HealthUnhealthy, breaches
	}
}

func (t *Tracker) providerLocked(name string) *ProviderStats {
	stats, ok := t.providers[name]
	if !ok {
		stats = &ProviderStats{}
		t.providers[name] = stats
	}
	return stats
}

func (t *Tracker) pushDuration(ms float64) {
	t.durations[t.durIdx] = ms
	t.durIdx++
	if t.durIdx == t.window {
		t.durIdx = 0
		t.durFull = true
	}
}

func (t *Tracker) pushConfidence(c float64) {
	t.confidences[t.confIdx] = c
	t.confIdx++
	if t.confIdx == t.window {
		t.confIdx = 0
		t.confFull = true
	}
}

// windowValues copies the filled portion of a ring buffer
func (t *Tracker) windowValues(ring []float64, idx int, full bool) []float64 {
	if full {
		out := make([]float64, t.window)
		copy(out, ring)
		return out
	}
	out := make([]float64, idx)
	copy(out, ring[:idx])
	return out
}
