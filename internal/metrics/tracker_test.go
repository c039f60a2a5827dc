package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/events"
	testingpkg "github.com/sommos/sommos/internal/testing"
)

func TestRecordRequestCountsAndBuckets(t *testing.T) {
	tracker := New(10, nil, zerolog.Nop())

	tracker.RecordRequest("heuristic", 100*time.Millisecond, []float64{0.9, 0.55, 0.2}, nil)
	tracker.RecordRequest("heuristic", 200*time.Millisecond, nil, errors.New("boom"))

	s := tracker.Summary()
	assert.Equal(t, int64(2), s.Requests)
	assert.Equal(t, int64(1), s.Successes)
	assert.Equal(t, int64(1), s.Failures)
	assert.Equal(t, int64(1), s.Confidence.High)
	assert.Equal(t, int64(1), s.Confidence.Medium)
	assert.Equal(t, int64(1), s.Confidence.Low)
	assert.InDelta(t, 0.5, s.ErrorRate, 0.001)
}

func TestRecordRequestFeedsProviderStats(t *testing.T) {
	tracker := New(10, nil, zerolog.Nop())

	tracker.RecordRequest("primary_ai", 100*time.Millisecond, []float64{0.9}, nil)
	tracker.RecordRequest("primary_ai", 100*time.Millisecond, nil, errors.New("boom"))
	tracker.RecordRequest("", 100*time.Millisecond, nil, nil)

	s := tracker.Summary()
	require.Contains(t, s.Providers, "primary_ai")
	assert.Equal(t, int64(2), s.Providers["primary_ai"].Attempts)
	assert.Equal(t, int64(1), s.Providers["primary_ai"].Successes)
	assert.Equal(t, int64(1), s.Providers["primary_ai"].Failures)
	// Request-level timeouts are only attributed through RecordProviderAttempt
	assert.Equal(t, int64(0), s.Providers["primary_ai"].Timeouts)
	assert.Len(t, s.Providers, 1)
}

func TestProviderStats(t *testing.T) {
	tracker := New(10, nil, zerolog.Nop())

	tracker.RecordProviderAttempt("primary_ai", time.Second, errors.New("timeout"), true)
	tracker.RecordProviderAttempt("primary_ai", time.Second, errors.New("bad json"), false)
	tracker.RecordProviderAttempt("secondary_ai", time.Second, nil, false)

	s := tracker.Summary()
	require.Contains(t, s.Providers, "primary_ai")
	assert.Equal(t, int64(2), s.Providers["primary_ai"].Attempts)
	assert.Equal(t, int64(2), s.Providers["primary_ai"].Failures)
	assert.Equal(t, int64(1), s.Providers["primary_ai"].Timeouts)
	assert.Equal(t, int64(1), s.Providers["secondary_ai"].Successes)
}

func TestRollingWindowEviction(t *testing.T) {
	tracker := New(4, nil, zerolog.Nop())

	// Fill the window with slow samples, then push them out with fast ones.
	for i := 0; i < 4; i++ {
		tracker.RecordRequest("heuristic", 8*time.Second, []float64{0.8}, nil)
	}
	for i := 0; i < 4; i++ {
		tracker.RecordRequest("heuristic", 10*time.Millisecond, []float64{0.8}, nil)
	}

	s := tracker.Summary()
	assert.InDelta(t, 10, s.AvgResponseMs, 0.001)
	assert.Equal(t, HealthHealthy, s.Health)
}

func TestPercentilesOrdered(t *testing.T) {
	tracker := New(100, nil, zerolog.Nop())
	for i := 1; i <= 100; i++ {
		tracker.RecordRequest("heuristic", time.Duration(i)*time.Millisecond, []float64{0.8}, nil)
	}

	s := tracker.Summary()
	assert.LessOrEqual(t, s.ResponseTimes.P50, s.ResponseTimes.P95)
	assert.LessOrEqual(t, s.ResponseTimes.P95, s.ResponseTimes.P99)
	assert.Greater(t, s.ResponseTimes.P50, 0.0)
}

func TestHealthClassification(t *testing.T) {
	tracker := New(10, nil, zerolog.Nop())

	// Healthy baseline.
	tracker.RecordRequest("heuristic", 50*time.Millisecond, []float64{0.8}, nil)
	assert.Equal(t, HealthHealthy, tracker.Summary().Health)

	// Push error rate over 10%: one breach, degraded.
	for i := 0; i < 5; i++ {
		tracker.RecordRequest("heuristic", 50*time.Millisecond, nil, errors.New("fail"))
	}
	s := tracker.Summary()
	assert.Equal(t, HealthDegraded, s.Health)
	assert.Contains(t, s.Breaches, "error_rate")

	// Slow responses too: two breaches, unhealthy.
	for i := 0; i < 10; i++ {
		tracker.RecordRequest("heuristic", 9*time.Second, nil, errors.New("fail"))
	}
	s = tracker.Summary()
	assert.Equal(t, HealthUnhealthy, s.Health)
	assert.GreaterOrEqual(t, len(s.Breaches), 2)
}

func TestHealthTransitionPublishesEvent(t *testing.T) {
	emitter := testingpkg.NewMockEmitter()
	tracker := New(10, emitter, zerolog.Nop())

	tracker.RecordRequest("heuristic", 50*time.Millisecond, []float64{0.8}, nil)
	require.Empty(t, emitter.EventsOfType(events.HealthChanged))

	for i := 0; i < 5; i++ {
		tracker.RecordRequest("heuristic", 50*time.Millisecond, nil, errors.New("fail"))
	}

	transitions := emitter.EventsOfType(events.HealthChanged)
	require.NotEmpty(t, transitions)
	data, ok := transitions[0].Data.(*events.HealthChangedData)
	require.True(t, ok)
	assert.Equal(t, HealthHealthy, data.Previous)
	assert.Equal(t, HealthDegraded, data.Current)
}

func TestRecordOperation(t *testing.T) {
	tracker := New(10, nil, zerolog.Nop())

	tracker.RecordOperation("consume", 5*time.Millisecond, nil)
	tracker.RecordOperation("consume", 5*time.Millisecond, errors.New("conflict"))
	tracker.RecordOperation("move", 5*time.Millisecond, nil)

	s := tracker.Summary()
	assert.Equal(t, int64(2), s.Operations["consume"])
	assert.Equal(t, int64(1), s.Operations["consume_failed"])
	assert.Equal(t, int64(1), s.Operations["move"])
}

func TestCacheCounters(t *testing.T) {
	tracker := New(10, nil, zerolog.Nop())

	tracker.RecordCacheMiss()
	tracker.RecordCacheHit()
	tracker.RecordCacheHit()

	s := tracker.Summary()
	assert.Equal(t, int64(2), s.CacheHits)
	assert.Equal(t, int64(1), s.CacheMisses)
}
