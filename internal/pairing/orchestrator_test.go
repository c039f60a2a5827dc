package pairing

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/clients/aiprovider"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/metrics"
)

type stubInventory struct {
	mu    sync.Mutex
	views []domain.StockView
}

func (s *stubInventory) AvailableInventory() ([]domain.StockView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.StockView(nil), s.views...), nil
}

func (s *stubInventory) TopAvailable(limit int) ([]domain.StockView, error) {
	views, err := s.AvailableInventory()
	if err != nil {
		return nil, err
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Available > views[j].Available })
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func newOrchestrator(t *testing.T, inv *stubInventory, providers []Provider) *Orchestrator {
	t.Helper()
	tracker := metrics.New(10, nil, zerolog.Nop())
	o := NewOrchestrator(inv, providers, nil, tracker, nil, Config{
		ProviderTimeout: time.Second,
		CacheTTL:        time.Minute,
		CacheMax:        100,
	}, zerolog.Nop())
	t.Cleanup(o.Stop)
	return o
}

func defaultInventory() *stubInventory {
	return &stubInventory{views: []domain.StockView{
		{VintageID: 1, WineType: domain.WineTypeRed, Region: "Bordeaux", Available: 12, Quantity: 12},
		{VintageID: 2, WineType: domain.WineTypeWhite, Region: "Chablis", Available: 6, Quantity: 6},
	}}
}

func TestRecommendHeuristicWhenNoProviders(t *testing.T) {
	o := newOrchestrator(t, defaultInventory(), nil)

	result, err := o.Recommend(context.Background(), Request{Dish: "grilled salmon"})
	require.NoError(t, err)
	assert.False(t, result.CacheHit)
	assert.Equal(t, domain.ProviderHeuristic, result.Recommendation.Provider)
	assert.NotEmpty(t, result.Recommendation.WineSelections)
}

func TestRecommendCacheHit(t *testing.T) {
	o := newOrchestrator(t, defaultInventory(), nil)
	req := Request{Dish: "grilled salmon"}

	first, err := o.Recommend(context.Background(), req)
	require.NoError(t, err)

	second, err := o.Recommend(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, first.Recommendation.ID, second.Recommendation.ID)
}

func TestRecommendRejectsEmptyDish(t *testing.T) {
	o := newOrchestrator(t, defaultInventory(), nil)

	_, err := o.Recommend(context.Background(), Request{Dish: "   "})
	assert.Equal(t, domain.KindInvalidArgument, domain.KindOf(err))
}

func TestRecommendPairingFailedOnEmptyCellar(t *testing.T) {
	o := newOrchestrator(t, &stubInventory{}, nil)

	_, err := o.Recommend(context.Background(), Request{Dish: "steak"})
	assert.Equal(t, domain.KindPairingFailed, domain.KindOf(err))
}

func TestRecommendEveryReturnedVintageAvailable(t *testing.T) {
	inv := defaultInventory()
	o := newOrchestrator(t, inv, nil)

	result, err := o.Recommend(context.Background(), Request{Dish: "duck breast", Options: Options{MaxRecommendations: 5}})
	require.NoError(t, err)

	views, _ := inv.AvailableInventory()
	available := map[int64]float64{}
	for _, v := range views {
		available[v.VintageID] = v.Available
	}
	for _, sel := range result.Recommendation.WineSelections {
		assert.Greater(t, available[sel.VintageID], 0.0)
	}
}

func TestProviderFallbackToHeuristic(t *testing.T) {
	failing := &failingProvider{}
	o := newOrchestrator(t, defaultInventory(), []Provider{{Name: domain.ProviderPrimaryAI, Client: failing}})

	result, err := o.Recommend(context.Background(), Request{Dish: "grilled salmon"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderHeuristic, result.Recommendation.Provider)
	assert.Equal(t, int64(1), failing.calls.Load())
}

func TestProviderSuccessUsed(t *testing.T) {
	ok := &scriptedProvider{reply: `{"selections":[{"vintage_id":2,"confidence":0.9,"reasoning":"crisp"},{"vintage_id":1,"confidence":0.6}]}`}
	o := newOrchestrator(t, defaultInventory(), []Provider{{Name: domain.ProviderPrimaryAI, Client: ok}})

	result, err := o.Recommend(context.Background(), Request{Dish: "grilled salmon", Options: Options{IncludeReasoning: true}})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderPrimaryAI, result.Recommendation.Provider)
	require.Len(t, result.Recommendation.WineSelections, 2)
	assert.Equal(t, int64(2), result.Recommendation.WineSelections[0].VintageID)
	assert.Equal(t, "crisp", result.Recommendation.WineSelections[0].Reasoning)
}

func TestProviderUnavailablePicksFiltered(t *testing.T) {
	// Provider recommends a vintage with no stock; the reply is rejected
	// and the heuristic takes over.
	ghost := &scriptedProvider{reply: `{"selections":[{"vintage_id":99,"confidence":0.9}]}`}
	o := newOrchestrator(t, defaultInventory(), []Provider{{Name: domain.ProviderPrimaryAI, Client: ghost}})

	result, err := o.Recommend(context.Background(), Request{Dish: "steak"})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderHeuristic, result.Recommendation.Provider)
}

func TestSingleFlightSharesOneProviderCall(t *testing.T) {
	blocking := &scriptedProvider{
		reply:   `{"selections":[{"vintage_id":1,"confidence":0.8}]}`,
		release: make(chan struct{}),
	}
	o := newOrchestrator(t, defaultInventory(), []Provider{{Name: domain.ProviderPrimaryAI, Client: blocking}})
	req := Request{Dish: "lamb chops"}

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]*Result, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Recommend(context.Background(), req)
		}(i)
	}

	// Let every goroutine join the flight before releasing the provider.
	time.Sleep(100 * time.Millisecond)
	close(blocking.release)
	wg.Wait()

	assert.Equal(t, int64(1), blocking.calls.Load(), "concurrent identical requests must share one provider call")
	for i := 0; i < waiters; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, results[0].Recommendation.ID, results[i].Recommendation.ID)
	}
}

func TestSoleWaiterCancellationAbortsFlight(t *testing.T) {
	blocking := &scriptedProvider{
		reply:   `{"selections":[{"vintage_id":1,"confidence":0.8}]}`,
		release: make(chan struct{}),
	}
	o := newOrchestrator(t, defaultInventory(), []Provider{{Name: domain.ProviderPrimaryAI, Client: blocking}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := o.Recommend(ctx, Request{Dish: "lamb chops"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.Equal(t, domain.KindCancelled, domain.KindOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled waiter did not return")
	}
	close(blocking.release)
}

// scriptedProvider returns a fixed reply, optionally blocking until released
type scriptedProvider struct {
	reply   string
	release chan struct{}
	calls   atomic.Int64
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(ctx context.Context, _ []aiprovider.ChatMessage) (string, error) {
	p.calls.Add(1)
	if p.release != nil {
		select {
		case <-p.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.reply, nil
}

type failingProvider struct {
	calls atomic.Int64
}

func (p *failingProvider) Name() string { return "failing" }

func (p *failingProvider) Complete(ctx context.Context, _ []aiprovider.ChatMessage) (string, error) {
	p.calls.Add(1)
	return "", domain.Errorf(domain.KindProviderError, "synthetic failure")
}
