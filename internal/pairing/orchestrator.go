// Package pairing implements the pairing orchestration pipeline: request
// fingerprinting, the bounded TTL cache, the AI provider chain with
// circuit breakers and the deterministic heuristic fallback.
package pairing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/sommos/sommos/internal/clients/aiprovider"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/events"
)

const moduleName = "pairing"

// HeuristicTimeout is the budget for the rule-based fallback
const HeuristicTimeout = time.Second

// InventoryReader supplies the available inventory the orchestrator may
// recommend from. AvailableInventory is the whole cellar; TopAvailable is
// the highest-balance slice that feeds the cache fingerprint.
type InventoryReader interface {
	AvailableInventory() ([]domain.StockView, error)
	TopAvailable(limit int) ([]domain.StockView, error)
}

// Recorder receives pairing metrics samples
type Recorder interface {
	RecordRequest(provider string, duration time.Duration, confidences []float64, err error)
	RecordProviderAttempt(provider string, duration time.Duration, err error, timedOut bool)
	RecordCacheHit()
	RecordCacheMiss()
}

// Provider is one configured AI provider in the chain
type Provider struct {
	Client aiprovider.Client
	Name   domain.Provider
}

// Config tunes the orchestrator
type Config struct {
	ProviderTimeout time.Duration
	CacheTTL        time.Duration
	CacheMax        int
}

// Orchestrator produces pairing recommendations through the cache and
// provider chain. Concurrent identical requests share one provider call.
type Orchestrator struct {
	inventory InventoryReader
	cache     *Cache
	heuristic *Heuristic
	repo      *Repository
	recorder  Recorder
	emitter   events.Emitter
	providers []Provider
	breakers  map[domain.Provider]*gobreaker.CircuitBreaker
	flights   map[string]*flight
	group     singleflight.Group
	cfg       Config
	log       zerolog.Logger
	mu        sync.Mutex
}

// flight tracks the waiters on one in-progress fingerprint build so the
// sole waiter's cancellation can abort the provider call.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewOrchestrator wires the pairing pipeline. Providers are attempted in
// order before the heuristic; an empty provider list goes straight to it.
func NewOrchestrator(
	inventory InventoryReader,
	providers []Provider,
	repo *Repository,
	recorder Recorder,
	emitter events.Emitter,
	cfg Config,
	log zerolog.Logger,
) *Orchestrator {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = aiprovider.DefaultTimeout
	}

	breakers := make(map[domain.Provider]*gobreaker.CircuitBreaker, len(providers))
	for _, p := range providers {
		settings := gobreaker.Settings{Name: string(p.Name)}
		settings.Interval = 60 * time.Second
		settings.Timeout = 60 * time.Second
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		}
		breakers[p.Name] = gobreaker.NewCircuitBreaker(settings)
	}

	return &Orchestrator{
		inventory: inventory,
		providers: providers,
		breakers:  breakers,
		cache:     NewCache(cfg.CacheMax, cfg.CacheTTL),
		heuristic: NewHeuristic(),
		repo:      repo,
		recorder:  recorder,
		emitter:   emitter,
		flights:   make(map[string]*flight),
		cfg:       cfg,
		log:       log.With().Str("component", "pairing").Logger(),
	}
}

// Stop terminates the cache sweep loop
func (o *Orchestrator) Stop() {
	o.cache.Stop()
}

// Result is one produced recommendation plus whether it came from cache
type Result struct {
	Recommendation *domain.PairingRecommendation
	CacheHit       bool
}

// Recommend produces a pairing for the request. Identical concurrent
// requests share a single provider chain invocation.
func (o *Orchestrator) Recommend(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	if strings.TrimSpace(req.Dish) == "" {
		return nil, domain.InvalidArgument("dish is required")
	}

	top, err := o.inventory.TopAvailable(topInventoryN)
	if err != nil {
		return nil, fmt.Errorf("failed to read top available inventory: %w", err)
	}

	fingerprint := Fingerprint(req, top)

	if rec, ok := o.cache.Get(fingerprint); ok {
		o.recorder.RecordCacheHit()
		o.publish(rec, true)
		return &Result{Recommendation: rec, CacheHit: true}, nil
	}
	o.recorder.RecordCacheMiss()

	inventory, err := o.inventory.AvailableInventory()
	if err != nil {
		return nil, fmt.Errorf("failed to read available inventory: %w", err)
	}

	rec, err := o.await(ctx, fingerprint, req, inventory)
	if err != nil {
		if domain.KindOf(err) != domain.KindCancelled {
			o.recorder.RecordRequest("", time.Since(start), nil, err)
		}
		return nil, err
	}

	o.recorder.RecordRequest(string(rec.Provider), time.Since(start), confidencesOf(rec.WineSelections), nil)
	o.publish(rec, false)
	return &Result{Recommendation: rec}, nil
}

// await joins the single flight for a fingerprint. Cancelling the sole
// waiter aborts the in-flight provider call; other waiters keep it alive.
func (o *Orchestrator) await(ctx context.Context, fingerprint string, req Request, inventory []domain.StockView) (*domain.PairingRecommendation, error) {
	o.mu.Lock()
	fl, ok := o.flights[fingerprint]
	if !ok {
		buildCtx, cancel := context.WithCancel(context.Background())
		fl = &flight{ctx: buildCtx, cancel: cancel}
		o.flights[fingerprint] = fl
	}
	fl.waiters++
	o.mu.Unlock()

	ch := o.group.DoChan(fingerprint, func() (interface{}, error) {
		return o.build(fl.ctx, fingerprint, req, inventory)
	})

	select {
	case res := <-ch:
		o.leave(fingerprint, fl, false)
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.PairingRecommendation), nil
	case <-ctx.Done():
		o.leave(fingerprint, fl, true)
		return nil, domain.NewError(domain.KindCancelled, "pairing request cancelled", ctx.Err())
	}
}

// leave decrements the waiter count; the last waiter to abandon an
// unfinished flight cancels its build and forgets the key.
func (o *Orchestrator) leave(fingerprint string, fl *flight, abandoned bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	fl.waiters--
	if fl.waiters > 0 {
		return
	}
	if abandoned {
		fl.cancel()
		o.group.Forget(fingerprint)
	}
	if o.flights[fingerprint] == fl {
		delete(o.flights, fingerprint)
	}
}

// build runs the provider chain once per fingerprint and persists the
// winning recommendation.
func (o *Orchestrator) build(ctx context.Context, fingerprint string, req Request, inventory []domain.StockView) (*domain.PairingRecommendation, error) {
	limit := req.Options.MaxRecommendations
	if limit <= 0 {
		limit = 5
	}

	var selections []domain.WineSelection
	var provider domain.Provider

	for _, p := range o.providers {
		picked, err := o.tryProvider(ctx, p, req, inventory, limit)
		if err != nil {
			if domain.KindOf(err) == domain.KindCancelled {
				return nil, err
			}
			o.log.Warn().Err(err).Str("provider", string(p.Name)).Msg("Provider attempt failed, falling through")
			continue
		}
		selections = picked
		provider = p.Name
		break
	}

	if selections == nil {
		picked, err := o.tryHeuristic(ctx, req, inventory)
		if err != nil {
			return nil, err
		}
		selections = picked
		provider = domain.ProviderHeuristic
	}

	if len(selections) == 0 {
		return nil, domain.Errorf(domain.KindPairingFailed, "no available wine suits %q", req.Dish)
	}

	contextJSON, _ := json.Marshal(req.Context)
	rec := &domain.PairingRecommendation{
		ID:             uuid.New().String(),
		Fingerprint:    fingerprint,
		Dish:           req.Dish,
		ContextJSON:    string(contextJSON),
		Provider:       provider,
		WineSelections: selections,
		CreatedAt:      time.Now().UTC(),
	}

	if o.repo != nil {
		if err := o.repo.Save(rec); err != nil {
			// Persistence is for feedback and retention, not correctness.
			o.log.Error().Err(err).Str("id", rec.ID).Msg("Failed to persist recommendation")
		}
	}

	o.cache.Set(fingerprint, rec)
	return rec, nil
}

// tryProvider invokes one AI provider through its circuit breaker with the
// hard per-call deadline, then filters its picks against fresh availability.
func (o *Orchestrator) tryProvider(ctx context.Context, p Provider, req Request, inventory []domain.StockView, limit int) ([]domain.WineSelection, error) {
	breaker := o.breakers[p.Name]
	start := time.Now()

	raw, err := breaker.Execute(func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.ProviderTimeout)
		defer cancel()
		return p.Client.Complete(callCtx, buildPrompt(req, inventory, limit))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = domain.NewError(domain.KindProviderError, "provider circuit open", err)
		}
		o.recorder.RecordProviderAttempt(string(p.Name), time.Since(start), err, domain.KindOf(err) == domain.KindProviderTimeout)
		return nil, err
	}

	parsed, err := aiprovider.ParseSelections(raw.(string))
	if err != nil {
		o.recorder.RecordProviderAttempt(string(p.Name), time.Since(start), err, false)
		return nil, err
	}

	selections, err := o.filterAvailable(parsed, limit, req.Options.IncludeReasoning)
	if err != nil {
		o.recorder.RecordProviderAttempt(string(p.Name), time.Since(start), err, false)
		return nil, err
	}

	o.recorder.RecordProviderAttempt(string(p.Name), time.Since(start), nil, false)
	return selections, nil
}

// tryHeuristic runs the rule-based fallback within its one-second budget
func (o *Orchestrator) tryHeuristic(ctx context.Context, req Request, inventory []domain.StockView) ([]domain.WineSelection, error) {
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, HeuristicTimeout)
	defer cancel()

	done := make(chan []domain.WineSelection, 1)
	go func() { done <- o.heuristic.Recommend(req, inventory) }()

	select {
	case selections := <-done:
		o.recorder.RecordProviderAttempt(string(domain.ProviderHeuristic), time.Since(start), nil, false)
		return selections, nil
	case <-callCtx.Done():
		err := domain.NewError(domain.KindPairingFailed, "heuristic engine exceeded its budget", callCtx.Err())
		if errors.Is(ctx.Err(), context.Canceled) {
			err = domain.NewError(domain.KindCancelled, "pairing request cancelled", ctx.Err())
		}
		o.recorder.RecordProviderAttempt(string(domain.ProviderHeuristic), time.Since(start), err, true)
		return nil, err
	}
}

// filterAvailable drops AI picks without current availability, sorts by
// confidence and rejects replies whose picks have no cellar backing at all.
func (o *Orchestrator) filterAvailable(parsed []aiprovider.Selection, limit int, includeReasoning bool) ([]domain.WineSelection, error) {
	fresh, err := o.inventory.AvailableInventory()
	if err != nil {
		return nil, fmt.Errorf("failed to re-check availability: %w", err)
	}
	available := make(map[int64]bool, len(fresh))
	for _, view := range fresh {
		if view.Available > 0 {
			available[view.VintageID] = true
		}
	}

	selections := make([]domain.WineSelection, 0, len(parsed))
	for _, sel := range parsed {
		if !available[sel.VintageID] {
			continue
		}
		reasoning := sel.Reasoning
		if !includeReasoning {
			reasoning = ""
		}
		selections = append(selections, domain.WineSelection{
			VintageID:  sel.VintageID,
			Confidence: sel.Confidence,
			Reasoning:  reasoning,
		})
	}

	if len(selections) == 0 {
		return nil, domain.Errorf(domain.KindProviderError, "provider picked no available vintage")
	}

	sortSelections(selections)
	if len(selections) > limit {
		selections = selections[:limit]
	}
	return selections, nil
}

func (o *Orchestrator) publish(rec *domain.PairingRecommendation, cacheHit bool) {
	if o.emitter == nil {
		return
	}
	o.emitter.Emit(moduleName, &events.PairingProducedData{
		RecommendationID: rec.ID,
		Provider:         string(rec.Provider),
		Selections:       len(rec.WineSelections),
		CacheHit:         cacheHit,
	})
}

// buildPrompt renders the chat messages sent to AI providers. The
// inventory list pins provider replies to real vintage ids.
func buildPrompt(req Request, inventory []domain.StockView, limit int) []aiprovider.ChatMessage {
	var b strings.Builder
	fmt.Fprintf(&b, "Recommend up to %d wines from this cellar for the dish %q.\n", limit, req.Dish)
	if req.Preferences != "" {
		fmt.Fprintf(&b, "Guest preferences: %s.\n", req.Preferences)
	}
	if req.Context.Occasion != "" {
		fmt.Fprintf(&b, "Occasion: %s, guests: %d.\n", req.Context.Occasion, req.Context.GuestCount)
	}
	if req.Context.Season != "" || req.Context.Weather != "" {
		fmt.Fprintf(&b, "Season: %s, weather: %s.\n", req.Context.Season, req.Context.Weather)
	}

	b.WriteString("\nAvailable cellar (vintage_id | wine | type | region | year | bottles):\n")
	count := 0
	for _, view := range inventory {
		if view.Available <= 0 {
			continue
		}
		fmt.Fprintf(&b, "%d | %s %s | %s | %s | %d | %.0f\n",
			view.VintageID, view.Producer, view.Name, view.WineType, view.Region, view.Year, view.Available)
		count++
		if count >= 40 {
			break
		}
	}

	b.WriteString("\nReply with only a JSON object: {\"selections\": [{\"vintage_id\": N, \"confidence\": 0.0-1.0, \"reasoning\": \"...\"}]}. Use only vintage_id values from the list.")

	return []aiprovider.ChatMessage{
		{Role: "system", Content: "You are the sommelier of a luxury yacht. You only recommend wines that are physically in the cellar."},
		{Role: "user", Content: b.String()},
	}
}

func sortSelections(selections []domain.WineSelection) {
	sort.Slice(selections, func(i, j int) bool {
		if selections[i].Confidence != selections[j].Confidence {
			return selections[i].Confidence > selections[j].Confidence
		}
		return selections[i].VintageID < selections[j].VintageID
	})
}

func confidencesOf(selections []domain.WineSelection) []float64 {
	out := make([]float64, len(selections))
	for i, sel := range selections {
		out[i] = sel.Confidence
	}
	return out
}
