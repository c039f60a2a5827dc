package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/metrics"
	"github.com/sommos/sommos/internal/pairing"
	testingpkg "github.com/sommos/sommos/internal/testing"
)

type listInventory struct {
	views []domain.StockView
}

func (l *listInventory) AvailableInventory() ([]domain.StockView, error) {
	return l.views, nil
}

func (l *listInventory) TopAvailable(limit int) ([]domain.StockView, error) {
	views := append([]domain.StockView(nil), l.views...)
	sort.Slice(views, func(i, j int) bool { return views[i].Available > views[j].Available })
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func setupRouter(t *testing.T, conversions ConversionRecorder) (*chi.Mux, *pairing.Repository) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	t.Cleanup(cleanup)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	inv := &listInventory{views: []domain.StockView{
		{VintageID: 1, WineType: domain.WineTypeRed, Region: "Bordeaux", Available: 12, Quantity: 12},
		{VintageID: 2, WineType: domain.WineTypeWhite, Region: "Chablis", Available: 6, Quantity: 6},
	}}

	tracker := metrics.New(metrics.DefaultWindow, nil, log)
	repo := pairing.NewRepository(db.Conn(), log)
	orchestrator := pairing.NewOrchestrator(inv, nil, repo, tracker, nil, pairing.Config{
		ProviderTimeout: time.Second,
		CacheTTL:        time.Minute,
		CacheMax:        100,
	}, log)
	t.Cleanup(orchestrator.Stop)

	router := chi.NewRouter()
	router.Use(api.AuthContext)
	router.Route("/api", func(r chi.Router) {
		NewHandler(orchestrator, repo, tracker, conversions, log).RegisterRoutes(r)
	})
	return router, repo
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}) (*httptest.ResponseRecorder, api.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHandleRecommend(t *testing.T) {
	router, _ := setupRouter(t, nil)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/pairing/recommend", map[string]interface{}{
		"dish":    "grilled salmon",
		"context": map[string]interface{}{"occasion": "casual-dining", "guest_count": 4},
		"options": map[string]interface{}{"max_recommendations": 3},
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, false, data["cache_hit"])
	recommendation := data["recommendation"].(map[string]interface{})
	assert.Equal(t, "heuristic", recommendation["provider"])
	selections := recommendation["wine_selections"].([]interface{})
	assert.LessOrEqual(t, len(selections), 3)
}

func TestHandleRecommendCacheHitOnRepeat(t *testing.T) {
	router, _ := setupRouter(t, nil)
	body := map[string]interface{}{"dish": "grilled salmon"}

	_, first := doJSON(t, router, http.MethodPost, "/api/pairing/recommend", body)
	require.True(t, first.Success)

	_, second := doJSON(t, router, http.MethodPost, "/api/pairing/recommend", body)
	require.True(t, second.Success)
	assert.Equal(t, true, second.Data.(map[string]interface{})["cache_hit"])
}

func TestHandleRecommendMissingDish(t *testing.T) {
	router, _ := setupRouter(t, nil)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/pairing/recommend", map[string]interface{}{"dish": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", resp.Code)
}

func TestHandleFeedback(t *testing.T) {
	router, repo := setupRouter(t, nil)

	require.NoError(t, repo.Save(&domain.PairingRecommendation{
		ID:          "r1",
		Fingerprint: "fp",
		Dish:        "grilled salmon",
		Provider:    domain.ProviderHeuristic,
		WineSelections: []domain.WineSelection{
			{VintageID: 1, Confidence: 0.8},
		},
		CreatedAt: time.Now(),
	}))

	rec, resp := doJSON(t, router, http.MethodPost, "/api/pairing/feedback", map[string]interface{}{
		"recommendation_id": "r1",
		"ratings":           map[string]interface{}{"overall": 5},
		"selected":          true,
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.True(t, resp.Success)
}

type recordedConversion struct {
	experiment string
	subject    string
	value      float64
}

type stubConversionRecorder struct {
	conversions []recordedConversion
}

func (s *stubConversionRecorder) RecordConversion(experiment, subject string, value float64) error {
	s.conversions = append(s.conversions, recordedConversion{experiment, subject, value})
	return nil
}

func TestHandleFeedbackRecordsConversion(t *testing.T) {
	recorder := &stubConversionRecorder{}
	router, repo := setupRouter(t, recorder)

	require.NoError(t, repo.Save(&domain.PairingRecommendation{
		ID:          "r2",
		Fingerprint: "fp2",
		Dish:        "duck confit",
		Provider:    domain.ProviderHeuristic,
		WineSelections: []domain.WineSelection{
			{VintageID: 1, Confidence: 0.7},
		},
		CreatedAt: time.Now(),
	}))

	rec, resp := doJSON(t, router, http.MethodPost, "/api/pairing/feedback", map[string]interface{}{
		"recommendation_id": "r2",
		"ratings":           map[string]interface{}{"overall": 4},
		"selected":          true,
		"experiment":        "pairing_prompt_v2",
		"subject":           "crew-7",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	require.True(t, resp.Success)

	require.Len(t, recorder.conversions, 1)
	assert.Equal(t, "pairing_prompt_v2", recorder.conversions[0].experiment)
	assert.Equal(t, "crew-7", recorder.conversions[0].subject)
	assert.Equal(t, 4.0, recorder.conversions[0].value)
}

func TestHandleFeedbackWithoutExperimentSkipsConversion(t *testing.T) {
	recorder := &stubConversionRecorder{}
	router, repo := setupRouter(t, recorder)

	require.NoError(t, repo.Save(&domain.PairingRecommendation{
		ID:          "r3",
		Fingerprint: "fp3",
		Dish:        "oysters",
		Provider:    domain.ProviderHeuristic,
		WineSelections: []domain.WineSelection{
			{VintageID: 2, Confidence: 0.9},
		},
		CreatedAt: time.Now(),
	}))

	rec, _ := doJSON(t, router, http.MethodPost, "/api/pairing/feedback", map[string]interface{}{
		"recommendation_id": "r3",
		"ratings":           map[string]interface{}{"overall": 5},
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, recorder.conversions)
}

func TestHandleFeedbackInvalidRating(t *testing.T) {
	router, _ := setupRouter(t, nil)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/pairing/feedback", map[string]interface{}{
		"recommendation_id": "r1",
		"ratings":           map[string]interface{}{"overall": 9},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", resp.Code)
}

func TestHandleMetrics(t *testing.T) {
	router, _ := setupRouter(t, nil)

	rec, resp := doJSON(t, router, http.MethodGet, "/api/pairing/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Contains(t, data, "health")
}

func TestHandleTrailingGarbageRejected(t *testing.T) {
	router, _ := setupRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/pairing/recommend",
		bytes.NewBufferString(`{"dish":"steak"} trailing`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_argument", resp.Code)
}
