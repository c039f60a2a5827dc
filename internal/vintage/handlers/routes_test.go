package handlers

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/clients/openmeteo"
	"github.com/sommos/sommos/internal/inventory"
	testingpkg "github.com/sommos/sommos/internal/testing"
	"github.com/sommos/sommos/internal/vintage"
)

func setupRouter(t *testing.T) (*chi.Mux, *sql.DB) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	t.Cleanup(cleanup)
	log := zerolog.New(nil).Level(zerolog.Disabled)

	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start, _ := time.Parse("2006-01-02", r.URL.Query().Get("start_date"))
		end, _ := time.Parse("2006-01-02", r.URL.Query().Get("end_date"))
		days := int(end.Sub(start).Hours()/24) + 1
		series := openmeteo.DailySeries{
			Time:          make([]string, days),
			TempMax:       make([]float64, days),
			TempMin:       make([]float64, days),
			TempMean:      make([]float64, days),
			Precipitation: make([]float64, days),
		}
		for i := 0; i < days; i++ {
			series.Time[i] = start.AddDate(0, 0, i).Format("2006-01-02")
			series.TempMax[i] = 25
			series.TempMin[i] = 11
			series.TempMean[i] = 17
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"daily": series})
	}))
	t.Cleanup(stub.Close)

	weather := openmeteo.NewClient(nil, 5*time.Second, false, log)
	weather.SetEndpoints(stub.URL, stub.URL)

	vintages := inventory.NewVintageRepository(db.Conn(), log)
	wines := inventory.NewWineRepository(db.Conn(), log)
	repo := vintage.NewRepository(db.Conn(), log)
	enricher := vintage.NewEnricher(weather, repo, vintages, wines, db.Conn(), nil, nil, vintage.Config{}, log)

	router := chi.NewRouter()
	router.Use(api.AuthContext)
	router.Route("/api", func(r chi.Router) {
		NewHandler(enricher, vintages, wines, log).RegisterRoutes(r)
	})
	return router, db.Conn()
}

func seedVintage(t *testing.T, db *sql.DB, name, region string, year int) (wineID, vintageID int64) {
	t.Helper()

	res, err := db.Exec(`
		INSERT INTO wines (name, producer, region, country, wine_type)
		VALUES (?, ?, ?, 'France', 'Red')`, name, name, region)
	require.NoError(t, err)
	wineID, err = res.LastInsertId()
	require.NoError(t, err)

	res, err = db.Exec(`INSERT INTO vintages (wine_id, year) VALUES (?, ?)`, wineID, year)
	require.NoError(t, err)
	vintageID, err = res.LastInsertId()
	require.NoError(t, err)
	return wineID, vintageID
}

func doJSON(t *testing.T, router http.Handler, method, path, role string, body interface{}) (*httptest.ResponseRecorder, api.Response) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if role != "" {
		req.Header.Set("X-User-ID", "tester")
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHandleAnalysis(t *testing.T) {
	router, db := setupRouter(t)
	wineID, vintageID := seedVintage(t, db, "Chateau Margaux", "Margaux", 2018)

	// Enrich through the admin endpoint first so analysis has weather.
	rec, resp := doJSON(t, router, http.MethodPost, "/api/vintage/enrich", RoleAdmin,
		map[string]interface{}{"vintage_ids": []int64{vintageID}})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	rec, resp = doJSON(t, router, http.MethodGet,
		fmt.Sprintf("/api/vintage/analysis/%d", wineID), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	analyses := data["analyses"].([]interface{})
	require.Len(t, analyses, 1)

	entry := analyses[0].(map[string]interface{})
	vtg := entry["vintage"].(map[string]interface{})
	assert.Equal(t, float64(2018), vtg["year"])
	assert.Equal(t, 100.0, vtg["weather_score"])

	weather := entry["weather"].(map[string]interface{})
	assert.Equal(t, 100.0, weather["overall_score"])

	notes := entry["notes"].(map[string]interface{})
	assert.NotEmpty(t, notes["narrative"])
}

func TestHandleAnalysisUnknownWine(t *testing.T) {
	router, _ := setupRouter(t)

	rec, resp := doJSON(t, router, http.MethodGet, "/api/vintage/analysis/424242", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.False(t, resp.Success)
}

func TestHandleAnalysisBadWineID(t *testing.T) {
	router, _ := setupRouter(t)

	rec, resp := doJSON(t, router, http.MethodGet, "/api/vintage/analysis/abc", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestHandleEnrichRequiresAdmin(t *testing.T) {
	router, db := setupRouter(t)
	_, vintageID := seedVintage(t, db, "Chateau Margaux", "Margaux", 2018)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/vintage/enrich", "crew",
		map[string]interface{}{"vintage_ids": []int64{vintageID}})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, resp.Success)
}

func TestHandleEnrichEmptyRequest(t *testing.T) {
	router, _ := setupRouter(t)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/vintage/enrich", RoleAdmin,
		map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, resp.Success)
}

func TestHandleEnrichAllPending(t *testing.T) {
	router, db := setupRouter(t)
	seedVintage(t, db, "Chateau Margaux", "Margaux", 2018)

	rec, resp := doJSON(t, router, http.MethodPost, "/api/vintage/enrich", RoleAdmin,
		map[string]interface{}{"all_pending": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, float64(1), data["attempted"])
	assert.Equal(t, float64(1), data["enriched"])
	assert.Empty(t, data["failed"])
}
