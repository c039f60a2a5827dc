package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sommos/sommos/internal/api"
	"github.com/sommos/sommos/internal/domain"
	"github.com/sommos/sommos/internal/inventory"
	"github.com/sommos/sommos/internal/sync"
	testingpkg "github.com/sommos/sommos/internal/testing"
)

func setupSyncRouter(t *testing.T) (*chi.Mux, int64, func()) {
	t.Helper()

	db, cleanup := testingpkg.NewTestDB(t, "sommos")
	log := zerolog.New(nil).Level(zerolog.Disabled)
	emitter := testingpkg.NewMockEmitter()
	svc := inventory.NewService(db.Conn(), emitter, nil, log)

	order, err := svc.Intake(inventory.IntakeRequest{
		Supplier:  "Grand Cru Imports",
		CreatedBy: "chief_steward",
		Items: []inventory.IntakeItemRequest{
			{
				Wine: domain.Wine{
					Name:     "Cloudy Bay Sauvignon Blanc",
					Producer: "Cloudy Bay",
					Region:   "Marlborough",
					Country:  "New Zealand",
					WineType: domain.WineTypeWhite,
				},
				Year:             2022,
				ExpectedQuantity: 24,
				UnitCost:         35,
				Location:         "service-bar",
			},
		},
	})
	require.NoError(t, err)
	vintageID := order.Items[0].VintageID

	_, err = svc.ReceiveStock(inventory.ReceiveStockRequest{
		VintageID: vintageID,
		Location:  "service-bar",
		Quantity:  10,
		CreatedBy: "chief_steward",
	})
	require.NoError(t, err)

	reconciler := sync.NewReconciler(db.Conn(), svc, emitter, sync.TiebreakOriginLex, log)
	router := chi.NewRouter()
	router.Route("/api", func(r chi.Router) {
		NewHandler(reconciler, log).RegisterRoutes(r)
	})
	return router, vintageID, cleanup
}

func postApply(t *testing.T, router http.Handler, body interface{}) (*httptest.ResponseRecorder, api.Response) {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest("POST", "/api/sync/apply", &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec, resp
}

func TestHandleApply_ReturnsPerOpOutcomes(t *testing.T) {
	router, vintageID, cleanup := setupSyncRouter(t)
	defer cleanup()

	body := map[string]interface{}{
		"operations": []map[string]interface{}{
			{
				"op_id":      "op-1",
				"updated_at": time.Now().Unix(),
				"updated_by": "crew",
				"origin":     "tablet-1",
				"endpoint":   "inventory.consume",
				"method":     "POST",
				"payload": map[string]interface{}{
					"vintage_id": vintageID,
					"location":   "service-bar",
					"quantity":   2,
				},
			},
			{
				"op_id":      "op-2",
				"updated_at": time.Now().Unix(),
				"updated_by": "crew",
				"origin":     "tablet-1",
				"endpoint":   "inventory.consume",
				"method":     "POST",
				"payload": map[string]interface{}{
					"vintage_id": vintageID,
					"location":   "service-bar",
					"quantity":   100,
				},
			},
		},
	}

	rec, resp := postApply(t, router, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	data := resp.Data.(map[string]interface{})
	assert.Equal(t, 1.0, data["applied"])
	assert.Equal(t, 1.0, data["rejected"])

	outcomes := data["outcomes"].([]interface{})
	require.Len(t, outcomes, 2)
	second := outcomes[1].(map[string]interface{})
	assert.Equal(t, "rejected", second["status"])
	assert.Equal(t, "inventory_conflict", second["code"])
}

func TestHandleApply_EmptyBatchRejected(t *testing.T) {
	router, _, cleanup := setupSyncRouter(t)
	defer cleanup()

	rec, resp := postApply(t, router, map[string]interface{}{"operations": []interface{}{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_argument", resp.Code)
}

func TestHandleChanges_ReturnsTouchedRows(t *testing.T) {
	router, _, cleanup := setupSyncRouter(t)
	defer cleanup()

	req := httptest.NewRequest("GET", "/api/sync/changes?since=0", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var resp api.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	data := resp.Data.(map[string]interface{})
	assert.Len(t, data["wines"], 1)
	assert.Len(t, data["stock"], 1)
	assert.NotZero(t, data["as_of"])

	req = httptest.NewRequest("GET", "/api/sync/changes?since=nonsense", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
