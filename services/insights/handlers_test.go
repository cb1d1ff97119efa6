package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(store *fakeStore) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewInsightHandler(newFixture(store), store)

	r := gin.New()
	r.GET("/health", handler.HealthCheck)
	r.POST("/api/events/sale-committed", handler.SaleCommitted)
	r.GET("/api/insights", handler.ListInsights)
	r.POST("/api/insights/:id/dismiss", handler.DismissInsight)
	r.POST("/api/insights/generate", handler.GenerateInsights)
	return r
}

func doJSON(r *gin.Engine, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != "" {
		req.Header.Set(tenantHeader, tenantID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestSaleCommittedEndpoint(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	low := store.setStock(tenantID, "Low", 5)
	r := newTestRouter(store)

	w := doJSON(r, http.MethodPost, "/api/events/sale-committed", "", event(tenantID, low))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Len(t, store.insights, 1)
}

func TestSaleCommittedEndpoint_RejectsIncompleteEvent(t *testing.T) {
	store := newFakeStore()
	r := newTestRouter(store)

	w := doJSON(r, http.MethodPost, "/api/events/sale-committed", "", map[string]any{"event_kind": "sale-committed"})

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListInsightsEndpoint(t *testing.T) {
	store := newFakeStore()
	tenantA := uuid.New()
	tenantB := uuid.New()
	lowA := store.setStock(tenantA, "Low", 5)
	require.NoError(t, newFixture(store).EvaluateSaleCommitted(t.Context(), event(tenantA, lowA)))
	r := newTestRouter(store)

	t.Run("requires tenant header", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/insights", "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
	t.Run("tenant sees own insights", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/insights", tenantA.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		var insights []Insight
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &insights))
		assert.Len(t, insights, 1)
	})
	t.Run("other tenants see nothing", func(t *testing.T) {
		w := doJSON(r, http.MethodGet, "/api/insights", tenantB.String(), nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", w.Body.String())
	})
}

func TestDismissInsightEndpoint(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	low := store.setStock(tenantID, "Low", 5)
	require.NoError(t, newFixture(store).EvaluateSaleCommitted(t.Context(), event(tenantID, low)))
	r := newTestRouter(store)
	insightID := store.insights[0].ID

	t.Run("foreign tenant cannot dismiss", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/insights/"+insightID.String()+"/dismiss", uuid.NewString(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.True(t, store.insights[0].Active)
	})
	t.Run("owner dismisses", func(t *testing.T) {
		w := doJSON(r, http.MethodPost, "/api/insights/"+insightID.String()+"/dismiss", tenantID.String(), nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.False(t, store.insights[0].Active)
	})
}

func TestGenerateInsightsEndpoint(t *testing.T) {
	store := newFakeStore()
	tenantID := uuid.New()
	store.stats[tenantID] = DailyStats{SaleCount: 3, Revenue: decimal.NewFromInt(450)}
	r := newTestRouter(store)

	w := doJSON(r, http.MethodPost, "/api/insights/generate", tenantID.String(), nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.Len(t, store.insights, 1)
	assert.Equal(t, InsightKindDailySummary, store.insights[0].Kind)
}
