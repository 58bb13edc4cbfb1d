package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
)

type MockAvailabilityReader struct {
	mock.Mock
}

func (m *MockAvailabilityReader) GetAvailability(ctx context.Context, skuID uuid.UUID) (*models.AvailabilityResponse, error) {
	args := m.Called(ctx, skuID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.AvailabilityResponse), args.Error(1)
}

func serveReader(reader *MockAvailabilityReader, method, path string) *httptest.ResponseRecorder {
	router := NewReaderHandler(reader, nil, prometheus.NewRegistry()).SetupReaderRoutes()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestGetAvailability(t *testing.T) {
	reader := new(MockAvailabilityReader)
	sku := &models.SKU{
		ID:               uuid.New(),
		Code:             "SHIRT-M",
		Price:            decimal.RequireFromString("19.99"),
		StockQuantity:    10,
		ReservedQuantity: 4,
	}
	reader.On("GetAvailability", mock.Anything, sku.ID).Return(models.NewAvailabilityResponse(sku, true), nil)

	w := serveReader(reader, http.MethodGet, "/api/v1/skus/"+sku.ID.String()+"/availability")

	require.Equal(t, http.StatusOK, w.Code)
	var got models.AvailabilityResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, 6, got.AvailableQuantity)
	assert.True(t, got.CacheHit)
	assert.True(t, sku.Price.Equal(got.Price))
	reader.AssertExpectations(t)
}

func TestGetAvailability_NotFound(t *testing.T) {
	reader := new(MockAvailabilityReader)
	id := uuid.New()
	reader.On("GetAvailability", mock.Anything, id).Return(nil, models.NewNotFoundError("sku", id.String()))

	w := serveReader(reader, http.MethodGet, "/api/v1/skus/"+id.String()+"/availability")

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "sku not found", decodeProblem(t, w).Detail)
}

func TestGetAvailability_BadID(t *testing.T) {
	reader := new(MockAvailabilityReader)

	w := serveReader(reader, http.MethodGet, "/api/v1/skus/abc/availability")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	reader.AssertNotCalled(t, "GetAvailability", mock.Anything, mock.Anything)
}

func TestReaderHealth(t *testing.T) {
	w := serveReader(new(MockAvailabilityReader), http.MethodGet, "/health")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"reader-service"`)
	assert.Contains(t, w.Body.String(), `"healthy"`)
}

func TestOpsRoutes(t *testing.T) {
	router := NewOpsHandler("sweeper-service", nil, prometheus.NewRegistry()).SetupOpsRoutes()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "sweeper-service")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/health", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "GET, OPTIONS", w.Header().Get("Access-Control-Allow-Methods"))
}
