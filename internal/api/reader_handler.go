package api

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

// ReaderHandler handles HTTP requests for read operations (Reader Service)
type ReaderHandler struct {
	reader   interfaces.AvailabilityReader
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	checks   []HealthCheck
}

// NewReaderHandler creates a new Reader API handler
func NewReaderHandler(reader interfaces.AvailabilityReader, metrics *observability.Metrics, gatherer prometheus.Gatherer, checks ...HealthCheck) *ReaderHandler {
	return &ReaderHandler{
		reader:   reader,
		metrics:  metrics,
		gatherer: gatherer,
		checks:   checks,
	}
}

// SetupReaderRoutes sets up the HTTP routes for Reader Service
func (h *ReaderHandler) SetupReaderRoutes() *gin.Engine {
	r := newRouter(h.metrics, "GET, OPTIONS")

	r.GET("/health", healthHandler("reader-service", h.checks))
	r.GET("/metrics", metricsHandler(h.gatherer))

	api := r.Group("/api/v1")
	{
		api.GET("/skus/:id/availability", h.getAvailability)
	}

	return r
}

// getAvailability handles SKU availability requests
func (h *ReaderHandler) getAvailability(c *gin.Context) {
	skuID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		Response.ValidationError(c, "id", "Invalid SKU ID format")
		return
	}

	availability, err := h.reader.GetAvailability(c.Request.Context(), skuID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	Response.Success(c, availability)
}
