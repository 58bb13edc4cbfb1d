package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck is one dependency probed by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

func healthHandler(service string, checks []HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		status := http.StatusOK
		deps := make(gin.H, len(checks))
		for _, hc := range checks {
			if err := hc.Check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				deps[hc.Name] = err.Error()
				continue
			}
			deps[hc.Name] = "ok"
		}

		state := "healthy"
		if status != http.StatusOK {
			state = "unhealthy"
		}
		c.JSON(status, gin.H{
			"status":       state,
			"service":      service,
			"dependencies": deps,
		})
	}
}

func metricsHandler(gatherer prometheus.Gatherer) gin.HandlerFunc {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// OpsHandler serves only health and metrics, for workers without a public API.
type OpsHandler struct {
	service  string
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	checks   []HealthCheck
}

// NewOpsHandler creates a health and monitoring handler
func NewOpsHandler(service string, metrics *observability.Metrics, gatherer prometheus.Gatherer, checks ...HealthCheck) *OpsHandler {
	return &OpsHandler{service: service, metrics: metrics, gatherer: gatherer, checks: checks}
}

// SetupOpsRoutes sets up the monitoring routes
func (h *OpsHandler) SetupOpsRoutes() *gin.Engine {
	r := newRouter(h.metrics, "GET, OPTIONS")

	r.GET("/health", healthHandler(h.service, h.checks))
	r.GET("/metrics", metricsHandler(h.gatherer))

	return r
}
