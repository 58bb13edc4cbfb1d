package api

import (
	"errors"
	"io"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Movchanets/MyMarketplace-sub003/internal/interfaces"
	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

// CheckoutHandler handles the write side of checkout: reserving a cart,
// placing an order and releasing holds.
type CheckoutHandler struct {
	checkout interfaces.CheckoutReserver
	orders   interfaces.OrderCreator
	releaser interfaces.ReservationReleaser
	metrics  *observability.Metrics
	gatherer prometheus.Gatherer
	checks   []HealthCheck
	validate *validator.Validate
}

// NewCheckoutHandler creates a new checkout API handler
func NewCheckoutHandler(
	checkout interfaces.CheckoutReserver,
	orders interfaces.OrderCreator,
	releaser interfaces.ReservationReleaser,
	metrics *observability.Metrics,
	gatherer prometheus.Gatherer,
	checks ...HealthCheck,
) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		orders:   orders,
		releaser: releaser,
		metrics:  metrics,
		gatherer: gatherer,
		checks:   checks,
		validate: newValidator(),
	}
}

// SetupCheckoutRoutes sets up the HTTP routes for the checkout service
func (h *CheckoutHandler) SetupCheckoutRoutes() *gin.Engine {
	r := newRouter(h.metrics, "POST, GET, OPTIONS, DELETE")

	r.GET("/health", healthHandler("checkout-service", h.checks))
	r.GET("/metrics", metricsHandler(h.gatherer))

	api := r.Group("/api/v1")
	{
		api.POST("/checkout/reserve", h.reserve)
		api.POST("/orders", h.createOrder)
		api.DELETE("/reservations/:id", h.releaseReservation)
		api.DELETE("/carts/:id/reservations", h.releaseCart)
	}

	return r
}

func (h *CheckoutHandler) reserve(c *gin.Context) {
	userID := c.GetHeader(headerUserID)
	if userID == "" {
		Response.ValidationError(c, "X-User-ID", "User ID header is required")
		return
	}

	var req models.ReserveRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	meta := models.ReservationMetadata{
		SessionID: req.SessionID,
		IPAddress: c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
	}

	result, err := h.checkout.Reserve(c.Request.Context(), userID, meta)
	if err != nil {
		_ = c.Error(err)
		return
	}

	Response.Created(c, result)
}

func (h *CheckoutHandler) createOrder(c *gin.Context) {
	userID := c.GetHeader(headerUserID)
	if userID == "" {
		Response.ValidationError(c, "X-User-ID", "User ID header is required")
		return
	}

	var req models.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}
	// The header wins over a key in the body.
	if key := c.GetHeader(headerIdempotencyKey); key != "" {
		req.IdempotencyKey = &key
	}
	if err := h.validate.Struct(&req); err != nil {
		_ = c.Error(err).SetType(gin.ErrorTypeBind)
		return
	}

	order, created, err := h.orders.CreateOrder(c.Request.Context(), userID, &req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	resp := models.OrderResponse{Order: order, Created: created}
	if !created {
		Response.Success(c, resp)
		return
	}
	Response.Created(c, resp)
}

func (h *CheckoutHandler) releaseReservation(c *gin.Context) {
	reservationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		Response.ValidationError(c, "id", "Invalid reservation ID format")
		return
	}

	if _, err := h.releaser.ReleaseReservation(c.Request.Context(), reservationID); err != nil {
		_ = c.Error(err)
		return
	}

	Response.NoContent(c)
}

func (h *CheckoutHandler) releaseCart(c *gin.Context) {
	cartID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		Response.ValidationError(c, "id", "Invalid cart ID format")
		return
	}

	released, err := h.releaser.ReleaseAllForCart(c.Request.Context(), cartID)
	if err != nil {
		_ = c.Error(err)
		return
	}

	Response.Success(c, models.ReleaseAllResponse{CartID: cartID, Released: released})
}
