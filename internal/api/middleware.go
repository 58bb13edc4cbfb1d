package api

import (
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Movchanets/MyMarketplace-sub003/internal/models"
	"github.com/Movchanets/MyMarketplace-sub003/internal/observability"
)

const (
	headerRequestID      = "X-Request-ID"
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
)

// RequestIDMiddleware adds a unique request ID to each request
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(headerRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Header(headerRequestID, requestID)
		c.Set("request_id", requestID)
		c.Next()
	}
}

// MetricsMiddleware records one observation per request, labelled by route template.
func MetricsMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// ErrorHandlerMiddleware turns the last error a handler attached with
// c.Error into a problem response.
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last()

		switch err.Type {
		case gin.ErrorTypeBind:
			handleValidationError(c, err.Err)
		default:
			handleCheckoutError(c, err.Err)
		}
	}
}

func corsMiddleware(methods string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", methods)
		c.Header("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-User-ID, Idempotency-Key, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// newRouter builds an engine with the middleware every service shares.
func newRouter(metrics *observability.Metrics, corsMethods string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware(metrics))
	r.Use(ErrorHandlerMiddleware())
	r.Use(corsMiddleware(corsMethods))
	return r
}

// ResponseHelpers provides methods for REST-native responses
type ResponseHelpers struct{}

// Success sends the resource directly (no wrapper)
func (h *ResponseHelpers) Success(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusOK, resource)
}

// Created sends a 201 created response with the created resource
func (h *ResponseHelpers) Created(c *gin.Context, resource interface{}) {
	c.JSON(http.StatusCreated, resource)
}

// NoContent sends a 204 no content response
func (h *ResponseHelpers) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

func (h *ResponseHelpers) ValidationError(c *gin.Context, field, message string) {
	problem := models.NewValidationProblem(field, message, models.ErrorCodeInvalidField)
	h.setRequestIDHeader(c)
	c.JSON(http.StatusBadRequest, problem)
}

func (h *ResponseHelpers) MultiValidationError(c *gin.Context, violations []models.ValidationError) {
	problem := models.NewMultiValidationProblem(violations)
	h.setRequestIDHeader(c)
	c.JSON(http.StatusBadRequest, problem)
}

// NotFound sends a 404 not found response
func (h *ResponseHelpers) NotFound(c *gin.Context, resource string) {
	problem := models.NewNotFoundProblem(resource)
	h.setRequestIDHeader(c)
	c.JSON(http.StatusNotFound, problem)
}

// CheckoutFailure sends the generic checkout failure. The cause is logged,
// never returned.
func (h *ResponseHelpers) CheckoutFailure(c *gin.Context, status int, code models.ErrorCode, cause error) {
	h.setRequestIDHeader(c)

	event := log.Warn()
	if status >= http.StatusInternalServerError {
		event = log.Error()
	}
	event.
		Str("request_id", getRequestID(c)).
		Str("path", c.Request.URL.Path).
		Str("code", string(code)).
		Err(cause).
		Msg("Checkout request failed")

	c.JSON(status, models.NewCheckoutFailureProblem(status, code))
}

func (h *ResponseHelpers) setRequestIDHeader(c *gin.Context) {
	if requestID := getRequestID(c); requestID != "" {
		c.Header(headerRequestID, requestID)
	}
}

func getRequestID(c *gin.Context) string {
	if requestID, exists := c.Get("request_id"); exists {
		if s, ok := requestID.(string); ok {
			return s
		}
	}
	return ""
}

// handleCheckoutError maps engine errors to responses. Only insufficient
// stock, validation and not-found errors carry detail to the client.
func handleCheckoutError(c *gin.Context, err error) {
	var (
		stockErr      *models.InsufficientStockError
		validationErr *models.ValidationError
		notFoundErr   *models.NotFoundError
	)

	switch {
	case errors.As(err, &stockErr):
		Response.setRequestIDHeader(c)
		c.JSON(http.StatusConflict, models.NewInsufficientStockProblem(stockErr))
	case errors.As(err, &validationErr):
		Response.setRequestIDHeader(c)
		c.JSON(http.StatusBadRequest, models.NewValidationProblem(validationErr.Field, validationErr.Message, models.ErrorCodeValidationError))
	case errors.As(err, &notFoundErr):
		Response.NotFound(c, notFoundErr.Resource)
	case errors.Is(err, models.ErrEmptyCart),
		errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, models.ErrConcurrencyConflict):
		Response.CheckoutFailure(c, http.StatusConflict, models.GetErrorCode(err), err)
	default:
		Response.CheckoutFailure(c, http.StatusInternalServerError, models.ErrorCodeInternalError, err)
	}
}

func handleValidationError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		violations := make([]models.ValidationError, 0, len(validationErrors))
		for _, fe := range validationErrors {
			violations = append(violations, models.ValidationError{
				Field:   fieldPath(fe),
				Message: getValidationMessage(fe),
				Code:    fe.Tag(),
			})
		}
		Response.MultiValidationError(c, violations)
		return
	}

	Response.setRequestIDHeader(c)
	c.JSON(http.StatusBadRequest, models.NewProblemDetails(http.StatusBadRequest, "Bad Request", "Malformed request body"))
}

// fieldPath drops the root struct name from the namespace: shipping.city.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}

func getValidationMessage(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "min":
		return "Value is too short"
	case "max":
		return "Value is too long"
	case "len":
		return "Value has the wrong length"
	case "oneof":
		return "Value must be one of: " + err.Param()
	default:
		return "Invalid value"
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}

// Create a global instance for easy access
var Response = &ResponseHelpers{}
