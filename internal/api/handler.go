package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"enrollment-service/internal/service"
	"enrollment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler contains HTTP handlers
type Handler struct {
	confirmations *service.ConfirmationService
	resumptions   *service.ResumptionService
	enrollments   *service.EnrollmentService
}

// NewHandler creates a new HTTP handler
func NewHandler(
	confirmations *service.ConfirmationService,
	resumptions *service.ResumptionService,
	enrollments *service.EnrollmentService,
) *Handler {
	return &Handler{
		confirmations: confirmations,
		resumptions:   resumptions,
		enrollments:   enrollments,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments/checkout", h.beginCheckout)
		v1.POST("/payments/confirm", h.confirmPayment)
		v1.GET("/payments/status/:courseCode", h.paymentStatus)
		v1.GET("/payments/pending", h.listPending)
		v1.GET("/payments/resume/:id", h.resumePayment)
		v1.POST("/enrollments/free", h.enrollFree)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// currentUserID reads the identity injected by the upstream auth proxy.
func currentUserID(c *gin.Context) (int64, bool) {
	userID, err := strconv.ParseInt(c.GetHeader("X-User-ID"), 10, 64)
	if err != nil || userID <= 0 {
		return 0, false
	}
	return userID, true
}

type checkoutRequest struct {
	CourseCode string `json:"course_code" binding:"required"`
	Method     string `json:"method"`
}

// beginCheckout opens (or returns) the caller's pending payment for a course
func (h *Handler) beginCheckout(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	payment, err := h.confirmations.BeginCheckout(c.Request.Context(), userID, req.CourseCode, req.Method)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, payment)
}

// confirmPayment handles the client's claim that a provider payment completed
func (h *Handler) confirmPayment(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	var req service.ConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.UserID = userID

	resp, err := h.confirmations.Confirm(c.Request.Context(), &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// paymentStatus returns the caller's ledger projection for one course
func (h *Handler) paymentStatus(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	status, err := h.confirmations.PaymentStatus(c.Request.Context(), userID, c.Param("courseCode"))
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, status)
}

// listPending returns the caller's pending payments
func (h *Handler) listPending(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	payments, err := h.resumptions.ListPending(c.Request.Context(), userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// resumePayment redirects the owner back into the confirmation flow
func (h *Handler) resumePayment(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	paymentID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid payment ID"})
		return
	}

	result, err := h.resumptions.Resume(c.Request.Context(), paymentID, userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.Redirect(http.StatusFound, result.RedirectURL)
}

type enrollFreeRequest struct {
	CourseCode string `json:"course_code" binding:"required"`
}

// enrollFree grants access to a zero-price course without a payment
func (h *Handler) enrollFree(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing user identity"})
		return
	}

	var req enrollFreeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	enrollment, err := h.enrollments.EnrollFree(c.Request.Context(), userID, req.CourseCode)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, enrollment)
}

// respondServiceError maps the failure taxonomy onto HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	var se *service.Error
	if !errors.As(err, &se) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch se.Kind {
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindConfiguration:
		status = http.StatusServiceUnavailable
	case service.KindProviderUnavailable:
		status = http.StatusBadGateway
	case service.KindVerificationFailure:
		status = http.StatusPaymentRequired
	case service.KindReconciliationMismatch:
		status = http.StatusConflict
	case service.KindStorage:
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"success":   false,
		"error":     se.Message,
		"kind":      se.Kind,
		"retryable": se.Retryable,
	})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
