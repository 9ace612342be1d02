package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"payment-service/internal/domains/payment/model"
	"payment-service/internal/domains/payment/service"
	res "payment-service/internal/shared/response"
	"payment-service/pkg/idempotency"
)

// idempotencyKeyHeader is the request header carrying the caller's retry key.
const idempotencyKeyHeader = "Idempotency-Key"

type PaymentHandler struct {
	paymentService service.PaymentService
	engine         *idempotency.Engine
}

// NewPaymentHandler creates new payment handler
func NewPaymentHandler(paymentService service.PaymentService, engine *idempotency.Engine) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
		engine:         engine,
	}
}

// =====================================================
// PAYMENT ENDPOINTS
// =====================================================

// CreatePayment creates a checkout session for an order
// POST /api/v1/payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	// Step 1: The mutation requires a retry key
	key, ok := requireIdempotencyKey(c)
	if !ok {
		return
	}

	// Step 2: Bind request body
	var req model.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, err.Error())
		return
	}

	// Step 3: Validate request
	if err := req.Validate(); err != nil {
		res.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, "validation failed", err)
		return
	}

	// Step 4: Run under the idempotency engine; a replayed key returns the
	// cached response without touching the provider again
	var resp model.CreatePaymentResponse
	cached, err := h.engine.Do(c.Request.Context(), key, &resp, func(ctx context.Context) (interface{}, error) {
		return h.paymentService.CreatePayment(ctx, &req, key)
	})
	if err != nil {
		handleServiceError(c, err, key)
		return
	}

	if cached {
		res.Success(c, http.StatusOK, resp)
		return
	}
	res.Success(c, http.StatusCreated, resp)
}

// ResolvePayment confirms capture with the provider
// POST /api/v1/payments/resolve
func (h *PaymentHandler) ResolvePayment(c *gin.Context) {
	key, ok := requireIdempotencyKey(c)
	if !ok {
		return
	}

	var req model.ResolvePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		res.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, "validation failed", err)
		return
	}

	var resp model.ResolvePaymentResponse
	_, err := h.engine.Do(c.Request.Context(), key, &resp, func(ctx context.Context) (interface{}, error) {
		return h.paymentService.ResolvePayment(ctx, &req)
	})
	if err != nil {
		handleServiceError(c, err, key)
		return
	}
	res.Success(c, http.StatusOK, resp)
}

// CancelPayment cancels a pending payment
// POST /api/v1/payments/cancel
func (h *PaymentHandler) CancelPayment(c *gin.Context) {
	key, ok := requireIdempotencyKey(c)
	if !ok {
		return
	}

	var req model.CancelPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		res.ErrorWithDetails(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, "validation failed", err)
		return
	}

	var resp struct {
		Cancelled bool `json:"cancelled"`
	}
	_, err := h.engine.Do(c.Request.Context(), key, &resp, func(ctx context.Context) (interface{}, error) {
		if err := h.paymentService.CancelPayment(ctx, &req); err != nil {
			return nil, err
		}
		return map[string]bool{"cancelled": true}, nil
	})
	if err != nil {
		handleServiceError(c, err, key)
		return
	}
	res.Success(c, http.StatusOK, resp)
}

// RefundPayment refunds the captured session of a payment
// POST /api/v1/payments/:payment_id/refund
func (h *PaymentHandler) RefundPayment(c *gin.Context) {
	key, ok := requireIdempotencyKey(c)
	if !ok {
		return
	}

	paymentID, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, "invalid payment ID")
		return
	}

	req := model.RefundPaymentRequest{PaymentID: paymentID}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, err.Error())
			return
		}
		req.PaymentID = paymentID
	}

	var resp model.RefundPaymentResponse
	cached, err := h.engine.Do(c.Request.Context(), key, &resp, func(ctx context.Context) (interface{}, error) {
		return h.paymentService.RefundPayment(ctx, &req, key)
	})
	if err != nil {
		handleServiceError(c, err, key)
		return
	}

	if cached {
		res.Success(c, http.StatusOK, resp)
		return
	}
	res.Success(c, http.StatusCreated, resp)
}

// GetPaymentStatus returns the payment aggregate for polling
// GET /api/v1/payments/:payment_id
func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	paymentID, err := uuid.Parse(c.Param("payment_id"))
	if err != nil {
		res.ErrorResponse(c, http.StatusBadRequest, model.ErrCodeInvalidArgument, "invalid payment ID")
		return
	}

	resp, err := h.paymentService.GetPaymentStatus(c.Request.Context(), paymentID)
	if err != nil {
		handleServiceError(c, err, "")
		return
	}
	res.Success(c, http.StatusOK, resp)
}

// =====================================================
// HELPERS
// =====================================================

func requireIdempotencyKey(c *gin.Context) (string, bool) {
	key := c.GetHeader(idempotencyKeyHeader)
	if key == "" {
		payErr := model.NewMissingIdempotencyKeyError()
		res.ErrorResponse(c, http.StatusBadRequest, payErr.Code, payErr.Message)
		return "", false
	}
	return key, true
}

func handleServiceError(c *gin.Context, err error, idempotencyKey string) {
	if errors.Is(err, idempotency.ErrInProgress) {
		err = model.NewInProgressError(idempotencyKey)
	}
	statusCode, errCode := mapPaymentError(err)
	res.ErrorResponse(c, statusCode, errCode, err.Error())
}

// mapPaymentError maps stable domain codes onto HTTP statuses.
func mapPaymentError(err error) (int, string) {
	var payErr *model.PaymentError
	if !errors.As(err, &payErr) {
		return http.StatusInternalServerError, model.ErrCodeInternal
	}

	switch payErr.Code {
	case model.ErrCodeNotFound:
		return http.StatusNotFound, payErr.Code
	case model.ErrCodeInvalidArgument, model.ErrCodeMissingIdempotencyKey:
		return http.StatusBadRequest, payErr.Code
	case model.ErrCodeFailedPrecondition, model.ErrCodeAlreadyExists, model.ErrCodeAborted:
		return http.StatusConflict, payErr.Code
	case model.ErrCodeDeadlineExceeded:
		return http.StatusGatewayTimeout, payErr.Code
	default:
		return http.StatusInternalServerError, model.ErrCodeInternal
	}
}
