// internal/handlers/payment/payment_handler.go
package payment

import (
	"net/http"
	"strconv"

	"audiotricks-service/internal/domain/payment"
	"audiotricks-service/internal/middleware"
	"audiotricks-service/internal/pkg/response"
	paymentUsecase "audiotricks-service/internal/service/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// maxWebhookBody matches Stripe's documented payload ceiling.
const maxWebhookBody = 65536

type PaymentHandler struct {
	service *paymentUsecase.PaymentService
	logger  *zap.Logger
}

func NewPaymentHandler(service *paymentUsecase.PaymentService, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{service: service, logger: logger}
}

func workspaceID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, http.StatusBadRequest, "invalid workspace id", err)
		return 0, false
	}
	return id, true
}

// ========== Catalogue ==========

// ListPlans prices public plans in ?currency= (USD by default).
func (h *PaymentHandler) ListPlans(c *gin.Context) {
	plans, err := h.service.ListPlans(c.Request.Context(), c.DefaultQuery("currency", "USD"))
	if err != nil {
		response.FromError(c, "failed to list plans", err)
		return
	}
	response.Success(c, http.StatusOK, "plans retrieved", plans)
}

func (h *PaymentHandler) ListCurrencies(c *gin.Context) {
	list, err := h.service.ListCurrencies(c.Request.Context())
	if err != nil {
		response.FromError(c, "failed to list currencies", err)
		return
	}
	response.Success(c, http.StatusOK, "currencies retrieved", list)
}

// UpdateCurrencyRate is mounted under the admin group.
func (h *PaymentHandler) UpdateCurrencyRate(c *gin.Context) {
	var req payment.UpdateRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	cur, err := h.service.UpdateCurrencyRate(c.Request.Context(), c.Param("code"), &req)
	if err != nil {
		response.FromError(c, "failed to update currency", err)
		return
	}
	response.Success(c, http.StatusOK, "currency updated", cur)
}

// ========== Workspace subscriptions ==========

func (h *PaymentHandler) GetSubscription(c *gin.Context) {
	id, ok := workspaceID(c)
	if !ok {
		return
	}

	view, err := h.service.GetWorkspaceSubscription(c.Request.Context(), middleware.MustGetUserID(c), id)
	if err != nil {
		response.FromError(c, "failed to get subscription", err)
		return
	}
	response.Success(c, http.StatusOK, "subscription retrieved", view)
}

func (h *PaymentHandler) StartCheckout(c *gin.Context) {
	id, ok := workspaceID(c)
	if !ok {
		return
	}
	var req payment.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	resp, err := h.service.StartCheckout(c.Request.Context(), middleware.MustGetUserID(c), id, &req)
	if err != nil {
		response.FromError(c, "failed to start checkout", err)
		return
	}
	response.Success(c, http.StatusCreated, "checkout session created", resp)
}

func (h *PaymentHandler) CancelSubscription(c *gin.Context) {
	id, ok := workspaceID(c)
	if !ok {
		return
	}

	if err := h.service.CancelWorkspaceSubscription(c.Request.Context(), middleware.MustGetUserID(c), id); err != nil {
		response.FromError(c, "failed to cancel subscription", err)
		return
	}
	response.Success(c, http.StatusOK, "subscription cancelled", nil)
}

func (h *PaymentHandler) CreateSetupIntent(c *gin.Context) {
	var req payment.SetupIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err)
		return
	}

	resp, err := h.service.CreateSetupIntent(c.Request.Context(), middleware.MustGetUserID(c), &req)
	if err != nil {
		response.FromError(c, "failed to create setup intent", err)
		return
	}
	response.Success(c, http.StatusCreated, "setup intent created", resp)
}

// ========== Webhook ==========

// Webhook needs the untouched body for signature verification.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	payload, err := readLimited(c, maxWebhookBody)
	if err != nil {
		response.Error(c, http.StatusRequestEntityTooLarge, "payload too large", err)
		return
	}

	if err := h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		h.logger.Warn("stripe webhook rejected", zap.Error(err))
		response.FromError(c, "webhook rejected", err)
		return
	}
	c.Status(http.StatusOK)
}

func readLimited(c *gin.Context, limit int64) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	return c.GetRawData()
}
