package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
	httperrors "github.com/ivankudzin/tgshop/internal/transport/http/errors"
)

const (
	signatureHeader = "X-Webhook-Signature"
	maxWebhookBody  = 64 << 10
)

type WebhookHandler struct {
	payments *paymentsvc.Service
	logger   *zap.Logger
}

type webhookNotification struct {
	Type   string `json:"type"`
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"object"`
}

func NewWebhookHandler(payments *paymentsvc.Service, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{payments: payments, logger: logger}
}

// Handle accepts gateway payment notifications. The notification only names a
// payment id; the payments service re-fetches the authoritative status, so a
// forged body that passes the signature check still cannot grant a delivery.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if h.payments == nil {
		writeInternal(w, "PAYMENTS_SERVICE_UNAVAILABLE", "payments service is unavailable")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "failed to read request body")
		return
	}
	if len(body) > maxWebhookBody {
		writeBadRequest(w, "VALIDATION_ERROR", "request body too large")
		return
	}

	if !h.payments.VerifyWebhookSignature(body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
		httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{
			Code:    "SIGNATURE_INVALID",
			Message: "webhook signature rejected",
		})
		return
	}

	var notification webhookNotification
	if err := json.Unmarshal(body, &notification); err != nil || notification.Object.ID == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "malformed notification body")
		return
	}

	err = h.payments.HandleWebhookEvent(r.Context(), notification.Object.ID)
	switch {
	case err == nil:
		httperrors.Write(w, http.StatusOK, map[string]string{"result": "ok"})
	case errors.Is(err, paymentsvc.ErrGatewayUnavailable):
		// 503 asks the gateway to redeliver once it is reachable again.
		httperrors.Write(w, http.StatusServiceUnavailable, httperrors.APIError{
			Code:    "GATEWAY_UNAVAILABLE",
			Message: "payment gateway is unavailable",
		})
	case errors.Is(err, paymentsvc.ErrPaymentNotFound), errors.Is(err, paymentsvc.ErrProductGone):
		// Redelivery cannot fix an unknown payment, acknowledge and move on.
		httperrors.Write(w, http.StatusOK, map[string]string{"result": "ignored"})
	case errors.Is(err, paymentsvc.ErrValidation):
		writeBadRequest(w, "VALIDATION_ERROR", "invalid notification payload")
	default:
		h.logger.Error("webhook processing failed",
			zap.String("payment_id", notification.Object.ID),
			zap.Error(err),
		)
		writeInternal(w, "INTERNAL_ERROR", "failed to process notification")
	}
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
