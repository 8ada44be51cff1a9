package apiapp

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
	"github.com/ivankudzin/tgshop/internal/transport/http/handlers"
)

type Dependencies struct {
	PaymentService *paymentsvc.Service
	Logger         *zap.Logger
}

func RegisterRoutes(r chi.Router, deps Dependencies) {
	healthHandler := handlers.NewHealthHandler()
	webhookHandler := handlers.NewWebhookHandler(deps.PaymentService, deps.Logger)

	r.Get("/healthz", healthHandler.Handle)
	r.Post("/yookassa/webhook", webhookHandler.Handle)
}
