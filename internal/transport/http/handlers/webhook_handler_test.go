package handlers

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgshop/internal/domain/enums"
	"github.com/ivankudzin/tgshop/internal/infra/yookassa"
	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
	paymentsvc "github.com/ivankudzin/tgshop/internal/services/payments"
	"github.com/ivankudzin/tgshop/internal/services/paytoken"
)

const testWebhookSecret = "hook-secret"

type stubCatalog struct{}

func (stubCatalog) Get(_ context.Context, id string) (catalogsvc.Product, error) {
	if id != "vpn_month" {
		return catalogsvc.Product{}, catalogsvc.ErrProductNotFound
	}
	return catalogsvc.Product{
		ID:          "vpn_month",
		Title:       "VPN на месяц",
		PriceStars:  150,
		PriceRub:    1500,
		DeliverText: "ключ: abc",
	}, nil
}

type stubStore struct {
	records map[string]pgrepo.GatewayPaymentRecord
}

func (s *stubStore) Create(_ context.Context, record pgrepo.GatewayPaymentRecord) (pgrepo.GatewayPaymentRecord, error) {
	s.records[record.PaymentID] = record
	return record, nil
}

func (s *stubStore) Find(_ context.Context, paymentID string) (pgrepo.GatewayPaymentRecord, error) {
	record, ok := s.records[paymentID]
	if !ok {
		return pgrepo.GatewayPaymentRecord{}, pgrepo.ErrPaymentNotFound
	}
	return record, nil
}

func (s *stubStore) UpdateStatus(_ context.Context, paymentID string, status enums.PaymentStatus) (pgrepo.GatewayPaymentRecord, bool, error) {
	record := s.records[paymentID]
	if !enums.CanTransition(record.Status, status) {
		return record, false, nil
	}
	record.Status = status
	s.records[paymentID] = record
	return record, true, nil
}

func (s *stubStore) ListStalePending(_ context.Context, _ time.Time, _ int) ([]pgrepo.GatewayPaymentRecord, error) {
	return nil, nil
}

func (s *stubStore) ExportAll(_ context.Context) ([]pgrepo.GatewayPaymentRecord, error) {
	return nil, nil
}

func (s *stubStore) PurgeAll(_ context.Context) (int64, error) { return 0, nil }

type stubLedger struct {
	gateway map[string]bool
}

func (s *stubLedger) AppendStars(_ context.Context, entry pgrepo.LedgerEntry) (pgrepo.LedgerEntry, error) {
	return entry, nil
}

func (s *stubLedger) AppendGateway(_ context.Context, _ pgrepo.LedgerEntry, gatewayPaymentID string) (bool, error) {
	if s.gateway[gatewayPaymentID] {
		return false, nil
	}
	s.gateway[gatewayPaymentID] = true
	return true, nil
}

func (s *stubLedger) MarkChargeProcessed(_ context.Context, _ string) (bool, error) { return true, nil }

func (s *stubLedger) ListByUser(_ context.Context, _ int64) ([]pgrepo.LedgerEntry, error) {
	return nil, nil
}

func (s *stubLedger) ExportAll(_ context.Context) ([]pgrepo.LedgerEntry, []string, error) {
	return nil, nil, nil
}

func (s *stubLedger) PurgeAll(_ context.Context) (int64, error) { return 0, nil }

type stubGateway struct {
	payments map[string]yookassa.Payment
	err      error
}

func (s *stubGateway) Configured() bool { return true }

func (s *stubGateway) CreatePayment(_ context.Context, _ yookassa.CreatePaymentRequest, _ string) (yookassa.Payment, error) {
	return yookassa.Payment{}, nil
}

func (s *stubGateway) GetPayment(_ context.Context, paymentID string) (yookassa.Payment, error) {
	if s.err != nil {
		return yookassa.Payment{}, s.err
	}
	payment, ok := s.payments[paymentID]
	if !ok {
		return yookassa.Payment{}, yookassa.ErrNotFound
	}
	return payment, nil
}

func newWebhookFixture(t *testing.T) (*WebhookHandler, *stubStore, *stubGateway) {
	t.Helper()

	codec, err := paytoken.NewCodec("test-secret", time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	store := &stubStore{records: make(map[string]pgrepo.GatewayPaymentRecord)}
	gateway := &stubGateway{payments: make(map[string]yookassa.Payment)}

	svc, err := paymentsvc.NewService(paymentsvc.Dependencies{
		Catalog:       stubCatalog{},
		Store:         store,
		Ledger:        &stubLedger{gateway: make(map[string]bool)},
		Gateway:       gateway,
		Codec:         codec,
		Logger:        zap.NewNop(),
		IntegritySalt: "salt",
		WebhookSecret: testWebhookSecret,
	})
	if err != nil {
		t.Fatalf("new payments service: %v", err)
	}

	return NewWebhookHandler(svc, zap.NewNop()), store, gateway
}

func signBody(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testWebhookSecret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func performWebhook(h *WebhookHandler, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/yookassa/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(signatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func seedPendingPayment(t *testing.T, store *stubStore, gateway *stubGateway, paymentID string) {
	t.Helper()

	mac := hmac.New(sha256.New, []byte("salt"))
	mac.Write([]byte("42:vpn_month:1500"))
	hash := hex.EncodeToString(mac.Sum(nil))[:16]

	store.records[paymentID] = pgrepo.GatewayPaymentRecord{
		PaymentID:     paymentID,
		UserID:        42,
		ProductID:     "vpn_month",
		AmountRub:     1500,
		Status:        enums.PaymentStatusPending,
		IntegrityHash: hash,
		CreatedAt:     time.Now(),
	}
	gateway.payments[paymentID] = yookassa.Payment{ID: paymentID, Status: "pending"}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	h, _, _ := newWebhookFixture(t)

	body := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"pay-1"}}`)

	if rec := performWebhook(h, body, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}
	if rec := performWebhook(h, body, "sha256=deadbeef"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for forged signature, got %d", rec.Code)
	}
}

func TestWebhookRejectsGarbageBody(t *testing.T) {
	h, _, _ := newWebhookFixture(t)

	body := []byte(`not json at all`)

	if rec := performWebhook(h, body, signBody(body)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for garbage body, got %d", rec.Code)
	}

	noID := []byte(`{"type":"notification","event":"payment.succeeded","object":{}}`)
	if rec := performWebhook(h, noID, signBody(noID)); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing payment id, got %d", rec.Code)
	}
}

func TestWebhookSettlesPaidPayment(t *testing.T) {
	h, store, gateway := newWebhookFixture(t)
	seedPendingPayment(t, store, gateway, "pay-1")

	gateway.payments["pay-1"] = yookassa.Payment{ID: "pay-1", Status: "succeeded"}

	body := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"pay-1"}}`)
	if rec := performWebhook(h, body, signBody(body)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	if store.records["pay-1"].Status != enums.PaymentStatusSucceeded {
		t.Fatalf("stored status not updated: %s", store.records["pay-1"].Status)
	}

	// Replay acknowledges without a second delivery.
	if rec := performWebhook(h, body, signBody(body)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", rec.Code)
	}
}

func TestWebhookUnknownPaymentIsAcknowledged(t *testing.T) {
	h, _, _ := newWebhookFixture(t)

	body := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"ghost"}}`)
	if rec := performWebhook(h, body, signBody(body)); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unknown payment, got %d", rec.Code)
	}
}

func TestWebhookGatewayOutageAsksForRedelivery(t *testing.T) {
	h, store, gateway := newWebhookFixture(t)
	seedPendingPayment(t, store, gateway, "pay-1")

	gateway.err = yookassa.ErrUnavailable

	body := []byte(`{"type":"notification","event":"payment.succeeded","object":{"id":"pay-1"}}`)
	if rec := performWebhook(h, body, signBody(body)); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 during gateway outage, got %d", rec.Code)
	}
}
