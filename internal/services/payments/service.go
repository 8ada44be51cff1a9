package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgshop/internal/domain/enums"
	"github.com/ivankudzin/tgshop/internal/infra/yookassa"
	pgrepo "github.com/ivankudzin/tgshop/internal/repo/postgres"
	catalogsvc "github.com/ivankudzin/tgshop/internal/services/catalog"
	ratesvc "github.com/ivankudzin/tgshop/internal/services/rate"
)

const starsCurrency = "XTR"

var (
	ErrValidation         = errors.New("validation error")
	ErrRateLimited        = errors.New("too many payment attempts")
	ErrTokenInvalid       = errors.New("payment token rejected")
	ErrPaymentNotFound    = errors.New("payment not found")
	ErrPaymentPending     = errors.New("payment is not paid yet")
	ErrPaymentCanceled    = errors.New("payment is canceled")
	ErrGatewayUnavailable = errors.New("payment gateway is unavailable")
	ErrGatewayDisabled    = errors.New("card payments are not configured")
	ErrProductGone        = errors.New("product no longer exists")
	ErrDependenciesNil    = errors.New("payments dependencies are not configured")
)

type RateLimitedError struct {
	RetryAfterSec int64
}

func (e RateLimitedError) Error() string {
	return "too many payment attempts"
}

func (e RateLimitedError) RetryAfter() int64 {
	if e.RetryAfterSec <= 0 {
		return 1
	}
	return e.RetryAfterSec
}

func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl RateLimitedError
	if errors.As(err, &rl) {
		return &rl, true
	}
	return nil, false
}

type TokenCodec interface {
	Issue(userID int64, productID string) (string, error)
	Verify(token string, userID int64) (string, error)
}

type ProductCatalog interface {
	Get(ctx context.Context, id string) (catalogsvc.Product, error)
}

type GatewayStore interface {
	Create(ctx context.Context, record pgrepo.GatewayPaymentRecord) (pgrepo.GatewayPaymentRecord, error)
	Find(ctx context.Context, paymentID string) (pgrepo.GatewayPaymentRecord, error)
	UpdateStatus(ctx context.Context, paymentID string, status enums.PaymentStatus) (pgrepo.GatewayPaymentRecord, bool, error)
	ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]pgrepo.GatewayPaymentRecord, error)
	ExportAll(ctx context.Context) ([]pgrepo.GatewayPaymentRecord, error)
	PurgeAll(ctx context.Context) (int64, error)
}

type Ledger interface {
	AppendStars(ctx context.Context, entry pgrepo.LedgerEntry) (pgrepo.LedgerEntry, error)
	AppendGateway(ctx context.Context, entry pgrepo.LedgerEntry, gatewayPaymentID string) (bool, error)
	MarkChargeProcessed(ctx context.Context, chargeID string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]pgrepo.LedgerEntry, error)
	ExportAll(ctx context.Context) ([]pgrepo.LedgerEntry, []string, error)
	PurgeAll(ctx context.Context) (int64, error)
}

type GatewayClient interface {
	Configured() bool
	CreatePayment(ctx context.Context, req yookassa.CreatePaymentRequest, idempotenceKey string) (yookassa.Payment, error)
	GetPayment(ctx context.Context, paymentID string) (yookassa.Payment, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, userID int64, action string, rule ratesvc.Rule) (int64, bool, error)
}

// DeliveryNotifier lets webhook and reconciliation paths push the purchase to
// the buyer even though no chat update started the flow.
type DeliveryNotifier interface {
	NotifyGatewayDelivery(ctx context.Context, userID int64, delivery Delivery)
}

type Limits struct {
	StarsInvoice  ratesvc.Rule
	GatewayCreate ratesvc.Rule
	GatewayCheck  ratesvc.Rule
}

type Service struct {
	catalog       ProductCatalog
	store         GatewayStore
	ledger        Ledger
	gateway       GatewayClient
	codec         TokenCodec
	limiter       RateLimiter
	notifier      DeliveryNotifier
	logger        *zap.Logger
	limits        Limits
	integritySalt []byte
	returnURL     string
	webhookSecret []byte
	now           func() time.Time
}

type Dependencies struct {
	Catalog       ProductCatalog
	Store         GatewayStore
	Ledger        Ledger
	Gateway       GatewayClient
	Codec         TokenCodec
	Limiter       RateLimiter
	Logger        *zap.Logger
	Limits        Limits
	IntegritySalt string
	ReturnURL     string
	WebhookSecret string
}

// Invoice is everything a bot needs to send a native stars invoice.
type Invoice struct {
	ProductID  string
	Title      string
	Details    string
	Payload    string
	PriceStars int64
}

type Delivery struct {
	Product          catalogsvc.Product
	Method           enums.PaymentMethod
	GatewayPaymentID string
	AlreadyDelivered bool
}

type GatewayInvoice struct {
	PaymentID   string
	RedirectURL string
	AmountRub   int64
	Title       string
}

func NewService(deps Dependencies) (*Service, error) {
	if deps.Catalog == nil || deps.Store == nil || deps.Ledger == nil || deps.Codec == nil {
		return nil, ErrDependenciesNil
	}
	if strings.TrimSpace(deps.IntegritySalt) == "" {
		return nil, fmt.Errorf("integrity salt is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		catalog:       deps.Catalog,
		store:         deps.Store,
		ledger:        deps.Ledger,
		gateway:       deps.Gateway,
		codec:         deps.Codec,
		limiter:       deps.Limiter,
		logger:        logger,
		limits:        deps.Limits,
		integritySalt: []byte(deps.IntegritySalt),
		returnURL:     strings.TrimSpace(deps.ReturnURL),
		webhookSecret: []byte(strings.TrimSpace(deps.WebhookSecret)),
		now:           time.Now,
	}, nil
}

func (s *Service) AttachNotifier(notifier DeliveryNotifier) {
	s.notifier = notifier
}

// BeginStarsInvoice prepares a signed invoice payload for a native stars
// purchase. The returned payload travels through Telegram and comes back in
// the successful payment update.
func (s *Service) BeginStarsInvoice(ctx context.Context, userID int64, productID string) (Invoice, error) {
	if userID <= 0 || strings.TrimSpace(productID) == "" {
		return Invoice{}, ErrValidation
	}

	if err := s.allow(ctx, userID, "stars_invoice", s.limits.StarsInvoice); err != nil {
		return Invoice{}, err
	}

	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			return Invoice{}, ErrProductGone
		}
		return Invoice{}, err
	}

	payload, err := s.codec.Issue(userID, product.ID)
	if err != nil {
		return Invoice{}, fmt.Errorf("issue invoice payload: %w", err)
	}

	details := product.Description
	if details == "" {
		details = product.Title
	}

	return Invoice{
		ProductID:  product.ID,
		Title:      product.Title,
		Details:    details,
		Payload:    payload,
		PriceStars: product.PriceStars,
	}, nil
}

// VerifyStarsPayload re-checks the signed payload at pre-checkout time, before
// Telegram charges the buyer. A rejection here cancels the charge entirely.
func (s *Service) VerifyStarsPayload(userID int64, payload string) error {
	if userID <= 0 || payload == "" {
		return ErrTokenInvalid
	}
	if _, err := s.codec.Verify(payload, userID); err != nil {
		return ErrTokenInvalid
	}
	return nil
}

// ConfirmStarsPayment settles a successful native payment. The charge id is
// claimed before anything else so a replayed update cannot deliver twice.
func (s *Service) ConfirmStarsPayment(ctx context.Context, userID int64, chargeID, currency, payload string) (Delivery, error) {
	if userID <= 0 || strings.TrimSpace(chargeID) == "" {
		return Delivery{}, ErrValidation
	}
	if currency != starsCurrency {
		s.logger.Warn("stars payment with foreign currency",
			zap.Int64("user_id", userID),
			zap.String("currency", currency),
		)
		return Delivery{}, ErrValidation
	}

	productID, err := s.codec.Verify(payload, userID)
	if err != nil {
		s.logger.Warn("stars payment with invalid payload", zap.Int64("user_id", userID))
		return Delivery{}, ErrTokenInvalid
	}

	claimed, err := s.ledger.MarkChargeProcessed(ctx, chargeID)
	if err != nil {
		return Delivery{}, err
	}
	if !claimed {
		s.logger.Info("duplicate stars charge ignored",
			zap.Int64("user_id", userID),
			zap.String("charge_id", chargeID),
		)
		product, perr := s.catalog.Get(ctx, productID)
		if perr != nil {
			return Delivery{}, ErrProductGone
		}
		return Delivery{Product: product, Method: enums.PaymentMethodStars, AlreadyDelivered: true}, nil
	}

	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			s.logger.Error("paid stars charge references missing product",
				zap.Int64("user_id", userID),
				zap.String("product_id", productID),
				zap.String("charge_id", chargeID),
			)
			return Delivery{}, ErrProductGone
		}
		return Delivery{}, err
	}

	if _, err := s.ledger.AppendStars(ctx, pgrepo.LedgerEntry{
		UserID:     userID,
		ProductID:  product.ID,
		Title:      product.Title,
		PriceStars: product.PriceStars,
		PriceRub:   product.PriceRub,
	}); err != nil {
		return Delivery{}, err
	}

	s.logger.Info("stars purchase settled",
		zap.Int64("user_id", userID),
		zap.String("product_id", product.ID),
		zap.String("charge_id", chargeID),
	)
	return Delivery{Product: product, Method: enums.PaymentMethodStars}, nil
}

// CreateGatewayPayment registers a card payment and stores the pending record
// with an integrity hash binding buyer, product and amount. originMessageID is
// the chat message the checkout was started from; zero means unknown.
func (s *Service) CreateGatewayPayment(ctx context.Context, userID int64, productID string, originMessageID int) (GatewayInvoice, error) {
	if userID <= 0 || strings.TrimSpace(productID) == "" {
		return GatewayInvoice{}, ErrValidation
	}
	if s.gateway == nil || !s.gateway.Configured() {
		return GatewayInvoice{}, ErrGatewayDisabled
	}

	if err := s.allow(ctx, userID, "gateway_create", s.limits.GatewayCreate); err != nil {
		return GatewayInvoice{}, err
	}

	product, err := s.catalog.Get(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			return GatewayInvoice{}, ErrProductGone
		}
		return GatewayInvoice{}, err
	}

	payment, err := s.gateway.CreatePayment(ctx, yookassa.CreatePaymentRequest{
		AmountRub:   product.PriceRub,
		Description: product.Title,
		ReturnURL:   s.returnURL,
		Metadata: map[string]string{
			"user_id":    strconv.FormatInt(userID, 10),
			"product_id": product.ID,
		},
	}, uuid.NewString())
	if err != nil {
		if errors.Is(err, yookassa.ErrUnavailable) {
			return GatewayInvoice{}, ErrGatewayUnavailable
		}
		return GatewayInvoice{}, err
	}

	redirectURL := ""
	if payment.Confirmation != nil {
		redirectURL = payment.Confirmation.ConfirmationURL
	}
	if redirectURL == "" {
		return GatewayInvoice{}, fmt.Errorf("gateway returned no confirmation url")
	}

	status, err := enums.ParsePaymentStatus(payment.Status)
	if err != nil {
		status = enums.PaymentStatusPending
	}

	record := pgrepo.GatewayPaymentRecord{
		PaymentID:     payment.ID,
		UserID:        userID,
		ProductID:     product.ID,
		AmountRub:     product.PriceRub,
		Status:        status,
		RedirectURL:   redirectURL,
		IntegrityHash: s.integrityHash(userID, product.ID, product.PriceRub),
	}
	if originMessageID > 0 {
		messageID := int64(originMessageID)
		record.MessageID = &messageID
	}
	if _, err := s.store.Create(ctx, record); err != nil && !errors.Is(err, pgrepo.ErrPaymentExists) {
		return GatewayInvoice{}, err
	}

	s.logger.Info("gateway payment created",
		zap.Int64("user_id", userID),
		zap.String("product_id", product.ID),
		zap.String("payment_id", payment.ID),
	)
	return GatewayInvoice{
		PaymentID:   payment.ID,
		RedirectURL: redirectURL,
		AmountRub:   product.PriceRub,
		Title:       product.Title,
	}, nil
}

// CheckGatewayPayment is the buyer-initiated status check. Ownership is
// verified before the rate limit so probing foreign payment ids always fails
// the same way regardless of remaining quota.
func (s *Service) CheckGatewayPayment(ctx context.Context, userID int64, paymentID string) (Delivery, error) {
	if userID <= 0 || strings.TrimSpace(paymentID) == "" {
		return Delivery{}, ErrValidation
	}

	record, err := s.loadOwnedRecord(ctx, userID, paymentID)
	if err != nil {
		return Delivery{}, err
	}

	if err := s.allow(ctx, userID, "gateway_check", s.limits.GatewayCheck); err != nil {
		return Delivery{}, err
	}

	return s.settle(ctx, record, false)
}

// HandleWebhookEvent settles the payment a webhook notification points at.
// The notification body is only a hint: the authoritative status is always
// re-fetched from the gateway.
func (s *Service) HandleWebhookEvent(ctx context.Context, paymentID string) error {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return ErrValidation
	}

	record, err := s.store.Find(ctx, paymentID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			s.logger.Warn("webhook for unknown payment", zap.String("payment_id", paymentID))
			return ErrPaymentNotFound
		}
		return err
	}
	if !s.verifyIntegrity(record) {
		return ErrPaymentNotFound
	}

	_, err = s.settle(ctx, record, true)
	switch {
	case errors.Is(err, ErrPaymentPending), errors.Is(err, ErrPaymentCanceled):
		return nil
	default:
		return err
	}
}

// VerifyWebhookSignature checks the `sha256=<hex>` signature header computed
// over the raw request body.
func (s *Service) VerifyWebhookSignature(body []byte, header string) bool {
	if len(s.webhookSecret) == 0 {
		return false
	}
	expected, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, s.webhookSecret)
	mac.Write(body)
	return hmac.Equal([]byte(expected), []byte(hex.EncodeToString(mac.Sum(nil))))
}

func (s *Service) WebhookConfigured() bool {
	return len(s.webhookSecret) > 0
}

// GatewayEnabled reports whether card payments can be offered at all.
func (s *Service) GatewayEnabled() bool {
	return s.gateway != nil && s.gateway.Configured()
}

// ReconcilePending sweeps stale pending payments and settles those the
// gateway has already decided. Returns how many records changed state.
func (s *Service) ReconcilePending(ctx context.Context, grace time.Duration, limit int) (int, error) {
	if s.gateway == nil || !s.gateway.Configured() {
		return 0, nil
	}

	cutoff := s.now().Add(-grace)
	records, err := s.store.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, record := range records {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		if !s.verifyIntegrity(record) {
			continue
		}

		_, err := s.settle(ctx, record, true)
		switch {
		case err == nil:
			settled++
		case errors.Is(err, ErrPaymentCanceled):
			settled++
		case errors.Is(err, ErrPaymentPending):
		case errors.Is(err, ErrGatewayUnavailable):
			return settled, err
		default:
			s.logger.Error("reconcile payment failed",
				zap.String("payment_id", record.PaymentID),
				zap.Error(err),
			)
		}
	}
	return settled, nil
}

// settle drives one payment record to its current gateway status and delivers
// on success. The ledger unique index makes delivery happen exactly once no
// matter how many of the check, webhook and reconcile paths race.
func (s *Service) settle(ctx context.Context, record pgrepo.GatewayPaymentRecord, notify bool) (Delivery, error) {
	if record.Status == enums.PaymentStatusSucceeded {
		return s.deliverGateway(ctx, record, notify)
	}
	if record.Status == enums.PaymentStatusCanceled {
		return Delivery{}, ErrPaymentCanceled
	}

	payment, err := s.gateway.GetPayment(ctx, record.PaymentID)
	if err != nil {
		switch {
		case errors.Is(err, yookassa.ErrUnavailable):
			return Delivery{}, ErrGatewayUnavailable
		case errors.Is(err, yookassa.ErrNotFound):
			s.logger.Warn("stored payment unknown to gateway", zap.String("payment_id", record.PaymentID))
			return Delivery{}, ErrPaymentNotFound
		}
		return Delivery{}, err
	}

	status, err := enums.ParsePaymentStatus(payment.Status)
	if err != nil {
		s.logger.Warn("gateway returned unknown status",
			zap.String("payment_id", record.PaymentID),
			zap.String("status", payment.Status),
		)
		return Delivery{}, ErrPaymentPending
	}

	if enums.CanTransition(record.Status, status) {
		updated, changed, err := s.store.UpdateStatus(ctx, record.PaymentID, status)
		if err != nil {
			return Delivery{}, err
		}
		if changed {
			record = updated
		} else {
			record.Status = updated.Status
		}
	}

	switch record.Status {
	case enums.PaymentStatusSucceeded:
		return s.deliverGateway(ctx, record, notify)
	case enums.PaymentStatusCanceled:
		return Delivery{}, ErrPaymentCanceled
	default:
		return Delivery{}, ErrPaymentPending
	}
}

func (s *Service) deliverGateway(ctx context.Context, record pgrepo.GatewayPaymentRecord, notify bool) (Delivery, error) {
	product, err := s.catalog.Get(ctx, record.ProductID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrProductNotFound) {
			s.logger.Error("paid gateway payment references missing product",
				zap.String("payment_id", record.PaymentID),
				zap.String("product_id", record.ProductID),
			)
			return Delivery{}, ErrProductGone
		}
		return Delivery{}, err
	}

	inserted, err := s.ledger.AppendGateway(ctx, pgrepo.LedgerEntry{
		UserID:     record.UserID,
		ProductID:  product.ID,
		Title:      product.Title,
		PriceStars: product.PriceStars,
		PriceRub:   record.AmountRub,
	}, record.PaymentID)
	if err != nil {
		return Delivery{}, err
	}

	delivery := Delivery{
		Product:          product,
		Method:           enums.PaymentMethodYooKassa,
		GatewayPaymentID: record.PaymentID,
		AlreadyDelivered: !inserted,
	}
	if inserted {
		s.logger.Info("gateway purchase settled",
			zap.Int64("user_id", record.UserID),
			zap.String("product_id", product.ID),
			zap.String("payment_id", record.PaymentID),
		)
		if notify && s.notifier != nil {
			s.notifier.NotifyGatewayDelivery(ctx, record.UserID, delivery)
		}
	}
	return delivery, nil
}

func (s *Service) loadOwnedRecord(ctx context.Context, userID int64, paymentID string) (pgrepo.GatewayPaymentRecord, error) {
	record, err := s.store.Find(ctx, strings.TrimSpace(paymentID))
	if err != nil {
		if errors.Is(err, pgrepo.ErrPaymentNotFound) {
			return pgrepo.GatewayPaymentRecord{}, ErrPaymentNotFound
		}
		return pgrepo.GatewayPaymentRecord{}, err
	}

	// Foreign ids answer exactly like unknown ids so the check endpoint
	// cannot be used to enumerate other buyers' payments.
	if record.UserID != userID {
		s.logger.Error("payment check for foreign payment",
			zap.Int64("user_id", userID),
			zap.Int64("owner_id", record.UserID),
			zap.String("payment_id", record.PaymentID),
		)
		return pgrepo.GatewayPaymentRecord{}, ErrPaymentNotFound
	}
	if !s.verifyIntegrity(record) {
		return pgrepo.GatewayPaymentRecord{}, ErrPaymentNotFound
	}
	return record, nil
}

func (s *Service) allow(ctx context.Context, userID int64, action string, rule ratesvc.Rule) error {
	if s.limiter == nil {
		return nil
	}

	retryAfter, allowed, err := s.limiter.Allow(ctx, userID, action, rule)
	if err != nil {
		// The limiter is protective, not load-bearing: a broken redis
		// must not block paying customers.
		s.logger.Warn("rate limiter unavailable", zap.String("action", action), zap.Error(err))
		return nil
	}
	if !allowed {
		return RateLimitedError{RetryAfterSec: retryAfter}
	}
	return nil
}

func (s *Service) integrityHash(userID int64, productID string, amountRub int64) string {
	mac := hmac.New(sha256.New, s.integritySalt)
	fmt.Fprintf(mac, "%d:%s:%d", userID, productID, amountRub)
	return hex.EncodeToString(mac.Sum(nil))[:16]
}

func (s *Service) verifyIntegrity(record pgrepo.GatewayPaymentRecord) bool {
	expected := s.integrityHash(record.UserID, record.ProductID, record.AmountRub)
	if hmac.Equal([]byte(record.IntegrityHash), []byte(expected)) {
		return true
	}
	s.logger.Error("payment record failed integrity check",
		zap.String("payment_id", record.PaymentID),
		zap.Int64("user_id", record.UserID),
	)
	return false
}
