package yookassa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultBaseURL = "https://api.yookassa.ru/v3"

var (
	ErrNotConfigured = errors.New("yookassa credentials are not configured")
	ErrUnavailable   = errors.New("yookassa is unavailable")
	ErrNotFound      = errors.New("yookassa payment not found")
)

type Config struct {
	ShopID    string
	SecretKey string
	BaseURL   string
	Timeout   time.Duration
}

type Client struct {
	shopID    string
	secretKey string
	baseURL   string
	httpc     *http.Client
}

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type Payment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       Amount            `json:"amount"`
	Confirmation *Confirmation     `json:"confirmation,omitempty"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type CreatePaymentRequest struct {
	AmountRub   int64
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &Client{
		shopID:    strings.TrimSpace(cfg.ShopID),
		secretKey: strings.TrimSpace(cfg.SecretKey),
		baseURL:   baseURL,
		httpc:     &http.Client{Timeout: timeout},
	}
}

func (c *Client) Configured() bool {
	return c != nil && c.shopID != "" && c.secretKey != ""
}

// CreatePayment registers a redirect payment. The idempotence key makes
// network retries safe: the gateway returns the original payment for a
// repeated key instead of charging twice.
func (c *Client) CreatePayment(ctx context.Context, req CreatePaymentRequest, idempotenceKey string) (Payment, error) {
	if !c.Configured() {
		return Payment{}, ErrNotConfigured
	}
	if req.AmountRub <= 0 {
		return Payment{}, fmt.Errorf("payment amount must be positive")
	}
	if strings.TrimSpace(idempotenceKey) == "" {
		return Payment{}, fmt.Errorf("idempotence key is required")
	}

	body := map[string]any{
		"amount": Amount{
			Value:    fmt.Sprintf("%d.00", req.AmountRub),
			Currency: "RUB",
		},
		"capture":     true,
		"description": req.Description,
		"confirmation": Confirmation{
			Type:      "redirect",
			ReturnURL: req.ReturnURL,
		},
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}

	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/payments", idempotenceKey, body, &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (c *Client) GetPayment(ctx context.Context, paymentID string) (Payment, error) {
	if !c.Configured() {
		return Payment{}, ErrNotConfigured
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return Payment{}, fmt.Errorf("payment id is required")
	}

	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/payments/"+paymentID, "", nil, &payment); err != nil {
		return Payment{}, err
	}
	return payment, nil
}

func (c *Client) do(ctx context.Context, method, path, idempotenceKey string, body any, out *Payment) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode yookassa request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build yookassa request: %w", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set("Idempotence-Key", idempotenceKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read yookassa response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode >= 400:
		return fmt.Errorf("yookassa rejected request: status %d, body %s", resp.StatusCode, truncateBody(payload))
	}

	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode yookassa response: %w", err)
	}
	if out.ID == "" || out.Status == "" {
		return fmt.Errorf("yookassa response misses id or status")
	}
	return nil
}

func truncateBody(body []byte) string {
	const limit = 256
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
