package paytoken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Telegram caps invoice payloads at 128 bytes, which is why the signature is
// truncated and why Issue refuses oversized product ids up front.
const (
	tokenVersion    = "1"
	maxPayloadBytes = 128
	signatureHexLen = 32
)

var ErrInvalidToken = errors.New("invalid payment token")

type Codec struct {
	secret     []byte
	pastWindow time.Duration
	futureSkew time.Duration
	now        func() time.Time
}

func NewCodec(secret string, pastWindow, futureSkew time.Duration) (*Codec, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("token secret is required")
	}
	if pastWindow <= 0 || futureSkew <= 0 {
		return nil, fmt.Errorf("token windows must be positive")
	}

	return &Codec{
		secret:     []byte(secret),
		pastWindow: pastWindow,
		futureSkew: futureSkew,
		now:        time.Now,
	}, nil
}

// Issue signs a token binding the product to the buyer. The token carries a
// random nonce so two invoices for the same product never collide.
func (c *Codec) Issue(userID int64, productID string) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("invalid user id")
	}
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return "", fmt.Errorf("product id is required")
	}
	if strings.ContainsAny(productID, "&=") {
		return "", fmt.Errorf("product id contains reserved characters")
	}

	fields := map[string]string{
		"n": strings.ReplaceAll(uuid.NewString(), "-", "")[:8],
		"p": productID,
		"t": strconv.FormatInt(c.now().Unix(), 10),
		"u": strconv.FormatInt(userID, 10),
		"v": tokenVersion,
	}

	canonical := canonicalString(fields)
	token := canonical + "&h=" + c.sign(canonical)
	if len(token) > maxPayloadBytes {
		return "", fmt.Errorf("payment token exceeds %d bytes", maxPayloadBytes)
	}
	return token, nil
}

// Verify checks the signature, version, freshness window, and buyer binding.
// Every failure maps to the same ErrInvalidToken so callers cannot leak which
// check rejected a forged token.
func (c *Codec) Verify(token string, userID int64) (string, error) {
	if userID <= 0 {
		return "", fmt.Errorf("invalid user id")
	}

	fields, err := parseFields(token)
	if err != nil {
		return "", ErrInvalidToken
	}

	sig, ok := fields["h"]
	if !ok {
		return "", ErrInvalidToken
	}
	delete(fields, "h")

	for _, key := range []string{"n", "p", "t", "u", "v"} {
		if fields[key] == "" {
			return "", ErrInvalidToken
		}
	}
	if len(fields) != 5 {
		return "", ErrInvalidToken
	}

	expected := c.sign(canonicalString(fields))
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", ErrInvalidToken
	}

	if fields["v"] != tokenVersion {
		return "", ErrInvalidToken
	}

	issuedAt, err := strconv.ParseInt(fields["t"], 10, 64)
	if err != nil {
		return "", ErrInvalidToken
	}
	now := c.now()
	issued := time.Unix(issuedAt, 0)
	if issued.Before(now.Add(-c.pastWindow)) || issued.After(now.Add(c.futureSkew)) {
		return "", ErrInvalidToken
	}

	owner, err := strconv.ParseInt(fields["u"], 10, 64)
	if err != nil || owner != userID {
		return "", ErrInvalidToken
	}

	return fields["p"], nil
}

func (c *Codec) sign(canonical string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(canonical))
	return hex.EncodeToString(mac.Sum(nil))[:signatureHexLen]
}

func canonicalString(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+"="+fields[key])
	}
	return strings.Join(parts, "&")
}

func parseFields(token string) (map[string]string, error) {
	if token == "" || len(token) > maxPayloadBytes {
		return nil, fmt.Errorf("token size out of bounds")
	}

	fields := make(map[string]string)
	for _, pair := range strings.Split(token, "&") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" || value == "" {
			return nil, fmt.Errorf("malformed token pair")
		}
		if _, dup := fields[key]; dup {
			return nil, fmt.Errorf("duplicate token field")
		}
		fields[key] = value
	}
	return fields, nil
}
