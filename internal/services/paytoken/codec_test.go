package paytoken

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestCodecRoundTrip(t *testing.T) {
	codec := newTestCodec(t, time.Now())

	token, err := codec.Issue(42, "vpn_month")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	if len(token) > 128 {
		t.Fatalf("token exceeds invoice payload cap: %d bytes", len(token))
	}

	productID, err := codec.Verify(token, 42)
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if productID != "vpn_month" {
		t.Fatalf("unexpected product id: %q", productID)
	}
}

func TestCodecRejectsTamperedToken(t *testing.T) {
	codec := newTestCodec(t, time.Now())

	token, err := codec.Issue(42, "vpn_month")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	tampered := strings.Replace(token, "p=vpn_month", "p=vpn_year", 1)
	if tampered == token {
		t.Fatalf("tamper replacement did not apply")
	}

	if _, err := codec.Verify(tampered, 42); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for tampered payload, got %v", err)
	}
}

func TestCodecRejectsForeignUser(t *testing.T) {
	codec := newTestCodec(t, time.Now())

	token, err := codec.Issue(42, "vpn_month")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	if _, err := codec.Verify(token, 43); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for foreign user, got %v", err)
	}
}

func TestCodecFreshnessWindow(t *testing.T) {
	issuedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	codec := newTestCodec(t, issuedAt)

	token, err := codec.Issue(42, "vpn_month")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	cases := []struct {
		name    string
		checkAt time.Time
		wantErr bool
	}{
		{"half window", issuedAt.Add(30 * time.Minute), false},
		{"just inside", issuedAt.Add(59 * time.Minute), false},
		{"expired", issuedAt.Add(61 * time.Minute), true},
		{"small clock skew", issuedAt.Add(-4 * time.Minute), false},
		{"issued in the future", issuedAt.Add(-6 * time.Minute), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			codec.now = func() time.Time { return tc.checkAt }
			_, err := codec.Verify(token, 42)
			if tc.wantErr && !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected verify error: %v", err)
			}
		})
	}
}

func TestCodecRejectsMalformedTokens(t *testing.T) {
	codec := newTestCodec(t, time.Now())

	valid, err := codec.Issue(42, "vpn_month")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	cases := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not-a-token"},
		{"missing signature", strings.TrimSuffix(valid, "&h="+valid[strings.LastIndex(valid, "=")+1:])},
		{"dropped field", strings.Replace(valid, "v=1&", "", 1)},
		{"wrong version", strings.Replace(valid, "v=1", "v=2", 1)},
		{"duplicate field", valid + "&v=1"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := codec.Verify(tc.token, 42); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestCodecDistinctNonces(t *testing.T) {
	codec := newTestCodec(t, time.Now())

	first, err := codec.Issue(42, "vpn_month")
	if err != nil {
		t.Fatalf("issue first token: %v", err)
	}
	second, err := codec.Issue(42, "vpn_month")
	if err != nil {
		t.Fatalf("issue second token: %v", err)
	}
	if first == second {
		t.Fatalf("tokens for the same purchase must carry distinct nonces")
	}
}

func TestCodecIssueRejectsOversizedProduct(t *testing.T) {
	codec := newTestCodec(t, time.Now())

	if _, err := codec.Issue(42, strings.Repeat("x", 120)); err == nil {
		t.Fatalf("expected size error for oversized product id")
	}
}

func newTestCodec(t *testing.T, now time.Time) *Codec {
	t.Helper()

	codec, err := NewCodec("test-secret", time.Hour, 5*time.Minute)
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	codec.now = func() time.Time { return now }
	return codec
}
