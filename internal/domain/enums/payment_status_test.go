package enums

import "testing"

func TestParsePaymentStatus(t *testing.T) {
	cases := []struct {
		raw     string
		want    PaymentStatus
		wantErr bool
	}{
		{raw: "pending", want: PaymentStatusPending},
		{raw: "  WAITING_FOR_CAPTURE ", want: PaymentStatusWaitingCapture},
		{raw: "Succeeded", want: PaymentStatusSucceeded},
		{raw: "canceled", want: PaymentStatusCanceled},
		{raw: "refunded", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParsePaymentStatus(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parse %q: %v", tc.raw, err)
		}
		if got != tc.want {
			t.Fatalf("parse %q: got %q want %q", tc.raw, got, tc.want)
		}
	}
}

func TestTerminalStatusAcceptsNoTransition(t *testing.T) {
	all := []PaymentStatus{
		PaymentStatusPending,
		PaymentStatusWaitingCapture,
		PaymentStatusSucceeded,
		PaymentStatusCanceled,
	}

	for _, to := range all {
		if CanTransition(PaymentStatusSucceeded, to) {
			t.Fatalf("succeeded must not transition to %q", to)
		}
		if CanTransition(PaymentStatusCanceled, to) {
			t.Fatalf("canceled must not transition to %q", to)
		}
	}

	if !CanTransition(PaymentStatusPending, PaymentStatusSucceeded) {
		t.Fatalf("pending -> succeeded must be allowed")
	}
	if !CanTransition(PaymentStatusWaitingCapture, PaymentStatusCanceled) {
		t.Fatalf("waiting_for_capture -> canceled must be allowed")
	}
	if CanTransition(PaymentStatusPending, PaymentStatusPending) {
		t.Fatalf("pending -> pending is a no-op, not a transition")
	}
}
