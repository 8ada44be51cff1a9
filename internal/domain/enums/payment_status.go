package enums

import (
	"fmt"
	"strings"
)

// PaymentStatus mirrors the gateway's payment lifecycle. Pending and
// waiting_for_capture may move to either terminal state; succeeded and
// canceled never move again.
type PaymentStatus string

const (
	PaymentStatusPending        PaymentStatus = "pending"
	PaymentStatusWaitingCapture PaymentStatus = "waiting_for_capture"
	PaymentStatusSucceeded      PaymentStatus = "succeeded"
	PaymentStatusCanceled       PaymentStatus = "canceled"
)

func ParsePaymentStatus(raw string) (PaymentStatus, error) {
	switch PaymentStatus(strings.ToLower(strings.TrimSpace(raw))) {
	case PaymentStatusPending:
		return PaymentStatusPending, nil
	case PaymentStatusWaitingCapture:
		return PaymentStatusWaitingCapture, nil
	case PaymentStatusSucceeded:
		return PaymentStatusSucceeded, nil
	case PaymentStatusCanceled:
		return PaymentStatusCanceled, nil
	default:
		return "", fmt.Errorf("unknown payment status %q", raw)
	}
}

func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusSucceeded || s == PaymentStatusCanceled
}

// CanTransition reports whether a stored record in status from may be
// rewritten to status to. Terminal records accept no transition, including
// a repeat of the same terminal status.
func CanTransition(from, to PaymentStatus) bool {
	if from.Terminal() {
		return false
	}
	return from != to
}
