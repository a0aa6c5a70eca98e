package enums

import "fmt"

// RefundMethod records how a refund is expected to reach the payer.
type RefundMethod string

const (
	RefundMethodGatewayUpdate  RefundMethod = "gateway_update"
	RefundMethodGatewayReverse RefundMethod = "gateway_reverse"
	RefundMethodWallet         RefundMethod = "wallet"
	RefundMethodManual         RefundMethod = "manual"
)

var validRefundMethods = []RefundMethod{
	RefundMethodGatewayUpdate,
	RefundMethodGatewayReverse,
	RefundMethodWallet,
	RefundMethodManual,
}

// IsValid reports whether the value matches the canonical refund method enum.
func (m RefundMethod) IsValid() bool {
	for _, candidate := range validRefundMethods {
		if candidate == m {
			return true
		}
	}
	return false
}

// RefundStatus tracks a pending refund from creation to settlement.
type RefundStatus string

const (
	RefundStatusPending      RefundStatus = "pending"
	RefundStatusSettled      RefundStatus = "settled"
	RefundStatusManualReview RefundStatus = "manual_review"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusSettled,
	RefundStatusManualReview,
}

// IsValid reports whether the value matches the canonical refund status enum.
func (s RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRefundStatus converts the raw string to RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}
