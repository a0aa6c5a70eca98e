package enums

import "fmt"

// AuditAudience scopes who may read an audit event.
type AuditAudience string

const (
	AuditAudienceUser       AuditAudience = "user"
	AuditAudienceAdmin      AuditAudience = "admin"
	AuditAudienceSuperadmin AuditAudience = "superadmin"
	AuditAudienceAll        AuditAudience = "all"
)

var validAuditAudiences = []AuditAudience{
	AuditAudienceUser,
	AuditAudienceAdmin,
	AuditAudienceSuperadmin,
	AuditAudienceAll,
}

// IsValid reports whether the value matches the canonical audience enum.
func (a AuditAudience) IsValid() bool {
	for _, candidate := range validAuditAudiences {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseAuditAudience converts the raw string to AuditAudience.
func ParseAuditAudience(value string) (AuditAudience, error) {
	for _, candidate := range validAuditAudiences {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit audience %q", value)
}

// AuditSeverity grades an audit event for read-side filtering.
type AuditSeverity string

const (
	AuditSeverityInfo     AuditSeverity = "info"
	AuditSeverityWarning  AuditSeverity = "warning"
	AuditSeverityCritical AuditSeverity = "critical"
)

var validAuditSeverities = []AuditSeverity{
	AuditSeverityInfo,
	AuditSeverityWarning,
	AuditSeverityCritical,
}

// IsValid reports whether the value matches the canonical severity enum.
func (s AuditSeverity) IsValid() bool {
	for _, candidate := range validAuditSeverities {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseAuditSeverity converts the raw string to AuditSeverity.
func ParseAuditSeverity(value string) (AuditSeverity, error) {
	for _, candidate := range validAuditSeverities {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid audit severity %q", value)
}

// AuditEventType names the lifecycle moment an audit event records.
type AuditEventType string

const (
	AuditEventOrderCreated      AuditEventType = "order_created"
	AuditEventPaymentRequested  AuditEventType = "payment_requested"
	AuditEventPaymentConfirmed  AuditEventType = "payment_confirmed"
	AuditEventPaymentFailed     AuditEventType = "payment_failed"
	AuditEventAmountMismatch    AuditEventType = "amount_mismatch"
	AuditEventSignatureRejected AuditEventType = "signature_rejected"
	AuditEventOrderAdjusted     AuditEventType = "order_adjusted"
	AuditEventOrderCancelled    AuditEventType = "order_cancelled"
	AuditEventOrderReturned     AuditEventType = "order_returned"
	AuditEventBarcodeIssued     AuditEventType = "barcode_issued"
	AuditEventBarcodeVoided     AuditEventType = "barcode_voided"
	AuditEventDeliveryConfirmed AuditEventType = "delivery_confirmed"
	AuditEventRefundPending     AuditEventType = "refund_pending"
	AuditEventRefundSettled     AuditEventType = "refund_settled"
	AuditEventRefundManual      AuditEventType = "refund_manual_review"
	AuditEventDiscountConsumed  AuditEventType = "discount_consumed"
)

var validAuditEventTypes = []AuditEventType{
	AuditEventOrderCreated,
	AuditEventPaymentRequested,
	AuditEventPaymentConfirmed,
	AuditEventPaymentFailed,
	AuditEventAmountMismatch,
	AuditEventSignatureRejected,
	AuditEventOrderAdjusted,
	AuditEventOrderCancelled,
	AuditEventOrderReturned,
	AuditEventBarcodeIssued,
	AuditEventBarcodeVoided,
	AuditEventDeliveryConfirmed,
	AuditEventRefundPending,
	AuditEventRefundSettled,
	AuditEventRefundManual,
	AuditEventDiscountConsumed,
}

// IsValid reports whether the value matches the canonical audit event type enum.
func (t AuditEventType) IsValid() bool {
	for _, candidate := range validAuditEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
