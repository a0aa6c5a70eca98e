package enums

import "fmt"

// GatewayProvider is the closed set of payment providers the engine can drive.
type GatewayProvider string

const (
	GatewayMellat  GatewayProvider = "mellat"
	GatewaySnappay GatewayProvider = "snappay"
)

var validGatewayProviders = []GatewayProvider{
	GatewayMellat,
	GatewaySnappay,
}

// IsValid reports whether the value matches the canonical provider enum.
func (g GatewayProvider) IsValid() bool {
	for _, candidate := range validGatewayProviders {
		if candidate == g {
			return true
		}
	}
	return false
}

// ParseGatewayProvider converts the raw string to GatewayProvider.
func ParseGatewayProvider(value string) (GatewayProvider, error) {
	for _, candidate := range validGatewayProviders {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid gateway provider %q", value)
}

// GatewayProviders returns the closed provider set.
func GatewayProviders() []GatewayProvider {
	out := make([]GatewayProvider, len(validGatewayProviders))
	copy(out, validGatewayProviders)
	return out
}

// GatewayPaymentStatus is the normalized provider-side status returned by
// callback verification and status inquiries.
type GatewayPaymentStatus string

const (
	GatewayPaymentStatusUnknown    GatewayPaymentStatus = "unknown"
	GatewayPaymentStatusInProgress GatewayPaymentStatus = "in_progress"
	GatewayPaymentStatusPaid       GatewayPaymentStatus = "paid"
	GatewayPaymentStatusFailed     GatewayPaymentStatus = "failed"
	GatewayPaymentStatusReversed   GatewayPaymentStatus = "reversed"
)

var validGatewayPaymentStatuses = []GatewayPaymentStatus{
	GatewayPaymentStatusUnknown,
	GatewayPaymentStatusInProgress,
	GatewayPaymentStatusPaid,
	GatewayPaymentStatusFailed,
	GatewayPaymentStatusReversed,
}

// IsValid reports whether the value matches the normalized gateway status enum.
func (s GatewayPaymentStatus) IsValid() bool {
	for _, candidate := range validGatewayPaymentStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}
