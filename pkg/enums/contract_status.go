package enums

import "fmt"

// ContractStatus describes the lifecycle of a single payment attempt.
type ContractStatus string

const (
	ContractStatusPending   ContractStatus = "pending"
	ContractStatusConfirmed ContractStatus = "confirmed"
	ContractStatusFailed    ContractStatus = "failed"
	ContractStatusCancelled ContractStatus = "cancelled"
	ContractStatusReversed  ContractStatus = "reversed"
)

var validContractStatuses = []ContractStatus{
	ContractStatusPending,
	ContractStatusConfirmed,
	ContractStatusFailed,
	ContractStatusCancelled,
	ContractStatusReversed,
}

// IsValid reports whether the value matches the canonical contract status enum.
func (s ContractStatus) IsValid() bool {
	for _, candidate := range validContractStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the contract can no longer move.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case ContractStatusFailed, ContractStatusCancelled, ContractStatusReversed:
		return true
	default:
		return false
	}
}

// ParseContractStatus converts the raw string to ContractStatus.
func ParseContractStatus(value string) (ContractStatus, error) {
	for _, candidate := range validContractStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid contract status %q", value)
}
