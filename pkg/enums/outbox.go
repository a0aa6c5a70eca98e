package enums

import "fmt"

// OutboxEventType is the canonical event_type published through the outbox.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order.created"
	EventOrderPaid          OutboxEventType = "order.paid"
	EventOrderPaymentFailed OutboxEventType = "order.payment_failed"
	EventOrderAdjusted      OutboxEventType = "order.adjusted"
	EventOrderCancelled     OutboxEventType = "order.cancelled"
	EventOrderReturned      OutboxEventType = "order.returned"
	EventOrderShipped       OutboxEventType = "order.shipped"
	EventOrderDelivered     OutboxEventType = "order.delivered"
	EventRefundPending      OutboxEventType = "refund.pending"
	EventRefundSettled      OutboxEventType = "refund.settled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderPaid,
	EventOrderPaymentFailed,
	EventOrderAdjusted,
	EventOrderCancelled,
	EventOrderReturned,
	EventOrderShipped,
	EventOrderDelivered,
	EventRefundPending,
	EventRefundSettled,
}

// IsValid reports whether the value matches the canonical outbox event type enum.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts the raw string to OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}

// OutboxAggregateType names the aggregate an outbox event belongs to.
type OutboxAggregateType string

const (
	AggregateOrder    OutboxAggregateType = "order"
	AggregateContract OutboxAggregateType = "contract"
	AggregateRefund   OutboxAggregateType = "refund"
)

var validOutboxAggregateTypes = []OutboxAggregateType{
	AggregateOrder,
	AggregateContract,
	AggregateRefund,
}

// IsValid reports whether the value matches the canonical aggregate type enum.
func (t OutboxAggregateType) IsValid() bool {
	for _, candidate := range validOutboxAggregateTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// OutboxDLQErrorReason classifies why an outbox event was parked in the DLQ.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

var validOutboxDLQErrorReasons = []OutboxDLQErrorReason{
	OutboxDLQReasonMaxAttempts,
	OutboxDLQReasonNonRetryable,
}

func (r OutboxDLQErrorReason) IsValid() bool {
	for _, candidate := range validOutboxDLQErrorReasons {
		if candidate == r {
			return true
		}
	}
	return false
}
