package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
)

// OrderCreatedEvent signals a checkout that produced an order and a pending
// payment contract.
type OrderCreatedEvent struct {
	OrderID      uuid.UUID             `json:"order_id"`
	UserID       uuid.UUID             `json:"user_id"`
	ContractID   uuid.UUID             `json:"contract_id"`
	Provider     enums.GatewayProvider `json:"provider"`
	PayableToman int64                 `json:"payable_toman"`
}

// OrderPaidEvent is emitted once a gateway callback confirms payment.
type OrderPaidEvent struct {
	OrderID       uuid.UUID             `json:"order_id"`
	ContractID    uuid.UUID             `json:"contract_id"`
	TransactionID uuid.UUID             `json:"transaction_id"`
	Provider      enums.GatewayProvider `json:"provider"`
	AmountToman   int64                 `json:"amount_toman"`
	PaidAt        time.Time             `json:"paid_at"`
}

// OrderPaymentFailedEvent reports a failed or abandoned payment attempt.
type OrderPaymentFailedEvent struct {
	OrderID    uuid.UUID             `json:"order_id"`
	ContractID uuid.UUID             `json:"contract_id"`
	Provider   enums.GatewayProvider `json:"provider"`
	Reason     string                `json:"reason,omitempty"`
}

// OrderAdjustedEvent carries the delta of an admin item adjustment.
type OrderAdjustedEvent struct {
	OrderID         uuid.UUID `json:"order_id"`
	OldPayableToman int64     `json:"old_payable_toman"`
	NewPayableToman int64     `json:"new_payable_toman"`
	RefundToman     int64     `json:"refund_toman"`
}

// OrderCancelledEvent is emitted when an admin cancels an order.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	RefundToman int64     `json:"refund_toman"`
	CancelledAt time.Time `json:"cancelled_at"`
	Reason      string    `json:"reason,omitempty"`
}

// OrderReturnedEvent is emitted when a delivered order is fully returned.
type OrderReturnedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	RefundToman int64     `json:"refund_toman"`
	ReturnedAt  time.Time `json:"returned_at"`
}

// OrderShippedEvent reports a shipping barcode issued for an order.
type OrderShippedEvent struct {
	OrderID  uuid.UUID `json:"order_id"`
	Barcode  string    `json:"barcode"`
	IssuedAt time.Time `json:"issued_at"`
}

// OrderDeliveredEvent confirms final delivery.
type OrderDeliveredEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// RefundPendingEvent records money owed back to the customer.
type RefundPendingEvent struct {
	RefundID    uuid.UUID          `json:"refund_id"`
	OrderID     uuid.UUID          `json:"order_id"`
	AmountToman int64              `json:"amount_toman"`
	Method      enums.RefundMethod `json:"method"`
}

// RefundSettledEvent confirms a refund reached the customer.
type RefundSettledEvent struct {
	RefundID    uuid.UUID          `json:"refund_id"`
	OrderID     uuid.UUID          `json:"order_id"`
	AmountToman int64              `json:"amount_toman"`
	Method      enums.RefundMethod `json:"method"`
	SettledAt   time.Time          `json:"settled_at"`
}
