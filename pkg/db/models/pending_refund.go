package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
)

// PendingRefund tracks money owed back to a customer until the gateway (or
// wallet) confirms settlement. Rows that exhaust their attempts flip to
// manual_review instead of being retried forever.
type PendingRefund struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	ContractID    uuid.UUID          `gorm:"column:contract_id;type:uuid;not null"`
	TransactionID *uuid.UUID         `gorm:"column:transaction_id;type:uuid"`
	AmountToman   int64              `gorm:"column:amount_toman;not null"`
	Method        enums.RefundMethod `gorm:"column:method;type:refund_method;not null"`
	Status        enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'pending';index"`
	Attempts      int                `gorm:"column:attempts;not null;default:0"`
	LastError     *string            `gorm:"column:last_error"`
	SettledAt     *time.Time         `gorm:"column:settled_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
