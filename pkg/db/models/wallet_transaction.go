package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
)

// WalletTransaction is one credit or debit against a user wallet. Balance is
// the sum of rows, never a mutable column.
type WalletTransaction struct {
	ID          uuid.UUID                   `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID     *uuid.UUID                  `gorm:"column:order_id;type:uuid"`
	Type        enums.WalletTransactionType `gorm:"column:type;type:wallet_transaction_type;not null"`
	AmountToman int64                       `gorm:"column:amount_toman;not null"`
	Description string                      `gorm:"column:description;not null"`
	CreatedAt   time.Time                   `gorm:"column:created_at;autoCreateTime"`
}
