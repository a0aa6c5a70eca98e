package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
)

// Discount is a redeemable code. Value is a percentage for percent discounts
// and a whole-Toman amount for fixed ones.
type Discount struct {
	ID            uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Code          string             `gorm:"column:code;not null;unique"`
	Type          enums.DiscountType `gorm:"column:type;type:discount_type;not null"`
	Value         decimal.Decimal    `gorm:"column:value;type:numeric(12,2);not null"`
	MaxToman      int64              `gorm:"column:max_toman;not null;default:0"`
	MinOrderToman int64              `gorm:"column:min_order_toman;not null;default:0"`
	MaxUses       int                `gorm:"column:max_uses;not null;default:0"`
	UsedCount     int                `gorm:"column:used_count;not null;default:0"`
	PerUserLimit  int                `gorm:"column:per_user_limit;not null;default:0"`
	Active        bool               `gorm:"column:active;not null;default:true"`
	ExpiresAt     *time.Time         `gorm:"column:expires_at"`
	CreatedAt     time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// DiscountUsage records one consumption of a code by a user, backing the
// per-user limit.
type DiscountUsage struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DiscountID uuid.UUID `gorm:"column:discount_id;type:uuid;not null;index"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null;index"`
	OrderID    uuid.UUID `gorm:"column:order_id;type:uuid;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}
