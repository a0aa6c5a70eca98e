package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
	"github.com/rgbgroup/infinity-backend/pkg/types"
)

// Order is the customer-facing purchase aggregate. Monetary columns are
// whole Toman.
type Order struct {
	ID               uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID           uuid.UUID              `gorm:"column:user_id;type:uuid;not null;index"`
	Status           enums.OrderStatus      `gorm:"column:status;type:order_status;not null;default:'paying'"`
	ItemsTotalToman  int64                  `gorm:"column:items_total_toman;not null"`
	ShippingToman    int64                  `gorm:"column:shipping_toman;not null;default:0"`
	DiscountToman    int64                  `gorm:"column:discount_toman;not null;default:0"`
	PayableToman     int64                  `gorm:"column:payable_toman;not null"`
	DiscountID       *uuid.UUID             `gorm:"column:discount_id;type:uuid"`
	DiscountCode     *string                `gorm:"column:discount_code"`
	ShippingAddress  *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json"`
	ShippingBarcode  *string                `gorm:"column:shipping_barcode"`
	BarcodeIssuedAt  *time.Time             `gorm:"column:barcode_issued_at"`
	PaidAt           *time.Time             `gorm:"column:paid_at"`
	DeliveredAt      *time.Time             `gorm:"column:delivered_at"`
	CancelledAt      *time.Time             `gorm:"column:cancelled_at"`
	ReturnedAt       *time.Time             `gorm:"column:returned_at"`
	Items            []OrderItem            `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	ActiveContractID *uuid.UUID             `gorm:"column:active_contract_id;type:uuid"`
	CreatedAt        time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

// OrderItem snapshots a catalog line at checkout time so later price edits
// never change what the customer agreed to pay.
type OrderItem struct {
	ID             uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID        uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	ProductID      uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	Name           string    `gorm:"column:name;not null"`
	UnitPriceToman int64     `gorm:"column:unit_price_toman;not null"`
	Qty            int       `gorm:"column:qty;not null"`
	TotalToman     int64     `gorm:"column:total_toman;not null"`
	CreatedAt      time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
