package models

import (
	"time"

	"github.com/google/uuid"
)

// ProductStock is the catalog row checkout prices and reserves against.
// Quantity is decremented inside the checkout transaction and restored when
// an order is cancelled, returned, or adjusted down.
type ProductStock struct {
	ProductID  uuid.UUID `gorm:"column:product_id;type:uuid;primaryKey"`
	Name       string    `gorm:"column:name;not null"`
	PriceToman int64     `gorm:"column:price_toman;not null"`
	Quantity   int       `gorm:"column:quantity;not null;default:0"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
