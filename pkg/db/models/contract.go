package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
)

// Contract is one payment attempt against an order. An order may accumulate
// several failed contracts but carries at most one confirmed contract.
type Contract struct {
	ID          uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID     uuid.UUID             `gorm:"column:order_id;type:uuid;not null;index"`
	Provider    enums.GatewayProvider `gorm:"column:provider;type:gateway_provider;not null"`
	Status      enums.ContractStatus  `gorm:"column:status;type:contract_status;not null;default:'pending'"`
	AmountToman int64                 `gorm:"column:amount_toman;not null"`
	ExternalID  *string               `gorm:"column:external_id;index"`
	RedirectURL *string               `gorm:"column:redirect_url"`
	ConfirmedAt *time.Time            `gorm:"column:confirmed_at"`
	CreatedAt   time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

// ContractTransaction is the immutable money-movement ledger under a
// contract. The (external_source, external_id) pair is the idempotency key
// for gateway callbacks: a replay collides here instead of double-settling.
type ContractTransaction struct {
	ID             uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ContractID     uuid.UUID               `gorm:"column:contract_id;type:uuid;not null;index"`
	OrderID        uuid.UUID               `gorm:"column:order_id;type:uuid;not null;index"`
	Type           enums.TransactionType   `gorm:"column:type;type:transaction_type;not null;default:'payment'"`
	Status         enums.TransactionStatus `gorm:"column:status;type:transaction_status;not null;default:'pending'"`
	AmountToman    int64                   `gorm:"column:amount_toman;not null"`
	ExternalSource enums.GatewayProvider   `gorm:"column:external_source;type:gateway_provider;not null;uniqueIndex:uq_transactions_external"`
	ExternalID     string                  `gorm:"column:external_id;not null;uniqueIndex:uq_transactions_external"`
	Reference      *string                 `gorm:"column:reference"`
	RawCallback    json.RawMessage         `gorm:"column:raw_callback;type:jsonb"`
	SettledAt      *time.Time              `gorm:"column:settled_at"`
	CreatedAt      time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
