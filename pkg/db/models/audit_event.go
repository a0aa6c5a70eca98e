package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
)

// AuditEvent is the append-only trail of everything that happened to an
// order. Rows are never updated or deleted.
type AuditEvent struct {
	ID         uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID    *uuid.UUID           `gorm:"column:order_id;type:uuid;index"`
	ContractID *uuid.UUID           `gorm:"column:contract_id;type:uuid"`
	EventType  enums.AuditEventType `gorm:"column:event_type;type:audit_event_type;not null;index"`
	Severity   enums.AuditSeverity  `gorm:"column:severity;type:audit_severity;not null;default:'info'"`
	Audience   enums.AuditAudience  `gorm:"column:audience;type:audit_audience;not null;default:'all'"`
	ActorType  string               `gorm:"column:actor_type;not null;default:'system'"`
	ActorID    *uuid.UUID           `gorm:"column:actor_id;type:uuid"`
	Message    string               `gorm:"column:message;not null"`
	Details    json.RawMessage      `gorm:"column:details;type:jsonb"`
	CreatedAt  time.Time            `gorm:"column:created_at;autoCreateTime;index"`
}
