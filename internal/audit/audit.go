package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/pagination"
)

// Actor type labels recorded on audit rows.
const (
	ActorSystem  = "system"
	ActorUser    = "user"
	ActorAdmin   = "admin"
	ActorGateway = "gateway"
)

// Entry is one audit event to append. Zero-value Severity and Audience
// default to info/all.
type Entry struct {
	OrderID    *uuid.UUID
	ContractID *uuid.UUID
	EventType  enums.AuditEventType
	Severity   enums.AuditSeverity
	Audience   enums.AuditAudience
	ActorType  string
	ActorID    *uuid.UUID
	Message    string
	Details    map[string]any
}

// ListQuery filters the read side of the trail. Audience matches exactly;
// VisibleTo additionally admits events addressed to everyone.
type ListQuery struct {
	OrderID   *uuid.UUID
	EventType *enums.AuditEventType
	Severity  *enums.AuditSeverity
	Audience  *enums.AuditAudience
	VisibleTo *enums.AuditAudience
	From      *time.Time
	To        *time.Time
}

// Emitter appends audit events. Pass the surrounding transaction via WithTx
// so the event and the mutation it records commit or roll back together.
type Emitter interface {
	WithTx(tx *gorm.DB) Emitter
	Emit(ctx context.Context, entry Entry) error
	List(ctx context.Context, query ListQuery, params pagination.Params) (*pagination.Page[models.AuditEvent], error)
}

type emitter struct {
	db *gorm.DB
}

// NewEmitter returns an audit emitter bound to the provided database.
func NewEmitter(db *gorm.DB) Emitter {
	return &emitter{db: db}
}

func (e *emitter) WithTx(tx *gorm.DB) Emitter {
	if tx == nil {
		return e
	}
	return &emitter{db: tx}
}

func (e *emitter) Emit(ctx context.Context, entry Entry) error {
	if !entry.EventType.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "unknown audit event type").
			WithDetails(map[string]any{"event_type": entry.EventType})
	}
	if entry.Severity == "" {
		entry.Severity = enums.AuditSeverityInfo
	}
	if entry.Audience == "" {
		entry.Audience = enums.AuditAudienceAll
	}
	if entry.ActorType == "" {
		entry.ActorType = ActorSystem
	}

	var details json.RawMessage
	if len(entry.Details) > 0 {
		raw, err := json.Marshal(entry.Details)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding audit details")
		}
		details = raw
	}

	event := &models.AuditEvent{
		ID:         uuid.New(),
		OrderID:    entry.OrderID,
		ContractID: entry.ContractID,
		EventType:  entry.EventType,
		Severity:   entry.Severity,
		Audience:   entry.Audience,
		ActorType:  entry.ActorType,
		ActorID:    entry.ActorID,
		Message:    entry.Message,
		Details:    details,
	}
	return e.db.WithContext(ctx).Create(event).Error
}

func (e *emitter) List(ctx context.Context, query ListQuery, params pagination.Params) (*pagination.Page[models.AuditEvent], error) {
	params = params.Normalize()

	scoped := func() *gorm.DB {
		q := e.db.WithContext(ctx).Model(&models.AuditEvent{})
		if query.OrderID != nil {
			q = q.Where("order_id = ?", *query.OrderID)
		}
		if query.EventType != nil {
			q = q.Where("event_type = ?", *query.EventType)
		}
		if query.Severity != nil {
			q = q.Where("severity = ?", *query.Severity)
		}
		if query.Audience != nil {
			q = q.Where("audience = ?", *query.Audience)
		}
		if query.VisibleTo != nil {
			q = q.Where("audience IN ?", []enums.AuditAudience{*query.VisibleTo, enums.AuditAudienceAll})
		}
		if query.From != nil {
			q = q.Where("created_at >= ?", *query.From)
		}
		if query.To != nil {
			q = q.Where("created_at < ?", *query.To)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, err
	}

	var events []models.AuditEvent
	if err := scoped().
		Order("created_at DESC, id DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&events).Error; err != nil {
		return nil, err
	}

	return &pagination.Page[models.AuditEvent]{
		Items:  events,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}
