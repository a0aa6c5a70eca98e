package adjustment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
)

// Repository persists pending refunds. Status flips are compare-and-swap so
// the settle worker and an admin resolving a refund by hand cannot both win.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, refund *models.PendingRefund) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PendingRefund, error)
	ListDue(ctx context.Context, limit int) ([]models.PendingRefund, error)
	RecordFailure(ctx context.Context, id uuid.UUID, lastError string) error
	MarkSettled(ctx context.Context, id uuid.UUID) error
	MarkManualReview(ctx context.Context, id uuid.UUID, lastError string) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a refund repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, refund *models.PendingRefund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PendingRefund, error) {
	var refund models.PendingRefund
	if err := r.db.WithContext(ctx).First(&refund, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &refund, nil
}

func (r *repository) ListDue(ctx context.Context, limit int) ([]models.PendingRefund, error) {
	if limit <= 0 {
		limit = 50
	}
	var refunds []models.PendingRefund
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.RefundStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&refunds).Error; err != nil {
		return nil, err
	}
	return refunds, nil
}

func (r *repository) RecordFailure(ctx context.Context, id uuid.UUID, lastError string) error {
	return r.db.WithContext(ctx).
		Model(&models.PendingRefund{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"last_error": lastError,
		}).Error
}

func (r *repository) MarkSettled(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.PendingRefund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(map[string]any{
			"status":     enums.RefundStatusSettled,
			"settled_at": time.Now().UTC(),
			"last_error": nil,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund is no longer pending").
			WithDetails(map[string]any{"refund_id": id})
	}
	return nil
}

func (r *repository) MarkManualReview(ctx context.Context, id uuid.UUID, lastError string) error {
	result := r.db.WithContext(ctx).
		Model(&models.PendingRefund{}).
		Where("id = ? AND status = ?", id, enums.RefundStatusPending).
		Updates(map[string]any{
			"status":     enums.RefundStatusManualReview,
			"last_error": lastError,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "refund is no longer pending").
			WithDetails(map[string]any{"refund_id": id})
	}
	return nil
}
