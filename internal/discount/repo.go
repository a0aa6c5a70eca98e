package discount

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
)

// Repository handles coupon persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, discount *models.Discount) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Discount, error)
	FindActiveByCode(ctx context.Context, code string) (*models.Discount, error)
	CountUsagesByUser(ctx context.Context, discountID, userID uuid.UUID) (int64, error)
	ConsumeUsage(ctx context.Context, discountID, userID, orderID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a discount repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, discount *models.Discount) error {
	return r.db.WithContext(ctx).Create(discount).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Discount, error) {
	var discount models.Discount
	if err := r.db.WithContext(ctx).First(&discount, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &discount, nil
}

func (r *repository) FindActiveByCode(ctx context.Context, code string) (*models.Discount, error) {
	if code == "" {
		return nil, nil
	}
	var discount models.Discount
	if err := r.db.WithContext(ctx).
		Where("code = ? AND active", code).
		Where("expires_at IS NULL OR expires_at > ?", time.Now().UTC()).
		First(&discount).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &discount, nil
}

func (r *repository) CountUsagesByUser(ctx context.Context, discountID, userID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.DiscountUsage{}).
		Where("discount_id = ? AND user_id = ?", discountID, userID).
		Count(&count).Error
	return count, err
}

// ConsumeUsage burns one use of the code. The used_count guard runs inside
// the UPDATE so two concurrent checkouts cannot both take the last use.
func (r *repository) ConsumeUsage(ctx context.Context, discountID, userID, orderID uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Model(&models.Discount{}).
		Where("id = ? AND (max_uses = 0 OR used_count < max_uses)", discountID).
		UpdateColumn("used_count", gorm.Expr("used_count + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeConflict, "discount code usage limit reached").
			WithDetails(map[string]any{"discount_id": discountID})
	}
	usage := &models.DiscountUsage{
		ID:         uuid.New(),
		DiscountID: discountID,
		UserID:     userID,
		OrderID:    orderID,
	}
	return r.db.WithContext(ctx).Create(usage).Error
}
