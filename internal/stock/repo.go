package stock

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
)

// Repository handles catalog stock persistence. Decrement and Increment are
// written so they stay correct when called inside the same transaction as
// order mutations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, product *models.ProductStock) error
	Update(ctx context.Context, product *models.ProductStock) error
	FindByID(ctx context.Context, productID uuid.UUID) (*models.ProductStock, error)
	FindByIDs(ctx context.Context, productIDs []uuid.UUID) ([]models.ProductStock, error)
	Decrement(ctx context.Context, productID uuid.UUID, qty int) error
	Increment(ctx context.Context, productID uuid.UUID, qty int) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a stock repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, product *models.ProductStock) error {
	return r.db.WithContext(ctx).Create(product).Error
}

func (r *repository) Update(ctx context.Context, product *models.ProductStock) error {
	return r.db.WithContext(ctx).Save(product).Error
}

func (r *repository) FindByID(ctx context.Context, productID uuid.UUID) (*models.ProductStock, error) {
	var product models.ProductStock
	if err := r.db.WithContext(ctx).
		Where("product_id = ?", productID).
		First(&product).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &product, nil
}

func (r *repository) FindByIDs(ctx context.Context, productIDs []uuid.UUID) ([]models.ProductStock, error) {
	if len(productIDs) == 0 {
		return nil, nil
	}
	var products []models.ProductStock
	if err := r.db.WithContext(ctx).
		Where("product_id IN (?)", productIDs).
		Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// Decrement reserves qty units. The guard runs inside the UPDATE so two
// concurrent checkouts can never both take the last unit.
func (r *repository) Decrement(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "decrement quantity must be positive")
	}
	result := r.db.WithContext(ctx).
		Model(&models.ProductStock{}).
		Where("product_id = ? AND active AND quantity >= ?", productID, qty).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", qty))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		product, err := r.FindByID(ctx, productID)
		if err != nil {
			return err
		}
		if product == nil || !product.Active {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product is not available").
				WithDetails(map[string]any{"product_id": productID})
		}
		return pkgerrors.New(pkgerrors.CodeConflict, "insufficient stock").
			WithDetails(map[string]any{
				"product_id": productID,
				"requested":  qty,
				"available":  product.Quantity,
			})
	}
	return nil
}

// Increment returns qty units to stock after a cancellation, return, or
// downward adjustment.
func (r *repository) Increment(ctx context.Context, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "increment quantity must be positive")
	}
	result := r.db.WithContext(ctx).
		Model(&models.ProductStock{}).
		Where("product_id = ?", productID).
		UpdateColumn("quantity", gorm.Expr("quantity + ?", qty))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found").
			WithDetails(map[string]any{"product_id": productID})
	}
	return nil
}
