package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/pagination"
)

// Repository handles order, contract, and transaction persistence. Status
// transitions are compare-and-swap updates so concurrent callers lose
// cleanly instead of clobbering each other.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[models.Order], error)
	UpdateOrder(ctx context.Context, order *models.Order) error
	UpdateOrderItem(ctx context.Context, item *models.OrderItem) error
	TransitionOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, set map[string]any) error

	CreateContract(ctx context.Context, contract *models.Contract) error
	FindContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error)
	FindContractByExternalID(ctx context.Context, provider enums.GatewayProvider, externalID string) (*models.Contract, error)
	FindOpenContractByOrder(ctx context.Context, orderID uuid.UUID) (*models.Contract, error)
	FindConfirmedContractByOrder(ctx context.Context, orderID uuid.UUID) (*models.Contract, error)
	UpdateContract(ctx context.Context, contract *models.Contract) error
	TransitionContract(ctx context.Context, contractID uuid.UUID, from, to enums.ContractStatus, set map[string]any) error

	CreateTransaction(ctx context.Context, transaction *models.ContractTransaction) error
	FindTransactionByExternal(ctx context.Context, provider enums.GatewayProvider, externalID string) (*models.ContractTransaction, error)
	FindConfirmedTransactionByContract(ctx context.Context, contractID uuid.UUID) (*models.ContractTransaction, error)
	UpdateTransaction(ctx context.Context, transaction *models.ContractTransaction) error

	ListStaleContracts(ctx context.Context, olderThan time.Duration, limit int) ([]models.Contract, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an order repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", orderID).
		First(&order).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

func (r *repository) ListOrdersByUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[models.Order], error) {
	params = params.Normalize()

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, err
	}

	var orders []models.Order
	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&orders).Error; err != nil {
		return nil, err
	}

	return &pagination.Page[models.Order]{
		Items:  orders,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}

func (r *repository) UpdateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Omit("Items").Save(order).Error
}

func (r *repository) UpdateOrderItem(ctx context.Context, item *models.OrderItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

// TransitionOrder moves an order between states only when it is still in the
// expected source state. Losing the race yields a state conflict.
func (r *repository) TransitionOrder(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, set map[string]any) error {
	updates := map[string]any{"status": to}
	for column, value := range set {
		updates[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", orderID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "order is not in the expected state").
			WithDetails(map[string]any{
				"order_id": orderID,
				"expected": from,
				"target":   to,
			})
	}
	return nil
}

func (r *repository) CreateContract(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Create(contract).Error
}

func (r *repository) FindContract(ctx context.Context, contractID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := r.db.WithContext(ctx).
		Where("id = ?", contractID).
		First(&contract).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (r *repository) FindContractByExternalID(ctx context.Context, provider enums.GatewayProvider, externalID string) (*models.Contract, error) {
	if externalID == "" {
		return nil, nil
	}
	var contract models.Contract
	if err := r.db.WithContext(ctx).
		Where("provider = ? AND external_id = ?", provider, externalID).
		First(&contract).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (r *repository) FindOpenContractByOrder(ctx context.Context, orderID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status IN (?)", orderID, []enums.ContractStatus{
			enums.ContractStatusPending,
			enums.ContractStatusConfirmed,
		}).
		Order("created_at DESC").
		First(&contract).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (r *repository) FindConfirmedContractByOrder(ctx context.Context, orderID uuid.UUID) (*models.Contract, error) {
	var contract models.Contract
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.ContractStatusConfirmed).
		Order("created_at DESC").
		First(&contract).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &contract, nil
}

func (r *repository) UpdateContract(ctx context.Context, contract *models.Contract) error {
	return r.db.WithContext(ctx).Save(contract).Error
}

func (r *repository) TransitionContract(ctx context.Context, contractID uuid.UUID, from, to enums.ContractStatus, set map[string]any) error {
	updates := map[string]any{"status": to}
	for column, value := range set {
		updates[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Contract{}).
		Where("id = ? AND status = ?", contractID, from).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "contract is not in the expected state").
			WithDetails(map[string]any{
				"contract_id": contractID,
				"expected":    from,
				"target":      to,
			})
	}
	return nil
}

func (r *repository) CreateTransaction(ctx context.Context, transaction *models.ContractTransaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) FindTransactionByExternal(ctx context.Context, provider enums.GatewayProvider, externalID string) (*models.ContractTransaction, error) {
	if externalID == "" {
		return nil, nil
	}
	var transaction models.ContractTransaction
	if err := r.db.WithContext(ctx).
		Where("external_source = ? AND external_id = ?", provider, externalID).
		First(&transaction).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) FindConfirmedTransactionByContract(ctx context.Context, contractID uuid.UUID) (*models.ContractTransaction, error) {
	var transaction models.ContractTransaction
	if err := r.db.WithContext(ctx).
		Where("contract_id = ? AND type = ? AND status = ?", contractID, enums.TransactionTypePayment, enums.TransactionStatusSuccess).
		Order("created_at DESC").
		First(&transaction).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) UpdateTransaction(ctx context.Context, transaction *models.ContractTransaction) error {
	return r.db.WithContext(ctx).Save(transaction).Error
}

// ListStaleContracts returns pending contracts whose payment session is old
// enough that the callback was probably lost. The reconcile worker polls the
// gateway for these.
func (r *repository) ListStaleContracts(ctx context.Context, olderThan time.Duration, limit int) ([]models.Contract, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().UTC().Add(-olderThan)
	var contracts []models.Contract
	if err := r.db.WithContext(ctx).
		Where("status = ? AND external_id IS NOT NULL AND created_at < ?", enums.ContractStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&contracts).Error; err != nil {
		return nil, err
	}
	return contracts, nil
}
