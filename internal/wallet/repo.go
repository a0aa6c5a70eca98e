package wallet

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/pagination"
)

// Repository handles wallet ledger persistence. The ledger is append-only;
// a balance is always the sum of rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Credit(ctx context.Context, userID uuid.UUID, orderID *uuid.UUID, amountToman int64, description string) (*models.WalletTransaction, error)
	Debit(ctx context.Context, userID uuid.UUID, orderID *uuid.UUID, amountToman int64, description string) (*models.WalletTransaction, error)
	Balance(ctx context.Context, userID uuid.UUID) (int64, error)
	List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[models.WalletTransaction], error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a wallet repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Credit(ctx context.Context, userID uuid.UUID, orderID *uuid.UUID, amountToman int64, description string) (*models.WalletTransaction, error) {
	return r.append(ctx, enums.WalletTransactionCredit, userID, orderID, amountToman, description)
}

// Debit spends wallet funds. The balance check and the insert run in the
// same transaction so a concurrent debit cannot overdraw.
func (r *repository) Debit(ctx context.Context, userID uuid.UUID, orderID *uuid.UUID, amountToman int64, description string) (*models.WalletTransaction, error) {
	if amountToman <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "debit amount must be positive")
	}
	var entry *models.WalletTransaction
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		scoped := &repository{db: tx}
		balance, err := scoped.Balance(ctx, userID)
		if err != nil {
			return err
		}
		if balance < amountToman {
			return pkgerrors.New(pkgerrors.CodeConflict, "insufficient wallet balance").
				WithDetails(map[string]any{
					"balance_toman":   balance,
					"requested_toman": amountToman,
				})
		}
		entry, err = scoped.append(ctx, enums.WalletTransactionDebit, userID, orderID, amountToman, description)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *repository) append(ctx context.Context, txType enums.WalletTransactionType, userID uuid.UUID, orderID *uuid.UUID, amountToman int64, description string) (*models.WalletTransaction, error) {
	if amountToman <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "wallet amount must be positive")
	}
	entry := &models.WalletTransaction{
		ID:          uuid.New(),
		UserID:      userID,
		OrderID:     orderID,
		Type:        txType,
		AmountToman: amountToman,
		Description: description,
	}
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *repository) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	var balance int64
	err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN amount_toman ELSE -amount_toman END), 0)", enums.WalletTransactionCredit).
		Where("user_id = ?", userID).
		Scan(&balance).Error
	return balance, err
}

func (r *repository) List(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[models.WalletTransaction], error) {
	params = params.Normalize()

	var total int64
	if err := r.db.WithContext(ctx).
		Model(&models.WalletTransaction{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, err
	}

	var entries []models.WalletTransaction
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Limit(params.Limit).
		Offset(params.Offset).
		Find(&entries).Error; err != nil {
		return nil, err
	}

	return &pagination.Page[models.WalletTransaction]{
		Items:  entries,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}
