package discount

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
)

// Evaluation is the outcome of validating a code against an order subtotal.
type Evaluation struct {
	Discount    *models.Discount
	AmountToman int64
}

// Service validates and consumes discount codes.
type Service struct {
	repo Repository
}

// NewService wires the discount service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// WithTx rebinds the service to a transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{repo: s.repo.WithTx(tx)}
}

// Evaluate validates a code for a user and computes the discount amount for
// the given subtotal. It does not consume the code.
func (s *Service) Evaluate(ctx context.Context, code string, userID uuid.UUID, subtotalToman int64) (*Evaluation, error) {
	found, err := s.repo.FindActiveByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "invalid or expired discount code").
			WithDetails(map[string]any{"code": code})
	}
	if found.MaxUses > 0 && found.UsedCount >= found.MaxUses {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "discount code usage limit reached").
			WithDetails(map[string]any{"code": code})
	}
	if found.PerUserLimit > 0 {
		used, err := s.repo.CountUsagesByUser(ctx, found.ID, userID)
		if err != nil {
			return nil, err
		}
		if used >= int64(found.PerUserLimit) {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "discount code already used").
				WithDetails(map[string]any{"code": code})
		}
	}
	if found.MinOrderToman > 0 && subtotalToman < found.MinOrderToman {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order total is below the minimum for this code").
			WithDetails(map[string]any{
				"code":            code,
				"min_order_toman": found.MinOrderToman,
			})
	}

	amount := computeAmount(found, subtotalToman)
	return &Evaluation{Discount: found, AmountToman: amount}, nil
}

// Recompute re-derives the discount amount for an already-consumed code
// against a changed subtotal. Usage limits and expiry are not re-checked
// since the code was valid when the order was placed; only the minimum-order
// floor still applies, dropping the discount to zero below it.
func (s *Service) Recompute(ctx context.Context, discountID uuid.UUID, subtotalToman int64) (int64, error) {
	found, err := s.repo.FindByID(ctx, discountID)
	if err != nil {
		return 0, err
	}
	if found == nil {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "discount no longer exists").
			WithDetails(map[string]any{"discount_id": discountID})
	}
	if found.MinOrderToman > 0 && subtotalToman < found.MinOrderToman {
		return 0, nil
	}
	return computeAmount(found, subtotalToman), nil
}

// Consume burns one use of the code for an order. Call inside the checkout
// transaction so a failed order never eats a use.
func (s *Service) Consume(ctx context.Context, discountID, userID, orderID uuid.UUID) error {
	return s.repo.ConsumeUsage(ctx, discountID, userID, orderID)
}

func computeAmount(d *models.Discount, subtotalToman int64) int64 {
	var amount int64
	switch d.Type {
	case enums.DiscountTypePercent:
		subtotal := decimal.NewFromInt(subtotalToman)
		amount = subtotal.Mul(d.Value).Div(decimal.NewFromInt(100)).Floor().IntPart()
		if d.MaxToman > 0 && amount > d.MaxToman {
			amount = d.MaxToman
		}
	case enums.DiscountTypeFixed:
		amount = d.Value.Floor().IntPart()
	}
	if amount > subtotalToman {
		amount = subtotalToman
	}
	if amount < 0 {
		amount = 0
	}
	return amount
}
