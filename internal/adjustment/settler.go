package adjustment

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/internal/wallet"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/metrics"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
	"github.com/rgbgroup/infinity-backend/pkg/outbox/payloads"
)

// Settler drives pending refunds to settlement: wallet credits locally,
// gateway updates/reversals over the wire. Network failures are retried with
// backoff inside one attempt and again on later sweeps; refunds that exhaust
// their attempts or hit a business rejection go to manual review.
type Settler struct {
	refunds  Repository
	orders   orders.Repository
	wallet   wallet.Repository
	gateways *payment.Registry
	tx       txRunner
	audit    audit.Emitter
	outbox   outboxPublisher
	cfg      config.RefundConfig
	logg     *logger.Logger
	metrics  *metrics.PaymentMetrics
}

// NewSettler wires the refund settler.
func NewSettler(
	refunds Repository,
	ordersRepo orders.Repository,
	walletRepo wallet.Repository,
	gateways *payment.Registry,
	tx txRunner,
	auditEmitter audit.Emitter,
	outboxSvc outboxPublisher,
	cfg config.RefundConfig,
	logg *logger.Logger,
	payMetrics *metrics.PaymentMetrics,
) *Settler {
	return &Settler{
		refunds:  refunds,
		orders:   ordersRepo,
		wallet:   walletRepo,
		gateways: gateways,
		tx:       tx,
		audit:    auditEmitter,
		outbox:   outboxSvc,
		cfg:      cfg,
		logg:     logg,
		metrics:  payMetrics,
	}
}

// SettleDue processes pending refunds oldest-first. One refund failing does
// not stop the sweep.
func (s *Settler) SettleDue(ctx context.Context, limit int) (int, error) {
	refunds, err := s.refunds.ListDue(ctx, limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	var errs error
	for i := range refunds {
		refund := refunds[i]
		if err := s.Settle(ctx, &refund); err != nil {
			if s.logg != nil {
				s.logg.Error(s.logg.WithOrderID(ctx, refund.OrderID.String()), "refund settlement failed", err)
			}
			errs = multierr.Append(errs, fmt.Errorf("refund %s: %w", refund.ID, err))
			continue
		}
		settled++
	}
	return settled, errs
}

// Settle performs one settlement attempt for a refund.
func (s *Settler) Settle(ctx context.Context, refund *models.PendingRefund) error {
	if refund.Status != enums.RefundStatusPending {
		return nil
	}

	switch refund.Method {
	case enums.RefundMethodManual:
		// Waits for an admin; nothing to drive here.
		return nil
	case enums.RefundMethodWallet:
		return s.settleWallet(ctx, refund)
	case enums.RefundMethodGatewayUpdate, enums.RefundMethodGatewayReverse:
		return s.settleGateway(ctx, refund)
	default:
		return pkgerrors.New(pkgerrors.CodeInternal, "unknown refund method").
			WithDetails(map[string]any{"refund_id": refund.ID, "method": refund.Method})
	}
}

func (s *Settler) settleWallet(ctx context.Context, refund *models.PendingRefund) error {
	order, err := s.orders.FindOrder(ctx, refund.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order for refund no longer exists").
			WithDetails(map[string]any{"refund_id": refund.ID})
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if _, err := s.wallet.WithTx(tx).Credit(ctx, order.UserID, &refund.OrderID, refund.AmountToman, "order refund"); err != nil {
			return err
		}
		return s.finishSettled(ctx, tx, refund)
	})
	if err != nil {
		return err
	}
	s.metrics.IncRefund(string(refund.Method), "settled")
	return nil
}

func (s *Settler) settleGateway(ctx context.Context, refund *models.PendingRefund) error {
	contract, err := s.orders.FindContract(ctx, refund.ContractID)
	if err != nil {
		return err
	}
	if contract == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "contract for refund no longer exists").
			WithDetails(map[string]any{"refund_id": refund.ID})
	}
	adapter, err := s.gateways.Resolve(contract.Provider)
	if err != nil {
		return s.escalate(ctx, refund, err)
	}

	order, err := s.orders.FindOrder(ctx, refund.OrderID)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order for refund no longer exists").
			WithDetails(map[string]any{"refund_id": refund.ID})
	}

	ref := payment.TransactionRef{
		ContractID:  contract.ID,
		AmountToman: refund.AmountToman,
	}
	if contract.ExternalID != nil {
		ref.ExternalID = *contract.ExternalID
	}
	if confirmed, err := s.orders.FindConfirmedTransactionByContract(ctx, contract.ID); err != nil {
		return err
	} else if confirmed != nil && confirmed.Reference != nil {
		ref.Reference = *confirmed.Reference
	}

	backoff := retry.WithMaxRetries(uint64(s.cfg.SettleMaxAttempts), retry.NewExponential(s.cfg.SettleBackoff))
	callErr := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		if refund.Method == enums.RefundMethodGatewayReverse {
			err = adapter.Reverse(ctx, ref)
		} else {
			err = adapter.UpdateTransaction(ctx, ref, reducedCart(order))
		}
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeGatewayUnavailable {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if callErr != nil {
		if typed := pkgerrors.As(callErr); typed != nil && typed.Code() == pkgerrors.CodeGatewayRejected {
			// The provider said no; retrying will not change its mind.
			return s.escalate(ctx, refund, callErr)
		}
		return s.recordFailure(ctx, refund, callErr)
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.finishSettled(ctx, tx, refund)
	})
	if err != nil {
		return err
	}
	s.metrics.IncRefund(string(refund.Method), "settled")
	return nil
}

// finishSettled flips the refund row and records the settlement, all inside
// the caller's transaction.
func (s *Settler) finishSettled(ctx context.Context, tx *gorm.DB, refund *models.PendingRefund) error {
	if err := s.refunds.WithTx(tx).MarkSettled(ctx, refund.ID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if err := s.audit.WithTx(tx).Emit(ctx, audit.Entry{
		OrderID:    &refund.OrderID,
		ContractID: &refund.ContractID,
		EventType:  enums.AuditEventRefundSettled,
		Audience:   enums.AuditAudienceAdmin,
		ActorType:  audit.ActorSystem,
		Message:    "refund settled",
		Details: map[string]any{
			"refund_id":    refund.ID,
			"amount_toman": refund.AmountToman,
			"method":       refund.Method,
		},
	}); err != nil {
		return err
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundSettled,
		AggregateType: enums.AggregateRefund,
		AggregateID:   refund.ID,
		Data: payloads.RefundSettledEvent{
			RefundID:    refund.ID,
			OrderID:     refund.OrderID,
			AmountToman: refund.AmountToman,
			Method:      refund.Method,
			SettledAt:   now,
		},
	})
}

// recordFailure bumps the attempt counter and escalates to manual review
// once the budget is spent.
func (s *Settler) recordFailure(ctx context.Context, refund *models.PendingRefund, cause error) error {
	if err := s.refunds.RecordFailure(ctx, refund.ID, cause.Error()); err != nil {
		return err
	}
	refund.Attempts++
	if refund.Attempts >= s.cfg.SettleMaxAttempts {
		return s.escalate(ctx, refund, cause)
	}
	return cause
}

// escalate moves a refund to manual review with an audit trail.
func (s *Settler) escalate(ctx context.Context, refund *models.PendingRefund, cause error) error {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.refunds.WithTx(tx).MarkManualReview(ctx, refund.ID, cause.Error()); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:    &refund.OrderID,
			ContractID: &refund.ContractID,
			EventType:  enums.AuditEventRefundManual,
			Severity:   enums.AuditSeverityWarning,
			Audience:   enums.AuditAudienceAdmin,
			ActorType:  audit.ActorSystem,
			Message:    "refund needs manual review",
			Details: map[string]any{
				"refund_id":    refund.ID,
				"amount_toman": refund.AmountToman,
				"method":       refund.Method,
				"error":        cause.Error(),
			},
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncRefund(string(refund.Method), "manual_review")
	return cause
}

// reducedCart snapshots what is left of the order for gateway-side updates.
func reducedCart(order *models.Order) payment.ReducedCart {
	cart := payment.ReducedCart{
		ShippingToman: order.ShippingToman,
		DiscountToman: order.DiscountToman,
		TotalToman:    order.PayableToman,
	}
	for _, item := range order.Items {
		if item.Qty == 0 {
			continue
		}
		cart.Items = append(cart.Items, payment.ReducedCartItem{
			ProductID:  item.ProductID,
			Name:       item.Name,
			PriceToman: item.UnitPriceToman,
			Qty:        item.Qty,
		})
	}
	return cart
}
