package adjustment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/internal/wallet"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
)

type settlerFixture struct {
	*engineFixture
	settler *Settler
}

func newSettlerFixture(t *testing.T, adapter *adjStubAdapter, cfg config.RefundConfig) *settlerFixture {
	t.Helper()

	base := newEngineFixture(t, adapter)
	registry := payment.NewRegistry()
	registry.Register(adapter)
	settler := NewSettler(
		base.refunds,
		base.ordersDB,
		wallet.NewRepository(base.db),
		registry,
		adjTxRunner{db: base.db},
		audit.NewEmitter(base.db),
		base.outbox,
		cfg,
		nil,
		nil,
	)
	return &settlerFixture{engineFixture: base, settler: settler}
}

func fastRefundConfig() config.RefundConfig {
	return config.RefundConfig{
		SettleMaxAttempts: 2,
		SettleBackoff:     time.Millisecond,
		PollInterval:      time.Minute,
	}
}

func bookRefund(t *testing.T, fx *settlerFixture, seeded *seededOrder, amount int64, method enums.RefundMethod) *models.PendingRefund {
	t.Helper()

	refund := &models.PendingRefund{
		ID:          uuid.New(),
		OrderID:     seeded.order.ID,
		ContractID:  seeded.contract.ID,
		AmountToman: amount,
		Method:      method,
		Status:      enums.RefundStatusPending,
	}
	require.NoError(t, fx.refunds.Create(context.Background(), refund))
	return refund
}

func TestSettleWalletCreditsCustomer(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay}
	fx := newSettlerFixture(t, adapter, fastRefundConfig())
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)
	refund := bookRefund(t, fx, seeded, 50000, enums.RefundMethodWallet)

	require.NoError(t, fx.settler.Settle(context.Background(), refund))

	balance, err := wallet.NewRepository(fx.db).Balance(context.Background(), seeded.order.UserID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), balance)

	var gotRefund models.PendingRefund
	require.NoError(t, fx.db.First(&gotRefund, "id = ?", refund.ID).Error)
	require.Equal(t, enums.RefundStatusSettled, gotRefund.Status)
	require.NotNil(t, gotRefund.SettledAt)
	require.True(t, fx.outbox.hasEvent(enums.EventRefundSettled))
}

func TestSettleGatewayReverseCallsProvider(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Reverse: true}}
	fx := newSettlerFixture(t, adapter, fastRefundConfig())
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)
	refund := bookRefund(t, fx, seeded, 150000, enums.RefundMethodGatewayReverse)

	require.NoError(t, fx.settler.Settle(context.Background(), refund))

	require.Len(t, adapter.reverseCalls, 1)
	require.Equal(t, seeded.contract.ID, adapter.reverseCalls[0].ContractID)
	require.Equal(t, "ext-adjust-1", adapter.reverseCalls[0].ExternalID)
	require.Equal(t, "settle-ref-1", adapter.reverseCalls[0].Reference)
	require.Equal(t, int64(150000), adapter.reverseCalls[0].AmountToman)

	var gotRefund models.PendingRefund
	require.NoError(t, fx.db.First(&gotRefund, "id = ?", refund.ID).Error)
	require.Equal(t, enums.RefundStatusSettled, gotRefund.Status)
}

func TestSettleGatewayUpdateSendsRemainingCart(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true}}
	fx := newSettlerFixture(t, adapter, fastRefundConfig())
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	// Simulate the engine having already reduced the second line to zero.
	require.NoError(t, fx.db.Model(&models.OrderItem{}).
		Where("id = ?", seeded.items[1].ID).
		Updates(map[string]any{"qty": 0, "total_toman": 0}).Error)
	require.NoError(t, fx.db.Model(&models.Order{}).
		Where("id = ?", seeded.order.ID).
		Updates(map[string]any{"items_total_toman": 100000, "payable_toman": 100000}).Error)
	refund := bookRefund(t, fx, seeded, 50000, enums.RefundMethodGatewayUpdate)

	require.NoError(t, fx.settler.Settle(context.Background(), refund))

	require.Len(t, adapter.updateCalls, 1)
	cart := adapter.updateCalls[0]
	require.Len(t, cart.Items, 1)
	require.Equal(t, seeded.products[0].ProductID, cart.Items[0].ProductID)
	require.Equal(t, int64(100000), cart.TotalToman)
}

func TestSettleEscalatesAfterExhaustedAttempts(t *testing.T) {
	adapter := &adjStubAdapter{
		provider:   enums.GatewaySnappay,
		caps:       payment.Capabilities{Reverse: true},
		reverseErr: pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "gateway timeout"),
	}
	cfg := fastRefundConfig()
	cfg.SettleMaxAttempts = 1
	fx := newSettlerFixture(t, adapter, cfg)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)
	refund := bookRefund(t, fx, seeded, 150000, enums.RefundMethodGatewayReverse)

	err := fx.settler.Settle(context.Background(), refund)
	require.Error(t, err)

	var gotRefund models.PendingRefund
	require.NoError(t, fx.db.First(&gotRefund, "id = ?", refund.ID).Error)
	require.Equal(t, enums.RefundStatusManualReview, gotRefund.Status)
	require.NotNil(t, gotRefund.LastError)

	var auditCount int64
	require.NoError(t, fx.db.Model(&models.AuditEvent{}).
		Where("order_id = ? AND event_type = ?", seeded.order.ID, enums.AuditEventRefundManual).
		Count(&auditCount).Error)
	require.EqualValues(t, 1, auditCount)
}

func TestSettleBusinessRejectionGoesStraightToManualReview(t *testing.T) {
	adapter := &adjStubAdapter{
		provider:   enums.GatewaySnappay,
		caps:       payment.Capabilities{Reverse: true},
		reverseErr: pkgerrors.New(pkgerrors.CodeGatewayRejected, "already reversed"),
	}
	fx := newSettlerFixture(t, adapter, fastRefundConfig())
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)
	refund := bookRefund(t, fx, seeded, 150000, enums.RefundMethodGatewayReverse)

	err := fx.settler.Settle(context.Background(), refund)
	require.Error(t, err)

	// One call, no retries for a rejection.
	require.Len(t, adapter.reverseCalls, 1)
	var gotRefund models.PendingRefund
	require.NoError(t, fx.db.First(&gotRefund, "id = ?", refund.ID).Error)
	require.Equal(t, enums.RefundStatusManualReview, gotRefund.Status)
}

func TestSettleDueSweepsPendingRefunds(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay}
	fx := newSettlerFixture(t, adapter, fastRefundConfig())
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)
	bookRefund(t, fx, seeded, 30000, enums.RefundMethodWallet)
	bookRefund(t, fx, seeded, 20000, enums.RefundMethodWallet)

	settled, err := fx.settler.SettleDue(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 2, settled)

	balance, err := wallet.NewRepository(fx.db).Balance(context.Background(), seeded.order.UserID)
	require.NoError(t, err)
	require.Equal(t, int64(50000), balance)
}

func TestSettleManualMethodIsANoOp(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay}
	fx := newSettlerFixture(t, adapter, fastRefundConfig())
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)
	refund := bookRefund(t, fx, seeded, 150000, enums.RefundMethodManual)

	require.NoError(t, fx.settler.Settle(context.Background(), refund))

	var gotRefund models.PendingRefund
	require.NoError(t, fx.db.First(&gotRefund, "id = ?", refund.ID).Error)
	require.Equal(t, enums.RefundStatusPending, gotRefund.Status)
}
