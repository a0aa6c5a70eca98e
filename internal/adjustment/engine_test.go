package adjustment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/discount"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/internal/stock"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
)

func setupAdjustmentTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	schema := `
CREATE TABLE IF NOT EXISTS orders (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'paying',
  items_total_toman INTEGER NOT NULL,
  shipping_toman INTEGER NOT NULL DEFAULT 0,
  discount_toman INTEGER NOT NULL DEFAULT 0,
  payable_toman INTEGER NOT NULL,
  discount_id TEXT,
  discount_code TEXT,
  shipping_address TEXT,
  shipping_barcode TEXT,
  barcode_issued_at DATETIME,
  paid_at DATETIME,
  delivered_at DATETIME,
  cancelled_at DATETIME,
  returned_at DATETIME,
  active_contract_id TEXT,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS order_items (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  product_id TEXT NOT NULL,
  name TEXT NOT NULL,
  unit_price_toman INTEGER NOT NULL,
  qty INTEGER NOT NULL,
  total_toman INTEGER NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS contracts (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  provider TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  amount_toman INTEGER NOT NULL,
  external_id TEXT,
  redirect_url TEXT,
  confirmed_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS contract_transactions (
  id TEXT PRIMARY KEY,
  contract_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'payment',
  status TEXT NOT NULL DEFAULT 'pending',
  amount_toman INTEGER NOT NULL,
  external_source TEXT NOT NULL,
  external_id TEXT NOT NULL,
  reference TEXT,
  raw_callback TEXT,
  settled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS product_stocks (
  product_id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  price_toman INTEGER NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS discounts (
  id TEXT PRIMARY KEY,
  code TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL,
  value NUMERIC NOT NULL,
  max_toman INTEGER NOT NULL DEFAULT 0,
  min_order_toman INTEGER NOT NULL DEFAULT 0,
  max_uses INTEGER NOT NULL DEFAULT 0,
  used_count INTEGER NOT NULL DEFAULT 0,
  per_user_limit INTEGER NOT NULL DEFAULT 0,
  active INTEGER NOT NULL DEFAULT 1,
  expires_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS discount_usages (
  id TEXT PRIMARY KEY,
  discount_id TEXT NOT NULL,
  user_id TEXT NOT NULL,
  order_id TEXT NOT NULL,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS pending_refunds (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  contract_id TEXT NOT NULL,
  transaction_id TEXT,
  amount_toman INTEGER NOT NULL,
  method TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  attempts INTEGER NOT NULL DEFAULT 0,
  last_error TEXT,
  settled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS wallet_transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  order_id TEXT,
  type TEXT NOT NULL,
  amount_toman INTEGER NOT NULL,
  description TEXT NOT NULL,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS audit_events (
  id TEXT PRIMARY KEY,
  order_id TEXT,
  contract_id TEXT,
  event_type TEXT NOT NULL,
  severity TEXT NOT NULL DEFAULT 'info',
  audience TEXT NOT NULL DEFAULT 'all',
  actor_type TEXT NOT NULL DEFAULT 'system',
  actor_id TEXT,
  message TEXT NOT NULL,
  details TEXT,
  created_at DATETIME
);`
	require.NoError(t, db.Exec(schema).Error)
	for _, table := range []string{
		"orders", "order_items", "contracts", "contract_transactions",
		"product_stocks", "discounts", "discount_usages",
		"pending_refunds", "wallet_transactions", "audit_events",
	} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

type adjTxRunner struct {
	db *gorm.DB
}

func (r adjTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type adjOutboxRecorder struct {
	events []outbox.DomainEvent
}

func (o *adjOutboxRecorder) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

func (o *adjOutboxRecorder) hasEvent(eventType enums.OutboxEventType) bool {
	for _, event := range o.events {
		if event.EventType == eventType {
			return true
		}
	}
	return false
}

// adjStubAdapter records gateway refund calls.
type adjStubAdapter struct {
	provider     enums.GatewayProvider
	caps         payment.Capabilities
	updateCalls  []payment.ReducedCart
	reverseCalls []payment.TransactionRef
	updateErr    error
	reverseErr   error
}

func (s *adjStubAdapter) Provider() enums.GatewayProvider    { return s.provider }
func (s *adjStubAdapter) Capabilities() payment.Capabilities { return s.caps }
func (s *adjStubAdapter) RequestPayment(context.Context, payment.PaymentRequest) (*payment.PaymentSession, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}
func (s *adjStubAdapter) ExtractCallback(raw map[string]string) payment.CallbackPayload {
	return payment.CallbackPayload{RawFields: raw}
}
func (s *adjStubAdapter) VerifyCallback(context.Context, payment.CallbackPayload) (*payment.CallbackResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}
func (s *adjStubAdapter) QueryStatus(context.Context, payment.TransactionRef) (enums.GatewayPaymentStatus, error) {
	return enums.GatewayPaymentStatusUnknown, nil
}
func (s *adjStubAdapter) UpdateTransaction(_ context.Context, _ payment.TransactionRef, cart payment.ReducedCart) error {
	s.updateCalls = append(s.updateCalls, cart)
	return s.updateErr
}
func (s *adjStubAdapter) Reverse(_ context.Context, ref payment.TransactionRef) error {
	s.reverseCalls = append(s.reverseCalls, ref)
	return s.reverseErr
}

type engineFixture struct {
	db       *gorm.DB
	adapter  *adjStubAdapter
	outbox   *adjOutboxRecorder
	refunds  Repository
	ordersDB orders.Repository
	engine   *Engine
}

func newEngineFixture(t *testing.T, adapter *adjStubAdapter) *engineFixture {
	t.Helper()

	db := setupAdjustmentTestDB(t)
	registry := payment.NewRegistry()
	registry.Register(adapter)
	ordersRepo := orders.NewRepository(db)
	refunds := NewRepository(db)
	recorder := &adjOutboxRecorder{}
	engine := NewEngine(
		ordersRepo,
		refunds,
		stock.NewRepository(db),
		discount.NewService(discount.NewRepository(db)),
		audit.NewEmitter(db),
		adjTxRunner{db: db},
		recorder,
		registry,
		nil,
		nil,
		nil,
	)
	return &engineFixture{
		db:       db,
		adapter:  adapter,
		outbox:   recorder,
		refunds:  refunds,
		ordersDB: ordersRepo,
		engine:   engine,
	}
}

type seededOrder struct {
	order    *models.Order
	contract *models.Contract
	items    []models.OrderItem
	products []models.ProductStock
}

// seedPaidOrder creates a Started order with two lines (2x50k + 1x50k =
// 150k), a confirmed contract, and its settled transaction.
func seedPaidOrder(t *testing.T, db *gorm.DB, status enums.OrderStatus) *seededOrder {
	t.Helper()

	products := []models.ProductStock{
		{ProductID: uuid.New(), Name: "Desk Lamp", PriceToman: 50000, Quantity: 3, Active: true},
		{ProductID: uuid.New(), Name: "Notebook", PriceToman: 50000, Quantity: 5, Active: true},
	}
	for i := range products {
		require.NoError(t, db.Create(&products[i]).Error)
	}

	order := &models.Order{
		ID:              uuid.New(),
		UserID:          uuid.New(),
		Status:          status,
		ItemsTotalToman: 150000,
		PayableToman:    150000,
	}
	require.NoError(t, db.Create(order).Error)

	items := []models.OrderItem{
		{ID: uuid.New(), OrderID: order.ID, ProductID: products[0].ProductID, Name: "Desk Lamp", UnitPriceToman: 50000, Qty: 2, TotalToman: 100000},
		{ID: uuid.New(), OrderID: order.ID, ProductID: products[1].ProductID, Name: "Notebook", UnitPriceToman: 50000, Qty: 1, TotalToman: 50000},
	}
	for i := range items {
		require.NoError(t, db.Create(&items[i]).Error)
	}

	externalID := "ext-adjust-1"
	now := time.Now().UTC()
	contract := &models.Contract{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Provider:    enums.GatewaySnappay,
		Status:      enums.ContractStatusConfirmed,
		AmountToman: 150000,
		ExternalID:  &externalID,
		ConfirmedAt: &now,
	}
	require.NoError(t, db.Create(contract).Error)

	reference := "settle-ref-1"
	transaction := &models.ContractTransaction{
		ID:             uuid.New(),
		ContractID:     contract.ID,
		OrderID:        order.ID,
		Type:           enums.TransactionTypePayment,
		Status:         enums.TransactionStatusSuccess,
		AmountToman:    150000,
		ExternalSource: contract.Provider,
		ExternalID:     externalID,
		Reference:      &reference,
		SettledAt:      &now,
	}
	require.NoError(t, db.Create(transaction).Error)

	return &seededOrder{order: order, contract: contract, items: items, products: products}
}

func TestPreviewAdjustmentComputesRefundWithoutSideEffects(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true}}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	preview, err := fx.engine.PreviewAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[1].ID, NewQty: 0},
	})
	require.NoError(t, err)
	require.Equal(t, int64(100000), preview.NewPayableToman)
	require.Equal(t, int64(50000), preview.RefundToman)
	require.False(t, preview.Cancels)

	// Nothing moved.
	var product models.ProductStock
	require.NoError(t, fx.db.First(&product, "product_id = ?", seeded.products[1].ProductID).Error)
	require.Equal(t, 5, product.Quantity)
	var refundCount int64
	require.NoError(t, fx.db.Model(&models.PendingRefund{}).Count(&refundCount).Error)
	require.Zero(t, refundCount)
}

func TestApplyAdjustmentRestocksAndBooksRefund(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true, Reverse: true}}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	result, err := fx.engine.ApplyAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[1].ID, NewQty: 0},
	}, "customer dropped an item", orders.Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusStarted, result.NewStatus)
	require.NotNil(t, result.Refund)
	require.Equal(t, enums.RefundMethodGatewayUpdate, result.Refund.Method)
	require.Equal(t, int64(50000), result.Refund.AmountToman)

	var product models.ProductStock
	require.NoError(t, fx.db.First(&product, "product_id = ?", seeded.products[1].ProductID).Error)
	require.Equal(t, 6, product.Quantity)

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", seeded.order.ID).Error)
	require.Equal(t, enums.OrderStatusStarted, gotOrder.Status)
	require.Equal(t, int64(100000), gotOrder.PayableToman)
	require.Equal(t, int64(100000), gotOrder.ItemsTotalToman)

	var gotItem models.OrderItem
	require.NoError(t, fx.db.First(&gotItem, "id = ?", seeded.items[1].ID).Error)
	require.Zero(t, gotItem.Qty)
	require.Zero(t, gotItem.TotalToman)

	require.True(t, fx.outbox.hasEvent(enums.EventOrderAdjusted))
	require.True(t, fx.outbox.hasEvent(enums.EventRefundPending))

	var auditCount int64
	require.NoError(t, fx.db.Model(&models.AuditEvent{}).
		Where("order_id = ? AND event_type = ?", seeded.order.ID, enums.AuditEventOrderAdjusted).
		Count(&auditCount).Error)
	require.EqualValues(t, 1, auditCount)
}

func TestApplyAdjustmentKeepsContractAmountInSync(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true}}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	_, err := fx.engine.ApplyAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[1].ID, NewQty: 0},
	}, "customer dropped an item", orders.Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", seeded.order.ID).Error)
	var gotContract models.Contract
	require.NoError(t, fx.db.First(&gotContract, "id = ?", seeded.contract.ID).Error)
	require.Equal(t, enums.ContractStatusConfirmed, gotContract.Status)
	require.Equal(t, gotOrder.PayableToman, gotContract.AmountToman)
	require.Equal(t, int64(100000), gotContract.AmountToman)

	// A second reduction keeps them in lockstep.
	_, err = fx.engine.ApplyAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[0].ID, NewQty: 1},
	}, "second reduction", orders.Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", seeded.order.ID).Error)
	require.NoError(t, fx.db.First(&gotContract, "id = ?", seeded.contract.ID).Error)
	require.Equal(t, gotOrder.PayableToman, gotContract.AmountToman)
	require.Equal(t, int64(50000), gotContract.AmountToman)
}

func TestApplyAdjustmentToZeroCancelsPaidOrder(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true, Reverse: true}}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	result, err := fx.engine.Cancel(context.Background(), seeded.order.ID, "out of stock at warehouse", orders.Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, result.NewStatus)
	require.NotNil(t, result.Refund)
	require.Equal(t, enums.RefundMethodGatewayReverse, result.Refund.Method)
	require.Equal(t, int64(150000), result.Refund.AmountToman)

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", seeded.order.ID).Error)
	require.Equal(t, enums.OrderStatusCancelled, gotOrder.Status)
	require.NotNil(t, gotOrder.CancelledAt)
	require.Zero(t, gotOrder.PayableToman)

	// Both lines restocked.
	var lamp, notebook models.ProductStock
	require.NoError(t, fx.db.First(&lamp, "product_id = ?", seeded.products[0].ProductID).Error)
	require.NoError(t, fx.db.First(&notebook, "product_id = ?", seeded.products[1].ProductID).Error)
	require.Equal(t, 5, lamp.Quantity)
	require.Equal(t, 6, notebook.Quantity)

	require.True(t, fx.outbox.hasEvent(enums.EventOrderCancelled))
}

func TestApplyAdjustmentToZeroVoidsUnpaidContractLocally(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true, Reverse: true}}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusPaying)
	// Rewind the contract to unpaid and drop the settled transaction.
	require.NoError(t, fx.db.Model(&models.Contract{}).
		Where("id = ?", seeded.contract.ID).
		Updates(map[string]any{"status": enums.ContractStatusPending, "confirmed_at": nil}).Error)
	require.NoError(t, fx.db.Exec("DELETE FROM contract_transactions").Error)

	result, err := fx.engine.Cancel(context.Background(), seeded.order.ID, "payment abandoned", orders.Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusCancelled, result.NewStatus)
	require.Nil(t, result.Refund)

	var gotContract models.Contract
	require.NoError(t, fx.db.First(&gotContract, "id = ?", seeded.contract.ID).Error)
	require.Equal(t, enums.ContractStatusCancelled, gotContract.Status)

	// No gateway touch, no refund row.
	require.Empty(t, adapter.reverseCalls)
	require.Empty(t, adapter.updateCalls)
	var refundCount int64
	require.NoError(t, fx.db.Model(&models.PendingRefund{}).Count(&refundCount).Error)
	require.Zero(t, refundCount)
}

func TestApplyAdjustmentAfterShipmentReturns(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Reverse: true}}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusShipment)

	result, err := fx.engine.Cancel(context.Background(), seeded.order.ID, "customer returned the parcel", orders.Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, enums.OrderStatusReturned, result.NewStatus)

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", seeded.order.ID).Error)
	require.Equal(t, enums.OrderStatusReturned, gotOrder.Status)
	require.NotNil(t, gotOrder.ReturnedAt)
	require.True(t, fx.outbox.hasEvent(enums.EventOrderReturned))
}

func TestApplyAdjustmentFallsBackToWalletWithoutCapability(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	result, err := fx.engine.ApplyAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[1].ID, NewQty: 0},
	}, "partial return", orders.Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, enums.RefundMethodWallet, result.Refund.Method)
}

// racingStockRepo lets a test interleave a concurrent order write into the
// middle of an adjustment transaction.
type racingStockRepo struct {
	inner stock.Repository
	bump  func(tx *gorm.DB)
	tx    *gorm.DB
}

func (r *racingStockRepo) WithTx(tx *gorm.DB) stock.Repository {
	return &racingStockRepo{inner: r.inner.WithTx(tx), bump: r.bump, tx: tx}
}
func (r *racingStockRepo) Create(ctx context.Context, product *models.ProductStock) error {
	return r.inner.Create(ctx, product)
}
func (r *racingStockRepo) Update(ctx context.Context, product *models.ProductStock) error {
	return r.inner.Update(ctx, product)
}
func (r *racingStockRepo) FindByID(ctx context.Context, productID uuid.UUID) (*models.ProductStock, error) {
	return r.inner.FindByID(ctx, productID)
}
func (r *racingStockRepo) FindByIDs(ctx context.Context, productIDs []uuid.UUID) ([]models.ProductStock, error) {
	return r.inner.FindByIDs(ctx, productIDs)
}
func (r *racingStockRepo) Decrement(ctx context.Context, productID uuid.UUID, qty int) error {
	return r.inner.Decrement(ctx, productID, qty)
}
func (r *racingStockRepo) Increment(ctx context.Context, productID uuid.UUID, qty int) error {
	if r.bump != nil {
		r.bump(r.tx)
	}
	return r.inner.Increment(ctx, productID, qty)
}

func TestApplyAdjustmentLosesStatusRaceCleanly(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true}}
	db := setupAdjustmentTestDB(t)
	registry := payment.NewRegistry()
	registry.Register(adapter)
	ordersRepo := orders.NewRepository(db)
	seeded := seedPaidOrder(t, db, enums.OrderStatusStarted)

	racing := &racingStockRepo{inner: stock.NewRepository(db)}
	racing.bump = func(tx *gorm.DB) {
		// A concurrent shipment confirmation got in between the read and the
		// status update.
		require.NoError(t, tx.Exec("UPDATE orders SET status = ? WHERE id = ?",
			enums.OrderStatusShipment, seeded.order.ID).Error)
	}
	engine := NewEngine(
		ordersRepo,
		NewRepository(db),
		racing,
		discount.NewService(discount.NewRepository(db)),
		audit.NewEmitter(db),
		adjTxRunner{db: db},
		&adjOutboxRecorder{},
		registry,
		nil,
		nil,
		nil,
	)

	_, err := engine.ApplyAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[1].ID, NewQty: 0},
	}, "stale adjustment", orders.Actor{Type: audit.ActorAdmin})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	// The whole transaction rolled back: nothing restocked, nothing rewritten,
	// no refund booked.
	var gotItem models.OrderItem
	require.NoError(t, db.First(&gotItem, "id = ?", seeded.items[1].ID).Error)
	require.Equal(t, 1, gotItem.Qty)
	var product models.ProductStock
	require.NoError(t, db.First(&product, "product_id = ?", seeded.products[1].ProductID).Error)
	require.Equal(t, 5, product.Quantity)
	var refundCount int64
	require.NoError(t, db.Model(&models.PendingRefund{}).Count(&refundCount).Error)
	require.Zero(t, refundCount)
}

func TestAdjustmentRejectsQuantityIncrease(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	_, err := fx.engine.PreviewAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[0].ID, NewQty: 5},
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestAdjustmentRejectsUnknownItem(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	_, err := fx.engine.PreviewAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: uuid.New(), NewQty: 0},
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestAdjustmentRejectsTerminalOrder(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusDone)

	_, err := fx.engine.ApplyAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[1].ID, NewQty: 0},
	}, "too late", orders.Actor{Type: audit.ActorAdmin})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestAdjustmentRecomputesDiscountOnReducedCart(t *testing.T) {
	adapter := &adjStubAdapter{provider: enums.GatewaySnappay, caps: payment.Capabilities{Update: true}}
	fx := newEngineFixture(t, adapter)
	seeded := seedPaidOrder(t, fx.db, enums.OrderStatusStarted)

	percent := seedDiscountRow(t, fx.db)
	code := percent.Code
	require.NoError(t, fx.db.Model(&models.Order{}).
		Where("id = ?", seeded.order.ID).
		Updates(map[string]any{
			"discount_id":    percent.ID,
			"discount_code":  code,
			"discount_toman": 15000,
			"payable_toman":  135000,
		}).Error)
	require.NoError(t, fx.db.Model(&models.Contract{}).
		Where("id = ?", seeded.contract.ID).
		Update("amount_toman", 135000).Error)

	preview, err := fx.engine.PreviewAdjustment(context.Background(), seeded.order.ID, []ItemChange{
		{OrderItemID: seeded.items[1].ID, NewQty: 0},
	})
	require.NoError(t, err)
	// 10% of the reduced 100k subtotal.
	require.Equal(t, int64(10000), preview.NewDiscountToman)
	require.Equal(t, int64(90000), preview.NewPayableToman)
	require.Equal(t, int64(45000), preview.RefundToman)
}

func seedDiscountRow(t *testing.T, db *gorm.DB) *models.Discount {
	t.Helper()
	d := &models.Discount{
		ID:     uuid.New(),
		Code:   "TENOFF",
		Type:   enums.DiscountTypePercent,
		Value:  decimal.NewFromInt(10),
		Active: true,
	}
	require.NoError(t, db.Create(d).Error)
	return d
}
