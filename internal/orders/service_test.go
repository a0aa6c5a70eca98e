package orders

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/discount"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/internal/shipping"
	"github.com/rgbgroup/infinity-backend/internal/stock"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
	"github.com/rgbgroup/infinity-backend/pkg/types"
)

func setupServiceTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db := setupOrdersTestDB(t)
	extra := `
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
	require.NoError(t, db.Exec(extra).Error)
	for _, table := range []string{"product_stocks", "discounts", "discount_usages", "audit_events"} {
		require.NoError(t, db.Exec("DELETE FROM "+table).Error)
	}
	return db
}

type serviceTxRunner struct {
	db *gorm.DB
}

func (r serviceTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

type serviceOutboxRecorder struct {
	events []outbox.DomainEvent
}

func (o *serviceOutboxRecorder) Emit(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

// gatewayStub hands out canned payment sessions.
type gatewayStub struct {
	provider   enums.GatewayProvider
	session    *payment.PaymentSession
	requestErr error
	requests   []payment.PaymentRequest
}

func (s *gatewayStub) Provider() enums.GatewayProvider    { return s.provider }
func (s *gatewayStub) Capabilities() payment.Capabilities { return payment.Capabilities{} }
func (s *gatewayStub) RequestPayment(_ context.Context, req payment.PaymentRequest) (*payment.PaymentSession, error) {
	s.requests = append(s.requests, req)
	if s.requestErr != nil {
		return nil, s.requestErr
	}
	return s.session, nil
}
func (s *gatewayStub) ExtractCallback(raw map[string]string) payment.CallbackPayload {
	return payment.CallbackPayload{RawFields: raw}
}
func (s *gatewayStub) VerifyCallback(context.Context, payment.CallbackPayload) (*payment.CallbackResult, error) {
	return nil, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}
func (s *gatewayStub) QueryStatus(context.Context, payment.TransactionRef) (enums.GatewayPaymentStatus, error) {
	return enums.GatewayPaymentStatusUnknown, nil
}
func (s *gatewayStub) UpdateTransaction(context.Context, payment.TransactionRef, payment.ReducedCart) error {
	return nil
}
func (s *gatewayStub) Reverse(context.Context, payment.TransactionRef) error { return nil }

// carrierStub returns a fixed barcode.
type carrierStub struct {
	result   *shipping.BarcodeResult
	issueErr error
	calls    []shipping.BarcodeRequest
}

func (c *carrierStub) IssueBarcode(_ context.Context, req shipping.BarcodeRequest) (*shipping.BarcodeResult, error) {
	c.calls = append(c.calls, req)
	if c.issueErr != nil {
		return nil, c.issueErr
	}
	return c.result, nil
}
func (c *carrierStub) BarcodePrice(context.Context, shipping.PriceRequest) (int64, error) {
	return 0, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}
func (c *carrierStub) Remaining(context.Context) (int, error) {
	return 0, pkgerrors.New(pkgerrors.CodeInternal, "not used")
}

type serviceFixture struct {
	db      *gorm.DB
	gateway *gatewayStub
	carrier *carrierStub
	outbox  *serviceOutboxRecorder
	svc     *Service
}

func newServiceFixture(t *testing.T, gateway *gatewayStub, carrier *carrierStub) *serviceFixture {
	t.Helper()

	db := setupServiceTestDB(t)
	registry := payment.NewRegistry()
	registry.Register(gateway)
	recorder := &serviceOutboxRecorder{}
	svc := NewService(
		NewRepository(db),
		stock.NewRepository(db),
		discount.NewService(discount.NewRepository(db)),
		audit.NewEmitter(db),
		serviceTxRunner{db: db},
		recorder,
		registry,
		carrier,
		config.AppConfig{PublicBaseURL: "https://shop.example.com"},
		nil,
		nil,
	)
	return &serviceFixture{db: db, gateway: gateway, carrier: carrier, outbox: recorder, svc: svc}
}

func seedServiceProduct(t *testing.T, db *gorm.DB, price int64, qty int) *models.ProductStock {
	t.Helper()
	product := &models.ProductStock{
		ProductID:  uuid.New(),
		Name:       "Ceramic Mug",
		PriceToman: price,
		Quantity:   qty,
		Active:     true,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func TestCheckoutCreatesOrderAndOpensSession(t *testing.T) {
	gateway := &gatewayStub{
		provider: enums.GatewayMellat,
		session:  &payment.PaymentSession{ExternalID: "ref-77", RedirectURL: "https://bank.example/pay/77"},
	}
	fx := newServiceFixture(t, gateway, &carrierStub{})
	product := seedServiceProduct(t, fx.db, 80000, 5)
	userID := uuid.New()

	result, err := fx.svc.Checkout(context.Background(), CheckoutInput{
		UserID:        userID,
		Items:         []CheckoutItemInput{{ProductID: product.ProductID, Qty: 2}},
		Provider:      enums.GatewayMellat,
		ShippingToman: 25000,
	})
	require.NoError(t, err)
	require.Equal(t, "https://bank.example/pay/77", result.RedirectURL)
	require.Equal(t, int64(185000), result.Order.PayableToman)
	require.Equal(t, enums.OrderStatusPaying, result.Order.Status)

	// Stock reserved inside the checkout transaction.
	var gotStock models.ProductStock
	require.NoError(t, fx.db.First(&gotStock, "product_id = ?", product.ProductID).Error)
	require.Equal(t, 3, gotStock.Quantity)

	// The gateway saw the contracted amount and the public callback.
	require.Len(t, gateway.requests, 1)
	require.Equal(t, int64(185000), gateway.requests[0].AmountToman)
	require.Equal(t, "https://shop.example.com/api/orders/payment-callback", gateway.requests[0].CallbackURL)

	var gotContract models.Contract
	require.NoError(t, fx.db.First(&gotContract, "id = ?", result.Contract.ID).Error)
	require.Equal(t, enums.ContractStatusPending, gotContract.Status)
	require.NotNil(t, gotContract.ExternalID)
	require.Equal(t, "ref-77", *gotContract.ExternalID)

	var auditCount int64
	require.NoError(t, fx.db.Model(&models.AuditEvent{}).
		Where("order_id = ? AND event_type = ?", result.Order.ID, enums.AuditEventOrderCreated).
		Count(&auditCount).Error)
	require.EqualValues(t, 1, auditCount)
	require.Equal(t, enums.EventOrderCreated, fx.outbox.events[0].EventType)
}

func TestCheckoutGatewayRefusalFailsContractKeepsOrder(t *testing.T) {
	gateway := &gatewayStub{
		provider:   enums.GatewayMellat,
		requestErr: pkgerrors.New(pkgerrors.CodeGatewayRejected, "merchant disabled"),
	}
	fx := newServiceFixture(t, gateway, &carrierStub{})
	product := seedServiceProduct(t, fx.db, 80000, 5)

	_, err := fx.svc.Checkout(context.Background(), CheckoutInput{
		UserID:   uuid.New(),
		Items:    []CheckoutItemInput{{ProductID: product.ProductID, Qty: 1}},
		Provider: enums.GatewayMellat,
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeGatewayRejected, pkgerrors.As(err).Code())

	// Order remains payable, contract is failed.
	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder).Error)
	require.Equal(t, enums.OrderStatusPaying, gotOrder.Status)
	var gotContract models.Contract
	require.NoError(t, fx.db.First(&gotContract, "order_id = ?", gotOrder.ID).Error)
	require.Equal(t, enums.ContractStatusFailed, gotContract.Status)
}

func TestCheckoutInsufficientStockRollsBack(t *testing.T) {
	gateway := &gatewayStub{provider: enums.GatewayMellat, session: &payment.PaymentSession{ExternalID: "x"}}
	fx := newServiceFixture(t, gateway, &carrierStub{})
	product := seedServiceProduct(t, fx.db, 80000, 1)

	_, err := fx.svc.Checkout(context.Background(), CheckoutInput{
		UserID:   uuid.New(),
		Items:    []CheckoutItemInput{{ProductID: product.ProductID, Qty: 3}},
		Provider: enums.GatewayMellat,
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())

	var orderCount int64
	require.NoError(t, fx.db.Model(&models.Order{}).Count(&orderCount).Error)
	require.Zero(t, orderCount)
	var gotStock models.ProductStock
	require.NoError(t, fx.db.First(&gotStock, "product_id = ?", product.ProductID).Error)
	require.Equal(t, 1, gotStock.Quantity)
	require.Empty(t, gateway.requests)
}

func TestCheckoutRejectsUnknownProvider(t *testing.T) {
	gateway := &gatewayStub{provider: enums.GatewayMellat}
	fx := newServiceFixture(t, gateway, &carrierStub{})

	_, err := fx.svc.Checkout(context.Background(), CheckoutInput{
		UserID:   uuid.New(),
		Items:    []CheckoutItemInput{{ProductID: uuid.New(), Qty: 1}},
		Provider: enums.GatewaySnappay,
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestRetryPaymentCancelsOldContract(t *testing.T) {
	gateway := &gatewayStub{
		provider: enums.GatewayMellat,
		session:  &payment.PaymentSession{ExternalID: "ref-2", RedirectURL: "https://bank.example/pay/2"},
	}
	fx := newServiceFixture(t, gateway, &carrierStub{})
	product := seedServiceProduct(t, fx.db, 80000, 5)

	first, err := fx.svc.Checkout(context.Background(), CheckoutInput{
		UserID:   uuid.New(),
		Items:    []CheckoutItemInput{{ProductID: product.ProductID, Qty: 1}},
		Provider: enums.GatewayMellat,
	})
	require.NoError(t, err)

	second, err := fx.svc.RetryPayment(context.Background(), first.Order.ID, enums.GatewayMellat, "")
	require.NoError(t, err)
	require.NotEqual(t, first.Contract.ID, second.Contract.ID)

	var oldContract models.Contract
	require.NoError(t, fx.db.First(&oldContract, "id = ?", first.Contract.ID).Error)
	require.Equal(t, enums.ContractStatusCancelled, oldContract.Status)

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", first.Order.ID).Error)
	require.NotNil(t, gotOrder.ActiveContractID)
	require.Equal(t, second.Contract.ID, *gotOrder.ActiveContractID)
}

func makeStartedOrder(t *testing.T, fx *serviceFixture) *models.Order {
	t.Helper()
	order := &models.Order{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: enums.OrderStatusStarted,
		ShippingAddress: &types.ShippingAddress{
			RecipientName: "Sara Ahmadi",
			Phone:         "09123456789",
			Province:      "Tehran",
			City:          "Tehran",
			Line:          "Valiasr St., No. 12",
			PostalCode:    "1234567890",
		},
		ItemsTotalToman: 160000,
		PayableToman:    160000,
	}
	require.NoError(t, fx.db.Create(order).Error)
	return order
}

func TestIssueBarcodeMovesOrderToShipment(t *testing.T) {
	carrier := &carrierStub{result: &shipping.BarcodeResult{Barcode: "PB-123456", PostPriceToman: 35000}}
	fx := newServiceFixture(t, &gatewayStub{provider: enums.GatewayMellat}, carrier)
	order := makeStartedOrder(t, fx)

	result, err := fx.svc.IssueBarcode(context.Background(), order.ID, IssueBarcodeInput{WeightGrams: 900, BoxSizeID: 2}, Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, "PB-123456", result.Barcode)

	require.Len(t, carrier.calls, 1)
	require.Equal(t, ShippingOrderNumber(order.ID), carrier.calls[0].OrderNumber)
	require.Equal(t, int64(160000), carrier.calls[0].SumToman)

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusShipment, gotOrder.Status)
	require.NotNil(t, gotOrder.ShippingBarcode)
	require.Equal(t, "PB-123456", *gotOrder.ShippingBarcode)

	require.Equal(t, enums.EventOrderShipped, fx.outbox.events[len(fx.outbox.events)-1].EventType)
}

func TestIssueBarcodeIsIdempotent(t *testing.T) {
	carrier := &carrierStub{result: &shipping.BarcodeResult{Barcode: "PB-123456"}}
	fx := newServiceFixture(t, &gatewayStub{provider: enums.GatewayMellat}, carrier)
	order := makeStartedOrder(t, fx)

	first, err := fx.svc.IssueBarcode(context.Background(), order.ID, IssueBarcodeInput{WeightGrams: 900}, Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)

	second, err := fx.svc.IssueBarcode(context.Background(), order.ID, IssueBarcodeInput{WeightGrams: 900}, Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)
	require.Equal(t, first.Barcode, second.Barcode)
	require.Len(t, carrier.calls, 1)
}

func TestVoidBarcodeReturnsOrderToStarted(t *testing.T) {
	carrier := &carrierStub{result: &shipping.BarcodeResult{Barcode: "PB-123456"}}
	fx := newServiceFixture(t, &gatewayStub{provider: enums.GatewayMellat}, carrier)
	order := makeStartedOrder(t, fx)

	_, err := fx.svc.IssueBarcode(context.Background(), order.ID, IssueBarcodeInput{}, Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)

	require.NoError(t, fx.svc.VoidBarcode(context.Background(), order.ID, "wrong box size", Actor{Type: audit.ActorAdmin}))

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusStarted, gotOrder.Status)
	require.Nil(t, gotOrder.ShippingBarcode)

	var auditCount int64
	require.NoError(t, fx.db.Model(&models.AuditEvent{}).
		Where("order_id = ? AND event_type = ?", order.ID, enums.AuditEventBarcodeVoided).
		Count(&auditCount).Error)
	require.EqualValues(t, 1, auditCount)
}

func TestConfirmDeliveryClosesOrder(t *testing.T) {
	carrier := &carrierStub{result: &shipping.BarcodeResult{Barcode: "PB-123456"}}
	fx := newServiceFixture(t, &gatewayStub{provider: enums.GatewayMellat}, carrier)
	order := makeStartedOrder(t, fx)
	_, err := fx.svc.IssueBarcode(context.Background(), order.ID, IssueBarcodeInput{}, Actor{Type: audit.ActorAdmin})
	require.NoError(t, err)

	require.NoError(t, fx.svc.ConfirmDelivery(context.Background(), order.ID, Actor{Type: audit.ActorAdmin}))

	var gotOrder models.Order
	require.NoError(t, fx.db.First(&gotOrder, "id = ?", order.ID).Error)
	require.Equal(t, enums.OrderStatusDone, gotOrder.Status)
	require.NotNil(t, gotOrder.DeliveredAt)

	// Closing twice loses the state race cleanly.
	err = fx.svc.ConfirmDelivery(context.Background(), order.ID, Actor{Type: audit.ActorAdmin})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestShippingOrderNumberIsStableAndPositive(t *testing.T) {
	orderID := uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479")
	first := ShippingOrderNumber(orderID)
	require.Equal(t, first, ShippingOrderNumber(orderID))
	require.Positive(t, first)
}
