package orders

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
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
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/metrics"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
	"github.com/rgbgroup/infinity-backend/pkg/outbox/payloads"
	"github.com/rgbgroup/infinity-backend/pkg/pagination"
	"github.com/rgbgroup/infinity-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Actor identifies who initiated a lifecycle operation.
type Actor struct {
	ID   *uuid.UUID
	Type string
	Role string
}

// CheckoutItemInput is one requested cart line.
type CheckoutItemInput struct {
	ProductID uuid.UUID
	Qty       int
}

// CheckoutInput creates an order and opens a payment contract for it.
type CheckoutInput struct {
	UserID          uuid.UUID
	Items           []CheckoutItemInput
	Provider        enums.GatewayProvider
	DiscountCode    string
	ShippingAddress *types.ShippingAddress
	ShippingToman   int64
	Mobile          string
}

// CheckoutResult carries what the client needs to complete payment.
type CheckoutResult struct {
	Order       *models.Order
	Contract    *models.Contract
	RedirectURL string
}

// IssueBarcodeInput overrides the computed parcel parameters.
type IssueBarcodeInput struct {
	WeightGrams int
	BoxSizeID   int
	CityCode    int
}

// Service drives the order lifecycle: checkout, payment initiation, and the
// shipping transitions. Payment confirmation lives in the callback
// reconciler; cancellation and returns live in the adjustment engine.
type Service struct {
	repo      Repository
	stock     stock.Repository
	discounts *discount.Service
	audit     audit.Emitter
	tx        txRunner
	outbox    outboxPublisher
	gateways  *payment.Registry
	carrier   shipping.Client
	app       config.AppConfig
	logg      *logger.Logger
	metrics   *metrics.PaymentMetrics
}

// NewService wires the order orchestrator.
func NewService(
	repo Repository,
	stockRepo stock.Repository,
	discounts *discount.Service,
	auditEmitter audit.Emitter,
	tx txRunner,
	outboxSvc outboxPublisher,
	gateways *payment.Registry,
	carrier shipping.Client,
	app config.AppConfig,
	logg *logger.Logger,
	payMetrics *metrics.PaymentMetrics,
) *Service {
	return &Service{
		repo:      repo,
		stock:     stockRepo,
		discounts: discounts,
		audit:     auditEmitter,
		tx:        tx,
		outbox:    outboxSvc,
		gateways:  gateways,
		carrier:   carrier,
		app:       app,
		logg:      logg,
		metrics:   payMetrics,
	}
}

// Checkout reserves stock, prices the cart, creates the order with a pending
// contract, and asks the gateway for a payment session. The gateway call
// happens after the ledger transaction commits; a gateway failure marks the
// contract failed but leaves the order retryable.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one item")
	}
	adapter, err := s.gateways.Resolve(input.Provider)
	if err != nil {
		return nil, err
	}

	var (
		order    *models.Order
		contract *models.Contract
	)
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		stockRepo := s.stock.WithTx(tx)

		productIDs := make([]uuid.UUID, 0, len(input.Items))
		for _, item := range input.Items {
			productIDs = append(productIDs, item.ProductID)
		}
		products, err := stockRepo.FindByIDs(ctx, productIDs)
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]models.ProductStock, len(products))
		for _, product := range products {
			byID[product.ProductID] = product
		}

		orderID := uuid.New()
		var itemsTotal int64
		orderItems := make([]models.OrderItem, 0, len(input.Items))
		for _, item := range input.Items {
			if item.Qty <= 0 {
				return pkgerrors.New(pkgerrors.CodeValidation, "item quantity must be positive").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			product, ok := byID[item.ProductID]
			if !ok {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product is not available").
					WithDetails(map[string]any{"product_id": item.ProductID})
			}
			if err := stockRepo.Decrement(ctx, item.ProductID, item.Qty); err != nil {
				return err
			}
			lineTotal := product.PriceToman * int64(item.Qty)
			itemsTotal += lineTotal
			orderItems = append(orderItems, models.OrderItem{
				ID:             uuid.New(),
				OrderID:        orderID,
				ProductID:      item.ProductID,
				Name:           product.Name,
				UnitPriceToman: product.PriceToman,
				Qty:            item.Qty,
				TotalToman:     lineTotal,
			})
		}

		var (
			discountToman int64
			discountID    *uuid.UUID
			discountCode  *string
		)
		if input.DiscountCode != "" {
			eval, err := s.discounts.WithTx(tx).Evaluate(ctx, input.DiscountCode, input.UserID, itemsTotal)
			if err != nil {
				return err
			}
			if err := s.discounts.WithTx(tx).Consume(ctx, eval.Discount.ID, input.UserID, orderID); err != nil {
				return err
			}
			discountToman = eval.AmountToman
			discountID = &eval.Discount.ID
			discountCode = &eval.Discount.Code
		}

		payable := itemsTotal + input.ShippingToman - discountToman
		if payable <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "order payable amount must be positive").
				WithDetails(map[string]any{"payable_toman": payable})
		}

		repo := s.repo.WithTx(tx)
		contract = &models.Contract{
			ID:          uuid.New(),
			OrderID:     orderID,
			Provider:    input.Provider,
			Status:      enums.ContractStatusPending,
			AmountToman: payable,
		}
		order = &models.Order{
			ID:               orderID,
			UserID:           input.UserID,
			Status:           enums.OrderStatusPaying,
			ItemsTotalToman:  itemsTotal,
			ShippingToman:    input.ShippingToman,
			DiscountToman:    discountToman,
			PayableToman:     payable,
			DiscountID:       discountID,
			DiscountCode:     discountCode,
			ShippingAddress:  input.ShippingAddress,
			Items:            orderItems,
			ActiveContractID: &contract.ID,
		}
		if err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		if err := repo.CreateContract(ctx, contract); err != nil {
			return err
		}

		if err := s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:    &order.ID,
			ContractID: &contract.ID,
			EventType:  enums.AuditEventOrderCreated,
			ActorType:  audit.ActorUser,
			ActorID:    &input.UserID,
			Message:    "order created at checkout",
			Details: map[string]any{
				"provider":      input.Provider,
				"payable_toman": payable,
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID},
			Data: payloads.OrderCreatedEvent{
				OrderID:      order.ID,
				UserID:       input.UserID,
				ContractID:   contract.ID,
				Provider:     input.Provider,
				PayableToman: payable,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	session, err := adapter.RequestPayment(ctx, payment.PaymentRequest{
		OrderID:     order.ID,
		ContractID:  contract.ID,
		AmountToman: contract.AmountToman,
		CallbackURL: s.app.CallbackURL(),
		Mobile:      input.Mobile,
		Cart:        reducedCart(order.Items, order.ShippingToman, order.DiscountToman, order.PayableToman),
	})
	if err != nil {
		s.failContract(ctx, order, contract, err)
		return nil, err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).TransitionContract(ctx, contract.ID, enums.ContractStatusPending, enums.ContractStatusPending, map[string]any{
			"external_id":  session.ExternalID,
			"redirect_url": session.RedirectURL,
		}); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:    &order.ID,
			ContractID: &contract.ID,
			EventType:  enums.AuditEventPaymentRequested,
			Message:    "payment session opened at gateway",
			Details: map[string]any{
				"provider":    input.Provider,
				"external_id": session.ExternalID,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	contract.ExternalID = &session.ExternalID
	contract.RedirectURL = &session.RedirectURL

	if s.logg != nil {
		s.logg.Info(s.logg.WithOrderID(ctx, order.ID.String()), "checkout completed, redirecting to gateway")
	}
	return &CheckoutResult{
		Order:       order,
		Contract:    contract,
		RedirectURL: session.RedirectURL,
	}, nil
}

// failContract marks the contract failed after a gateway refusal. The order
// stays in paying so the customer can retry with a fresh contract.
func (s *Service) failContract(ctx context.Context, order *models.Order, contract *models.Contract, cause error) {
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).TransitionContract(ctx, contract.ID, enums.ContractStatusPending, enums.ContractStatusFailed, nil); err != nil {
			return err
		}
		if err := s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:    &order.ID,
			ContractID: &contract.ID,
			EventType:  enums.AuditEventPaymentFailed,
			Severity:   enums.AuditSeverityWarning,
			Message:    "gateway refused payment session",
			Details:    map[string]any{"error": cause.Error()},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaymentFailed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderPaymentFailedEvent{
				OrderID:    order.ID,
				ContractID: contract.ID,
				Provider:   contract.Provider,
				Reason:     cause.Error(),
			},
		})
	})
	if err != nil && s.logg != nil {
		s.logg.Error(s.logg.WithOrderID(ctx, order.ID.String()), "failed to record gateway refusal", err)
	}
}

// RetryPayment opens a fresh contract for an order still in paying whose
// previous attempt failed.
func (s *Service) RetryPayment(ctx context.Context, orderID uuid.UUID, provider enums.GatewayProvider, mobile string) (*CheckoutResult, error) {
	adapter, err := s.gateways.Resolve(provider)
	if err != nil {
		return nil, err
	}
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.Status != enums.OrderStatusPaying {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer payable").
			WithDetails(map[string]any{"status": order.Status})
	}
	open, err := s.repo.FindOpenContractByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if open != nil && open.Status == enums.ContractStatusConfirmed {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order already has a confirmed payment")
	}

	contract := &models.Contract{
		ID:          uuid.New(),
		OrderID:     order.ID,
		Provider:    provider,
		Status:      enums.ContractStatusPending,
		AmountToman: order.PayableToman,
	}
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if open != nil {
			if err := repo.TransitionContract(ctx, open.ID, enums.ContractStatusPending, enums.ContractStatusCancelled, nil); err != nil {
				return err
			}
		}
		if err := repo.CreateContract(ctx, contract); err != nil {
			return err
		}
		order.ActiveContractID = &contract.ID
		if err := repo.TransitionOrder(ctx, order.ID, enums.OrderStatusPaying, enums.OrderStatusPaying, map[string]any{
			"active_contract_id": contract.ID,
		}); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:    &order.ID,
			ContractID: &contract.ID,
			EventType:  enums.AuditEventPaymentRequested,
			ActorType:  audit.ActorUser,
			ActorID:    &order.UserID,
			Message:    "payment retried with a new contract",
			Details:    map[string]any{"provider": provider},
		})
	})
	if err != nil {
		return nil, err
	}

	session, err := adapter.RequestPayment(ctx, payment.PaymentRequest{
		OrderID:     order.ID,
		ContractID:  contract.ID,
		AmountToman: contract.AmountToman,
		CallbackURL: s.app.CallbackURL(),
		Mobile:      mobile,
		Cart:        reducedCart(order.Items, order.ShippingToman, order.DiscountToman, order.PayableToman),
	})
	if err != nil {
		s.failContract(ctx, order, contract, err)
		return nil, err
	}

	if err := s.repo.TransitionContract(ctx, contract.ID, enums.ContractStatusPending, enums.ContractStatusPending, map[string]any{
		"external_id":  session.ExternalID,
		"redirect_url": session.RedirectURL,
	}); err != nil {
		return nil, err
	}
	contract.ExternalID = &session.ExternalID
	contract.RedirectURL = &session.RedirectURL
	return &CheckoutResult{Order: order, Contract: contract, RedirectURL: session.RedirectURL}, nil
}

// IssueBarcode asks the carrier for a shipping label and moves the order to
// shipment. Calling it again after a label exists returns the stored label.
func (s *Service) IssueBarcode(ctx context.Context, orderID uuid.UUID, input IssueBarcodeInput, actor Actor) (*shipping.BarcodeResult, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.ShippingBarcode != nil && *order.ShippingBarcode != "" {
		return &shipping.BarcodeResult{Barcode: *order.ShippingBarcode}, nil
	}
	if order.Status != enums.OrderStatusStarted {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not ready for shipment").
			WithDetails(map[string]any{"status": order.Status})
	}
	if order.ShippingAddress == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no shipping address")
	}

	address := order.ShippingAddress
	result, err := s.carrier.IssueBarcode(ctx, shipping.BarcodeRequest{
		OrderNumber:  ShippingOrderNumber(order.ID),
		ProvinceCode: address.Province,
		ProvinceName: address.Province,
		CityName:     address.City,
		Recipient:    address.RecipientName,
		PostalCode:   address.PostalCode,
		Phone:        address.Phone,
		Address:      address.Line,
		WeightGrams:  input.WeightGrams,
		BoxSizeID:    input.BoxSizeID,
		SumToman:     order.PayableToman,
	})
	if err != nil {
		return nil, err
	}

	issuedAt := time.Now().UTC()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).TransitionOrder(ctx, order.ID, enums.OrderStatusStarted, enums.OrderStatusShipment, map[string]any{
			"shipping_barcode":  result.Barcode,
			"barcode_issued_at": issuedAt,
		}); err != nil {
			return err
		}
		if err := s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:   &order.ID,
			EventType: enums.AuditEventBarcodeIssued,
			Audience:  enums.AuditAudienceAdmin,
			ActorType: actor.Type,
			ActorID:   actor.ID,
			Message:   "carrier barcode issued",
			Details: map[string]any{
				"barcode":          result.Barcode,
				"post_price_toman": result.PostPriceToman,
			},
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderShipped,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderShippedEvent{
				OrderID:  order.ID,
				Barcode:  result.Barcode,
				IssuedAt: issuedAt,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.IncTransition(string(enums.OrderStatusStarted), string(enums.OrderStatusShipment))
	return result, nil
}

// VoidBarcode drops an issued label and moves the order back to started so a
// corrected label can be issued.
func (s *Service) VoidBarcode(ctx context.Context, orderID uuid.UUID, reason string, actor Actor) error {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	if order.ShippingBarcode == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order has no barcode to void")
	}
	voided := *order.ShippingBarcode

	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).TransitionOrder(ctx, order.ID, enums.OrderStatusShipment, enums.OrderStatusStarted, map[string]any{
			"shipping_barcode":  nil,
			"barcode_issued_at": nil,
		}); err != nil {
			return err
		}
		return s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:   &order.ID,
			EventType: enums.AuditEventBarcodeVoided,
			Severity:  enums.AuditSeverityWarning,
			Audience:  enums.AuditAudienceAdmin,
			ActorType: actor.Type,
			ActorID:   actor.ID,
			Message:   "carrier barcode voided",
			Details: map[string]any{
				"barcode": voided,
				"reason":  reason,
			},
		})
	})
}

// ConfirmDelivery closes the lifecycle for a shipped order.
func (s *Service) ConfirmDelivery(ctx context.Context, orderID uuid.UUID, actor Actor) error {
	deliveredAt := time.Now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).TransitionOrder(ctx, orderID, enums.OrderStatusShipment, enums.OrderStatusDone, map[string]any{
			"delivered_at": deliveredAt,
		}); err != nil {
			return err
		}
		if err := s.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:   &orderID,
			EventType: enums.AuditEventDeliveryConfirmed,
			ActorType: actor.Type,
			ActorID:   actor.ID,
			Message:   "delivery confirmed",
		}); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderDelivered,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.OrderDeliveredEvent{
				OrderID:     orderID,
				DeliveredAt: deliveredAt,
			},
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncTransition(string(enums.OrderStatusShipment), string(enums.OrderStatusDone))
	return nil
}

// GetOrder loads one order with its items.
func (s *Service) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

// ListOrders pages through a user's orders, newest first.
func (s *Service) ListOrders(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[models.Order], error) {
	return s.repo.ListOrdersByUser(ctx, userID, params)
}

// ShippingOrderNumber derives the numeric order reference carriers require
// from the order UUID. Stable across calls.
func ShippingOrderNumber(orderID uuid.UUID) int64 {
	raw := binary.BigEndian.Uint64(orderID[:8])
	return int64(raw & (1<<62 - 1))
}

func reducedCart(items []models.OrderItem, shippingToman, discountToman, totalToman int64) payment.ReducedCart {
	cartItems := make([]payment.ReducedCartItem, 0, len(items))
	for _, item := range items {
		cartItems = append(cartItems, payment.ReducedCartItem{
			ProductID:  item.ProductID,
			Name:       item.Name,
			PriceToman: item.UnitPriceToman,
			Qty:        item.Qty,
		})
	}
	return payment.ReducedCart{
		Items:         cartItems,
		ShippingToman: shippingToman,
		DiscountToman: discountToman,
		TotalToman:    totalToman,
	}
}
