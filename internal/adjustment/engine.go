package adjustment

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/discount"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/internal/stock"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/metrics"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
	"github.com/rgbgroup/infinity-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// refundSettler lets Apply kick one settle attempt right after commit. Nil
// means the worker picks the refund up on its next sweep.
type refundSettler interface {
	Settle(ctx context.Context, refund *models.PendingRefund) error
}

// ItemChange reduces one order line to a new quantity. Zero removes the line.
type ItemChange struct {
	OrderItemID uuid.UUID
	NewQty      int
}

// LineDiff is the per-line outcome of an adjustment.
type LineDiff struct {
	OrderItemID    uuid.UUID
	ProductID      uuid.UUID
	Name           string
	OldQty         int
	NewQty         int
	RestockQty     int
	UnitPriceToman int64
	OldTotalToman  int64
	NewTotalToman  int64
}

// Preview is the computed effect of an adjustment before anything mutates.
type Preview struct {
	OrderID            uuid.UUID
	Status             enums.OrderStatus
	Lines              []LineDiff
	OldItemsTotalToman int64
	NewItemsTotalToman int64
	OldDiscountToman   int64
	NewDiscountToman   int64
	ShippingToman      int64
	OldPayableToman    int64
	NewPayableToman    int64
	RefundToman        int64
	Cancels            bool
}

// Result is what Apply did.
type Result struct {
	Preview   *Preview
	NewStatus enums.OrderStatus
	Refund    *models.PendingRefund
}

// Engine computes and applies admin item adjustments: restock, total
// recomputation, cancellation or return, and the refund bookkeeping that
// follows. Gateway refund calls never run inside the ledger transaction;
// they are recorded as pending refunds and settled afterwards.
type Engine struct {
	repo      orders.Repository
	refunds   Repository
	stock     stock.Repository
	discounts *discount.Service
	audit     audit.Emitter
	tx        txRunner
	outbox    outboxPublisher
	gateways  *payment.Registry
	settler   refundSettler
	logg      *logger.Logger
	metrics   *metrics.PaymentMetrics
}

// NewEngine wires the adjustment engine. settler may be nil.
func NewEngine(
	repo orders.Repository,
	refunds Repository,
	stockRepo stock.Repository,
	discounts *discount.Service,
	auditEmitter audit.Emitter,
	tx txRunner,
	outboxSvc outboxPublisher,
	gateways *payment.Registry,
	settler refundSettler,
	logg *logger.Logger,
	payMetrics *metrics.PaymentMetrics,
) *Engine {
	return &Engine{
		repo:      repo,
		refunds:   refunds,
		stock:     stockRepo,
		discounts: discounts,
		audit:     auditEmitter,
		tx:        tx,
		outbox:    outboxSvc,
		gateways:  gateways,
		settler:   settler,
		logg:      logg,
		metrics:   payMetrics,
	}
}

// PreviewAdjustment computes the diff without side effects.
func (e *Engine) PreviewAdjustment(ctx context.Context, orderID uuid.UUID, changes []ItemChange) (*Preview, error) {
	order, err := e.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
			WithDetails(map[string]any{"order_id": orderID})
	}
	return e.computeDiff(ctx, order, changes)
}

// ApplyAdjustment restocks reduced units, rewrites the order totals, and
// transitions the order when nothing is left of it. The status check is
// optimistic: if the order moved underneath the caller the whole operation
// fails with a state conflict and nothing is kept.
func (e *Engine) ApplyAdjustment(ctx context.Context, orderID uuid.UUID, changes []ItemChange, reason string, actor orders.Actor) (*Result, error) {
	result := &Result{}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)

		order, err := repo.FindOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
				WithDetails(map[string]any{"order_id": orderID})
		}

		preview, err := e.computeDiffTx(ctx, tx, order, changes)
		if err != nil {
			return err
		}
		result.Preview = preview

		stockRepo := e.stock.WithTx(tx)
		for _, line := range preview.Lines {
			if line.RestockQty > 0 {
				if err := stockRepo.Increment(ctx, line.ProductID, line.RestockQty); err != nil {
					return err
				}
			}
		}
		for i := range order.Items {
			item := &order.Items[i]
			for _, line := range preview.Lines {
				if line.OrderItemID == item.ID && line.NewQty != line.OldQty {
					item.Qty = line.NewQty
					item.TotalToman = line.NewTotalToman
					if err := repo.UpdateOrderItem(ctx, item); err != nil {
						return err
					}
				}
			}
		}

		now := time.Now().UTC()
		target := order.Status
		set := map[string]any{
			"items_total_toman": preview.NewItemsTotalToman,
			"discount_toman":    preview.NewDiscountToman,
			"payable_toman":     preview.NewPayableToman,
		}
		if preview.Cancels {
			if order.Status == enums.OrderStatusShipment {
				target = enums.OrderStatusReturned
				set["returned_at"] = now
			} else {
				target = enums.OrderStatusCancelled
				set["cancelled_at"] = now
			}
		}
		if err := repo.TransitionOrder(ctx, order.ID, order.Status, target, set); err != nil {
			return err
		}
		result.NewStatus = target

		confirmed, err := repo.FindConfirmedContractByOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if confirmed != nil && !preview.Cancels && confirmed.AmountToman != preview.NewPayableToman {
			// The confirmed contract tracks what the order is now worth; the
			// settler's gateway update sends the gateway the same reduced
			// amount.
			if err := repo.TransitionContract(ctx, confirmed.ID, enums.ContractStatusConfirmed, enums.ContractStatusConfirmed, map[string]any{
				"amount_toman": preview.NewPayableToman,
			}); err != nil {
				return err
			}
			confirmed.AmountToman = preview.NewPayableToman
		}
		if preview.Cancels && confirmed == nil {
			// Unpaid full cancellation: void the open contract locally, no
			// gateway involvement.
			open, err := repo.FindOpenContractByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			if open != nil {
				if err := repo.TransitionContract(ctx, open.ID, enums.ContractStatusPending, enums.ContractStatusCancelled, nil); err != nil {
					return err
				}
			}
		}

		if confirmed != nil && preview.RefundToman > 0 {
			refund, err := e.recordRefund(ctx, tx, repo, order, confirmed, preview)
			if err != nil {
				return err
			}
			result.Refund = refund
		}

		return e.recordOutcome(ctx, tx, order, confirmed, preview, target, reason, actor, now)
	})
	if err != nil {
		return nil, err
	}

	if result.Preview.Cancels {
		e.metrics.IncTransition(string(result.Preview.Status), string(result.NewStatus))
	}
	if result.Refund != nil {
		e.metrics.IncRefund(string(result.Refund.Method), "pending")
		if e.settler != nil && result.Refund.Method != enums.RefundMethodManual {
			if err := e.settler.Settle(ctx, result.Refund); err != nil && e.logg != nil {
				e.logg.Warn(e.logg.WithOrderID(ctx, orderID.String()), "refund settle attempt deferred to worker")
			}
		}
	}
	return result, nil
}

// Cancel removes every remaining item, which drives the order to Cancelled
// (or Returned, after shipment) through the normal adjustment path.
func (e *Engine) Cancel(ctx context.Context, orderID uuid.UUID, reason string, actor orders.Actor) (*Result, error) {
	order, err := e.repo.FindOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
			WithDetails(map[string]any{"order_id": orderID})
	}
	changes := make([]ItemChange, 0, len(order.Items))
	for _, item := range order.Items {
		if item.Qty > 0 {
			changes = append(changes, ItemChange{OrderItemID: item.ID, NewQty: 0})
		}
	}
	if len(changes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no items left to cancel").
			WithDetails(map[string]any{"order_id": orderID})
	}
	return e.ApplyAdjustment(ctx, orderID, changes, reason, actor)
}

// recordRefund decides how the money goes back and books a pending refund.
// Capability gaps or an unregistered provider fall back to wallet or manual;
// the local ledger never blocks on what the gateway can or cannot do.
func (e *Engine) recordRefund(ctx context.Context, tx *gorm.DB, repo orders.Repository, order *models.Order, contract *models.Contract, preview *Preview) (*models.PendingRefund, error) {
	confirmedTx, err := repo.FindConfirmedTransactionByContract(ctx, contract.ID)
	if err != nil {
		return nil, err
	}
	if confirmedTx == nil {
		// Confirmed contract without a success row should not happen; leave
		// it to a human rather than guessing.
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "confirmed contract has no settled transaction").
			WithDetails(map[string]any{"contract_id": contract.ID})
	}

	method := enums.RefundMethodManual
	if adapter, err := e.gateways.Resolve(contract.Provider); err == nil {
		caps := adapter.Capabilities()
		switch {
		case preview.Cancels && caps.Reverse:
			method = enums.RefundMethodGatewayReverse
		case !preview.Cancels && caps.Update:
			method = enums.RefundMethodGatewayUpdate
		default:
			method = enums.RefundMethodWallet
		}
	}

	refund := &models.PendingRefund{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ContractID:    contract.ID,
		TransactionID: &confirmedTx.ID,
		AmountToman:   preview.RefundToman,
		Method:        method,
		Status:        enums.RefundStatusPending,
	}
	if err := e.refunds.WithTx(tx).Create(ctx, refund); err != nil {
		return nil, err
	}
	if err := e.audit.WithTx(tx).Emit(ctx, audit.Entry{
		OrderID:    &order.ID,
		ContractID: &contract.ID,
		EventType:  enums.AuditEventRefundPending,
		Audience:   enums.AuditAudienceAdmin,
		ActorType:  audit.ActorSystem,
		Message:    "refund booked for settlement",
		Details: map[string]any{
			"refund_id":    refund.ID,
			"amount_toman": refund.AmountToman,
			"method":       refund.Method,
		},
	}); err != nil {
		return nil, err
	}
	if err := e.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventRefundPending,
		AggregateType: enums.AggregateRefund,
		AggregateID:   refund.ID,
		Data: payloads.RefundPendingEvent{
			RefundID:    refund.ID,
			OrderID:     order.ID,
			AmountToman: refund.AmountToman,
			Method:      refund.Method,
		},
	}); err != nil {
		return nil, err
	}
	return refund, nil
}

func (e *Engine) recordOutcome(ctx context.Context, tx *gorm.DB, order *models.Order, contract *models.Contract, preview *Preview, target enums.OrderStatus, reason string, actor orders.Actor, now time.Time) error {
	var contractID *uuid.UUID
	if contract != nil {
		contractID = &contract.ID
	}
	entry := audit.Entry{
		OrderID:    &order.ID,
		ContractID: contractID,
		Audience:   enums.AuditAudienceAdmin,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Details: map[string]any{
			"reason":            reason,
			"old_payable_toman": preview.OldPayableToman,
			"new_payable_toman": preview.NewPayableToman,
			"refund_toman":      preview.RefundToman,
		},
	}

	var event outbox.DomainEvent
	switch target {
	case enums.OrderStatusCancelled:
		entry.EventType = enums.AuditEventOrderCancelled
		entry.Severity = enums.AuditSeverityWarning
		entry.Message = "order cancelled"
		event = outbox.DomainEvent{
			EventType:     enums.EventOrderCancelled,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderCancelledEvent{
				OrderID:     order.ID,
				RefundToman: preview.RefundToman,
				CancelledAt: now,
				Reason:      reason,
			},
		}
	case enums.OrderStatusReturned:
		entry.EventType = enums.AuditEventOrderReturned
		entry.Severity = enums.AuditSeverityWarning
		entry.Message = "order returned"
		event = outbox.DomainEvent{
			EventType:     enums.EventOrderReturned,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderReturnedEvent{
				OrderID:     order.ID,
				RefundToman: preview.RefundToman,
				ReturnedAt:  now,
			},
		}
	default:
		entry.EventType = enums.AuditEventOrderAdjusted
		entry.Message = "order items adjusted"
		event = outbox.DomainEvent{
			EventType:     enums.EventOrderAdjusted,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderAdjustedEvent{
				OrderID:         order.ID,
				OldPayableToman: preview.OldPayableToman,
				NewPayableToman: preview.NewPayableToman,
				RefundToman:     preview.RefundToman,
			},
		}
	}
	if actor.ID != nil {
		event.Actor = &outbox.ActorRef{UserID: *actor.ID, Role: actor.Role}
	}

	if err := e.audit.WithTx(tx).Emit(ctx, entry); err != nil {
		return err
	}
	return e.outbox.Emit(ctx, tx, event)
}

func (e *Engine) computeDiff(ctx context.Context, order *models.Order, changes []ItemChange) (*Preview, error) {
	return e.diffWith(ctx, e.discounts, order, changes)
}

func (e *Engine) computeDiffTx(ctx context.Context, tx *gorm.DB, order *models.Order, changes []ItemChange) (*Preview, error) {
	return e.diffWith(ctx, e.discounts.WithTx(tx), order, changes)
}

func (e *Engine) diffWith(ctx context.Context, discounts *discount.Service, order *models.Order, changes []ItemChange) (*Preview, error) {
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is already in a terminal state").
			WithDetails(map[string]any{"order_id": order.ID, "status": order.Status})
	}
	if len(changes) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "no item changes submitted")
	}

	requested := make(map[uuid.UUID]int, len(changes))
	for _, change := range changes {
		if _, dup := requested[change.OrderItemID]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "duplicate change for order item").
				WithDetails(map[string]any{"order_item_id": change.OrderItemID})
		}
		if change.NewQty < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity cannot be negative").
				WithDetails(map[string]any{"order_item_id": change.OrderItemID})
		}
		requested[change.OrderItemID] = change.NewQty
	}

	preview := &Preview{
		OrderID:            order.ID,
		Status:             order.Status,
		OldItemsTotalToman: order.ItemsTotalToman,
		OldDiscountToman:   order.DiscountToman,
		ShippingToman:      order.ShippingToman,
		OldPayableToman:    order.PayableToman,
	}

	changed := 0
	for _, item := range order.Items {
		line := LineDiff{
			OrderItemID:    item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			OldQty:         item.Qty,
			NewQty:         item.Qty,
			UnitPriceToman: item.UnitPriceToman,
			OldTotalToman:  item.TotalToman,
			NewTotalToman:  item.TotalToman,
		}
		if newQty, ok := requested[item.ID]; ok {
			delete(requested, item.ID)
			if newQty > item.Qty {
				return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustments can only reduce quantities").
					WithDetails(map[string]any{
						"order_item_id": item.ID,
						"current_qty":   item.Qty,
						"requested_qty": newQty,
					})
			}
			if newQty != item.Qty {
				line.NewQty = newQty
				line.RestockQty = item.Qty - newQty
				line.NewTotalToman = item.UnitPriceToman * int64(newQty)
				changed++
			}
		}
		preview.NewItemsTotalToman += line.NewTotalToman
		preview.Lines = append(preview.Lines, line)
	}
	if len(requested) > 0 {
		for itemID := range requested {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order item not found").
				WithDetails(map[string]any{"order_item_id": itemID})
		}
	}
	if changed == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "changes leave the order as it is")
	}

	preview.Cancels = preview.NewItemsTotalToman == 0
	if preview.Cancels {
		preview.NewDiscountToman = 0
		preview.NewPayableToman = 0
		preview.RefundToman = order.PayableToman
		return preview, nil
	}

	if order.DiscountID != nil {
		amount, err := discounts.Recompute(ctx, *order.DiscountID, preview.NewItemsTotalToman)
		if err != nil {
			return nil, err
		}
		preview.NewDiscountToman = amount
	}
	preview.NewPayableToman = preview.NewItemsTotalToman + preview.ShippingToman - preview.NewDiscountToman
	if preview.NewPayableToman > preview.OldPayableToman {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "adjustment would increase the payable amount").
			WithDetails(map[string]any{
				"old_payable_toman": preview.OldPayableToman,
				"new_payable_toman": preview.NewPayableToman,
			})
	}
	preview.RefundToman = preview.OldPayableToman - preview.NewPayableToman
	return preview, nil
}
