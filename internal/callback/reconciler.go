package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	dbpkg "github.com/rgbgroup/infinity-backend/pkg/db"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/metrics"
	"github.com/rgbgroup/infinity-backend/pkg/outbox"
	"github.com/rgbgroup/infinity-backend/pkg/outbox/payloads"
)

// transactionsExternalConstraint is the unique index on
// (external_source, external_id) that backs callback dedup.
const transactionsExternalConstraint = "uq_transactions_external"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Result is what a callback produced. Duplicate means the callback had been
// fully processed before and nothing changed this time.
type Result struct {
	OrderID     uuid.UUID
	ContractID  uuid.UUID
	Succeeded   bool
	Duplicate   bool
	RedirectURL string
}

// Reconciler is the idempotent entry point for gateway callbacks. Replays,
// out-of-order deliveries, and racing duplicates all converge on at most one
// confirmed transition per contract.
type Reconciler struct {
	repo      orders.Repository
	audit     audit.Emitter
	tx        txRunner
	outbox    outboxPublisher
	gateways  *payment.Registry
	resultURL string
	logg      *logger.Logger
	metrics   *metrics.PaymentMetrics
}

// NewReconciler wires the callback reconciler.
func NewReconciler(
	repo orders.Repository,
	auditEmitter audit.Emitter,
	tx txRunner,
	outboxSvc outboxPublisher,
	gateways *payment.Registry,
	app config.AppConfig,
	logg *logger.Logger,
	payMetrics *metrics.PaymentMetrics,
) *Reconciler {
	return &Reconciler{
		repo:      repo,
		audit:     auditEmitter,
		tx:        tx,
		outbox:    outboxSvc,
		gateways:  gateways,
		resultURL: app.PaymentResultURL,
		logg:      logg,
		metrics:   payMetrics,
	}
}

// Process handles one inbound callback for a provider. The raw fields are
// whatever the gateway posted, form- or JSON-decoded by the transport layer.
func (r *Reconciler) Process(ctx context.Context, provider enums.GatewayProvider, raw map[string]string) (*Result, error) {
	adapter, err := r.gateways.Resolve(provider)
	if err != nil {
		return nil, err
	}

	payload := adapter.ExtractCallback(raw)
	if payload.ExternalID == "" {
		r.metrics.IncCallback(string(provider), "rejected")
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "callback carries no external transaction id")
	}

	// Replay of an already-settled callback: answer from the ledger without
	// touching the gateway again.
	existing, err := r.repo.FindTransactionByExternal(ctx, provider, payload.ExternalID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status.IsTerminal() {
		r.metrics.IncCallback(string(provider), "duplicate")
		succeeded := existing.Status == enums.TransactionStatusSuccess
		return &Result{
			OrderID:     existing.OrderID,
			ContractID:  existing.ContractID,
			Succeeded:   succeeded,
			Duplicate:   true,
			RedirectURL: r.resultRedirect(adapter, existing.OrderID, succeeded),
		}, nil
	}

	contract, err := r.repo.FindContractByExternalID(ctx, provider, payload.ExternalID)
	if err != nil {
		return nil, err
	}
	if contract == nil {
		r.metrics.IncCallback(string(provider), "unmatched")
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no contract matches the callback").
			WithDetails(map[string]any{"provider": provider, "external_id": payload.ExternalID})
	}

	result, err := adapter.VerifyCallback(ctx, payload)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInvalidSignature {
			details := make(map[string]any, len(raw))
			for key, value := range raw {
				details[key] = value
			}
			r.rejectCallback(ctx, contract, enums.AuditEventSignatureRejected, "callback signature rejected", details)
			r.metrics.IncCallback(string(provider), "rejected")
		}
		return nil, err
	}

	// Providers that echo an amount must echo the contracted one. A zero
	// amount means the provider does not echo it at all.
	if result.AmountToman > 0 && result.AmountToman != contract.AmountToman {
		r.rejectCallback(ctx, contract, enums.AuditEventAmountMismatch, "callback amount does not match contract", map[string]any{
			"echoed_toman":   result.AmountToman,
			"contract_toman": contract.AmountToman,
		})
		r.metrics.IncCallback(string(provider), "amount_mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeAmountMismatch, "callback amount does not match contract").
			WithDetails(map[string]any{
				"echoed_toman":   result.AmountToman,
				"contract_toman": contract.AmountToman,
			})
	}

	succeeded := result.Status == enums.GatewayPaymentStatusPaid
	outcome, err := r.apply(ctx, contract, payload, result, succeeded)
	if err != nil {
		return nil, err
	}
	if outcome.Duplicate {
		r.metrics.IncCallback(string(provider), "duplicate")
	} else if succeeded {
		r.metrics.IncCallback(string(provider), "confirmed")
	} else {
		r.metrics.IncCallback(string(provider), "failed")
	}
	outcome.RedirectURL = r.resultRedirect(adapter, outcome.OrderID, outcome.Succeeded)
	return outcome, nil
}

// resultRedirect builds the storefront result URL for providers that return
// the customer's browser to us. Empty when unconfigured or not a browser
// return.
func (r *Reconciler) resultRedirect(adapter payment.Adapter, orderID uuid.UUID, succeeded bool) string {
	if r.resultURL == "" || !adapter.Capabilities().BrowserReturn {
		return ""
	}
	target, err := url.Parse(r.resultURL)
	if err != nil {
		if r.logg != nil {
			r.logg.Error(context.Background(), "payment result url is not parseable", err)
		}
		return ""
	}
	status := "failed"
	if succeeded {
		status = "paid"
	}
	query := target.Query()
	query.Set("order", orderID.String())
	query.Set("status", status)
	target.RawQuery = query.Encode()
	return target.String()
}

// apply records the transaction and, on success, performs the paying to
// started transition. Everything runs in one storage transaction; losing a
// status race is treated as a duplicate, not an error.
func (r *Reconciler) apply(ctx context.Context, contract *models.Contract, payload payment.CallbackPayload, result *payment.CallbackResult, succeeded bool) (*Result, error) {
	outcome := &Result{
		OrderID:    contract.OrderID,
		ContractID: contract.ID,
		Succeeded:  succeeded,
	}

	status := enums.TransactionStatusFailed
	if succeeded {
		status = enums.TransactionStatusSuccess
	}
	rawJSON, err := json.Marshal(payload.RawFields)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding callback snapshot")
	}

	err = r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := r.repo.WithTx(tx)

		order, err := repo.FindOrder(ctx, contract.OrderID)
		if err != nil {
			return err
		}
		if order == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order for contract no longer exists")
		}
		// Stale-cart guard: the contract must still match what the order
		// says is payable.
		if succeeded && contract.AmountToman != order.PayableToman {
			return pkgerrors.New(pkgerrors.CodeConflict, "contract amount no longer matches order total").
				WithDetails(map[string]any{
					"contract_toman": contract.AmountToman,
					"payable_toman":  order.PayableToman,
				})
		}

		now := time.Now().UTC()
		transaction := &models.ContractTransaction{
			ID:             uuid.New(),
			ContractID:     contract.ID,
			OrderID:        contract.OrderID,
			Type:           enums.TransactionTypePayment,
			Status:         status,
			AmountToman:    contract.AmountToman,
			ExternalSource: contract.Provider,
			ExternalID:     payload.ExternalID,
			RawCallback:    rawJSON,
		}
		if result.Reference != "" {
			transaction.Reference = &result.Reference
		}
		if succeeded {
			transaction.SettledAt = &now
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			if dbpkg.IsUniqueViolation(err, transactionsExternalConstraint) {
				outcome.Duplicate = true
				return nil
			}
			return err
		}
		if !succeeded {
			if err := repo.TransitionContract(ctx, contract.ID, enums.ContractStatusPending, enums.ContractStatusFailed, nil); err != nil {
				if isStateConflict(err) {
					outcome.Duplicate = true
					return nil
				}
				return err
			}
			return r.audit.WithTx(tx).Emit(ctx, audit.Entry{
				OrderID:    &contract.OrderID,
				ContractID: &contract.ID,
				EventType:  enums.AuditEventPaymentFailed,
				Severity:   enums.AuditSeverityWarning,
				ActorType:  audit.ActorGateway,
				Message:    "gateway reported payment failure",
				Details:    map[string]any{"provider": contract.Provider},
			})
		}

		if err := repo.TransitionContract(ctx, contract.ID, enums.ContractStatusPending, enums.ContractStatusConfirmed, map[string]any{
			"confirmed_at": now,
		}); err != nil {
			if isStateConflict(err) {
				outcome.Duplicate = true
				return nil
			}
			return err
		}
		if err := repo.TransitionOrder(ctx, contract.OrderID, enums.OrderStatusPaying, enums.OrderStatusStarted, map[string]any{
			"paid_at": now,
		}); err != nil {
			if isStateConflict(err) {
				outcome.Duplicate = true
				return nil
			}
			return err
		}
		if err := r.audit.WithTx(tx).Emit(ctx, audit.Entry{
			OrderID:    &contract.OrderID,
			ContractID: &contract.ID,
			EventType:  enums.AuditEventPaymentConfirmed,
			ActorType:  audit.ActorGateway,
			Message:    "payment confirmed by gateway",
			Details: map[string]any{
				"provider":     contract.Provider,
				"amount_toman": contract.AmountToman,
				"external_id":  payload.ExternalID,
			},
		}); err != nil {
			return err
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderPaid,
			AggregateType: enums.AggregateOrder,
			AggregateID:   contract.OrderID,
			Data: payloads.OrderPaidEvent{
				OrderID:       contract.OrderID,
				ContractID:    contract.ID,
				TransactionID: transaction.ID,
				Provider:      contract.Provider,
				AmountToman:   contract.AmountToman,
				PaidAt:        now,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	if outcome.Succeeded && !outcome.Duplicate {
		r.metrics.IncTransition(string(enums.OrderStatusPaying), string(enums.OrderStatusStarted))
	}
	return outcome, nil
}

// ReconcileStale polls the gateway for pending contracts whose callback
// never arrived and applies the reported outcome. Providers without inquiry
// support are skipped.
func (r *Reconciler) ReconcileStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	contracts, err := r.repo.ListStaleContracts(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}
	reconciled := 0
	var errs error
	for _, contract := range contracts {
		applied, err := r.reconcileContract(ctx, contract)
		if err != nil {
			if r.logg != nil {
				r.logg.Error(r.logg.WithOrderID(ctx, contract.OrderID.String()), "stale contract reconciliation failed", err)
			}
			errs = multierr.Append(errs, fmt.Errorf("contract %s: %w", contract.ID, err))
			continue
		}
		if applied {
			reconciled++
		}
	}
	return reconciled, errs
}

func (r *Reconciler) reconcileContract(ctx context.Context, contract models.Contract) (bool, error) {
	adapter, err := r.gateways.Resolve(contract.Provider)
	if err != nil {
		return false, err
	}
	if !adapter.Capabilities().Inquiry {
		return false, nil
	}
	externalID := ""
	if contract.ExternalID != nil {
		externalID = *contract.ExternalID
	}

	status, err := adapter.QueryStatus(ctx, payment.TransactionRef{
		ContractID:  contract.ID,
		ExternalID:  externalID,
		AmountToman: contract.AmountToman,
	})
	if err != nil {
		return false, err
	}

	switch status {
	case enums.GatewayPaymentStatusPaid, enums.GatewayPaymentStatusFailed:
		payload := payment.CallbackPayload{
			ExternalID: externalID,
			RawFields:  map[string]string{"reconciled": "status_inquiry"},
		}
		result := &payment.CallbackResult{
			ExternalID: externalID,
			Status:     status,
		}
		if _, err := r.apply(ctx, &contract, payload, result, status == enums.GatewayPaymentStatusPaid); err != nil {
			return false, err
		}
		return true, nil
	default:
		// Still in progress or unknown; leave it for the next sweep.
		return false, nil
	}
}

// rejectCallback records a security-relevant rejection without mutating
// order or contract state.
func (r *Reconciler) rejectCallback(ctx context.Context, contract *models.Contract, eventType enums.AuditEventType, message string, details map[string]any) {
	err := r.audit.Emit(ctx, audit.Entry{
		OrderID:    &contract.OrderID,
		ContractID: &contract.ID,
		EventType:  eventType,
		Severity:   enums.AuditSeverityCritical,
		Audience:   enums.AuditAudienceAdmin,
		ActorType:  audit.ActorGateway,
		Message:    message,
		Details:    details,
	})
	if err != nil && r.logg != nil {
		r.logg.Error(ctx, "failed to record rejected callback", err)
	}
}

func isStateConflict(err error) bool {
	typed := pkgerrors.As(err)
	return typed != nil && typed.Code() == pkgerrors.CodeStateConflict
}
