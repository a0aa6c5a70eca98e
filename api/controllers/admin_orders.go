package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/api/middleware"
	"github.com/rgbgroup/infinity-backend/api/responses"
	"github.com/rgbgroup/infinity-backend/api/validators"
	"github.com/rgbgroup/infinity-backend/internal/adjustment"
	"github.com/rgbgroup/infinity-backend/internal/audit"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/pagination"
)

// AdminAdjustItems reduces line quantities on a paid order. With ?dryRun=true
// it returns the computed effect without mutating anything.
func AdminAdjustItems(engine *adjustment.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "adjustment engine unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload adjustItemsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		changes := make([]adjustment.ItemChange, 0, len(payload.Changes))
		for _, change := range payload.Changes {
			changes = append(changes, adjustment.ItemChange{
				OrderItemID: change.OrderItemID,
				NewQty:      change.NewQty,
			})
		}

		if dryRun(r) {
			preview, err := engine.PreviewAdjustment(r.Context(), orderID, changes)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			responses.WriteSuccess(w, newAdjustmentPreviewResponse(preview))
			return
		}

		result, err := engine.ApplyAdjustment(r.Context(), orderID, changes, payload.Reason, adminActor(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAdjustmentResultResponse(result))
	}
}

// AdminCancelOrder cancels (or returns, post-shipment) the whole order and
// books the refund.
func AdminCancelOrder(engine *adjustment.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "adjustment engine unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := engine.Cancel(r.Context(), orderID, payload.Reason, adminActor(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newAdjustmentResultResponse(result))
	}
}

// AdminIssueBarcode registers the parcel with the carrier and moves the
// order into shipment.
func AdminIssueBarcode(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload issueBarcodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.IssueBarcode(r.Context(), orderID, orders.IssueBarcodeInput{
			WeightGrams: payload.WeightGrams,
			BoxSizeID:   payload.BoxSizeID,
			CityCode:    payload.CityCode,
		}, adminActor(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

// AdminVoidBarcode cancels the carrier registration and puts the order back
// into started.
func AdminVoidBarcode(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload voidBarcodeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.VoidBarcode(r.Context(), orderID, payload.Reason, adminActor(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "voided"})
	}
}

// AdminConfirmDelivery closes the order.
func AdminConfirmDelivery(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.ConfirmDelivery(r.Context(), orderID, adminActor(r)); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"status": "done"})
	}
}

// AdminPendingRefunds lists refunds still waiting on settlement.
func AdminPendingRefunds(refunds adjustment.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if refunds == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refunds repository unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		due, err := refunds.ListDue(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]refundResponse, 0, len(due))
		for i := range due {
			items = append(items, newRefundResponse(&due[i]))
		}
		responses.WriteSuccess(w, items)
	}
}

// AdminSettleRefund pushes one pending refund through settlement immediately
// instead of waiting for the worker sweep.
func AdminSettleRefund(refunds adjustment.Repository, settler *adjustment.Settler, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if refunds == nil || settler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund settlement unavailable"))
			return
		}

		refundID, err := refundIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		refund, err := refunds.FindByID(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if refund == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "refund not found"))
			return
		}

		if err := settler.Settle(r.Context(), refund); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		updated, err := refunds.FindByID(r.Context(), refundID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newRefundResponse(updated))
	}
}

// AdminAuditTrail lists audit events, optionally filtered by order, type,
// severity, audience, and time range.
func AdminAuditTrail(trail audit.Emitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if trail == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit trail unavailable"))
			return
		}

		query, err := auditQueryFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := trail.List(r.Context(), query, pagination.FromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

// OrderAuditTrail lists the customer-visible audit events for one order.
func OrderAuditTrail(svc *orders.Service, trail audit.Emitter, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || trail == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "audit trail unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		orderID, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		role := enums.UserRole(middleware.RoleFromContext(r.Context()))
		if !role.IsStaff() {
			if err := requireOrderOwner(r, svc, orderID, userID); err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
		}

		query := audit.ListQuery{OrderID: &orderID}
		if !role.IsStaff() {
			audience := enums.AuditAudienceUser
			query.VisibleTo = &audience
		}

		page, err := trail.List(r.Context(), query, pagination.FromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, page)
	}
}

type adjustItemsRequest struct {
	Changes []itemChangeRequest `json:"changes" validate:"required,min=1,dive"`
	Reason  string              `json:"reason" validate:"required,max=512"`
}

type itemChangeRequest struct {
	OrderItemID uuid.UUID `json:"order_item_id" validate:"required,uuid4"`
	NewQty      int       `json:"new_qty" validate:"min=0"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

type issueBarcodeRequest struct {
	WeightGrams int `json:"weight_grams,omitempty" validate:"omitempty,min=1"`
	BoxSizeID   int `json:"box_size_id,omitempty" validate:"omitempty,min=1"`
	CityCode    int `json:"city_code,omitempty" validate:"omitempty,min=1"`
}

type voidBarcodeRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

type adjustmentLineResponse struct {
	OrderItemID    uuid.UUID `json:"order_item_id"`
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	OldQty         int       `json:"old_qty"`
	NewQty         int       `json:"new_qty"`
	RestockQty     int       `json:"restock_qty"`
	UnitPriceToman int64     `json:"unit_price_toman"`
	OldTotalToman  int64     `json:"old_total_toman"`
	NewTotalToman  int64     `json:"new_total_toman"`
}

type adjustmentPreviewResponse struct {
	OrderID            uuid.UUID                `json:"order_id"`
	Status             string                   `json:"status"`
	Lines              []adjustmentLineResponse `json:"lines"`
	OldItemsTotalToman int64                    `json:"old_items_total_toman"`
	NewItemsTotalToman int64                    `json:"new_items_total_toman"`
	OldDiscountToman   int64                    `json:"old_discount_toman"`
	NewDiscountToman   int64                    `json:"new_discount_toman"`
	ShippingToman      int64                    `json:"shipping_toman"`
	OldPayableToman    int64                    `json:"old_payable_toman"`
	NewPayableToman    int64                    `json:"new_payable_toman"`
	RefundToman        int64                    `json:"refund_toman"`
	Cancels            bool                     `json:"cancels"`
}

type adjustmentResultResponse struct {
	Preview   adjustmentPreviewResponse `json:"preview"`
	NewStatus string                    `json:"new_status"`
	Refund    *refundResponse           `json:"refund,omitempty"`
}

type refundResponse struct {
	RefundID    uuid.UUID  `json:"refund_id"`
	OrderID     uuid.UUID  `json:"order_id"`
	AmountToman int64      `json:"amount_toman"`
	Method      string     `json:"method"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	SettledAt   *time.Time `json:"settled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func newAdjustmentPreviewResponse(preview *adjustment.Preview) adjustmentPreviewResponse {
	if preview == nil {
		return adjustmentPreviewResponse{}
	}
	lines := make([]adjustmentLineResponse, 0, len(preview.Lines))
	for _, line := range preview.Lines {
		lines = append(lines, adjustmentLineResponse{
			OrderItemID:    line.OrderItemID,
			ProductID:      line.ProductID,
			Name:           line.Name,
			OldQty:         line.OldQty,
			NewQty:         line.NewQty,
			RestockQty:     line.RestockQty,
			UnitPriceToman: line.UnitPriceToman,
			OldTotalToman:  line.OldTotalToman,
			NewTotalToman:  line.NewTotalToman,
		})
	}
	return adjustmentPreviewResponse{
		OrderID:            preview.OrderID,
		Status:             string(preview.Status),
		Lines:              lines,
		OldItemsTotalToman: preview.OldItemsTotalToman,
		NewItemsTotalToman: preview.NewItemsTotalToman,
		OldDiscountToman:   preview.OldDiscountToman,
		NewDiscountToman:   preview.NewDiscountToman,
		ShippingToman:      preview.ShippingToman,
		OldPayableToman:    preview.OldPayableToman,
		NewPayableToman:    preview.NewPayableToman,
		RefundToman:        preview.RefundToman,
		Cancels:            preview.Cancels,
	}
}

func newAdjustmentResultResponse(result *adjustment.Result) adjustmentResultResponse {
	if result == nil {
		return adjustmentResultResponse{}
	}
	resp := adjustmentResultResponse{
		Preview:   newAdjustmentPreviewResponse(result.Preview),
		NewStatus: string(result.NewStatus),
	}
	if result.Refund != nil {
		refund := newRefundResponse(result.Refund)
		resp.Refund = &refund
	}
	return resp
}

func newRefundResponse(refund *models.PendingRefund) refundResponse {
	if refund == nil {
		return refundResponse{}
	}
	return refundResponse{
		RefundID:    refund.ID,
		OrderID:     refund.OrderID,
		AmountToman: refund.AmountToman,
		Method:      string(refund.Method),
		Status:      string(refund.Status),
		Attempts:    refund.Attempts,
		LastError:   refund.LastError,
		SettledAt:   refund.SettledAt,
		CreatedAt:   refund.CreatedAt,
	}
}

func adminActor(r *http.Request) orders.Actor {
	actor := orders.Actor{
		Type: audit.ActorAdmin,
		Role: middleware.RoleFromContext(r.Context()),
	}
	if raw := strings.TrimSpace(middleware.UserIDFromContext(r.Context())); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			actor.ID = &id
		}
	}
	return actor
}

func dryRun(r *http.Request) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get("dryRun")))
	return err == nil && value
}

func refundIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "refundId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "refund id is required")
	}
	refundID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid refund id")
	}
	return refundID, nil
}

func auditQueryFromRequest(r *http.Request) (audit.ListQuery, error) {
	query := audit.ListQuery{}
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("order_id")); raw != "" {
		orderID, err := uuid.Parse(raw)
		if err != nil {
			return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id filter")
		}
		query.OrderID = &orderID
	}
	if raw := strings.TrimSpace(q.Get("event_type")); raw != "" {
		eventType := enums.AuditEventType(raw)
		if !eventType.IsValid() {
			return query, pkgerrors.New(pkgerrors.CodeValidation, "unknown event type filter")
		}
		query.EventType = &eventType
	}
	if raw := strings.TrimSpace(q.Get("severity")); raw != "" {
		severity := enums.AuditSeverity(raw)
		if !severity.IsValid() {
			return query, pkgerrors.New(pkgerrors.CodeValidation, "unknown severity filter")
		}
		query.Severity = &severity
	}
	if raw := strings.TrimSpace(q.Get("audience")); raw != "" {
		audience := enums.AuditAudience(raw)
		if !audience.IsValid() {
			return query, pkgerrors.New(pkgerrors.CodeValidation, "unknown audience filter")
		}
		query.Audience = &audience
	}
	if raw := strings.TrimSpace(q.Get("from")); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid from filter")
		}
		query.From = &from
	}
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return query, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid to filter")
		}
		query.To = &to
	}
	return query, nil
}
