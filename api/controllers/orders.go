package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/api/middleware"
	"github.com/rgbgroup/infinity-backend/api/responses"
	"github.com/rgbgroup/infinity-backend/api/validators"
	"github.com/rgbgroup/infinity-backend/internal/orders"
	"github.com/rgbgroup/infinity-backend/pkg/db/models"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/pagination"
	"github.com/rgbgroup/infinity-backend/pkg/types"
)

// Checkout creates an order from the submitted cart and opens a payment
// session with the chosen gateway.
func Checkout(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orders.CheckoutItemInput, 0, len(payload.Items))
		for _, item := range payload.Items {
			items = append(items, orders.CheckoutItemInput{
				ProductID: item.ProductID,
				Qty:       item.Qty,
			})
		}

		address := payload.ShippingAddress.toType()
		result, err := svc.Checkout(r.Context(), orders.CheckoutInput{
			UserID:          userID,
			Items:           items,
			Provider:        enums.GatewayProvider(payload.Provider),
			DiscountCode:    payload.DiscountCode,
			ShippingAddress: &address,
			ShippingToman:   payload.ShippingToman,
			Mobile:          payload.Mobile,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCheckoutResponse(result))
	}
}

// RetryPayment opens a fresh contract for an order stuck in paying after a
// failed or abandoned attempt.
func RetryPayment(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
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

		var payload retryPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := requireOrderOwner(r, svc, orderID, userID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RetryPayment(r.Context(), orderID, enums.GatewayProvider(payload.Provider), payload.Mobile)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCheckoutResponse(result))
	}
}

// ListOrders returns the caller's orders, newest first.
func ListOrders(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable"))
			return
		}

		userID, err := callerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		page, err := svc.ListOrders(r.Context(), userID, pagination.FromRequest(r))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]orderResponse, 0, len(page.Items))
		for i := range page.Items {
			items = append(items, newOrderResponse(&page.Items[i]))
		}
		responses.WriteSuccess(w, pagination.Page[orderResponse]{
			Items:  items,
			Total:  page.Total,
			Limit:  page.Limit,
			Offset: page.Offset,
		})
	}
}

// OrderDetail returns one order with its lines. Customers only see their own
// orders; staff can fetch any.
func OrderDetail(svc *orders.Service, logg *logger.Logger) http.HandlerFunc {
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

		order, err := svc.GetOrder(r.Context(), orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		role := enums.UserRole(middleware.RoleFromContext(r.Context()))
		if !role.IsStaff() {
			userID, err := callerID(r)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, err)
				return
			}
			if order.UserID != userID {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "order not found"))
				return
			}
		}

		responses.WriteSuccess(w, newOrderResponse(order))
	}
}

type checkoutRequest struct {
	Items           []checkoutItemRequest  `json:"items" validate:"required,min=1,dive"`
	Provider        string                 `json:"provider" validate:"required"`
	DiscountCode    string                 `json:"discount_code,omitempty" validate:"omitempty,max=64"`
	ShippingAddress shippingAddressRequest `json:"shipping_address" validate:"required"`
	ShippingToman   int64                  `json:"shipping_toman" validate:"min=0"`
	Mobile          string                 `json:"mobile,omitempty" validate:"omitempty,max=16"`
}

type checkoutItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required,uuid4"`
	Qty       int       `json:"qty" validate:"required,min=1"`
}

type shippingAddressRequest struct {
	RecipientName string  `json:"recipient_name" validate:"required,max=128"`
	Phone         string  `json:"phone" validate:"required,max=16"`
	Province      string  `json:"province" validate:"required,max=64"`
	City          string  `json:"city" validate:"required,max=64"`
	Line          string  `json:"line" validate:"required,max=256"`
	PostalCode    string  `json:"postal_code" validate:"required,max=16"`
	Plaque        *string `json:"plaque,omitempty"`
	Unit          *string `json:"unit,omitempty"`
}

func (a shippingAddressRequest) toType() types.ShippingAddress {
	return types.ShippingAddress{
		RecipientName: a.RecipientName,
		Phone:         a.Phone,
		Province:      a.Province,
		City:          a.City,
		Line:          a.Line,
		PostalCode:    a.PostalCode,
		Plaque:        a.Plaque,
		Unit:          a.Unit,
	}
}

type retryPaymentRequest struct {
	Provider string `json:"provider" validate:"required"`
	Mobile   string `json:"mobile,omitempty" validate:"omitempty,max=16"`
}

type checkoutResponse struct {
	Order       orderResponse     `json:"order"`
	Contract    *contractResponse `json:"contract,omitempty"`
	RedirectURL string            `json:"redirect_url,omitempty"`
}

type orderResponse struct {
	OrderID         uuid.UUID              `json:"order_id"`
	Status          string                 `json:"status"`
	ItemsTotalToman int64                  `json:"items_total_toman"`
	ShippingToman   int64                  `json:"shipping_toman"`
	DiscountToman   int64                  `json:"discount_toman"`
	PayableToman    int64                  `json:"payable_toman"`
	DiscountCode    *string                `json:"discount_code,omitempty"`
	ShippingAddress *types.ShippingAddress `json:"shipping_address,omitempty"`
	ShippingBarcode *string                `json:"shipping_barcode,omitempty"`
	PaidAt          *time.Time             `json:"paid_at,omitempty"`
	DeliveredAt     *time.Time             `json:"delivered_at,omitempty"`
	CancelledAt     *time.Time             `json:"cancelled_at,omitempty"`
	ReturnedAt      *time.Time             `json:"returned_at,omitempty"`
	Items           []orderItemResponse    `json:"items"`
	CreatedAt       time.Time              `json:"created_at"`
}

type orderItemResponse struct {
	ItemID         uuid.UUID `json:"item_id"`
	ProductID      uuid.UUID `json:"product_id"`
	Name           string    `json:"name"`
	Qty            int       `json:"qty"`
	UnitPriceToman int64     `json:"unit_price_toman"`
	TotalToman     int64     `json:"total_toman"`
}

type contractResponse struct {
	ContractID  uuid.UUID `json:"contract_id"`
	Provider    string    `json:"provider"`
	Status      string    `json:"status"`
	AmountToman int64     `json:"amount_toman"`
	CreatedAt   time.Time `json:"created_at"`
}

func newCheckoutResponse(result *orders.CheckoutResult) checkoutResponse {
	if result == nil {
		return checkoutResponse{}
	}
	resp := checkoutResponse{
		RedirectURL: result.RedirectURL,
	}
	if result.Order != nil {
		resp.Order = newOrderResponse(result.Order)
	}
	if result.Contract != nil {
		contract := newContractResponse(result.Contract)
		resp.Contract = &contract
	}
	return resp
}

func newOrderResponse(order *models.Order) orderResponse {
	if order == nil {
		return orderResponse{}
	}
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ItemID:         item.ID,
			ProductID:      item.ProductID,
			Name:           item.Name,
			Qty:            item.Qty,
			UnitPriceToman: item.UnitPriceToman,
			TotalToman:     item.TotalToman,
		})
	}
	return orderResponse{
		OrderID:         order.ID,
		Status:          string(order.Status),
		ItemsTotalToman: order.ItemsTotalToman,
		ShippingToman:   order.ShippingToman,
		DiscountToman:   order.DiscountToman,
		PayableToman:    order.PayableToman,
		DiscountCode:    order.DiscountCode,
		ShippingAddress: order.ShippingAddress,
		ShippingBarcode: order.ShippingBarcode,
		PaidAt:          order.PaidAt,
		DeliveredAt:     order.DeliveredAt,
		CancelledAt:     order.CancelledAt,
		ReturnedAt:      order.ReturnedAt,
		Items:           items,
		CreatedAt:       order.CreatedAt,
	}
}

func newContractResponse(contract *models.Contract) contractResponse {
	return contractResponse{
		ContractID:  contract.ID,
		Provider:    string(contract.Provider),
		Status:      string(contract.Status),
		AmountToman: contract.AmountToman,
		CreatedAt:   contract.CreatedAt,
	}
}

func callerID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(middleware.UserIDFromContext(r.Context()))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing caller identity")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid caller identity")
	}
	return userID, nil
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "orderId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	orderID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid order id")
	}
	return orderID, nil
}

func requireOrderOwner(r *http.Request, svc *orders.Service, orderID, userID uuid.UUID) error {
	order, err := svc.GetOrder(r.Context(), orderID)
	if err != nil {
		return err
	}
	if order.UserID != userID {
		return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return nil
}
