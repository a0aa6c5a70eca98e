package controllers

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/api/responses"
	"github.com/rgbgroup/infinity-backend/internal/callback"
	"github.com/rgbgroup/infinity-backend/internal/payment/mellat"
	"github.com/rgbgroup/infinity-backend/internal/payment/snappay"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
)

type callbackProcessor interface {
	Process(ctx context.Context, provider enums.GatewayProvider, raw map[string]string) (*callback.Result, error)
}

// PaymentCallback is the return endpoint gateways hit after the customer
// leaves the payment page. Mellat posts a form; SnappPay redirects with
// query parameters. Both land here and are normalized before reconciliation.
func PaymentCallback(reconciler callbackProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reconciler == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "callback reconciler unavailable"))
			return
		}

		raw, err := collectCallbackFields(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		provider, err := detectCallbackProvider(r, raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := reconciler.Process(r.Context(), provider, raw)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		// Browser returns are sent on to the storefront result page; webhook
		// style callers get the JSON envelope.
		if result != nil && result.RedirectURL != "" {
			http.Redirect(w, r, result.RedirectURL, http.StatusFound)
			return
		}
		responses.WriteSuccess(w, newCallbackResponse(provider, result))
	}
}

type callbackResponse struct {
	Provider   string    `json:"provider"`
	OrderID    uuid.UUID `json:"order_id"`
	ContractID uuid.UUID `json:"contract_id"`
	Succeeded  bool      `json:"succeeded"`
	Duplicate  bool      `json:"duplicate"`
}

func newCallbackResponse(provider enums.GatewayProvider, result *callback.Result) callbackResponse {
	if result == nil {
		return callbackResponse{Provider: string(provider)}
	}
	return callbackResponse{
		Provider:   string(provider),
		OrderID:    result.OrderID,
		ContractID: result.ContractID,
		Succeeded:  result.Succeeded,
		Duplicate:  result.Duplicate,
	}
}

func collectCallbackFields(r *http.Request) (map[string]string, error) {
	raw := map[string]string{}
	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed callback form")
		}
		for key, values := range r.PostForm {
			if len(values) > 0 {
				raw[key] = values[0]
			}
		}
	}
	for key, values := range r.URL.Query() {
		if _, ok := raw[key]; ok {
			continue
		}
		if len(values) > 0 {
			raw[key] = values[0]
		}
	}
	if len(raw) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "empty callback")
	}
	return raw, nil
}

// detectCallbackProvider infers the gateway from its signature fields. An
// explicit provider query parameter wins when present.
func detectCallbackProvider(r *http.Request, raw map[string]string) (enums.GatewayProvider, error) {
	if explicit := strings.TrimSpace(r.URL.Query().Get("provider")); explicit != "" {
		provider := enums.GatewayProvider(strings.ToLower(explicit))
		if !provider.IsValid() {
			return "", pkgerrors.New(pkgerrors.CodeValidation, "unknown payment provider").
				WithDetails(map[string]any{"provider": explicit})
		}
		return provider, nil
	}
	if _, ok := raw[mellat.FieldRefID]; ok {
		return enums.GatewayMellat, nil
	}
	if _, ok := raw[snappay.FieldPaymentToken]; ok {
		return enums.GatewaySnappay, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeValidation, "callback does not match any payment provider")
}
