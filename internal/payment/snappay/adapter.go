package snappay

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/rgbgroup/infinity-backend/internal/payment"
	"github.com/rgbgroup/infinity-backend/pkg/config"
	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
	"github.com/rgbgroup/infinity-backend/pkg/logger"
	"github.com/rgbgroup/infinity-backend/pkg/metrics"
)

// Callback field names as SnappPay sends them back.
const (
	FieldState         = "state"
	FieldPaymentToken  = "paymentToken"
	FieldTransactionID = "transactionId"

	stateOK = "OK"
)

// TokenCache caches the provider OAuth token between calls.
type TokenCache interface {
	GetGatewayToken(ctx context.Context, provider string) (string, error)
	StoreGatewayToken(ctx context.Context, provider, token string, ttl time.Duration) error
	RevokeGatewayToken(ctx context.Context, provider string) error
}

// Adapter implements the SnappPay BNPL REST API. Amounts cross the boundary
// in IRR (Toman x 10); settled orders support reduce-only updates and full
// cancellation.
type Adapter struct {
	cfg     config.SnappPayConfig
	client  *http.Client
	tokens  TokenCache
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
	now     func() time.Time
}

// New builds a SnappPay adapter. tokens may be nil, in which case every call
// re-authenticates.
func New(cfg config.SnappPayConfig, tokens TokenCache, logg *logger.Logger, payMetrics *metrics.PaymentMetrics) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		tokens:  tokens,
		logg:    logg,
		metrics: payMetrics,
		now:     time.Now,
	}
}

func (a *Adapter) Provider() enums.GatewayProvider {
	return enums.GatewaySnappay
}

func (a *Adapter) Capabilities() payment.Capabilities {
	return payment.Capabilities{Update: true, Reverse: true, Inquiry: true, BrowserReturn: true}
}

// TransactionID derives the merchant transaction id SnappPay requires from a
// contract UUID. Token issuance and later updates recompute the same value.
func TransactionID(contractID uuid.UUID) string {
	return "c" + strings.ReplaceAll(contractID.String(), "-", "")[:9]
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type apiResponse struct {
	Successful bool `json:"successful"`
	Response   struct {
		PaymentToken   string `json:"paymentToken"`
		PaymentPageURL string `json:"paymentPageUrl"`
		TransactionID  string `json:"transactionId"`
		Status         string `json:"status"`
		AmountRial     int64  `json:"amount"`
	} `json:"response"`
	ErrorData *struct {
		ErrorCode int    `json:"errorCode"`
		Message   string `json:"message"`
	} `json:"errorData"`
}

type cartItem struct {
	Amount         int64  `json:"amount"`
	Category       string `json:"category"`
	Count          int    `json:"count"`
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	CommissionType int    `json:"commissionType"`
}

type cartPayload struct {
	CartID             int64      `json:"cartId"`
	CartItems          []cartItem `json:"cartItems"`
	IsShipmentIncluded bool       `json:"isShipmentIncluded"`
	IsTaxIncluded      bool       `json:"isTaxIncluded"`
	ShippingAmount     int64      `json:"shippingAmount"`
	TaxAmount          int64      `json:"taxAmount"`
	TotalAmount        int64      `json:"totalAmount"`
}

type paymentTokenRequest struct {
	Amount               int64         `json:"amount"`
	DiscountAmount       int64         `json:"discountAmount"`
	ExternalSourceAmount int64         `json:"externalSourceAmount"`
	Mobile               string        `json:"mobile"`
	PaymentMethodType    string        `json:"paymentMethodTypeDto"`
	ReturnURL            string        `json:"returnURL"`
	TransactionID        string        `json:"transactionId"`
	CartList             []cartPayload `json:"cartList"`
}

type updateOrderRequest struct {
	TransactionID        string        `json:"transactionId"`
	Amount               int64         `json:"amount"`
	DiscountAmount       int64         `json:"discountAmount"`
	ExternalSourceAmount int64         `json:"externalSourceAmount"`
	CartList             []cartPayload `json:"cartList"`
}

// RequestPayment issues a BNPL payment token and returns the hosted payment
// page URL.
func (a *Adapter) RequestPayment(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentSession, error) {
	mobile, err := normalizeMobile(req.Mobile)
	if err != nil {
		return nil, err
	}
	body := paymentTokenRequest{
		Amount:            tomanToRial(req.AmountToman),
		DiscountAmount:    tomanToRial(req.Cart.DiscountToman),
		Mobile:            mobile,
		PaymentMethodType: "INSTALLMENT",
		ReturnURL:         req.CallbackURL,
		TransactionID:     TransactionID(req.ContractID),
		CartList:          []cartPayload{buildCart(req.Cart)},
	}

	var resp apiResponse
	if err := a.post(ctx, "token_request", "/api/online/payment/v1/token", body, &resp); err != nil {
		return nil, err
	}
	if !resp.Successful || resp.Response.PaymentToken == "" {
		return nil, rejection("snappay token request rejected", resp)
	}
	return &payment.PaymentSession{
		ExternalID:  resp.Response.PaymentToken,
		RedirectURL: resp.Response.PaymentPageURL,
	}, nil
}

// ExtractCallback normalizes the query parameters SnappPay appends to the
// return URL.
func (a *Adapter) ExtractCallback(raw map[string]string) payment.CallbackPayload {
	return payment.CallbackPayload{
		ExternalID: raw[FieldPaymentToken],
		Reference:  raw[FieldTransactionID],
		Succeeded:  strings.EqualFold(raw[FieldState], stateOK),
		RawFields:  raw,
	}
}

// VerifyCallback verifies the returned payment token and settles it. Settle
// is retried: money is already committed on the provider side, so giving up
// early would strand the purchase.
func (a *Adapter) VerifyCallback(ctx context.Context, payload payment.CallbackPayload) (*payment.CallbackResult, error) {
	token := payload.RawFields[FieldPaymentToken]
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "snappay callback missing payment token")
	}
	if !strings.EqualFold(payload.RawFields[FieldState], stateOK) {
		return &payment.CallbackResult{
			ExternalID: token,
			Reference:  payload.RawFields[FieldTransactionID],
			Status:     enums.GatewayPaymentStatusFailed,
		}, nil
	}

	var verifyResp apiResponse
	if err := a.post(ctx, "verify", "/api/online/payment/v1/verify", map[string]string{"paymentToken": token}, &verifyResp); err != nil {
		return nil, err
	}
	if !verifyResp.Successful {
		return nil, rejection("snappay verify rejected", verifyResp)
	}

	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var settleResp apiResponse
		if err := a.post(ctx, "settle", "/api/online/payment/v1/settle", map[string]string{"paymentToken": token}, &settleResp); err != nil {
			return retry.RetryableError(err)
		}
		if !settleResp.Successful {
			return rejection("snappay settle rejected", settleResp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &payment.CallbackResult{
		ExternalID:  token,
		Reference:   verifyResp.Response.TransactionID,
		AmountToman: rialToToman(verifyResp.Response.AmountRial),
		Status:      enums.GatewayPaymentStatusPaid,
	}, nil
}

// QueryStatus asks the provider for the current payment state.
func (a *Adapter) QueryStatus(ctx context.Context, ref payment.TransactionRef) (enums.GatewayPaymentStatus, error) {
	var resp apiResponse
	path := "/api/online/payment/v1/status?paymentToken=" + url.QueryEscape(ref.ExternalID)
	if err := a.get(ctx, "status", path, &resp); err != nil {
		return enums.GatewayPaymentStatusUnknown, err
	}
	if !resp.Successful {
		return enums.GatewayPaymentStatusUnknown, rejection("snappay status inquiry rejected", resp)
	}
	return mapStatus(resp.Response.Status), nil
}

// UpdateTransaction applies a reduce-only order update after a partial
// adjustment.
func (a *Adapter) UpdateTransaction(ctx context.Context, ref payment.TransactionRef, cart payment.ReducedCart) error {
	body := updateOrderRequest{
		TransactionID:  TransactionID(ref.ContractID),
		Amount:         tomanToRial(cart.TotalToman),
		DiscountAmount: tomanToRial(cart.DiscountToman),
		CartList:       []cartPayload{buildCart(cart)},
	}
	var resp apiResponse
	if err := a.post(ctx, "update_order", "/api/online/payment/v1/updateOrder", body, &resp); err != nil {
		return err
	}
	if !resp.Successful {
		return rejection("snappay update rejected", resp)
	}
	return nil
}

// Reverse cancels the whole settled order, refunding the customer in full.
func (a *Adapter) Reverse(ctx context.Context, ref payment.TransactionRef) error {
	body := map[string]string{"transactionId": TransactionID(ref.ContractID)}
	var resp apiResponse
	if err := a.post(ctx, "cancel_order", "/api/online/payment/v1/cancelOrder", body, &resp); err != nil {
		return err
	}
	if !resp.Successful {
		return rejection("snappay cancel rejected", resp)
	}
	return nil
}

func (a *Adapter) accessToken(ctx context.Context) (string, error) {
	provider := string(enums.GatewaySnappay)
	if a.tokens != nil {
		if token, err := a.tokens.GetGatewayToken(ctx, provider); err == nil && token != "" {
			return token, nil
		}
	}

	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("scope", "online-merchant")
	form.Set("username", a.cfg.Username)
	form.Set("password", a.cfg.Password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/api/online/v1/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building snappay oauth request")
	}
	basic := base64.StdEncoding.EncodeToString([]byte(a.cfg.ClientID + ":" + a.cfg.ClientSecret))
	req.Header.Set("Authorization", "Basic "+basic)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	start := a.now()
	resp, err := a.client.Do(req)
	if a.metrics != nil {
		a.metrics.ObserveGatewayCall(provider, "oauth_token", a.now().Sub(start))
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "calling snappay oauth")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "snappay oauth returned non-200").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}

	var token tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&token); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "decoding snappay oauth response")
	}
	if token.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "snappay oauth returned empty token")
	}

	if a.tokens != nil {
		ttl := a.cfg.TokenTTL
		if token.ExpiresIn > 30 {
			ttl = time.Duration(token.ExpiresIn-30) * time.Second
		}
		if err := a.tokens.StoreGatewayToken(ctx, provider, token.AccessToken, ttl); err != nil && a.logg != nil {
			a.logg.Warn(ctx, "failed to cache snappay token")
		}
	}
	return token.AccessToken, nil
}

func (a *Adapter) post(ctx context.Context, operation, path string, body any, out *apiResponse) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding snappay request")
	}
	return a.doJSON(ctx, operation, http.MethodPost, path, strings.NewReader(string(raw)), out)
}

func (a *Adapter) get(ctx context.Context, operation, path string, out *apiResponse) error {
	return a.doJSON(ctx, operation, http.MethodGet, path, nil, out)
}

func (a *Adapter) doJSON(ctx context.Context, operation, method, path string, body io.Reader, out *apiResponse) error {
	token, err := a.accessToken(ctx)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, a.cfg.BaseURL+path, body)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building snappay request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := a.now()
	resp, err := a.client.Do(req)
	if a.metrics != nil {
		a.metrics.ObserveGatewayCall(string(enums.GatewaySnappay), operation, a.now().Sub(start))
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "calling snappay gateway")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized && a.tokens != nil {
		// Cached token went stale; evict so the next call re-authenticates.
		_ = a.tokens.RevokeGatewayToken(ctx, string(enums.GatewaySnappay))
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "snappay gateway unavailable").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "decoding snappay response")
	}
	return nil
}

func buildCart(cart payment.ReducedCart) cartPayload {
	items := make([]cartItem, 0, len(cart.Items))
	for i, item := range cart.Items {
		items = append(items, cartItem{
			Amount:         tomanToRial(item.PriceToman),
			Category:       "General",
			Count:          item.Qty,
			ID:             int64(i + 1),
			Name:           item.Name,
			CommissionType: 1,
		})
	}
	return cartPayload{
		CartID:             1,
		CartItems:          items,
		IsShipmentIncluded: cart.ShippingToman > 0,
		ShippingAmount:     tomanToRial(cart.ShippingToman),
		TotalAmount:        tomanToRial(cart.TotalToman),
	}
}

func rejection(message string, resp apiResponse) error {
	details := map[string]any{}
	if resp.ErrorData != nil {
		details["error_code"] = resp.ErrorData.ErrorCode
		details["message"] = resp.ErrorData.Message
	}
	return pkgerrors.New(pkgerrors.CodeGatewayRejected, message).WithDetails(details)
}

func mapStatus(status string) enums.GatewayPaymentStatus {
	switch strings.ToUpper(status) {
	case "VERIFY", "SETTLE", "SETTLED", "PAID":
		return enums.GatewayPaymentStatusPaid
	case "FAILED", "CANCELED", "CANCELLED", "EXPIRED":
		return enums.GatewayPaymentStatusFailed
	case "REVERSED", "REVERTED":
		return enums.GatewayPaymentStatusReversed
	case "INITIATED", "IN_PROGRESS", "OK":
		return enums.GatewayPaymentStatusInProgress
	default:
		return enums.GatewayPaymentStatusUnknown
	}
}

// normalizeMobile forces the +98XXXXXXXXXX shape SnappPay validates against.
func normalizeMobile(mobile string) (string, error) {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, mobile)

	switch {
	case strings.HasPrefix(digits, "0") && len(digits) == 11:
		digits = "98" + digits[1:]
	case len(digits) == 10:
		digits = "98" + digits
	}
	if len(digits) != 12 || !strings.HasPrefix(digits, "98") {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid mobile number").
			WithDetails(map[string]any{"mobile": mobile})
	}
	return "+" + digits, nil
}

func tomanToRial(amountToman int64) int64 {
	return amountToman * 10
}

func rialToToman(amountRial int64) int64 {
	return amountRial / 10
}
