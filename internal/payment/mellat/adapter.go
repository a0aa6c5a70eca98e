package mellat

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"strconv"
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

// Response codes the reconciliation flow cares about. Everything else is a
// plain rejection.
const (
	resCodeOK             = 0
	resCodeUserCancelled  = 17
	resCodeAlreadySettled = 45
)

// Callback field names as Mellat posts them.
const (
	FieldResCode         = "ResCode"
	FieldRefID           = "RefId"
	FieldSaleOrderID     = "SaleOrderId"
	FieldSaleReferenceID = "SaleReferenceId"
)

// Adapter talks to the Mellat (Beh Pardakht) redirect gateway over its SOAP
// endpoint. Amounts cross the boundary in IRR (Toman x 10).
type Adapter struct {
	cfg     config.MellatConfig
	client  *http.Client
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
	now     func() time.Time
}

// New builds a Mellat adapter from config.
func New(cfg config.MellatConfig, logg *logger.Logger, payMetrics *metrics.PaymentMetrics) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Adapter{
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		logg:    logg,
		metrics: payMetrics,
		now:     time.Now,
	}
}

func (a *Adapter) Provider() enums.GatewayProvider {
	return enums.GatewayMellat
}

func (a *Adapter) Capabilities() payment.Capabilities {
	return payment.Capabilities{Update: false, Reverse: true, Inquiry: false, BrowserReturn: true}
}

// OrderNumber derives the numeric order id Mellat requires from a contract
// UUID. Both pay request and later reversal recompute the same value.
func OrderNumber(contractID uuid.UUID) int64 {
	raw := binary.BigEndian.Uint64(contractID[:8])
	return int64(raw & (1<<62 - 1))
}

// RequestPayment runs bpPayRequest and returns the RefId plus the redirect
// the customer gets sent to. Transient failures get one retry with backoff.
func (a *Adapter) RequestPayment(ctx context.Context, req payment.PaymentRequest) (*payment.PaymentSession, error) {
	orderNumber := OrderNumber(req.ContractID)
	now := a.now()
	body := soapEnvelope("bpPayRequest", []soapField{
		{"terminalId", strconv.FormatInt(a.cfg.TerminalID, 10)},
		{"userName", a.cfg.Username},
		{"userPassword", a.cfg.Password},
		{"orderId", strconv.FormatInt(orderNumber, 10)},
		{"amount", strconv.FormatInt(tomanToRial(req.AmountToman), 10)},
		{"localDate", now.Format("20060102")},
		{"localTime", now.Format("150405")},
		{"additionalData", "contract-" + req.ContractID.String()},
		{"callBackUrl", req.CallbackURL},
		{"payerId", "0"},
	})

	var refID string
	backoff := retry.WithMaxRetries(1, retry.NewExponential(time.Second))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		result, err := a.call(ctx, "pay_request", body)
		if err != nil {
			return retry.RetryableError(err)
		}
		code, rest := splitPayResponse(result)
		if code != resCodeOK {
			return pkgerrors.New(pkgerrors.CodeGatewayRejected, "mellat pay request rejected").
				WithDetails(map[string]any{"res_code": code})
		}
		refID = rest
		return nil
	})
	if err != nil {
		return nil, err
	}
	if refID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "mellat pay request returned no RefId")
	}

	return &payment.PaymentSession{
		ExternalID:  refID,
		RedirectURL: a.cfg.RedirectURL + "?RefId=" + refID,
	}, nil
}

// ExtractCallback normalizes the fields Mellat posts back after the
// customer leaves the payment page.
func (a *Adapter) ExtractCallback(raw map[string]string) payment.CallbackPayload {
	return payment.CallbackPayload{
		ExternalID: raw[FieldRefID],
		Reference:  raw[FieldSaleReferenceID],
		Succeeded:  strings.TrimSpace(raw[FieldResCode]) == "0",
		RawFields:  raw,
	}
}

// VerifyCallback confirms a redirect callback with bpVerifyRequest and then
// settles it. A settle response of 45 means an earlier settle already landed
// and counts as success.
func (a *Adapter) VerifyCallback(ctx context.Context, payload payment.CallbackPayload) (*payment.CallbackResult, error) {
	resCode, err := strconv.Atoi(strings.TrimSpace(payload.RawFields[FieldResCode]))
	if err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mellat callback missing ResCode")
	}
	refID := payload.RawFields[FieldRefID]
	saleOrderID := payload.RawFields[FieldSaleOrderID]
	saleReferenceID := payload.RawFields[FieldSaleReferenceID]

	if resCode != resCodeOK {
		status := enums.GatewayPaymentStatusFailed
		if a.logg != nil && resCode == resCodeUserCancelled {
			a.logg.Info(ctx, "mellat payment cancelled by user")
		}
		return &payment.CallbackResult{
			ExternalID: refID,
			Reference:  saleReferenceID,
			Status:     status,
		}, nil
	}
	if saleOrderID == "" || saleReferenceID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "mellat callback missing sale identifiers")
	}

	verifyFields := []soapField{
		{"terminalId", strconv.FormatInt(a.cfg.TerminalID, 10)},
		{"userName", a.cfg.Username},
		{"userPassword", a.cfg.Password},
		{"orderId", saleOrderID},
		{"saleOrderId", saleOrderID},
		{"saleReferenceId", saleReferenceID},
	}

	verifyCode, err := a.callCode(ctx, "verify", soapEnvelope("bpVerifyRequest", verifyFields))
	if err != nil {
		return nil, err
	}
	if verifyCode != resCodeOK {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "mellat verify rejected").
			WithDetails(map[string]any{"res_code": verifyCode})
	}

	settleCode, err := a.callCode(ctx, "settle", soapEnvelope("bpSettleRequest", verifyFields))
	if err != nil {
		return nil, err
	}
	if settleCode != resCodeOK && settleCode != resCodeAlreadySettled {
		return nil, pkgerrors.New(pkgerrors.CodeGatewayRejected, "mellat settle rejected").
			WithDetails(map[string]any{"res_code": settleCode})
	}

	return &payment.CallbackResult{
		ExternalID: refID,
		Reference:  saleReferenceID,
		Status:     enums.GatewayPaymentStatusPaid,
	}, nil
}

// QueryStatus is not supported: Mellat inquiry needs sale identifiers that
// only exist after a callback has been recorded.
func (a *Adapter) QueryStatus(ctx context.Context, ref payment.TransactionRef) (enums.GatewayPaymentStatus, error) {
	return enums.GatewayPaymentStatusUnknown, pkgerrors.New(pkgerrors.CodeCapability, "mellat does not support status inquiry")
}

// UpdateTransaction is not supported; Mellat settles a fixed amount.
func (a *Adapter) UpdateTransaction(ctx context.Context, ref payment.TransactionRef, cart payment.ReducedCart) error {
	return pkgerrors.New(pkgerrors.CodeCapability, "mellat does not support transaction updates")
}

// Reverse runs bpReversalRequest against a settled transaction. Mellat only
// reverses the full amount.
func (a *Adapter) Reverse(ctx context.Context, ref payment.TransactionRef) error {
	if ref.Reference == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "mellat reversal requires the sale reference")
	}
	orderNumber := strconv.FormatInt(OrderNumber(ref.ContractID), 10)
	code, err := a.callCode(ctx, "reverse", soapEnvelope("bpReversalRequest", []soapField{
		{"terminalId", strconv.FormatInt(a.cfg.TerminalID, 10)},
		{"userName", a.cfg.Username},
		{"userPassword", a.cfg.Password},
		{"orderId", orderNumber},
		{"saleOrderId", orderNumber},
		{"saleReferenceId", ref.Reference},
	}))
	if err != nil {
		return err
	}
	if code != resCodeOK {
		return pkgerrors.New(pkgerrors.CodeGatewayRejected, "mellat reversal rejected").
			WithDetails(map[string]any{"res_code": code})
	}
	return nil
}

func (a *Adapter) call(ctx context.Context, operation, body string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.ServiceURL, strings.NewReader(body))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building mellat request")
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", "")

	start := a.now()
	resp, err := a.client.Do(req)
	if a.metrics != nil {
		a.metrics.ObserveGatewayCall(string(enums.GatewayMellat), operation, a.now().Sub(start))
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "calling mellat gateway")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "reading mellat response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeGatewayUnavailable, "mellat gateway returned non-200").
			WithDetails(map[string]any{"status": resp.StatusCode})
	}
	value, ok := extractReturn(string(raw))
	if !ok {
		return "", pkgerrors.New(pkgerrors.CodeGatewayRejected, "mellat response missing return element")
	}
	return value, nil
}

func (a *Adapter) callCode(ctx context.Context, operation, body string) (int, error) {
	result, err := a.call(ctx, operation, body)
	if err != nil {
		return -1, err
	}
	code, err := strconv.Atoi(strings.TrimSpace(result))
	if err != nil {
		return -1, pkgerrors.New(pkgerrors.CodeGatewayRejected, "mellat returned a non-numeric code").
			WithDetails(map[string]any{"raw": result})
	}
	return code, nil
}

type soapField struct {
	name  string
	value string
}

func soapEnvelope(operation string, fields []soapField) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	b.WriteString(`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>`)
	fmt.Fprintf(&b, `<%s xmlns="http://interfaces.core.sw.bps.com/">`, operation)
	for _, field := range fields {
		fmt.Fprintf(&b, "<%s>%s</%s>", field.name, xmlEscape(field.value), field.name)
	}
	fmt.Fprintf(&b, "</%s></soap:Body></soap:Envelope>", operation)
	return b.String()
}

func xmlEscape(value string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		`"`, "&quot;",
		"'", "&apos;",
	)
	return replacer.Replace(value)
}

// extractReturn pulls the text of the first <return> element out of a SOAP
// response without a full XML parse.
func extractReturn(body string) (string, bool) {
	start := strings.Index(body, "<return")
	if start < 0 {
		return "", false
	}
	open := strings.Index(body[start:], ">")
	if open < 0 {
		return "", false
	}
	rest := body[start+open+1:]
	end := strings.Index(rest, "</return>")
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

// splitPayResponse parses the "<code>,<refId>" shape of bpPayRequest.
func splitPayResponse(value string) (int, string) {
	parts := strings.SplitN(value, ",", 2)
	code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return -1, ""
	}
	if len(parts) == 1 {
		return code, ""
	}
	return code, strings.TrimSpace(parts[1])
}

func tomanToRial(amountToman int64) int64 {
	return amountToman * 10
}
