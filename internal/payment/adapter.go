package payment

import (
	"context"

	"github.com/google/uuid"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
)

// Capabilities declares which optional operations a provider supports.
// Callers check these flags instead of branching on provider identity.
type Capabilities struct {
	Update  bool
	Reverse bool
	Inquiry bool
	// BrowserReturn marks providers whose callback arrives via the
	// customer's browser, which must then be sent on to the storefront
	// result page rather than left on a JSON response.
	BrowserReturn bool
}

// PaymentRequest carries everything an adapter needs to open a gateway
// session for a contract.
type PaymentRequest struct {
	OrderID     uuid.UUID
	ContractID  uuid.UUID
	AmountToman int64
	CallbackURL string
	Mobile      string
	Cart        ReducedCart
}

// PaymentSession is the gateway's answer to a payment request: where to send
// the customer and the external ID later callbacks will reference.
type PaymentSession struct {
	ExternalID  string
	RedirectURL string
}

// CallbackPayload is the normalized form of whatever the gateway posted back.
type CallbackPayload struct {
	ExternalID string
	Reference  string
	Succeeded  bool
	RawFields  map[string]string
}

// CallbackResult reports verification plus settlement of a callback.
type CallbackResult struct {
	ExternalID  string
	Reference   string
	AmountToman int64
	Status      enums.GatewayPaymentStatus
}

// TransactionRef carries enough context to address a settled transaction on
// the gateway side. Providers that key operations on derived identifiers
// recompute them from ContractID.
type TransactionRef struct {
	ContractID  uuid.UUID
	ExternalID  string
	Reference   string
	AmountToman int64
}

// ReducedCartItem is one line of the cart snapshot sent to BNPL providers.
type ReducedCartItem struct {
	ProductID  uuid.UUID
	Name       string
	PriceToman int64
	Qty        int
}

// ReducedCart is the cart view a provider needs for token issuance and
// reduce-only updates.
type ReducedCart struct {
	Items         []ReducedCartItem
	ShippingToman int64
	DiscountToman int64
	TotalToman    int64
}

// Adapter is the provider-neutral gateway contract. RequestPayment,
// ExtractCallback, and VerifyCallback are mandatory; the rest are gated on
// Capabilities.
type Adapter interface {
	Provider() enums.GatewayProvider
	Capabilities() Capabilities
	RequestPayment(ctx context.Context, req PaymentRequest) (*PaymentSession, error)
	// ExtractCallback maps the provider's raw callback fields to the
	// normalized payload without any network calls. The reconciler uses the
	// resulting ExternalID for correlation and dedup before verification.
	ExtractCallback(raw map[string]string) CallbackPayload
	VerifyCallback(ctx context.Context, payload CallbackPayload) (*CallbackResult, error)
	QueryStatus(ctx context.Context, ref TransactionRef) (enums.GatewayPaymentStatus, error)
	UpdateTransaction(ctx context.Context, ref TransactionRef, cart ReducedCart) error
	Reverse(ctx context.Context, ref TransactionRef) error
}
