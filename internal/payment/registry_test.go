package payment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rgbgroup/infinity-backend/pkg/enums"
	pkgerrors "github.com/rgbgroup/infinity-backend/pkg/errors"
)

type stubAdapter struct {
	provider enums.GatewayProvider
}

func (s *stubAdapter) Provider() enums.GatewayProvider { return s.provider }
func (s *stubAdapter) Capabilities() Capabilities      { return Capabilities{} }
func (s *stubAdapter) RequestPayment(context.Context, PaymentRequest) (*PaymentSession, error) {
	return nil, nil
}
func (s *stubAdapter) ExtractCallback(raw map[string]string) CallbackPayload {
	return CallbackPayload{RawFields: raw}
}
func (s *stubAdapter) VerifyCallback(context.Context, CallbackPayload) (*CallbackResult, error) {
	return nil, nil
}
func (s *stubAdapter) QueryStatus(context.Context, TransactionRef) (enums.GatewayPaymentStatus, error) {
	return enums.GatewayPaymentStatusUnknown, nil
}
func (s *stubAdapter) UpdateTransaction(context.Context, TransactionRef, ReducedCart) error {
	return nil
}
func (s *stubAdapter) Reverse(context.Context, TransactionRef) error { return nil }

func TestRegistryResolve(t *testing.T) {
	registry := NewRegistry()
	mellat := &stubAdapter{provider: enums.GatewayMellat}
	registry.Register(mellat)

	got, err := registry.Resolve(enums.GatewayMellat)
	require.NoError(t, err)
	require.Same(t, mellat, got)

	_, err = registry.Resolve(enums.GatewaySnappay)
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	require.Equal(t, []enums.GatewayProvider{enums.GatewayMellat}, registry.Providers())
}
