// Package client adapts the exact-EVM client scheme to the legacy v1
// payload shape. All signing logic lives in the v2 scheme; this package
// only translates the requirement and payload envelopes.
package client

import (
	"context"
	"encoding/json"

	"github.com/x402-engine/x402/mechanisms/evm"
	v2client "github.com/x402-engine/x402/mechanisms/evm/exact/client"
	"github.com/x402-engine/x402/types"
)

// ExactEvmSchemeV1 produces v1-enveloped exact-EVM payments by delegating
// to the v2 scheme client.
type ExactEvmSchemeV1 struct {
	inner *v2client.ExactEvmScheme
}

func NewExactEvmSchemeV1(signer evm.ClientEvmSigner) *ExactEvmSchemeV1 {
	return &ExactEvmSchemeV1{inner: v2client.NewExactEvmScheme(signer)}
}

func (c *ExactEvmSchemeV1) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload lifts the v1 requirements into the v2 shape, signs
// through the v2 scheme, and re-wraps the scheme payload in a v1
// envelope (scheme and network at the top level).
func (c *ExactEvmSchemeV1) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	lifted := types.PaymentRequirements{
		Scheme:            requirements.Scheme,
		Network:           requirements.Network,
		Asset:             requirements.Asset,
		Amount:            requirements.MaxAmountRequired,
		PayTo:             requirements.PayTo,
		MaxTimeoutSeconds: requirements.MaxTimeoutSeconds,
		Extra:             liftExtra(requirements.Extra),
	}

	signed, err := c.inner.CreatePaymentPayload(ctx, lifted)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	return types.PaymentPayloadV1{
		X402Version: 1,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     signed.Payload,
	}, nil
}

// liftExtra decodes v1's raw extra bag into the map form v2 carries. A
// malformed bag is dropped rather than failing the payment; the v2 scheme
// then falls back to its asset table for domain values.
func liftExtra(raw *json.RawMessage) map[string]interface{} {
	if raw == nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(*raw, &m); err != nil {
		return nil
	}
	return m
}
