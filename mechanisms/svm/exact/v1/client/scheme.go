// Package client adapts the exact-SVM client scheme to the legacy v1
// payload shape. Transaction construction lives in the v2 scheme; this
// package only translates envelopes.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	svm "github.com/x402-engine/x402/mechanisms/svm"
	v2client "github.com/x402-engine/x402/mechanisms/svm/exact/client"
	"github.com/x402-engine/x402/types"
)

// ExactSvmSchemeV1 produces v1-enveloped exact-SVM payments by delegating
// to the v2 scheme client.
type ExactSvmSchemeV1 struct {
	inner *v2client.ExactSvmScheme
}

// NewExactSvmSchemeV1 creates the v1 adapter; the optional config
// overrides the network's default RPC endpoint.
func NewExactSvmSchemeV1(signer svm.ClientSvmSigner, config ...*svm.ClientConfig) *ExactSvmSchemeV1 {
	return &ExactSvmSchemeV1{inner: v2client.NewExactSvmScheme(signer, config...)}
}

func (c *ExactSvmSchemeV1) Scheme() string {
	return svm.SchemeExact
}

// CreatePaymentPayload lifts the v1 requirements into the v2 shape -
// including decoding the raw extra bag, whose feePayer entry the SVM
// scheme cannot work without - builds the transaction through the v2
// scheme, and re-wraps it in a v1 envelope.
func (c *ExactSvmSchemeV1) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirementsV1,
) (types.PaymentPayloadV1, error) {
	var extra map[string]interface{}
	if requirements.Extra != nil {
		if err := json.Unmarshal(*requirements.Extra, &extra); err != nil {
			return types.PaymentPayloadV1{}, fmt.Errorf("invalid extra field: %w", err)
		}
	}

	lifted := types.PaymentRequirements{
		Scheme:            requirements.Scheme,
		Network:           requirements.Network,
		Asset:             requirements.Asset,
		Amount:            requirements.MaxAmountRequired,
		PayTo:             requirements.PayTo,
		MaxTimeoutSeconds: requirements.MaxTimeoutSeconds,
		Extra:             extra,
	}

	built, err := c.inner.CreatePaymentPayload(ctx, lifted)
	if err != nil {
		return types.PaymentPayloadV1{}, err
	}

	return types.PaymentPayloadV1{
		X402Version: 1,
		Scheme:      requirements.Scheme,
		Network:     requirements.Network,
		Payload:     built.Payload,
	}, nil
}
