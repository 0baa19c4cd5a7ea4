// Package cash is a toy payment rail for exercising the engine without a
// chain: a "signature" is the payer's name prefixed with a tilde, and
// settlement just narrates the transfer. It exists so engine tests can
// drive the full client/server/facilitator loop deterministically.
package cash

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/types"
)

const (
	schemeName = "cash"
	network    = "x402:cash"
)

// SchemeNetworkClient signs cash payments for one payer.
type SchemeNetworkClient struct {
	payer string
}

func NewSchemeNetworkClient(payer string) *SchemeNetworkClient {
	return &SchemeNetworkClient{payer: payer}
}

func (c *SchemeNetworkClient) Scheme() string { return schemeName }

// CreatePaymentPayload "signs" by prefixing the payer name, valid for the
// requirement's timeout.
func (c *SchemeNetworkClient) CreatePaymentPayload(ctx context.Context, requirements types.PaymentRequirements) (types.PaymentPayload, error) {
	expiry := time.Now().Add(time.Duration(requirements.MaxTimeoutSeconds) * time.Second).Unix()
	return types.PaymentPayload{
		X402Version: 2,
		Payload: map[string]interface{}{
			"signature":  "~" + c.payer,
			"validUntil": strconv.FormatInt(expiry, 10),
			"name":       c.payer,
		},
	}, nil
}

// SchemeNetworkFacilitator verifies and settles cash payments.
type SchemeNetworkFacilitator struct{}

func NewSchemeNetworkFacilitator() *SchemeNetworkFacilitator {
	return &SchemeNetworkFacilitator{}
}

func (f *SchemeNetworkFacilitator) Scheme() string                                 { return schemeName }
func (f *SchemeNetworkFacilitator) CaipFamily() string                             { return "x402:*" }
func (f *SchemeNetworkFacilitator) GetExtra(_ x402.Network) map[string]interface{} { return nil }
func (f *SchemeNetworkFacilitator) GetSigners(_ x402.Network) []string             { return []string{} }

// field pulls a required string field out of a payload map, erroring with
// a missing_<name> reason.
func field(payload map[string]interface{}, name string, network x402.Network) (string, error) {
	v, ok := payload[name].(string)
	if !ok {
		return "", x402.NewVerifyError("missing_"+name, "", network, nil)
	}
	return v, nil
}

// Verify accepts a payment whose signature is the tilde-prefixed name and
// whose validUntil has not passed.
func (f *SchemeNetworkFacilitator) Verify(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.VerifyResponse, error) {
	net := x402.Network(requirements.Network)

	signature, err := field(payload.Payload, "signature", net)
	if err != nil {
		return nil, err
	}
	name, err := field(payload.Payload, "name", net)
	if err != nil {
		return nil, err
	}
	validUntilStr, err := field(payload.Payload, "validUntil", net)
	if err != nil {
		return nil, err
	}

	if signature != "~"+name {
		return nil, x402.NewVerifyError("invalid_signature", signature, net, nil)
	}
	validUntil, err := strconv.ParseInt(validUntilStr, 10, 64)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_validUntil", signature, net, err)
	}
	if validUntil < time.Now().Unix() {
		return nil, x402.NewVerifyError("expired_signature", signature, net, nil)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: signature}, nil
}

// Settle re-verifies, then reports a narrated "transaction".
func (f *SchemeNetworkFacilitator) Settle(ctx context.Context, payload types.PaymentPayload, requirements types.PaymentRequirements) (*x402.SettleResponse, error) {
	net := x402.Network(requirements.Network)

	verified, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		if ve, ok := err.(*x402.VerifyError); ok {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", net, "", err)
	}

	name, _ := payload.Payload["name"].(string)
	return &x402.SettleResponse{
		Success:     true,
		Transaction: fmt.Sprintf("%s transferred %s %s to %s", name, requirements.Amount, requirements.Asset, requirements.PayTo),
		Network:     net,
		Payer:       verified.Payer,
	}, nil
}

// SchemeNetworkServer prices routes in whole dollars.
type SchemeNetworkServer struct{}

func NewSchemeNetworkServer() *SchemeNetworkServer {
	return &SchemeNetworkServer{}
}

func (s *SchemeNetworkServer) Scheme() string { return schemeName }

// ParsePrice accepts AssetAmount values, {amount, asset} maps, "$10"-style
// strings, and raw numbers, defaulting the asset to USD.
func (s *SchemeNetworkServer) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	switch v := price.(type) {
	case x402.AssetAmount:
		return v, nil
	case map[string]interface{}:
		amount, _ := v["amount"].(string)
		asset, _ := v["asset"].(string)
		if asset == "" {
			asset = "USD"
		}
		return x402.AssetAmount{Amount: amount, Asset: asset}, nil
	case string:
		amount := strings.TrimPrefix(v, "$")
		amount = strings.TrimSuffix(amount, " USD")
		amount = strings.TrimSpace(strings.TrimSuffix(amount, "USD"))
		return x402.AssetAmount{Amount: amount, Asset: "USD"}, nil
	case float64:
		return x402.AssetAmount{Amount: fmt.Sprintf("%.2f", v), Asset: "USD"}, nil
	case int:
		return x402.AssetAmount{Amount: strconv.Itoa(v), Asset: "USD"}, nil
	default:
		return x402.AssetAmount{}, fmt.Errorf("invalid price format: %v", price)
	}
}

// EnhancePaymentRequirements is a no-op; cash needs no extra fields.
func (s *SchemeNetworkServer) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	facilitatorExtensions []string,
) (types.PaymentRequirements, error) {
	return requirements, nil
}

// FacilitatorClient exposes an in-process facilitator through the
// FacilitatorClient interface, skipping HTTP entirely.
type FacilitatorClient struct {
	facilitator *x402.X402Facilitator
}

func NewFacilitatorClient(facilitator *x402.X402Facilitator) *FacilitatorClient {
	return &FacilitatorClient{facilitator: facilitator}
}

func (c *FacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	return c.facilitator.Verify(ctx, payloadBytes, requirementsBytes)
}

func (c *FacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettleResponse, error) {
	return c.facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}

func (c *FacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: 2, Scheme: schemeName, Network: network},
		},
		Extensions: []string{},
		Signers:    make(map[string][]string),
	}, nil
}

func (c *FacilitatorClient) Identifier() string {
	return "cash-facilitator"
}

// BuildPaymentRequirements is the requirement most cash tests start from.
func BuildPaymentRequirements(payTo string, asset string, amount string) types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            schemeName,
		Network:           network,
		Asset:             asset,
		Amount:            amount,
		PayTo:             payTo,
		MaxTimeoutSeconds: 1000,
	}
}
