package client

import (
	"context"
	"fmt"

	"github.com/x402-engine/x402/mechanisms/lightning"
	"github.com/x402-engine/x402/types"
)

// ExactLightningScheme implements the SchemeNetworkClient interface for
// exact-Lightning BOLT11 invoice payments (V2).
type ExactLightningScheme struct {
	wallet lightning.ClientLightningWallet
}

// NewExactLightningScheme creates a new ExactLightningScheme.
func NewExactLightningScheme(wallet lightning.ClientLightningWallet) *ExactLightningScheme {
	return &ExactLightningScheme{wallet: wallet}
}

// Scheme returns the scheme identifier.
func (c *ExactLightningScheme) Scheme() string {
	return lightning.SchemeExact
}

// CreatePaymentPayload pays the invoice the server attached to requirements
// and returns the resulting payload. The server is the Lightning payee: it
// mints the invoice during EnhancePaymentRequirements, and the client's only
// job here is to pay it and report back what it paid.
func (c *ExactLightningScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !lightning.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	bolt11, ok := requirements.Extra["bolt11"].(string)
	if !ok || bolt11 == "" {
		return types.PaymentPayload{}, fmt.Errorf("requirements did not include a bolt11 invoice to pay")
	}

	invoiceID, err := c.wallet.PayInvoice(ctx, bolt11)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to pay invoice: %w", err)
	}

	payload := &lightning.ExactLightningPayload{
		Bolt11:    bolt11,
		InvoiceID: invoiceID,
	}

	return types.PaymentPayload{
		X402Version: 2,
		Payload:     payload.ToMap(),
	}, nil
}
