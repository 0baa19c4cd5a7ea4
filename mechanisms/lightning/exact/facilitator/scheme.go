package facilitator

import (
	"context"
	"fmt"
	"strconv"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/lightning"
	"github.com/x402-engine/x402/types"
)

// ErrInvoiceLookupUnconfigured is the settlement reason returned when no
// lightning.InvoiceLookup has been wired in. Settle refuses to fabricate a
// success in this case; see §9's open-question resolution on Lightning
// settlement.
const ErrInvoiceLookupUnconfigured = "lightning_invoice_lookup_unconfigured"

// ExactLightningScheme implements the SchemeNetworkFacilitator interface for
// exact-Lightning BOLT11 invoice payments (V2). Verify is purely structural
// (decoding the invoice, no node contact); Settle is gated on an optional
// InvoiceLookup that resolves the invoice against a real Lightning node.
type ExactLightningScheme struct {
	decoder lightning.InvoiceDecoder
	lookup  lightning.InvoiceLookup
}

// NewExactLightningScheme creates a new ExactLightningScheme. lookup may be
// nil; Settle then always fails with ErrInvoiceLookupUnconfigured rather than
// reporting a synthetic success.
func NewExactLightningScheme(decoder lightning.InvoiceDecoder, lookup lightning.InvoiceLookup) *ExactLightningScheme {
	return &ExactLightningScheme{decoder: decoder, lookup: lookup}
}

// Scheme returns the scheme identifier.
func (f *ExactLightningScheme) Scheme() string {
	return lightning.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports.
func (f *ExactLightningScheme) CaipFamily() string {
	return "lightning:*"
}

// GetExtra returns mechanism-specific extra data for the supported kinds
// endpoint. Lightning needs none.
func (f *ExactLightningScheme) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns signer addresses used by this facilitator. Lightning
// payments are not signed by the facilitator, so it has none to report.
func (f *ExactLightningScheme) GetSigners(_ x402.Network) []string {
	return nil
}

// Verify structurally validates the bolt11 invoice: well-formed, matching
// network, not expired, and carrying an amount at least the requirement. It
// never contacts a node.
func (f *ExactLightningScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != lightning.SchemeExact {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}

	lnPayload, err := lightning.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", "", network, err)
	}

	decoded, err := f.decoder.Decode(string(requirements.Network), lnPayload.Bolt11)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_invoice", "", network, err)
	}

	if decoded.Expired {
		return nil, x402.NewVerifyError("expired", "", network, nil)
	}

	requiredMsat, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_required_amount", "", network, err)
	}
	if decoded.AmountMsat < requiredMsat {
		return nil, x402.NewVerifyError("insufficient_amount", "", network, nil)
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   "",
	}, nil
}

// Settle resolves the invoice against the configured InvoiceLookup and
// succeeds only if the node reports it SETTLED with an amount at least the
// requirement.
func (f *ExactLightningScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := x402.Network(payload.Accepted.Network)

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		return nil, fmt.Errorf("verification failed: %w", err)
	}

	lnPayload, err := lightning.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", verifyResp.Payer, network, "", err)
	}

	if f.lookup == nil {
		return nil, x402.NewSettleError(ErrInvoiceLookupUnconfigured, verifyResp.Payer, network, "", nil)
	}

	status, err := f.lookup.LookupInvoice(ctx, lnPayload.InvoiceID, lnPayload.Bolt11)
	if err != nil {
		return nil, x402.NewSettleError("invoice_lookup_failed", verifyResp.Payer, network, "", err)
	}

	if !status.Settled {
		return nil, x402.NewSettleError("invoice_not_settled", verifyResp.Payer, network, "", nil)
	}

	requiredMsat, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, x402.NewSettleError("invalid_required_amount", verifyResp.Payer, network, "", err)
	}
	if status.AmountMsat < requiredMsat {
		return nil, x402.NewSettleError("insufficient_amount", verifyResp.Payer, network, "", nil)
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: status.PaymentHash,
		Network:     network,
		Payer:       verifyResp.Payer,
	}, nil
}
