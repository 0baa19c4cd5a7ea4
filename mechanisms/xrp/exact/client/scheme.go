package client

import (
	"context"
	"fmt"

	"github.com/x402-engine/x402/mechanisms/xrp"
	"github.com/x402-engine/x402/types"
)

// ExactXrpScheme implements the SchemeNetworkClient interface for exact-XRP
// Ledger Payment transactions (V2).
type ExactXrpScheme struct {
	signer xrp.ClientXrpSigner
}

// NewExactXrpScheme creates a new ExactXrpScheme.
func NewExactXrpScheme(signer xrp.ClientXrpSigner) *ExactXrpScheme {
	return &ExactXrpScheme{signer: signer}
}

// Scheme returns the scheme identifier.
func (c *ExactXrpScheme) Scheme() string {
	return xrp.SchemeExact
}

// CreatePaymentPayload builds and signs an XRP Ledger Payment transaction
// satisfying requirements.
func (c *ExactXrpScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := string(requirements.Network)
	if !xrp.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	if !xrp.IsValidAddress(requirements.PayTo) {
		return types.PaymentPayload{}, fmt.Errorf("invalid PayTo address: %s", requirements.PayTo)
	}

	if _, err := xrp.ParseDrops(requirements.Amount); err != nil {
		return types.PaymentPayload{}, err
	}

	sequence, err := c.signer.AccountSequence(ctx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get account sequence: %w", err)
	}

	ledgerIndex, err := c.signer.CurrentLedgerIndex(ctx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get current ledger index: %w", err)
	}

	fee, err := c.signer.OpenLedgerFeeDrops(ctx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get open ledger fee: %w", err)
	}

	tx := xrp.Payment{
		Account:            c.signer.Address(),
		Destination:        requirements.PayTo,
		Amount:             requirements.Amount,
		Fee:                fmt.Sprintf("%d", fee),
		Sequence:           sequence,
		LastLedgerSequence: ledgerIndex + xrp.DefaultLastLedgerOffset,
	}

	if requirements.Extra != nil {
		if tagVal, ok := requirements.Extra["destinationTag"]; ok {
			switch v := tagVal.(type) {
			case float64:
				tag := uint32(v)
				tx.DestinationTag = &tag
			case int:
				tag := uint32(v)
				tx.DestinationTag = &tag
			}
		}
	}

	blobHex, _, err := c.signer.Sign(ctx, tx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign payment: %w", err)
	}

	xrpPayload := &xrp.ExactXrpPayload{
		Transaction:       tx,
		SignedTransaction: blobHex,
	}

	return types.PaymentPayload{
		X402Version: 2,
		Payload:     xrpPayload.ToMap(),
	}, nil
}
