package facilitator

import (
	"context"
	"errors"
	"time"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/xrp"
	"github.com/x402-engine/x402/types"
)

// ExactXrpSchemeConfig holds configuration for the ExactXrpScheme
// facilitator.
type ExactXrpSchemeConfig struct {
	// PollInterval is how long to wait between TxValidated polls while
	// settling. Zero uses a 1 second default.
	PollInterval time.Duration

	// MaxPolls bounds how many times Settle polls for validation before
	// giving up. Zero uses a default of 20 (roughly one ledger-close cycle
	// worth of polling at the default interval).
	MaxPolls int
}

// ExactXrpScheme implements the SchemeNetworkFacilitator interface for
// exact-XRP Ledger Payment transactions (V2).
type ExactXrpScheme struct {
	rpc    xrp.FacilitatorXrpRPC
	config ExactXrpSchemeConfig
}

// NewExactXrpScheme creates a new ExactXrpScheme.
func NewExactXrpScheme(rpc xrp.FacilitatorXrpRPC, config *ExactXrpSchemeConfig) *ExactXrpScheme {
	cfg := ExactXrpSchemeConfig{PollInterval: time.Second, MaxPolls: 20}
	if config != nil {
		cfg = *config
		if cfg.PollInterval <= 0 {
			cfg.PollInterval = time.Second
		}
		if cfg.MaxPolls <= 0 {
			cfg.MaxPolls = 20
		}
	}
	return &ExactXrpScheme{rpc: rpc, config: cfg}
}

// Scheme returns the scheme identifier.
func (f *ExactXrpScheme) Scheme() string {
	return xrp.SchemeExact
}

// CaipFamily returns the CAIP family pattern this facilitator supports.
func (f *ExactXrpScheme) CaipFamily() string {
	return "xrp:*"
}

// GetExtra returns mechanism-specific extra data for the supported kinds
// endpoint. XRP needs none.
func (f *ExactXrpScheme) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners returns signer addresses used by this facilitator. The XRP
// scheme never signs on the payer's behalf, so it has none to report.
func (f *ExactXrpScheme) GetSigners(_ x402.Network) []string {
	return nil
}

// Verify verifies a V2 payment payload against requirements.
func (f *ExactXrpScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != xrp.SchemeExact {
		return nil, x402.NewVerifyError("invalid_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}

	xrpPayload, err := xrp.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_payload", "", network, err)
	}

	networkConfig, err := xrp.GetNetworkConfig(string(requirements.Network))
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_network_config", "", network, err)
	}

	signedTx, err := f.rpc.DecodeSignedPayment(ctx, xrpPayload.SignedTransaction)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_signature", "", network, err)
	}

	declared := xrpPayload.Transaction
	if signedTx.Account != declared.Account ||
		signedTx.Destination != declared.Destination ||
		signedTx.Amount != declared.Amount ||
		signedTx.Sequence != declared.Sequence ||
		signedTx.LastLedgerSequence != declared.LastLedgerSequence {
		return nil, x402.NewVerifyError("transaction_mismatch", signedTx.Account, network, nil)
	}

	if signedTx.Destination != requirements.PayTo {
		return nil, x402.NewVerifyError("recipient_mismatch", signedTx.Account, network, nil)
	}

	requiredDrops, err := xrp.ParseDrops(requirements.Amount)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_required_amount", signedTx.Account, network, err)
	}
	amountDrops, err := xrp.ParseDrops(signedTx.Amount)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_amount", signedTx.Account, network, err)
	}
	if amountDrops < requiredDrops {
		return nil, x402.NewVerifyError("insufficient_amount", signedTx.Account, network, nil)
	}

	feeDrops, err := xrp.ParseDrops(signedTx.Fee)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_fee", signedTx.Account, network, err)
	}

	currentLedger, err := f.rpc.CurrentLedgerIndex(ctx)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_ledger_index", signedTx.Account, network, err)
	}
	if signedTx.LastLedgerSequence <= currentLedger {
		return nil, x402.NewVerifyError("expired", signedTx.Account, network, nil)
	}
	if signedTx.LastLedgerSequence > currentLedger+xrp.MaxLastLedgerOffset {
		return nil, x402.NewVerifyError("last_ledger_sequence_too_far", signedTx.Account, network, nil)
	}

	accountSequence, err := f.rpc.AccountSequence(ctx, signedTx.Account)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_account_sequence", signedTx.Account, network, err)
	}
	if signedTx.Sequence != accountSequence {
		return nil, x402.NewVerifyError("stale_sequence", signedTx.Account, network, nil)
	}

	balanceDrops, err := f.rpc.AccountBalanceDrops(ctx, signedTx.Account)
	if err != nil {
		return nil, x402.NewVerifyError("failed_to_get_balance", signedTx.Account, network, err)
	}
	spend := amountDrops + feeDrops + networkConfig.ReserveBaseDrops
	if balanceDrops < spend {
		return nil, x402.NewVerifyError("insufficient_balance", signedTx.Account, network, nil)
	}

	return &x402.VerifyResponse{
		IsValid: true,
		Payer:   signedTx.Account,
	}, nil
}

// Settle submits the signed transaction and waits for it to reach a
// validated ledger.
func (f *ExactXrpScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := x402.Network(payload.Accepted.Network)

	verifyResp, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		ve := &x402.VerifyError{}
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", network, "", err)
	}

	xrpPayload, err := xrp.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError("invalid_payload", verifyResp.Payer, network, "", err)
	}

	txHash, err := f.rpc.Submit(ctx, xrpPayload.SignedTransaction)
	if err != nil {
		return nil, x402.NewSettleError("submit_failed", verifyResp.Payer, network, "", err)
	}

	for i := 0; i < f.config.MaxPolls; i++ {
		validated, success, err := f.rpc.TxValidated(ctx, txHash)
		if err != nil {
			return nil, x402.NewSettleError("failed_to_check_validation", verifyResp.Payer, network, txHash, err)
		}
		if validated {
			if !success {
				return nil, x402.NewSettleError("transaction_failed", verifyResp.Payer, network, txHash, nil)
			}
			return &x402.SettleResponse{
				Success:     true,
				Transaction: txHash,
				Network:     network,
				Payer:       verifyResp.Payer,
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, x402.NewSettleError("settlement_timed_out", verifyResp.Payer, network, txHash, ctx.Err())
		case <-time.After(f.config.PollInterval):
		}
	}

	return nil, x402.NewSettleError("settlement_timed_out", verifyResp.Payer, network, txHash, nil)
}
