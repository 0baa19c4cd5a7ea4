// Package facilitator adapts the exact-EVM facilitator scheme to the
// legacy v1 payload shape. Verification and EIP-3009 settlement delegate
// to the v2 scheme; the one capability kept v1-side is optional
// counterfactual smart-wallet deployment, which the v2 path deliberately
// refuses to sponsor.
package facilitator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/evm"
	v2facilitator "github.com/x402-engine/x402/mechanisms/evm/exact/facilitator"
	"github.com/x402-engine/x402/types"
)

// ExactEvmSchemeV1Config configures the v1 adapter.
type ExactEvmSchemeV1Config struct {
	// DeployERC4337WithEIP6492 deploys an undeployed smart wallet through
	// its ERC-6492 factory data before settling, at the facilitator's gas
	// expense. Off by default.
	DeployERC4337WithEIP6492 bool
}

// ExactEvmSchemeV1 serves v1-enveloped exact-EVM payments by lifting them
// into the v2 shape and delegating.
type ExactEvmSchemeV1 struct {
	signer evm.FacilitatorEvmSigner
	inner  *v2facilitator.ExactEvmScheme
	config ExactEvmSchemeV1Config
}

func NewExactEvmSchemeV1(signer evm.FacilitatorEvmSigner, config *ExactEvmSchemeV1Config) *ExactEvmSchemeV1 {
	f := &ExactEvmSchemeV1{
		signer: signer,
		inner:  v2facilitator.NewExactEvmScheme(signer, nil),
	}
	if config != nil {
		f.config = *config
	}
	return f
}

func (f *ExactEvmSchemeV1) Scheme() string {
	return evm.SchemeExact
}

// CaipFamily returns the network family pattern this facilitator serves.
func (f *ExactEvmSchemeV1) CaipFamily() string {
	return "eip155:*"
}

// GetExtra returns nothing: EVM kinds carry no per-network metadata.
func (f *ExactEvmSchemeV1) GetExtra(_ x402.Network) map[string]interface{} {
	return nil
}

// GetSigners lists the facilitator's settlement addresses.
func (f *ExactEvmSchemeV1) GetSigners(_ x402.Network) []string {
	return f.signer.GetAddresses()
}

// lift rebuilds the v2 (payload, requirements) pair a v1 call describes.
// The v2 payload's Accepted field is synthesized from the requirements,
// which is exactly what a v2 client would have echoed back.
func lift(payload types.PaymentPayloadV1, requirements types.PaymentRequirementsV1) (types.PaymentPayload, types.PaymentRequirements) {
	var extra map[string]interface{}
	if requirements.Extra != nil {
		// A bag that doesn't decode is treated as absent; the v2 scheme
		// falls back to its asset table.
		_ = json.Unmarshal(*requirements.Extra, &extra)
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
	return types.PaymentPayload{
		X402Version: 2,
		Payload:     payload.Payload,
		Accepted:    lifted,
	}, lifted
}

// Verify lifts and delegates.
func (f *ExactEvmSchemeV1) Verify(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.VerifyResponse, error) {
	liftedPayload, liftedRequirements := lift(payload, requirements)
	return f.inner.Verify(ctx, liftedPayload, liftedRequirements)
}

// Settle optionally deploys an undeployed ERC-6492 smart wallet first,
// then lifts and delegates the settlement itself.
func (f *ExactEvmSchemeV1) Settle(
	ctx context.Context,
	payload types.PaymentPayloadV1,
	requirements types.PaymentRequirementsV1,
) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	if f.config.DeployERC4337WithEIP6492 {
		if err := f.deployWalletIfNeeded(ctx, payload); err != nil {
			return nil, x402.NewSettleError(evm.ErrSmartWalletDeploymentFailed, "", network, "", err)
		}
	}

	liftedPayload, liftedRequirements := lift(payload, requirements)
	return f.inner.Settle(ctx, liftedPayload, liftedRequirements)
}

// deployWalletIfNeeded inspects the payment's signature for an ERC-6492
// wrapper naming a factory, and if the payer's wallet has no code yet,
// runs the factory calldata to deploy it.
func (f *ExactEvmSchemeV1) deployWalletIfNeeded(ctx context.Context, payload types.PaymentPayloadV1) error {
	evmPayload, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	signatureBytes, err := evm.HexToBytes(evmPayload.Signature)
	if err != nil {
		return fmt.Errorf("invalid signature encoding: %w", err)
	}
	sigData, err := evm.ParseERC6492Signature(signatureBytes)
	if err != nil {
		return fmt.Errorf("failed to parse signature: %w", err)
	}

	if sigData.Factory == [20]byte{} || len(sigData.FactoryCalldata) == 0 {
		return nil
	}
	code, err := f.signer.GetCode(ctx, evmPayload.Authorization.From)
	if err != nil {
		return fmt.Errorf("failed to check wallet deployment: %w", err)
	}
	if len(code) > 0 {
		return nil
	}

	factory := common.BytesToAddress(sigData.Factory[:])
	txHash, err := f.signer.SendTransaction(ctx, factory.Hex(), sigData.FactoryCalldata)
	if err != nil {
		return fmt.Errorf("factory deployment transaction failed: %w", err)
	}
	receipt, err := f.signer.WaitForTransactionReceipt(ctx, txHash)
	if err != nil {
		return fmt.Errorf("failed to wait for deployment: %w", err)
	}
	if receipt.Status != evm.TxStatusSuccess {
		return fmt.Errorf("deployment transaction reverted")
	}
	return nil
}
