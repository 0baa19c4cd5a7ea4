package client

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/x402-engine/x402/mechanisms/evm"
	"github.com/x402-engine/x402/types"
)

// transferWithAuthorizationTypes is the EIP-712 type set an EIP-3009
// transfer authorization is signed under.
var transferWithAuthorizationTypes = map[string][]evm.TypedDataField{
	"EIP712Domain": {
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"TransferWithAuthorization": {
		{Name: "from", Type: "address"},
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "validAfter", Type: "uint256"},
		{Name: "validBefore", Type: "uint256"},
		{Name: "nonce", Type: "bytes32"},
	},
}

// ExactEvmScheme produces exact-EVM payments: a signed EIP-3009
// TransferWithAuthorization the facilitator can submit without the client
// ever spending gas.
type ExactEvmScheme struct {
	signer evm.ClientEvmSigner
}

func NewExactEvmScheme(signer evm.ClientEvmSigner) *ExactEvmScheme {
	return &ExactEvmScheme{signer: signer}
}

func (c *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// CreatePaymentPayload signs a fresh transfer authorization for the
// requirement: random nonce, a validity window bracketing now, and an
// EIP-712 signature over the token's domain.
func (c *ExactEvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	networkStr := requirements.Network
	if !evm.IsValidNetwork(networkStr) {
		return types.PaymentPayload{}, fmt.Errorf("unsupported network: %s", networkStr)
	}
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return types.PaymentPayload{}, err
	}
	assetInfo, err := evm.GetAssetInfo(networkStr, requirements.Asset)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	value, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok {
		return types.PaymentPayload{}, fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	nonce, err := evm.CreateNonce()
	if err != nil {
		return types.PaymentPayload{}, err
	}

	// The authorization expires when the server said it would stop
	// accepting it; without a stated timeout, default to an hour.
	window := time.Hour
	if requirements.MaxTimeoutSeconds > 0 {
		window = time.Duration(requirements.MaxTimeoutSeconds) * time.Second
	}
	validAfter, validBefore := evm.CreateValidityWindow(window)

	authorization := evm.ExactEIP3009Authorization{
		From:        c.signer.Address(),
		To:          requirements.PayTo,
		Value:       value.String(),
		ValidAfter:  validAfter.String(),
		ValidBefore: validBefore.String(),
		Nonce:       nonce,
	}

	domain := evm.TypedDataDomain{
		Name:              assetInfo.Name,
		Version:           assetInfo.Version,
		ChainID:           config.ChainID,
		VerifyingContract: assetInfo.Address,
	}
	// Server-supplied domain values override the asset table: the
	// signature only recovers if both sides hash the same domain, and the
	// server is the one that talked to the facilitator.
	if requirements.Extra != nil {
		if name, ok := requirements.Extra["name"].(string); ok {
			domain.Name = name
		}
		if version, ok := requirements.Extra["version"].(string); ok {
			domain.Version = version
		}
	}

	signature, err := c.signAuthorization(ctx, authorization, domain)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign authorization: %w", err)
	}

	payload := &evm.ExactEIP3009Payload{
		Signature:     evm.BytesToHex(signature),
		Authorization: authorization,
	}

	// The engine wraps this with accepted/resource/extensions.
	return types.PaymentPayload{
		X402Version: 2,
		Payload:     payload.ToMap(),
	}, nil
}

// signAuthorization hashes the authorization per EIP-712 and signs it.
func (c *ExactEvmScheme) signAuthorization(
	ctx context.Context,
	authorization evm.ExactEIP3009Authorization,
	domain evm.TypedDataDomain,
) ([]byte, error) {
	value, _ := new(big.Int).SetString(authorization.Value, 10)
	validAfter, _ := new(big.Int).SetString(authorization.ValidAfter, 10)
	validBefore, _ := new(big.Int).SetString(authorization.ValidBefore, 10)
	nonceBytes, _ := evm.HexToBytes(authorization.Nonce)

	message := map[string]interface{}{
		"from":        authorization.From,
		"to":          authorization.To,
		"value":       value,
		"validAfter":  validAfter,
		"validBefore": validBefore,
		"nonce":       nonceBytes,
	}

	return c.signer.SignTypedData(ctx, domain, transferWithAuthorizationTypes, "TransferWithAuthorization", message)
}
