package evm

import (
	"context"
	"fmt"
	"math/big"
)

// TypedDataDomain is the EIP-712 domain separator used when signing and
// verifying EIP-3009 authorizations.
type TypedDataDomain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract string
}

// TypedDataField names one field of an EIP-712 struct type.
type TypedDataField struct {
	Name string
	Type string
}

// ExactEIP3009Authorization is the signed authorization carried in an
// exact-EVM payment payload.
type ExactEIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// ExactEIP3009Payload is the scheme-specific payload for exact-EVM payments.
type ExactEIP3009Payload struct {
	Signature     string                    `json:"signature"`
	Authorization ExactEIP3009Authorization `json:"authorization"`
}

// ToMap converts the payload to the generic map[string]interface{} carried
// by types.PaymentPayload.Payload.
func (p *ExactEIP3009Payload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"signature": p.Signature,
		"authorization": map[string]interface{}{
			"from":        p.Authorization.From,
			"to":          p.Authorization.To,
			"value":       p.Authorization.Value,
			"validAfter":  p.Authorization.ValidAfter,
			"validBefore": p.Authorization.ValidBefore,
			"nonce":       p.Authorization.Nonce,
		},
	}
}

// PayloadFromMap decodes a generic payload map into an ExactEIP3009Payload,
// failing strictly on any missing or mistyped field.
func PayloadFromMap(m map[string]interface{}) (*ExactEIP3009Payload, error) {
	signature, ok := m["signature"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid field: signature")
	}

	authRaw, ok := m["authorization"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid field: authorization")
	}

	getStr := func(key string) (string, error) {
		v, ok := authRaw[key].(string)
		if !ok {
			return "", fmt.Errorf("missing or invalid field: authorization.%s", key)
		}
		return v, nil
	}

	from, err := getStr("from")
	if err != nil {
		return nil, err
	}
	to, err := getStr("to")
	if err != nil {
		return nil, err
	}
	value, err := getStr("value")
	if err != nil {
		return nil, err
	}
	validAfter, err := getStr("validAfter")
	if err != nil {
		return nil, err
	}
	validBefore, err := getStr("validBefore")
	if err != nil {
		return nil, err
	}
	nonce, err := getStr("nonce")
	if err != nil {
		return nil, err
	}

	return &ExactEIP3009Payload{
		Signature: signature,
		Authorization: ExactEIP3009Authorization{
			From:        from,
			To:          to,
			Value:       value,
			ValidAfter:  validAfter,
			ValidBefore: validBefore,
			Nonce:       nonce,
		},
	}, nil
}

// TxReceipt is the subset of an on-chain transaction receipt the facilitator
// settle path needs.
type TxReceipt struct {
	Status uint64
}

// ClientEvmSigner is implemented by client-side EVM key material. It signs
// EIP-712 typed data to authorize a transfer; it never holds gas funds.
type ClientEvmSigner interface {
	// Address returns the signer's checksum address.
	Address() string

	// SignTypedData signs an EIP-712 typed-data struct and returns the
	// 65-byte (r, s, v) signature.
	SignTypedData(
		ctx context.Context,
		domain TypedDataDomain,
		types map[string][]TypedDataField,
		primaryType string,
		message map[string]interface{},
	) ([]byte, error)
}

// FacilitatorEvmSigner is implemented by the facilitator's on-chain signer.
// It submits transferWithAuthorization calls and reads token state needed
// to verify a payment before settling it. Implementations MUST be safe for
// concurrent use; nonce allocation for the facilitator's own transactions is
// the implementation's responsibility.
type FacilitatorEvmSigner interface {
	// GetAddresses returns every address this facilitator can settle from
	// (for load balancing / key rotation).
	GetAddresses() []string

	// GetBalance returns the token balance of owner for the given ERC-20
	// token address.
	GetBalance(ctx context.Context, owner string, token string) (*big.Int, error)

	// GetCode returns the deployed bytecode at address (empty for an EOA or
	// an undeployed counterfactual smart wallet).
	GetCode(ctx context.Context, address string) ([]byte, error)

	// ReadContract performs an eth_call against contractAddress using the
	// given ABI fragment and function name.
	ReadContract(ctx context.Context, contractAddress string, abiJSON string, function string, args ...interface{}) (interface{}, error)

	// WriteContract submits a state-changing transaction and returns its
	// hash once accepted into the mempool.
	WriteContract(ctx context.Context, contractAddress string, abiJSON string, function string, args ...interface{}) (string, error)

	// SendTransaction submits a raw calldata transaction to an address.
	// The counterfactual-wallet deployment path needs this: factory
	// calldata from an ERC-6492 wrapper is already ABI-encoded.
	SendTransaction(ctx context.Context, to string, data []byte) (string, error)

	// WaitForTransactionReceipt blocks until txHash is mined or ctx expires.
	WaitForTransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error)
}
