package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402evm "github.com/x402-engine/x402/mechanisms/evm"
)

// ClientSigner backs the EVM scheme client with a raw ECDSA key held in
// process. Production wallets implement x402evm.ClientEvmSigner against
// their own key custody instead.
type ClientSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewClientSignerFromPrivateKey parses a hex private key (0x prefix
// optional) into a signing client.
func NewClientSignerFromPrivateKey(privateKeyHex string) (x402evm.ClientEvmSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &ClientSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the signer's checksummed Ethereum address.
func (s *ClientSigner) Address() string {
	return s.address.Hex()
}

// SignTypedData produces a 65-byte (r,s,v) signature over the EIP-712
// digest of message under domain, with v in Ethereum's 27/28 convention.
func (s *ClientSigner) SignTypedData(
	ctx context.Context,
	domain x402evm.TypedDataDomain,
	fieldTypes map[string][]x402evm.TypedDataField,
	primaryType string,
	message map[string]interface{},
) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       toAPITypes(fieldTypes),
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract,
		},
		Message: message,
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash struct: %w", err)
	}
	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	// digest = keccak256(0x19 || 0x01 || domainSeparator || structHash)
	digest := crypto.Keccak256(append(append([]byte{0x19, 0x01}, domainSeparator...), structHash...))

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	signature[64] += 27
	return signature, nil
}

// toAPITypes converts the mechanism-level field descriptors into
// go-ethereum's apitypes form, guaranteeing the EIP712Domain entry exists.
func toAPITypes(fieldTypes map[string][]x402evm.TypedDataField) apitypes.Types {
	out := make(apitypes.Types, len(fieldTypes)+1)
	for name, fields := range fieldTypes {
		converted := make([]apitypes.Type, len(fields))
		for i, field := range fields {
			converted[i] = apitypes.Type{Name: field.Name, Type: field.Type}
		}
		out[name] = converted
	}
	if _, ok := out["EIP712Domain"]; !ok {
		out["EIP712Domain"] = []apitypes.Type{
			{Name: "name", Type: "string"},
			{Name: "version", Type: "string"},
			{Name: "chainId", Type: "uint256"},
			{Name: "verifyingContract", Type: "address"},
		}
	}
	return out
}
