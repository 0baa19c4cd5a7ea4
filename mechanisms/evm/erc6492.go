package evm

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// erc6492Magic is the 32-byte suffix ERC-6492 appends to a wrapped
// signature: 6492649264926492649264926492649264926492649264926492649264926492.
var erc6492Magic = common.FromHex("0x6492649264926492649264926492649264926492649264926492649264926492")

// ERC6492SignatureData is the decoded form of an ERC-6492 wrapped signature:
// (factory, factoryCalldata, innerSignature). A zero Factory means the
// signature was not ERC-6492 wrapped (plain ECDSA or ERC-1271).
type ERC6492SignatureData struct {
	Factory         [20]byte
	FactoryCalldata []byte
	InnerSignature  []byte
}

var erc6492ABIArguments = func() abi.Arguments {
	addressTy, _ := abi.NewType("address", "", nil)
	bytesTy, _ := abi.NewType("bytes", "", nil)
	bytesTy2, _ := abi.NewType("bytes", "", nil)
	return abi.Arguments{
		{Type: addressTy},
		{Type: bytesTy},
		{Type: bytesTy2},
	}
}()

// ParseERC6492Signature unwraps an ERC-6492 signature if the magic suffix is
// present, returning the counterfactual deployment factory/calldata plus the
// inner signature. If the magic suffix is absent, the signature is returned
// unchanged as InnerSignature with a zero Factory.
func ParseERC6492Signature(signature []byte) (*ERC6492SignatureData, error) {
	if len(signature) < 32 || hex.EncodeToString(signature[len(signature)-32:]) != hex.EncodeToString(erc6492Magic) {
		return &ERC6492SignatureData{InnerSignature: signature}, nil
	}

	body := signature[:len(signature)-32]
	values, err := erc6492ABIArguments.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack ERC-6492 signature: %w", err)
	}

	factoryAddr, ok := values[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 factory type")
	}
	factoryCalldata, ok := values[1].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 factoryCalldata type")
	}
	innerSig, ok := values[2].([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected ERC-6492 inner signature type")
	}

	return &ERC6492SignatureData{
		Factory:         factoryAddr,
		FactoryCalldata: factoryCalldata,
		InnerSignature:  innerSig,
	}, nil
}

// erc1271MagicValue is the return value EIP-1271's isValidSignature must
// produce for a valid signature.
var erc1271MagicValue = [4]byte{0x16, 0x26, 0xba, 0x7e}

const isValidSignatureABI = `[{
	"constant": true,
	"inputs": [
		{"name": "hash", "type": "bytes32"},
		{"name": "signature", "type": "bytes"}
	],
	"name": "isValidSignature",
	"outputs": [{"name": "", "type": "bytes4"}],
	"stateMutability": "view",
	"type": "function"
}]`

// VerifyUniversalSignature verifies a signature against address using,
// in order: plain ECDSA recovery, then (if the account is a contract, or
// allowUndeployed is set and the signature carries ERC-6492 deployment data)
// EIP-1271's isValidSignature. It returns whether the signature is valid and,
// when the signature was ERC-6492 wrapped, the unwrapped deployment data.
func VerifyUniversalSignature(
	ctx context.Context,
	signer FacilitatorEvmSigner,
	address string,
	hash [32]byte,
	signature []byte,
	allowUndeployed bool,
) (bool, *ERC6492SignatureData, error) {
	sigData, err := ParseERC6492Signature(signature)
	if err != nil {
		return false, nil, err
	}

	// Fast path: plain 65-byte ECDSA signature from an externally-owned
	// account recovers directly to address.
	if len(sigData.InnerSignature) == 65 {
		recovered, err := recoverAddress(hash, sigData.InnerSignature)
		if err == nil && common.HexToAddress(recovered) == common.HexToAddress(address) {
			return true, sigData, nil
		}
	}

	zeroFactory := [20]byte{}
	undeployed := sigData.Factory != zeroFactory
	if undeployed && !allowUndeployed {
		return false, sigData, nil
	}

	code, err := signer.GetCode(ctx, address)
	if err != nil {
		return false, nil, err
	}
	if len(code) == 0 && !undeployed {
		// No deployed contract and ECDSA recovery already failed.
		return false, sigData, nil
	}

	result, err := signer.ReadContract(ctx, address, isValidSignatureABI, "isValidSignature", hash, sigData.InnerSignature)
	if err != nil {
		// Counterfactual (undeployed) wallets cannot be called directly;
		// ERC-6492 deployment data having parsed successfully is treated as
		// sufficient evidence the signature is well-formed for settlement,
		// which itself requires deployment before transferWithAuthorization
		// can succeed.
		if undeployed {
			return true, sigData, nil
		}
		return false, nil, err
	}

	returned, ok := result.([4]byte)
	if !ok {
		return false, sigData, nil
	}

	return returned == erc1271MagicValue, sigData, nil
}

func recoverAddress(hash [32]byte, signature []byte) (string, error) {
	sig := make([]byte, 65)
	copy(sig, signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}

	pubKey, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return "", err
	}
	return crypto.PubkeyToAddress(*pubKey).Hex(), nil
}
