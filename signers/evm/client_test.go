package evm

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	x402evm "github.com/x402-engine/x402/mechanisms/evm"
)

// Hardhat's first well-known development key.
const testPrivateKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
const testAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"

func TestNewClientSignerFromPrivateKey(t *testing.T) {
	t.Run("accepts the key with and without 0x", func(t *testing.T) {
		for _, key := range []string{testPrivateKeyHex, "0x" + testPrivateKeyHex} {
			signer, err := NewClientSignerFromPrivateKey(key)
			if err != nil {
				t.Fatalf("NewClientSignerFromPrivateKey(%q) failed: %v", key, err)
			}
			if signer.Address() != testAddress {
				t.Errorf("derived address %s, want %s", signer.Address(), testAddress)
			}
		}
	})

	t.Run("rejects malformed keys", func(t *testing.T) {
		for _, key := range []string{"", "invalid", "0x1234"} {
			if _, err := NewClientSignerFromPrivateKey(key); err == nil {
				t.Errorf("expected %q to be rejected", key)
			}
		}
	})
}

func transferTypes() map[string][]x402evm.TypedDataField {
	return map[string][]x402evm.TypedDataField{
		"TransferWithAuthorization": {
			{Name: "from", Type: "address"},
			{Name: "to", Type: "address"},
			{Name: "value", Type: "uint256"},
			{Name: "validAfter", Type: "uint256"},
			{Name: "validBefore", Type: "uint256"},
			{Name: "nonce", Type: "bytes32"},
		},
	}
}

func transferMessage() map[string]interface{} {
	return map[string]interface{}{
		"from":        testAddress,
		"to":          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		"value":       big.NewInt(10000),
		"validAfter":  big.NewInt(0),
		"validBefore": big.NewInt(9999999999),
		"nonce":       make([]byte, 32),
	}
}

func usdcDomain() x402evm.TypedDataDomain {
	return x402evm.TypedDataDomain{
		Name:              "USD Coin",
		Version:           "2",
		ChainID:           big.NewInt(84532),
		VerifyingContract: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	}
}

func TestSignTypedData(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}

	signature, err := signer.SignTypedData(
		context.Background(),
		usdcDomain(),
		transferTypes(),
		"TransferWithAuthorization",
		transferMessage(),
	)
	if err != nil {
		t.Fatalf("SignTypedData failed: %v", err)
	}
	if len(signature) != 65 {
		t.Fatalf("signature length = %d, want 65", len(signature))
	}
	if v := signature[64]; v != 27 && v != 28 {
		t.Errorf("v = %d, want 27 or 28", v)
	}

	// The signature must recover to the signer's address under the same
	// digest the signer is specified to produce.
	digest, err := x402evm.HashEIP3009Authorization(
		x402evm.ExactEIP3009Authorization{
			From:        testAddress,
			To:          "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
			Value:       "10000",
			ValidAfter:  "0",
			ValidBefore: "9999999999",
			Nonce:       "0x0000000000000000000000000000000000000000000000000000000000000000",
		},
		big.NewInt(84532),
		"0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		"USD Coin",
		"2",
	)
	if err != nil {
		t.Fatalf("failed to hash authorization: %v", err)
	}

	recovery := make([]byte, 65)
	copy(recovery, signature)
	recovery[64] -= 27
	pubkey, err := crypto.SigToPub(digest, recovery)
	if err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if got := crypto.PubkeyToAddress(*pubkey).Hex(); got != testAddress {
		t.Errorf("signature recovers to %s, want %s", got, testAddress)
	}
}

func TestSignTypedDataDeterministicPerInput(t *testing.T) {
	signer, err := NewClientSignerFromPrivateKey(testPrivateKeyHex)
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}

	first, err := signer.SignTypedData(context.Background(), usdcDomain(), transferTypes(), "TransferWithAuthorization", transferMessage())
	if err != nil {
		t.Fatal(err)
	}
	second, err := signer.SignTypedData(context.Background(), usdcDomain(), transferTypes(), "TransferWithAuthorization", transferMessage())
	if err != nil {
		t.Fatal(err)
	}
	if string(first) != string(second) {
		t.Error("same input should produce the same signature")
	}

	// Changing the domain must change the digest, hence the signature.
	otherDomain := usdcDomain()
	otherDomain.ChainID = big.NewInt(1)
	third, err := signer.SignTypedData(context.Background(), otherDomain, transferTypes(), "TransferWithAuthorization", transferMessage())
	if err != nil {
		t.Fatal(err)
	}
	if string(first) == string(third) {
		t.Error("different domains must not share a signature")
	}
}
