package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	x402svm "github.com/x402-engine/x402/mechanisms/svm"
)

// ClientSigner backs the SVM scheme client with an in-process Ed25519
// keypair. Wallet integrations implement x402svm.ClientSvmSigner against
// their own custody instead.
type ClientSigner struct {
	privateKey solana.PrivateKey
}

// NewClientSignerFromPrivateKey parses a base58 private key into a
// signing client.
func NewClientSignerFromPrivateKey(privateKeyBase58 string) (x402svm.ClientSvmSigner, error) {
	key, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &ClientSigner{privateKey: key}, nil
}

// Address returns the signer's public key.
func (s *ClientSigner) Address() solana.PublicKey {
	return s.privateKey.PublicKey()
}

// SignTransaction signs the transaction message and places the signature
// at this key's account index, growing the signature slice if the slot
// doesn't exist yet. Other slots - the fee payer's in particular - are
// left untouched.
func (s *ClientSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	signature, err := s.privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	index, err := tx.GetAccountIndex(s.privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}
	if len(tx.Signatures) <= int(index) {
		grown := make([]solana.Signature, index+1)
		copy(grown, tx.Signatures)
		tx.Signatures = grown
	}
	tx.Signatures[index] = signature
	return nil
}
