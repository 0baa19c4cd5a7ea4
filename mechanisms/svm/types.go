package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
)

// ExactSvmPayload is the scheme-specific payload for exact-SVM payments: a
// partially-signed, base64-encoded wire transaction missing only the fee
// payer's signature.
type ExactSvmPayload struct {
	Transaction string `json:"transaction"`
}

// ToMap converts the payload to the generic map[string]interface{} carried
// by types.PaymentPayload.Payload.
func (p *ExactSvmPayload) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"transaction": p.Transaction,
	}
}

// PayloadFromMap decodes a generic payload map into an ExactSvmPayload.
func PayloadFromMap(m map[string]interface{}) (*ExactSvmPayload, error) {
	tx, ok := m["transaction"].(string)
	if !ok {
		return nil, fmt.Errorf("missing or invalid field: transaction")
	}
	return &ExactSvmPayload{Transaction: tx}, nil
}

// ClientConfig lets a client override the network's default RPC endpoint.
type ClientConfig struct {
	RPCURL string
}

// ClientSvmSigner is implemented by client-side Solana key material. It
// partially signs the payment transaction as the token owner; the
// facilitator later adds the fee-payer signature.
type ClientSvmSigner interface {
	// Address returns the signer's public key.
	Address() solana.PublicKey

	// SignTransaction adds this signer's signature to tx at its account
	// index.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// FacilitatorSvmSigner is implemented by the facilitator's fee-payer
// keypair(s). Implementations MUST be safe for concurrent use across
// requests; which concrete keypair backs each returned address is an
// implementation detail used for load distribution.
type FacilitatorSvmSigner interface {
	// GetAddresses returns every fee-payer public key available on network.
	GetAddresses(ctx context.Context, network string) []solana.PublicKey

	// SignTransaction adds the feePayer's signature to tx.
	SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error

	// SimulateTransaction runs the fully-signed transaction through the
	// RPC's simulation endpoint (commitment "confirmed",
	// replaceRecentBlockhash=false, sigVerify=true) and returns an error if
	// simulation fails.
	SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error

	// SendTransaction submits the fully-signed transaction and returns its
	// signature.
	SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error)

	// ConfirmTransaction polls until signature reaches the network's
	// confirmation commitment or ctx expires.
	ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error
}
