package svm

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402svm "github.com/x402-engine/x402/mechanisms/svm"
)

// FacilitatorSigner implements x402svm.FacilitatorSvmSigner using a single
// fee-payer keypair and a JSON-RPC client per supported network.
type FacilitatorSigner struct {
	feePayer solana.PrivateKey
	clients  map[string]*rpc.Client
}

// NewFacilitatorSigner creates a FacilitatorSigner from a base58-encoded
// fee-payer private key. rpcEndpoints maps network identifiers (e.g.
// "solana:mainnet") to the RPC URL to use for that network; a network not
// present in this map cannot be settled.
func NewFacilitatorSigner(feePayerBase58 string, rpcEndpoints map[string]string) (*FacilitatorSigner, error) {
	feePayer, err := solana.PrivateKeyFromBase58(feePayerBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid fee payer private key: %w", err)
	}

	clients := make(map[string]*rpc.Client, len(rpcEndpoints))
	for network, url := range rpcEndpoints {
		clients[network] = rpc.New(url)
	}

	return &FacilitatorSigner{feePayer: feePayer, clients: clients}, nil
}

func (s *FacilitatorSigner) clientFor(network string) (*rpc.Client, error) {
	client, ok := s.clients[network]
	if !ok {
		return nil, fmt.Errorf("no RPC endpoint configured for network: %s", network)
	}
	return client, nil
}

// GetAddresses returns the fee-payer public key. This facilitator holds a
// single keypair; load balancing across multiple keys is a deployment
// concern handled by running multiple facilitator instances behind a load
// balancer, not by this signer.
func (s *FacilitatorSigner) GetAddresses(ctx context.Context, network string) []solana.PublicKey {
	return []solana.PublicKey{s.feePayer.PublicKey()}
}

// SignTransaction adds the fee payer's signature to tx.
func (s *FacilitatorSigner) SignTransaction(ctx context.Context, tx *solana.Transaction, feePayer solana.PublicKey, network string) error {
	if feePayer != s.feePayer.PublicKey() {
		return fmt.Errorf("unknown fee payer: %s", feePayer)
	}

	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := s.feePayer.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(s.feePayer.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get fee payer account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[accountIndex] = signature

	return nil
}

// SimulateTransaction runs the fully-signed transaction through the RPC's
// simulation endpoint before settlement is attempted.
func (s *FacilitatorSigner) SimulateTransaction(ctx context.Context, tx *solana.Transaction, network string) error {
	client, err := s.clientFor(network)
	if err != nil {
		return err
	}

	resp, err := client.SimulateTransactionWithOpts(ctx, tx, &rpc.SimulateTransactionOpts{
		SigVerify:              true,
		Commitment:             rpc.CommitmentConfirmed,
		ReplaceRecentBlockhash: false,
	})
	if err != nil {
		return fmt.Errorf("simulation request failed: %w", err)
	}
	if resp.Value.Err != nil {
		return fmt.Errorf("transaction simulation failed: %v logs=%v", resp.Value.Err, resp.Value.Logs)
	}

	return nil
}

// SendTransaction submits the fully-signed transaction.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, tx *solana.Transaction, network string) (solana.Signature, error) {
	client, err := s.clientFor(network)
	if err != nil {
		return solana.Signature{}, err
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       true,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to send transaction: %w", err)
	}
	return sig, nil
}

// ConfirmTransaction polls until signature reaches confirmed commitment or
// ctx expires.
func (s *FacilitatorSigner) ConfirmTransaction(ctx context.Context, signature solana.Signature, network string) error {
	client, err := s.clientFor(network)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for confirmation of %s: %w", signature, ctx.Err())
		default:
		}

		statuses, err := client.GetSignatureStatuses(ctx, true, signature)
		if err != nil {
			return fmt.Errorf("failed to get signature status: %w", err)
		}
		if len(statuses.Value) > 0 && statuses.Value[0] != nil {
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed || status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
	}
}

var _ x402svm.FacilitatorSvmSigner = (*FacilitatorSigner)(nil)
