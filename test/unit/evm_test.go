package unit_test

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/evm"
	evmclient "github.com/x402-engine/x402/mechanisms/evm/exact/client"
	evmfacilitator "github.com/x402-engine/x402/mechanisms/evm/exact/facilitator"
	evmv1client "github.com/x402-engine/x402/mechanisms/evm/exact/v1/client"
	evmsigners "github.com/x402-engine/x402/signers/evm"
	"github.com/x402-engine/x402/types"
)

const baseSepoliaUSDC = "0x036CbD53842c5426634e7929541eC2318f3dCF7e"

// newTestClientSigner derives a signer from a fresh ECDSA key so produced
// signatures are structurally real.
func newTestClientSigner(t *testing.T) (evm.ClientEvmSigner, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	signer, err := evmsigners.NewClientSignerFromPrivateKey(fmt.Sprintf("%x", crypto.FromECDSA(key)))
	if err != nil {
		t.Fatalf("failed to build signer: %v", err)
	}
	return signer, crypto.PubkeyToAddress(key.PublicKey).Hex()
}

func baseSepoliaRequirements(amount string) types.PaymentRequirements {
	return types.PaymentRequirements{
		Scheme:            evm.SchemeExact,
		Network:           "eip155:84532",
		Asset:             baseSepoliaUSDC,
		Amount:            amount,
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
	}
}

func TestEvmClientBuildsAuthorization(t *testing.T) {
	ctx := context.Background()
	signer, address := newTestClientSigner(t)
	client := evmclient.NewExactEvmScheme(signer)

	payload, err := client.CreatePaymentPayload(ctx, baseSepoliaRequirements("10000"))
	if err != nil {
		t.Fatalf("CreatePaymentPayload failed: %v", err)
	}
	if payload.X402Version != 2 {
		t.Errorf("expected v2 payload, got %d", payload.X402Version)
	}

	decoded, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		t.Fatalf("payload does not round-trip: %v", err)
	}
	auth := decoded.Authorization
	if auth.From != address {
		t.Errorf("authorization.from = %s, want %s", auth.From, address)
	}
	if auth.To != "0x209693Bc6afc0C5328bA36FaF03C514EF312287C" {
		t.Errorf("authorization.to = %s", auth.To)
	}
	if auth.Value != "10000" {
		t.Errorf("authorization.value = %s, want 10000", auth.Value)
	}

	after, _ := new(big.Int).SetString(auth.ValidAfter, 10)
	before, _ := new(big.Int).SetString(auth.ValidBefore, 10)
	if after == nil || before == nil || after.Cmp(before) >= 0 {
		t.Errorf("validity window inverted: [%s, %s]", auth.ValidAfter, auth.ValidBefore)
	}
	// "0x" plus 32 bytes of hex.
	if len(auth.Nonce) != 2+64 {
		t.Errorf("nonce has wrong length: %q", auth.Nonce)
	}
	if decoded.Signature == "" {
		t.Error("payload is missing its signature")
	}
}

// unreachableEvmSigner fails loudly if verification touches the chain;
// tests using it exercise only the static checks that run first.
type unreachableEvmSigner struct{}

func (unreachableEvmSigner) GetAddresses() []string { return []string{"0xfacilitator"} }

func (unreachableEvmSigner) GetBalance(ctx context.Context, owner, token string) (*big.Int, error) {
	return nil, errors.New("unreachable: GetBalance")
}

func (unreachableEvmSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return nil, errors.New("unreachable: GetCode")
}

func (unreachableEvmSigner) ReadContract(ctx context.Context, contractAddress, abiJSON, function string, args ...interface{}) (interface{}, error) {
	return nil, errors.New("unreachable: ReadContract")
}

func (unreachableEvmSigner) WriteContract(ctx context.Context, contractAddress, abiJSON, function string, args ...interface{}) (string, error) {
	return "", errors.New("unreachable: WriteContract")
}

func (unreachableEvmSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	return "", errors.New("unreachable: SendTransaction")
}

func (unreachableEvmSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TxReceipt, error) {
	return nil, errors.New("unreachable: WaitForTransactionReceipt")
}

func TestEvmVerifyRejectsBeforeTouchingChain(t *testing.T) {
	ctx := context.Background()
	signer, _ := newTestClientSigner(t)
	client := evmclient.NewExactEvmScheme(signer)
	facilitator := evmfacilitator.NewExactEvmScheme(unreachableEvmSigner{}, nil)

	expectReason := func(t *testing.T, err error, want string) {
		t.Helper()
		ve := &x402.VerifyError{}
		if !errors.As(err, &ve) {
			t.Fatalf("expected *VerifyError, got %T: %v", err, err)
		}
		if ve.Reason != want {
			t.Errorf("expected reason %s, got %s", want, ve.Reason)
		}
	}

	t.Run("amount below requirement", func(t *testing.T) {
		// The client signed for 5000 but the server wants 10000.
		payload, err := client.CreatePaymentPayload(ctx, baseSepoliaRequirements("5000"))
		if err != nil {
			t.Fatalf("CreatePaymentPayload failed: %v", err)
		}
		payload.Accepted = baseSepoliaRequirements("10000")

		_, err = facilitator.Verify(ctx, payload, baseSepoliaRequirements("10000"))
		expectReason(t, err, "invalid_exact_evm_payload_amount_insufficient")
	})

	t.Run("network mismatch", func(t *testing.T) {
		requirements := baseSepoliaRequirements("10000")
		payload, err := client.CreatePaymentPayload(ctx, requirements)
		if err != nil {
			t.Fatalf("CreatePaymentPayload failed: %v", err)
		}
		accepted := requirements
		accepted.Network = "eip155:1"
		payload.Accepted = accepted

		_, err = facilitator.Verify(ctx, payload, requirements)
		expectReason(t, err, "network_mismatch")
	})

	t.Run("wrong recipient", func(t *testing.T) {
		requirements := baseSepoliaRequirements("10000")
		requirements.PayTo = "0x1111111111111111111111111111111111111111"
		payload, err := client.CreatePaymentPayload(ctx, baseSepoliaRequirements("10000"))
		if err != nil {
			t.Fatalf("CreatePaymentPayload failed: %v", err)
		}
		payload.Accepted = requirements

		_, err = facilitator.Verify(ctx, payload, requirements)
		expectReason(t, err, "recipient_mismatch")
	})
}

func TestEvmV1AdapterWrapsV2Payload(t *testing.T) {
	ctx := context.Background()
	signer, address := newTestClientSigner(t)
	client := evmv1client.NewExactEvmSchemeV1(signer)

	payload, err := client.CreatePaymentPayload(ctx, types.PaymentRequirementsV1{
		Scheme:            evm.SchemeExact,
		Network:           "eip155:84532",
		Asset:             baseSepoliaUSDC,
		MaxAmountRequired: "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 300,
	})
	if err != nil {
		t.Fatalf("CreatePaymentPayload failed: %v", err)
	}

	if payload.X402Version != 1 {
		t.Errorf("expected v1 envelope, got version %d", payload.X402Version)
	}
	if payload.Scheme != evm.SchemeExact || payload.Network != "eip155:84532" {
		t.Errorf("v1 envelope fields wrong: %s/%s", payload.Scheme, payload.Network)
	}
	decoded, err := evm.PayloadFromMap(payload.Payload)
	if err != nil {
		t.Fatalf("inner payload does not decode: %v", err)
	}
	if decoded.Authorization.From != address || decoded.Authorization.Value != "10000" {
		t.Errorf("unexpected authorization: %+v", decoded.Authorization)
	}
}
