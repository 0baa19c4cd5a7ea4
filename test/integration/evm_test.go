package integration_test

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/evm"
	evmclient "github.com/x402-engine/x402/mechanisms/evm/exact/client"
	evmfacilitator "github.com/x402-engine/x402/mechanisms/evm/exact/facilitator"
	evmserver "github.com/x402-engine/x402/mechanisms/evm/exact/server"
	evmsigners "github.com/x402-engine/x402/signers/evm"
)

// inProcessFacilitatorClient bridges a local facilitator into the
// FacilitatorClient interface for tests that skip HTTP.
type inProcessFacilitatorClient struct {
	facilitator *x402.X402Facilitator
	network     x402.Network
	scheme      string
	extra       map[string]interface{}
}

func (c *inProcessFacilitatorClient) Verify(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.VerifyResponse, error) {
	return c.facilitator.Verify(ctx, payloadBytes, requirementsBytes)
}

func (c *inProcessFacilitatorClient) Settle(ctx context.Context, payloadBytes, requirementsBytes []byte) (*x402.SettleResponse, error) {
	return c.facilitator.Settle(ctx, payloadBytes, requirementsBytes)
}

func (c *inProcessFacilitatorClient) GetSupported(ctx context.Context) (x402.SupportedResponse, error) {
	return x402.SupportedResponse{
		Kinds: []x402.SupportedKind{
			{X402Version: 2, Scheme: c.scheme, Network: c.network, Extra: c.extra},
		},
		Extensions: []string{},
		Signers:    make(map[string][]string),
	}, nil
}

func (c *inProcessFacilitatorClient) Identifier() string {
	return "in-process"
}

// chainEvmSigner is a minimal FacilitatorEvmSigner over a live RPC
// endpoint, used only by the env-gated end-to-end test below.
type chainEvmSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	client  *ethclient.Client
	chainID *big.Int
}

func newChainEvmSigner(privateKeyHex, rpcURL string) (*chainEvmSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to dial RPC: %w", err)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to read chain id: %w", err)
	}
	return &chainEvmSigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		client:  client,
		chainID: chainID,
	}, nil
}

func (s *chainEvmSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

func (s *chainEvmSigner) GetBalance(ctx context.Context, owner, token string) (*big.Int, error) {
	const balanceOfABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`
	result, err := s.ReadContract(ctx, token, balanceOfABI, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type %T", result)
	}
	return balance, nil
}

func (s *chainEvmSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	return s.client.CodeAt(ctx, common.HexToAddress(address), nil)
}

func (s *chainEvmSigner) ReadContract(ctx context.Context, contractAddress, abiJSON, function string, args ...interface{}) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, err
	}
	data, err := contractABI.Pack(function, args...)
	if err != nil {
		return nil, err
	}
	to := common.HexToAddress(contractAddress)
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := contractABI.Methods[function].Outputs.Unpack(raw)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (s *chainEvmSigner) WriteContract(ctx context.Context, contractAddress, abiJSON, function string, args ...interface{}) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return "", err
	}
	data, err := contractABI.Pack(function, args...)
	if err != nil {
		return "", err
	}
	return s.SendTransaction(ctx, contractAddress, data)
}

func (s *chainEvmSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", err
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}
	toAddr := common.HexToAddress(to)
	tx := ethtypes.NewTransaction(nonce, toAddr, big.NewInt(0), 300000, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return "", err
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return signed.Hash().Hex(), nil
}

func (s *chainEvmSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*evm.TxReceipt, error) {
	hash := common.HexToHash(txHash)
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &evm.TxReceipt{Status: receipt.Status}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("transaction %s not mined within 60s", txHash)
}

// TestEVMIntegration runs a real Base Sepolia USDC payment end to end:
// price a route at $0.01, sign an EIP-3009 authorization, verify, and
// settle on chain. Gated on private keys in the environment.
func TestEVMIntegration(t *testing.T) {
	clientKey := os.Getenv("EVM_CLIENT_PRIVATE_KEY")
	facilitatorKey := os.Getenv("EVM_FACILITATOR_PRIVATE_KEY")
	payTo := os.Getenv("EVM_RESOURCE_SERVER_ADDRESS")
	if clientKey == "" || facilitatorKey == "" || payTo == "" {
		t.Skip("Skipping EVM integration test: EVM_CLIENT_PRIVATE_KEY, EVM_FACILITATOR_PRIVATE_KEY, and EVM_RESOURCE_SERVER_ADDRESS must be set")
	}
	rpcURL := os.Getenv("EVM_RPC_URL")
	if rpcURL == "" {
		rpcURL = "https://sepolia.base.org"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	clientSigner, err := evmsigners.NewClientSignerFromPrivateKey(clientKey)
	if err != nil {
		t.Fatalf("Failed to create client signer: %v", err)
	}
	facilitatorSigner, err := newChainEvmSigner(facilitatorKey, rpcURL)
	if err != nil {
		t.Fatalf("Failed to create facilitator signer: %v", err)
	}

	client := x402.Newx402Client()
	client.Register("eip155:84532", evmclient.NewExactEvmScheme(clientSigner))

	facilitator := x402.Newx402Facilitator()
	facilitator.Register([]x402.Network{"eip155:84532"}, evmfacilitator.NewExactEvmScheme(facilitatorSigner, nil))

	server := x402.Newx402ResourceServer(
		x402.WithFacilitatorClient(&inProcessFacilitatorClient{
			facilitator: facilitator,
			network:     "eip155:84532",
			scheme:      "exact",
		}),
	)
	server.Register("eip155:84532", evmserver.NewExactEvmScheme())
	if err := server.Initialize(ctx); err != nil {
		t.Fatalf("Failed to initialize server: %v", err)
	}

	accepts, err := server.BuildPaymentRequirementsFromConfig(ctx, x402.ResourceConfig{
		Scheme:            "exact",
		Network:           "eip155:84532",
		Price:             "$0.01",
		PayTo:             payTo,
		MaxTimeoutSeconds: 300,
	})
	if err != nil {
		t.Fatalf("Failed to build requirements: %v", err)
	}

	selected, err := client.SelectPaymentRequirements(accepts)
	if err != nil {
		t.Fatalf("Failed to select requirements: %v", err)
	}
	payload, err := client.CreatePaymentPayload(ctx, selected, nil, nil)
	if err != nil {
		t.Fatalf("Failed to create payment: %v", err)
	}

	verified, err := server.VerifyPayment(ctx, payload, selected)
	if err != nil {
		t.Fatalf("Verification failed: %v", err)
	}
	if !verified.IsValid {
		t.Fatalf("Payment invalid: %s", verified.InvalidReason)
	}

	settled, err := server.SettlePayment(ctx, payload, selected)
	if err != nil {
		t.Fatalf("Settlement failed: %v", err)
	}
	if !settled.Success || settled.Transaction == "" {
		t.Fatalf("Settlement did not produce a transaction: %+v", settled)
	}
	t.Logf("Settled on-chain: %s", settled.Transaction)
}
