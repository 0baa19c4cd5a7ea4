package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402evm "github.com/x402-engine/x402/mechanisms/evm"
)

// settlementGasLimit bounds every transaction this signer submits. An
// EIP-3009 transfer plus a factory deployment both fit comfortably.
const settlementGasLimit = 300000

// FacilitatorSigner implements x402evm.FacilitatorEvmSigner over a single
// key and one RPC endpoint. Nonce allocation goes through the node's
// pending count, so a single instance is safe for concurrent requests but
// replicas must each hold their own key.
type FacilitatorSigner struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	client     *ethclient.Client
	chainID    *big.Int
}

// NewFacilitatorSigner dials rpcURL and prepares a signer for the hex
// private key (0x prefix optional).
func NewFacilitatorSigner(privateKeyHex, rpcURL string) (*FacilitatorSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RPC: %w", err)
	}
	chainID, err := client.ChainID(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	return &FacilitatorSigner{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		client:     client,
		chainID:    chainID,
	}, nil
}

func (s *FacilitatorSigner) GetAddresses() []string {
	return []string{s.address.Hex()}
}

// ReadContract eth_calls a view function and unpacks its first return
// value.
func (s *FacilitatorSigner) ReadContract(ctx context.Context, contractAddress, abiJSON, method string, args ...interface{}) (interface{}, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack method call: %w", err)
	}

	to := common.HexToAddress(contractAddress)
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call contract: %w", err)
	}
	if len(raw) == 0 {
		// Some tokens return nothing instead of a zero value; map the
		// calls the schemes actually make onto their zero results.
		switch method {
		case "authorizationState":
			return false, nil
		case "balanceOf", "allowance":
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("empty result from contract call")
	}

	methodABI, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("method %s not found in ABI", method)
	}
	out, err := methodABI.Outputs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// WriteContract packs and submits a state-changing call.
func (s *FacilitatorSigner) WriteContract(ctx context.Context, contractAddress, abiJSON, method string, args ...interface{}) (string, error) {
	contractABI, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return "", fmt.Errorf("failed to parse ABI: %w", err)
	}
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return "", fmt.Errorf("failed to pack method call: %w", err)
	}
	return s.SendTransaction(ctx, contractAddress, data)
}

// SendTransaction signs and submits raw calldata to an address.
func (s *FacilitatorSigner) SendTransaction(ctx context.Context, to string, data []byte) (string, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return "", fmt.Errorf("failed to get nonce: %w", err)
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get gas price: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, common.HexToAddress(to), big.NewInt(0), settlementGasLimit, gasPrice, data)
	signed, err := ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(s.chainID), s.privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign transaction: %w", err)
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("failed to send transaction: %w", err)
	}
	return signed.Hash().Hex(), nil
}

// WaitForTransactionReceipt polls until txHash is mined, bounded by ctx
// and a 60-second ceiling.
func (s *FacilitatorSigner) WaitForTransactionReceipt(ctx context.Context, txHash string) (*x402evm.TxReceipt, error) {
	hash := common.HexToHash(txHash)
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil && receipt != nil {
			return &x402evm.TxReceipt{Status: receipt.Status}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
	return nil, fmt.Errorf("transaction receipt not found after 60 seconds")
}

// GetBalance reads an ERC-20 balance, or the native balance for the zero
// or empty token address.
func (s *FacilitatorSigner) GetBalance(ctx context.Context, owner, token string) (*big.Int, error) {
	if token == "" || token == "0x0000000000000000000000000000000000000000" {
		balance, err := s.client.BalanceAt(ctx, common.HexToAddress(owner), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		return balance, nil
	}

	const balanceOfABI = `[{"constant":true,"inputs":[{"name":"account","type":"address"}],"name":"balanceOf","outputs":[{"name":"","type":"uint256"}],"type":"function"}]`
	result, err := s.ReadContract(ctx, token, balanceOfABI, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	balance, ok := result.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balance type: %T", result)
	}
	return balance, nil
}

// GetCode reads the deployed bytecode at address.
func (s *FacilitatorSigner) GetCode(ctx context.Context, address string) ([]byte, error) {
	code, err := s.client.CodeAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get code: %w", err)
	}
	return code, nil
}
