// Package evm provides shared EVM-chain primitives (EIP-3009 authorization
// hashing, network/asset tables, ERC-6492 smart-wallet signature handling)
// used by the exact-EVM client, server, and facilitator scheme modules.
package evm

import "math/big"

// SchemeExact is the scheme tag for the exact-amount EIP-3009 payment scheme.
const SchemeExact = "exact"

// ABI function names used against EIP-3009 tokens.
const (
	FunctionAuthorizationState        = "authorizationState"
	FunctionTransferWithAuthorization  = "transferWithAuthorization"
)

// TxStatusSuccess is the receipt status value go-ethereum uses for a
// successfully included transaction.
const TxStatusSuccess uint64 = 1

// Minimal ABI fragments for the EIP-3009 functions this scheme calls.
// Two transferWithAuthorization overloads exist on deployed tokens: the
// classic (v,r,s) signature split used by EOA wallets, and the bytes
// signature overload used by smart-contract wallets (ERC-1271/ERC-6492).
const (
	AuthorizationStateABI = `[{
		"constant": true,
		"inputs": [
			{"name": "authorizer", "type": "address"},
			{"name": "nonce", "type": "bytes32"}
		],
		"name": "authorizationState",
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view",
		"type": "function"
	}]`

	TransferWithAuthorizationVRSABI = `[{
		"constant": false,
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "v", "type": "uint8"},
			{"name": "r", "type": "bytes32"},
			{"name": "s", "type": "bytes32"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`

	TransferWithAuthorizationBytesABI = `[{
		"constant": false,
		"inputs": [
			{"name": "from", "type": "address"},
			{"name": "to", "type": "address"},
			{"name": "value", "type": "uint256"},
			{"name": "validAfter", "type": "uint256"},
			{"name": "validBefore", "type": "uint256"},
			{"name": "nonce", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"name": "transferWithAuthorization",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}]`
)

// AssetInfo describes an EIP-3009-capable ERC-20 token on one network.
type AssetInfo struct {
	Address string
	Name    string
	Version string
	Decimals int
}

// NetworkConfig describes the chain parameters and supported assets for one
// eip155:* network.
type NetworkConfig struct {
	ChainID         *big.Int
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo // keyed by symbol (e.g. "USDC")
}

// NetworkConfigs is the built-in registry of supported EVM networks. It is
// written only at package init and is read-only thereafter, matching the
// immutable-after-start registration contract for scheme modules.
var NetworkConfigs = map[string]NetworkConfig{
	"eip155:8453": { // Base mainnet
		ChainID: big.NewInt(8453),
		DefaultAsset: AssetInfo{
			Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			Name:    "USD Coin",
			Version: "2",
			Decimals: 6,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {
				Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
				Name:    "USD Coin",
				Version: "2",
				Decimals: 6,
			},
		},
	},
	"eip155:84532": { // Base Sepolia
		ChainID: big.NewInt(84532),
		DefaultAsset: AssetInfo{
			Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Name:    "USDC",
			Version: "2",
			Decimals: 6,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {
				Address: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
				Name:    "USDC",
				Version: "2",
				Decimals: 6,
			},
		},
	},
	"eip155:1": { // Ethereum mainnet
		ChainID: big.NewInt(1),
		DefaultAsset: AssetInfo{
			Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			Name:    "USD Coin",
			Version: "2",
			Decimals: 6,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {
				Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
				Name:    "USD Coin",
				Version: "2",
				Decimals: 6,
			},
		},
	},
}

// Error reason strings returned by the facilitator when a counterfactual
// (undeployed) smart-contract wallet tries to settle. Named so server/client
// code can compare against them without retyping the string literal.
const (
	ErrUndeployedSmartWallet       = "smart_wallet_not_deployed"
	ErrSmartWalletDeploymentFailed = "smart_wallet_deployment_failed"
)
