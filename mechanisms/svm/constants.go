// Package svm provides shared Solana primitives (network/asset tables,
// transaction wire encoding, compute-budget constants) used by the
// exact-SVM client, server, and facilitator scheme modules.
package svm

// SchemeExact is the scheme tag for the exact-amount SPL token transfer
// scheme.
const SchemeExact = "exact"

// Compute-budget defaults applied to every exact-SVM transaction the client
// builds.
const (
	DefaultComputeUnitLimit              = uint32(200000)
	DefaultComputeUnitPriceMicrolamports = uint64(1000)

	// MaxComputeUnitPriceMicrolamports bounds the compute price a client may
	// request; the facilitator rejects anything above this to prevent an
	// adversarial payload from exhausting the fee payer's lamports via an
	// inflated priority fee.
	MaxComputeUnitPriceMicrolamports = uint64(5000000)
)

// AssetInfo describes an SPL token mint on one network.
type AssetInfo struct {
	Address  string
	Symbol   string
	Decimals int
}

// NetworkConfig describes the RPC endpoint and supported assets for one
// solana:* network.
type NetworkConfig struct {
	RPCURL          string
	DefaultAsset    AssetInfo
	SupportedAssets map[string]AssetInfo // keyed by symbol (e.g. "USDC")
}

// NetworkConfigs is the built-in registry of supported Solana networks,
// written only at package init and read-only thereafter.
var NetworkConfigs = map[string]NetworkConfig{
	"solana:mainnet": {
		RPCURL: "https://api.mainnet-beta.solana.com",
		DefaultAsset: AssetInfo{
			Address:  "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
			Symbol:   "USDC",
			Decimals: 6,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {Address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Symbol: "USDC", Decimals: 6},
		},
	},
	"solana:devnet": {
		RPCURL: "https://api.devnet.solana.com",
		DefaultAsset: AssetInfo{
			Address:  "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			Symbol:   "USDC",
			Decimals: 6,
		},
		SupportedAssets: map[string]AssetInfo{
			"USDC": {Address: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Symbol: "USDC", Decimals: 6},
		},
	},
}
