// Package xrp provides the shared exact-XRP scheme primitives: the Payment
// transaction shape, network table, and the narrow capability interfaces the
// scheme modules use to reach an XRP Ledger RPC/signer. Driving an actual
// rippled node is an external collaborator (per the protocol engine's scope)
// reached only through ClientXrpSigner / FacilitatorXrpRPC.
package xrp

// SchemeExact is the scheme tag for the exact-amount XRP Ledger Payment
// scheme.
const SchemeExact = "exact"

// LastLedgerSequence is bounded to currentLedger+1..currentLedger+maxOffset
// to keep a submitted transaction from lingering in the ledger's open
// transaction queue indefinitely.
const (
	DefaultLastLedgerOffset = 20
	MaxLastLedgerOffset     = 100
)

// NetworkConfig describes one XRP Ledger network.
type NetworkConfig struct {
	// ReserveBaseDrops is the account base reserve, used to validate a
	// sender's balance leaves enough to stay above the reserve after the
	// payment and its fee.
	ReserveBaseDrops uint64
}

// NetworkConfigs is the built-in registry of supported XRP Ledger networks,
// written only at package init and read-only thereafter.
var NetworkConfigs = map[string]NetworkConfig{
	"xrp:mainnet": {ReserveBaseDrops: 10_000_000},
	"xrp:testnet": {ReserveBaseDrops: 10_000_000},
	"xrp:devnet":  {ReserveBaseDrops: 10_000_000},
}

// IsValidNetwork reports whether network is a registered xrp:* network.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the registered configuration for network.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, errUnsupportedNetwork(network)
	}
	return &config, nil
}
