// Package lightning provides the shared exact-Lightning scheme primitives:
// the bolt11/invoiceId payload, the network table, and the narrow capability
// interfaces the scheme modules use to reach a Lightning node. This scheme is
// deliberately backend-agnostic: verification is purely structural (decoding
// and sanity-checking the invoice itself), and settlement is gated on a
// pluggable InvoiceLookup port rather than any node-specific wire protocol.
package lightning

// SchemeExact is the scheme tag for the exact-amount Lightning BOLT11
// invoice payment scheme.
const SchemeExact = "exact"

// NetworkConfigs is the built-in registry of supported Lightning networks,
// keyed by the CAIP-2-ish identifiers this scheme accepts. "btc-lightning-signet"
// is kept as a recognized alias for lightning:signet for compatibility with
// network identifiers used elsewhere in the ecosystem.
var NetworkConfigs = map[string]struct{}{
	"lightning:mainnet":   {},
	"lightning:testnet":   {},
	"lightning:signet":    {},
	"btc-lightning-signet": {},
}

// IsValidNetwork reports whether network is a registered lightning network.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}
