package x402

import (
	"math/big"
	"strings"
)

// AssetLimit caps how much of one asset a wallet is willing to spend on a
// single payment, in atomic units.
type AssetLimit struct {
	Limit *big.Int
}

// WalletPolicy is a per-network, per-asset spending cap: requirements whose
// amount exceeds the configured limit are filtered out before selection.
// Network keys may be exact ("eip155:8453") or family wildcards
// ("eip155:*"); asset keys are compared case-insensitively so checksummed
// and lowercased EVM addresses both match. A requirement for a network or
// asset the policy doesn't mention is rejected - an unlisted asset has no
// budget, not an unlimited one.
type WalletPolicy map[Network]map[string]AssetLimit

// PaymentPolicy converts the wallet policy into the filter form the client
// engine runs over offered requirements. When every offer is filtered out,
// selection fails with payment_exceeds_policy and the wrapped fetch never
// retries.
func (p WalletPolicy) PaymentPolicy() PaymentPolicy {
	return func(requirements []PaymentRequirementsView) []PaymentRequirementsView {
		var allowed []PaymentRequirementsView
		for _, req := range requirements {
			if p.permits(req) {
				allowed = append(allowed, req)
			}
		}
		return allowed
	}
}

func (p WalletPolicy) permits(req PaymentRequirementsView) bool {
	amount, err := ParseAtomicAmount(req.GetAmount())
	if err != nil {
		return false
	}

	network := Network(req.GetNetwork())
	for policyNetwork, assets := range p {
		if !network.Match(policyNetwork) {
			continue
		}
		for policyAsset, limit := range assets {
			if !strings.EqualFold(policyAsset, req.GetAsset()) {
				continue
			}
			if limit.Limit != nil && amount.Cmp(limit.Limit) <= 0 {
				return true
			}
		}
	}
	return false
}

// NewSpendingCapPolicy is the legacy single-cap form of WalletPolicy: one
// atomic-unit ceiling applied to every network and asset.
func NewSpendingCapPolicy(cap *big.Int) PaymentPolicy {
	return func(requirements []PaymentRequirementsView) []PaymentRequirementsView {
		var allowed []PaymentRequirementsView
		for _, req := range requirements {
			amount, err := ParseAtomicAmount(req.GetAmount())
			if err != nil {
				continue
			}
			if amount.Cmp(cap) <= 0 {
				allowed = append(allowed, req)
			}
		}
		return allowed
	}
}
