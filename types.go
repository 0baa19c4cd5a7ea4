package x402

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/x402-engine/x402/types"
)

// Network is a CAIP-2 style chain identifier: "namespace:reference"
// (e.g. "eip155:8453" for Base, "solana:<genesis>", "xrp:testnet").
// The namespace selects both the address family and which scheme module
// a given requirement routes to; the reference disambiguates within it.
type Network string

// Parse splits a network identifier into its namespace and reference.
func (n Network) Parse() (namespace, reference string, err error) {
	parts := strings.SplitN(string(n), ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid network format: %s", n)
	}
	return parts[0], parts[1], nil
}

// Match reports whether n and pattern refer to the same network, where
// either side may carry a trailing "namespace:*" wildcard (the form the
// facilitator dispatch table and registration maps use for family-wide
// registrations such as "solana:*"). Matching is deliberately symmetric:
// callers hold either a concrete network or a pattern and shouldn't have to
// know which side of the comparison they're on.
func (n Network) Match(pattern Network) bool {
	if n == pattern {
		return true
	}
	if prefix, ok := strings.CutSuffix(string(pattern), "*"); ok {
		return strings.HasPrefix(string(n), prefix)
	}
	if prefix, ok := strings.CutSuffix(string(n), "*"); ok {
		return strings.HasPrefix(string(pattern), prefix)
	}
	return false
}

// Price is a route's advertised price in one of the forms a scheme's
// ParsePrice accepts: a decimal string ("$0.01", "0.10 USDC"), a raw
// number, or an AssetAmount already in atomic units.
type Price interface{}

// AssetAmount is an amount of a specific on-chain asset, already resolved
// to atomic units by a scheme's ParsePrice.
type AssetAmount struct {
	Asset  string                 `json:"asset"`
	Amount string                 `json:"amount"`
	Extra  map[string]interface{} `json:"extra,omitempty"`
}

// Re-export V2 types as the package default: existing x402 integrations
// import this package for PaymentRequirements/PaymentPayload and never need
// to know the versioned types live in ./types, which also holds the V1
// structs the legacy facilitator path still has to decode.
type (
	PaymentRequirements = types.PaymentRequirements
	PaymentPayload      = types.PaymentPayload
	PaymentRequired     = types.PaymentRequired
	ResourceInfo        = types.ResourceInfo
	SupportedKind       = types.SupportedKind
	SupportedResponse   = types.SupportedResponse
)

// Re-exported for the legacy facilitator dispatch variant (extensions/v1).
type (
	SupportedResponseV1 = types.SupportedResponseV1
)

// VerifyResponse is the outcome of a facilitator.Verify call. On failure the
// caller gets a *VerifyError instead and this is left nil - it only ever
// describes a completed, successful-or-rejected verification.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettleResponse is the outcome of a facilitator.Settle call, mirrored by
// the VerifyResponse/SettleError split above.
type SettleResponse struct {
	Success     bool    `json:"success"`
	ErrorReason string  `json:"errorReason,omitempty"`
	Payer       string  `json:"payer,omitempty"`
	Transaction string  `json:"transaction"`
	Network     Network `json:"network"`
}

// ResourceConfig is how a resource server declares the price of one
// protected route: a scheme/network pair, a price the scheme's ParsePrice
// understands, and the authorization-validity ceiling the server will
// accept from a client.
type ResourceConfig struct {
	Scheme            string  `json:"scheme"`
	PayTo             string  `json:"payTo"`
	Price             Price   `json:"price"`
	Network           Network `json:"network"`
	MaxTimeoutSeconds int     `json:"maxTimeoutSeconds,omitempty"`
}

// ============================================================================
// Atomic-amount arithmetic
// ============================================================================
//
// Requirement and authorization amounts are unsigned-integer decimal strings
// over the wire; comparing them as strings or floats risks both precision
// loss (128-bit values overflow float64) and false negatives (leading zeros,
// differing digit counts). Every amount comparison in the scheme modules
// should go through these two helpers instead of hand-rolled big.Int calls.

// ParseAtomicAmount parses a non-negative decimal atomic-unit string.
func ParseAtomicAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid atomic amount: %q", s)
	}
	return amount, nil
}

// AmountMeets reports whether `have` atomic units cover `required` atomic
// units. It returns an error instead of silently treating a malformed
// amount as zero.
func AmountMeets(have, required string) (bool, error) {
	haveAmount, err := ParseAtomicAmount(have)
	if err != nil {
		return false, err
	}
	requiredAmount, err := ParseAtomicAmount(required)
	if err != nil {
		return false, err
	}
	return haveAmount.Cmp(requiredAmount) >= 0, nil
}

// ============================================================================
// View interfaces for selectors/policies/hooks
// ============================================================================

// PaymentRequirementsView is implemented by both V1 and V2 requirements
// structs so that selectors, policies, and hooks can operate on either
// without caring which version produced them.
type PaymentRequirementsView interface {
	GetScheme() string
	GetNetwork() string
	GetAsset() string
	GetAmount() string // V1: MaxAmountRequired, V2: Amount
	GetPayTo() string
	GetMaxTimeoutSeconds() int
	GetExtra() map[string]interface{}
}

// PaymentPayloadView is the payload-side counterpart of PaymentRequirementsView.
type PaymentPayloadView interface {
	GetVersion() int
	GetScheme() string
	GetNetwork() string
	GetPayload() map[string]interface{}
}

// RequirementsMatchPayload reports whether a payload's accepted requirement
// view and an offered requirement view refer to the same offer: same
// scheme, network, asset, and recipient, and an atomic amount that resolves
// equal numerically (not merely byte-for-byte, so "0010" and "10" still
// match). This is the comparison the resource-server engine needs when it
// looks up which advertised PaymentRequirements an incoming X-PAYMENT
// claims to satisfy.
func RequirementsMatchPayload(offered, claimed PaymentRequirementsView) bool {
	if offered.GetScheme() != claimed.GetScheme() ||
		offered.GetNetwork() != claimed.GetNetwork() ||
		offered.GetAsset() != claimed.GetAsset() ||
		offered.GetPayTo() != claimed.GetPayTo() {
		return false
	}
	offeredAmount, err := ParseAtomicAmount(offered.GetAmount())
	if err != nil {
		return false
	}
	claimedAmount, err := ParseAtomicAmount(claimed.GetAmount())
	if err != nil {
		return false
	}
	return offeredAmount.Cmp(claimedAmount) == 0
}

// PaymentRequirementsSelector chooses which offered requirement a client
// should pay against.
type PaymentRequirementsSelector func(requirements []PaymentRequirementsView) PaymentRequirementsView

// PaymentPolicy filters or reorders offered requirements before selection -
// this is the hook point a WalletPolicy spending cap is implemented through.
type PaymentPolicy func(requirements []PaymentRequirementsView) []PaymentRequirementsView

// DefaultPaymentSelector picks the first requirement a server offered,
// preserving the server's preference order.
func DefaultPaymentSelector(requirements []PaymentRequirementsView) PaymentRequirementsView {
	if len(requirements) == 0 {
		panic("no payment requirements available")
	}
	return requirements[0]
}

// ============================================================================
// View conversion helpers
// ============================================================================

// toViews upcasts a slice of concrete requirement types to the view
// interface so selectors/policies can treat V1 and V2 uniformly.
func toViews[T PaymentRequirementsView](reqs []T) []PaymentRequirementsView {
	views := make([]PaymentRequirementsView, len(reqs))
	for i, req := range reqs {
		views[i] = req
	}
	return views
}

// fromView downcasts a selected view back to its concrete type. Panics if
// view does not hold a T, which would mean a selector swapped in a value
// from the wrong version - a programming error, not a runtime condition.
func fromView[T PaymentRequirementsView](view PaymentRequirementsView) T {
	return view.(T)
}
