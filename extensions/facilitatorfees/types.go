// Package facilitatorfees implements the "facilitator-fees" standard
// extension: a resource server advertises one fee quote per facilitator it
// trusts, a client states a preference among them, and settlement echoes
// back what was actually charged. This implementation uses the
// options-bearing quote shape (one FeeQuoteOption per facilitator) rather
// than the single-quote variant also seen in the wild, since it composes
// with a multi-facilitator route without a breaking shape change later.
package facilitatorfees

import (
	"fmt"
	"math/big"
)

// Key is the extension identifier.
const Key = "facilitator-fees"

// Kind names how a FacilitatorFeeQuote computes its effective fee.
type Kind string

const (
	KindFlat   Kind = "flat"
	KindBPS    Kind = "bps"
	KindTiered Kind = "tiered"
	KindHybrid Kind = "hybrid"
)

// SignatureAlgorithm names the scheme a quote was signed with.
type SignatureAlgorithm string

const (
	SignatureEIP191  SignatureAlgorithm = "eip191"
	SignatureEd25519 SignatureAlgorithm = "ed25519"
)

// Tier is one band of a tiered fee schedule: amounts up to (and including)
// UpToAmount pay Fee (a flat atomic amount for that band).
type Tier struct {
	UpToAmount string `json:"upToAmount"`
	Fee        string `json:"fee"`
}

// FacilitatorFeeQuote is the unsigned fee schedule a facilitator offers for
// a given network/asset, valid until ExpiresAt (unix seconds).
type FacilitatorFeeQuote struct {
	Kind      Kind   `json:"kind"`
	Network   string `json:"network"`
	Asset     string `json:"asset"`
	Flat      string `json:"flat,omitempty"`
	BPS       int    `json:"bps,omitempty"`
	MinFee    string `json:"minFee,omitempty"`
	MaxFee    string `json:"maxFee,omitempty"`
	Tiers     []Tier `json:"tiers,omitempty"`
	ExpiresAt int64  `json:"expiresAt"`
}

// SignedFeeQuote is a FacilitatorFeeQuote plus the signature attesting a
// facilitator actually issued it.
type SignedFeeQuote struct {
	Quote     FacilitatorFeeQuote `json:"quote"`
	Algorithm SignatureAlgorithm  `json:"algorithm"`
	Signature string              `json:"signature"`
}

// FeeQuoteOption is one entry of a 402 response's advertised facilitator
// choices. MaxFacilitatorFee, if set, caps what the server will accept this
// facilitator charging regardless of the quote's own computation.
type FeeQuoteOption struct {
	FacilitatorID       string         `json:"facilitatorId"`
	FacilitatorFeeQuote SignedFeeQuote `json:"facilitatorFeeQuote"`
	MaxFacilitatorFee   string         `json:"maxFacilitatorFee,omitempty"`
}

// Declaration is what a route publishes to opt into facilitator fees: one
// unsigned quote template per facilitator the extension should sign and
// attach at 402-build time.
type Declaration struct {
	Options []QuoteTemplate `json:"-"`
}

// QuoteTemplate pairs a facilitator identity with the unsigned quote the
// signer will attest to.
type QuoteTemplate struct {
	FacilitatorID     string
	Quote             FacilitatorFeeQuote
	MaxFacilitatorFee string
}

// FeeBid is what a client attaches to a payment payload's Extensions[Key]
// to express which advertised facilitator it wants to pay through.
type FeeBid struct {
	FacilitatorID string `json:"facilitatorId"`
}

// SettlementFee is what gets merged into a settlement response's extensions
// map: the fee actually charged for the facilitator the client selected.
type SettlementFee struct {
	FacilitatorID     string `json:"facilitatorId"`
	FacilitatorFeePaid string `json:"facilitatorFeePaid"`
}

// ComputeFee returns the effective atomic fee quote charges on amount.
// A BPS quote's fee is clamp(amount*bps/10000, minFee, maxFee); flat quotes
// return Flat unconditionally; tiered quotes return the fee of the first
// tier whose UpToAmount is >= amount; hybrid quotes add the flat component
// to the BPS component before clamping.
func ComputeFee(quote FacilitatorFeeQuote, amount *big.Int) (*big.Int, error) {
	switch quote.Kind {
	case KindFlat:
		return parseAmount(quote.Flat, "flat")
	case KindBPS:
		return computeBPS(quote, amount)
	case KindTiered:
		return computeTiered(quote, amount)
	case KindHybrid:
		flat, err := parseAmount(quote.Flat, "flat")
		if err != nil {
			return nil, err
		}
		bps := new(big.Int).Mul(amount, big.NewInt(int64(quote.BPS)))
		bps.Div(bps, big.NewInt(10000))
		return clamp(new(big.Int).Add(flat, bps), quote.MinFee, quote.MaxFee)
	default:
		return nil, fmt.Errorf("facilitatorfees: unknown fee kind %q", quote.Kind)
	}
}

func computeBPS(quote FacilitatorFeeQuote, amount *big.Int) (*big.Int, error) {
	fee := new(big.Int).Mul(amount, big.NewInt(int64(quote.BPS)))
	fee.Div(fee, big.NewInt(10000))
	return clamp(fee, quote.MinFee, quote.MaxFee)
}

func computeTiered(quote FacilitatorFeeQuote, amount *big.Int) (*big.Int, error) {
	for _, tier := range quote.Tiers {
		upTo, err := parseAmount(tier.UpToAmount, "upToAmount")
		if err != nil {
			return nil, err
		}
		if amount.Cmp(upTo) <= 0 {
			return parseAmount(tier.Fee, "tier fee")
		}
	}
	return nil, fmt.Errorf("facilitatorfees: amount %s exceeds all tiers", amount.String())
}

func clamp(fee *big.Int, minFee, maxFee string) (*big.Int, error) {
	if minFee != "" {
		min, err := parseAmount(minFee, "minFee")
		if err != nil {
			return nil, err
		}
		if fee.Cmp(min) < 0 {
			fee = min
		}
	}
	if maxFee != "" {
		max, err := parseAmount(maxFee, "maxFee")
		if err != nil {
			return nil, err
		}
		if fee.Cmp(max) > 0 {
			fee = max
		}
	}
	return fee, nil
}

func parseAmount(s string, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("facilitatorfees: invalid %s %q", field, s)
	}
	return v, nil
}
