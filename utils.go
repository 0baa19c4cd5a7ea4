package x402

import "fmt"

// ValidatePaymentPayload performs basic validation on a payment payload
// Version-aware: handles both v1 and v2 payload structures
func ValidatePaymentPayload(p PaymentPayload) error {
	if p.X402Version < ProtocolVersionV1 || p.X402Version > ProtocolVersion {
		return fmt.Errorf("unsupported x402 version: %d", p.X402Version)
	}

	// V2 validation: check accepted field
	if p.X402Version == ProtocolVersion {
		if p.Accepted.Scheme == "" {
			return fmt.Errorf("payment scheme is required")
		}
		if p.Accepted.Network == "" {
			return fmt.Errorf("payment network is required")
		}
	}

	// Both v1 and v2 must have payload
	if p.Payload == nil {
		return fmt.Errorf("payment payload is required")
	}

	// Note: v1 validation is minimal here - scheme/network are validated
	// by the mechanism-specific facilitator based on the payment requirements
	return nil
}

// ValidatePaymentRequirements performs basic validation on payment requirements
func ValidatePaymentRequirements(r PaymentRequirements) error {
	if r.Scheme == "" {
		return fmt.Errorf("payment scheme is required")
	}
	if r.Network == "" {
		return fmt.Errorf("payment network is required")
	}
	if r.Asset == "" {
		return fmt.Errorf("payment asset is required")
	}
	// An empty amount is tolerated for v1 compatibility (v1 carries it as
	// maxAmountRequired and validates it in the v1 facilitator); when
	// present it must be an unsigned decimal integer in atomic units.
	if r.Amount != "" && !isDecimalAmount(r.Amount) {
		return fmt.Errorf("payment amount must be an unsigned decimal integer, got %q", r.Amount)
	}
	if r.PayTo == "" {
		return fmt.Errorf("payment recipient is required")
	}
	return nil
}

func isDecimalAmount(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}

// findByNetworkAndScheme finds a scheme implementation for a given
// network/scheme combination. An exact network match wins outright;
// otherwise wildcard registrations ("eip155:*") are considered and the
// longest matching pattern wins, so "solana:devnet*" beats "solana:*"
// regardless of map iteration order.
func findByNetworkAndScheme[T any](networkMap map[Network]map[string]T, scheme string, network Network) T {
	var zero T

	if schemeMap, exists := networkMap[network]; exists {
		if impl, exists := schemeMap[scheme]; exists {
			return impl
		}
	}

	var best T
	bestLen := -1
	for registeredNetwork, schemeMap := range networkMap {
		if !network.Match(registeredNetwork) && !registeredNetwork.Match(network) {
			continue
		}
		impl, exists := schemeMap[scheme]
		if !exists {
			continue
		}
		if len(registeredNetwork) > bestLen {
			best = impl
			bestLen = len(registeredNetwork)
		}
	}
	if bestLen >= 0 {
		return best
	}

	return zero
}

// findSchemesByNetwork finds all schemes for a given network, preferring
// an exact registration and falling back to the most specific wildcard.
func findSchemesByNetwork[T any](networkMap map[Network]map[string]T, network Network) map[string]T {
	if schemeMap, exists := networkMap[network]; exists {
		return schemeMap
	}

	var best map[string]T
	bestLen := -1
	for registeredNetwork, schemeMap := range networkMap {
		if !network.Match(registeredNetwork) && !registeredNetwork.Match(network) {
			continue
		}
		if len(registeredNetwork) > bestLen {
			best = schemeMap
			bestLen = len(registeredNetwork)
		}
	}

	return best
}
