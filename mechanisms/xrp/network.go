package xrp

import (
	"fmt"
	"regexp"
	"strconv"
)

func errUnsupportedNetwork(network string) error {
	return fmt.Errorf("unsupported network: %s", network)
}

// classicAddressPattern matches a base58 XRP classic address (r...).
// Full base58-checksum validation happens when the capability interface
// decodes the address; this is a cheap structural pre-filter.
var classicAddressPattern = regexp.MustCompile(`^r[1-9A-HJ-NP-Za-km-z]{24,34}$`)

// IsValidAddress reports whether s looks like a well-formed classic XRPL
// address.
func IsValidAddress(s string) bool {
	return classicAddressPattern.MatchString(s)
}

// ParseDrops parses a decimal drops amount string to uint64, rejecting
// anything that is not a bare non-negative integer (XRP amounts in this
// scheme are always drops, never the 3-letter-currency/issuer form).
func ParseDrops(amount string) (uint64, error) {
	value, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid drops amount: %s", amount)
	}
	return value, nil
}
