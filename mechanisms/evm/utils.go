package evm

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// CreateNonce generates a random 32-byte EIP-3009 nonce, hex-encoded with a
// 0x prefix. It must be unique per authorization.
func CreateNonce() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return "0x" + hex.EncodeToString(buf), nil
}

// CreateValidityWindow returns a (validAfter, validBefore) pair bracketing
// now with a 5-second clock-skew allowance on the lower bound and window on
// the upper bound.
func CreateValidityWindow(window time.Duration) (validAfter *big.Int, validBefore *big.Int) {
	now := time.Now()
	validAfter = big.NewInt(now.Add(-5 * time.Second).Unix())
	validBefore = big.NewInt(now.Add(window).Unix())
	return validAfter, validBefore
}

// BytesToHex encodes b as a 0x-prefixed hex string.
func BytesToHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// HexToBytes decodes a 0x-prefixed (or bare) hex string.
func HexToBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(s, "0x")
	s = strings.TrimPrefix(s, "0X")
	return hex.DecodeString(s)
}

// ParseAmount converts a decimal string amount (e.g. "1.50") to the token's
// smallest unit given its decimals, never using floating point.
func ParseAmount(decimalAmount string, decimals int) (*big.Int, error) {
	neg := strings.HasPrefix(decimalAmount, "-")
	if neg {
		return nil, fmt.Errorf("amount must be non-negative: %s", decimalAmount)
	}

	parts := strings.SplitN(decimalAmount, ".", 2)
	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		return nil, fmt.Errorf("amount %s has more precision than %d decimals", decimalAmount, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	combined := whole + frac
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		combined = "0"
	}

	result, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", decimalAmount)
	}
	return result, nil
}

// FormatAmount converts an atomic-unit amount back to a decimal string with
// the given number of decimals.
func FormatAmount(amount *big.Int, decimals int) string {
	s := amount.String()
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	for len(s) <= decimals {
		s = "0" + s
	}
	whole := s[:len(s)-decimals]
	frac := s[len(s)-decimals:]
	frac = strings.TrimRight(frac, "0")

	out := whole
	if frac != "" {
		out = whole + "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
