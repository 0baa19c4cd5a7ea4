package gassponsor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Validate checks that a client-supplied Permit has well-formed fields: EVM
// addresses, a positive decimal amount, and a numeric deadline. It does not
// verify the signature itself — that happens on-chain when the permit is
// submitted — only that the facilitator received something worth routing to
// a Permit2 settlement path.
func Validate(permit Permit) error {
	if !common.IsHexAddress(permit.From) {
		return fmt.Errorf("gassponsor: invalid from address %q", permit.From)
	}
	if !common.IsHexAddress(permit.Asset) {
		return fmt.Errorf("gassponsor: invalid asset address %q", permit.Asset)
	}
	if !common.IsHexAddress(permit.Spender) {
		return fmt.Errorf("gassponsor: invalid spender address %q", permit.Spender)
	}

	amount, ok := new(big.Int).SetString(permit.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("gassponsor: invalid amount %q", permit.Amount)
	}
	if _, ok := new(big.Int).SetString(permit.Nonce, 10); !ok {
		return fmt.Errorf("gassponsor: invalid nonce %q", permit.Nonce)
	}
	if _, ok := new(big.Int).SetString(permit.Deadline, 10); !ok {
		return fmt.Errorf("gassponsor: invalid deadline %q", permit.Deadline)
	}
	if permit.Signature == "" {
		return fmt.Errorf("gassponsor: missing signature")
	}

	return nil
}

// MatchesSpender reports whether the permit's spender matches the address
// a route declared as its Permit2 (or equivalent) spender contract.
func MatchesSpender(permit Permit, declaration Declaration) bool {
	return common.HexToAddress(permit.Spender) == common.HexToAddress(declaration.Spender)
}
