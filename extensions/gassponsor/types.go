// Package gassponsor implements the "eip2612-gas-sponsoring" standard
// extension: a resource server declares it will accept gasless EIP-2612
// Permit approvals in place of a direct transfer, the client fills in the
// permit fields, and the facilitator validates their shape before routing
// settlement to a Permit2-aware path.
package gassponsor

import "fmt"

// Key is the extension identifier.
const Key = "eip2612-gas-sponsoring"

// Declaration is what a route publishes to opt into gas sponsoring.
// Spender is the Permit2 (or equivalent) contract the client must permit.
type Declaration struct {
	Spender string `json:"spender"`
}

// Permit is the client-populated EIP-2612 permit carried in a payment
// payload's Extensions[Key] when the client chooses the sponsored path.
type Permit struct {
	From      string `json:"from"`
	Asset     string `json:"asset"`
	Spender   string `json:"spender"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	Deadline  string `json:"deadline"`
	Signature string `json:"signature"`
	Version   string `json:"version"`
}

// DeclarationFromAny best-efforts a Declaration out of whatever a route's
// Extensions map holds for this key.
func DeclarationFromAny(v interface{}) (Declaration, bool) {
	switch d := v.(type) {
	case Declaration:
		return d, true
	case map[string]interface{}:
		spender, _ := d["spender"].(string)
		return Declaration{Spender: spender}, true
	default:
		return Declaration{}, false
	}
}

// PermitFromAny best-efforts a Permit out of whatever a payment payload's
// Extensions map holds for this key.
func PermitFromAny(v interface{}) (*Permit, error) {
	switch p := v.(type) {
	case Permit:
		return &p, nil
	case map[string]interface{}:
		return PermitFromMap(p)
	default:
		return nil, fmt.Errorf("gassponsor: unrecognized permit shape %T", v)
	}
}

// PermitFromMap decodes a generic payload map into a Permit, failing
// strictly on any missing or mistyped field (mirrors the EIP-3009 payload
// decoder's field-by-field validation).
func PermitFromMap(m map[string]interface{}) (*Permit, error) {
	getStr := func(key string) (string, error) {
		v, ok := m[key].(string)
		if !ok {
			return "", fmt.Errorf("gassponsor: missing or invalid field: %s", key)
		}
		return v, nil
	}

	permit := &Permit{}
	var err error
	if permit.From, err = getStr("from"); err != nil {
		return nil, err
	}
	if permit.Asset, err = getStr("asset"); err != nil {
		return nil, err
	}
	if permit.Spender, err = getStr("spender"); err != nil {
		return nil, err
	}
	if permit.Amount, err = getStr("amount"); err != nil {
		return nil, err
	}
	if permit.Nonce, err = getStr("nonce"); err != nil {
		return nil, err
	}
	if permit.Deadline, err = getStr("deadline"); err != nil {
		return nil, err
	}
	if permit.Signature, err = getStr("signature"); err != nil {
		return nil, err
	}
	// version is optional; EIP-2612 implementations without an explicit
	// domain version default to "1".
	if v, ok := m["version"].(string); ok {
		permit.Version = v
	} else {
		permit.Version = "1"
	}

	return permit, nil
}
