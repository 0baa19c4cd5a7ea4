package types

import (
	"encoding/json"
	"fmt"
)

// decodeInto is the one unmarshal path every To* helper in this package
// funnels through.
func decodeInto[T any](data []byte) (*T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

// DetectVersion sniffs the x402Version field out of otherwise-unparsed
// wire bytes. Both payload and 402-response shapes carry the field at the
// top level, so this is the first thing any version-forked decode does.
func DetectVersion(data []byte) (int, error) {
	var probe struct {
		X402Version int `json:"x402Version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return 0, fmt.Errorf("failed to detect version: %w", err)
	}
	if probe.X402Version < 1 {
		return 0, fmt.Errorf("invalid version: %d", probe.X402Version)
	}
	return probe.X402Version, nil
}

// RequirementsInfo is the scheme/network pair a dispatcher needs to route
// a call, extracted without committing to a requirements version.
type RequirementsInfo struct {
	Scheme  string
	Network string
}

// ExtractRequirementsInfo reads scheme and network from requirements bytes
// of either version - both keep the pair at the top level.
func ExtractRequirementsInfo(data []byte) (*RequirementsInfo, error) {
	var probe struct {
		Scheme  string `json:"scheme"`
		Network string `json:"network"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	return &RequirementsInfo{Scheme: probe.Scheme, Network: probe.Network}, nil
}

// PayloadBase is the version + scheme-payload core of a payment payload,
// before the engine wraps it with the accepted requirement and resource.
type PayloadBase struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
}

// ToPayloadBase decodes only the PayloadBase fields of payload bytes.
func ToPayloadBase(data []byte) (*PayloadBase, error) {
	return decodeInto[PayloadBase](data)
}

// PaymentRequiredPartial is a 402 response whose accepts entries stay raw,
// so a caller can sniff each entry's version before committing to a
// requirements struct.
type PaymentRequiredPartial struct {
	X402Version int               `json:"x402Version"`
	Error       string            `json:"error,omitempty"`
	Accepts     []json.RawMessage `json:"accepts"`
	Resource    json.RawMessage   `json:"resource,omitempty"`
	Extensions  json.RawMessage   `json:"extensions,omitempty"`
}

// ToPaymentRequiredPartial decodes a 402 response, leaving accepts raw.
func ToPaymentRequiredPartial(data []byte) (*PaymentRequiredPartial, error) {
	return decodeInto[PaymentRequiredPartial](data)
}
