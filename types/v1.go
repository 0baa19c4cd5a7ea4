package types

import "encoding/json"

// The v1 wire shapes. The defining difference from v2: a v1 payload names
// its scheme and network directly instead of embedding the accepted
// requirement, and a v1 requirement calls its amount maxAmountRequired.
// These structs exist only so the legacy dispatch path can keep decoding
// old clients; nothing new should produce them.

// PaymentPayloadV1 is a v1 payment payload.
type PaymentPayloadV1 struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Payload     map[string]interface{} `json:"payload"`
}

func (p PaymentPayloadV1) GetVersion() int                    { return p.X402Version }
func (p PaymentPayloadV1) GetScheme() string                  { return p.Scheme }
func (p PaymentPayloadV1) GetNetwork() string                 { return p.Network }
func (p PaymentPayloadV1) GetPayload() map[string]interface{} { return p.Payload }

// PaymentRequirementsV1 is a v1 requirements entry. OutputSchema and Extra
// stay raw: v1 servers stuffed arbitrary discovery data in there, and
// decoding it eagerly would fail on shapes this package has no business
// understanding.
type PaymentRequirementsV1 struct {
	Scheme            string           `json:"scheme"`
	Network           string           `json:"network"`
	MaxAmountRequired string           `json:"maxAmountRequired"`
	Resource          string           `json:"resource"`
	Description       string           `json:"description,omitempty"`
	MimeType          string           `json:"mimeType,omitempty"`
	PayTo             string           `json:"payTo"`
	MaxTimeoutSeconds int              `json:"maxTimeoutSeconds"`
	Asset             string           `json:"asset"`
	OutputSchema      *json.RawMessage `json:"outputSchema,omitempty"`
	Extra             *json.RawMessage `json:"extra,omitempty"`
}

func (r PaymentRequirementsV1) GetScheme() string         { return r.Scheme }
func (r PaymentRequirementsV1) GetNetwork() string        { return r.Network }
func (r PaymentRequirementsV1) GetAsset() string          { return r.Asset }
func (r PaymentRequirementsV1) GetAmount() string         { return r.MaxAmountRequired }
func (r PaymentRequirementsV1) GetPayTo() string          { return r.PayTo }
func (r PaymentRequirementsV1) GetMaxTimeoutSeconds() int { return r.MaxTimeoutSeconds }

// GetExtra decodes the raw extra bag on demand. A malformed bag decodes to
// an empty map rather than failing the view, since extras are advisory.
func (r PaymentRequirementsV1) GetExtra() map[string]interface{} {
	if r.Extra == nil {
		return nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(*r.Extra, &m); err != nil {
		return make(map[string]interface{})
	}
	return m
}

// PaymentRequiredV1 is a v1 402 response body.
type PaymentRequiredV1 struct {
	X402Version int                     `json:"x402Version"`
	Error       string                  `json:"error,omitempty"`
	Accepts     []PaymentRequirementsV1 `json:"accepts"`
}

// SupportedKindV1 is one entry of a v1 facilitator's supported listing.
type SupportedKindV1 struct {
	X402Version int              `json:"x402Version"`
	Scheme      string           `json:"scheme"`
	Network     string           `json:"network"`
	Extra       *json.RawMessage `json:"extra,omitempty"`
}

// SupportedResponseV1 is the v1 supported listing: kinds only, no
// extension advertisement.
type SupportedResponseV1 struct {
	Kinds []SupportedKindV1 `json:"kinds"`
}

func ToPaymentPayloadV1(data []byte) (*PaymentPayloadV1, error) {
	return decodeInto[PaymentPayloadV1](data)
}

func ToPaymentRequirementsV1(data []byte) (*PaymentRequirementsV1, error) {
	return decodeInto[PaymentRequirementsV1](data)
}

func ToPaymentRequiredV1(data []byte) (*PaymentRequiredV1, error) {
	return decodeInto[PaymentRequiredV1](data)
}

func ToSupportedKindV1(data []byte) (*SupportedKindV1, error) {
	return decodeInto[SupportedKindV1](data)
}
