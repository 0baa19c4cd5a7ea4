// Package types holds the wire-level shapes of the payment protocol in
// both protocol versions, plus the raw/partial decode helpers the
// version-forked paths use. The structs here are dumb data: behavior lives
// with the engines that exchange them.
package types

// PaymentPayload is a v2 payment payload. Unlike v1 it embeds the full
// requirement the client accepted, so a facilitator can check what was
// promised without a side channel.
type PaymentPayload struct {
	X402Version int                    `json:"x402Version"`
	Payload     map[string]interface{} `json:"payload"`
	Accepted    PaymentRequirements    `json:"accepted"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

func (p PaymentPayload) GetVersion() int                    { return p.X402Version }
func (p PaymentPayload) GetScheme() string                  { return p.Accepted.Scheme }
func (p PaymentPayload) GetNetwork() string                 { return p.Accepted.Network }
func (p PaymentPayload) GetPayload() map[string]interface{} { return p.Payload }

// PaymentRequirements is one v2 offer: pay Amount of Asset to PayTo on
// Network under Scheme. The JSON name of Amount stays maxAmountRequired
// for compatibility across versions of the header format.
type PaymentRequirements struct {
	Scheme            string                 `json:"scheme"`
	Network           string                 `json:"network"`
	Asset             string                 `json:"asset"`
	Amount            string                 `json:"maxAmountRequired"`
	PayTo             string                 `json:"payTo"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
	Extensions        map[string]interface{} `json:"extensions,omitempty"`
}

func (r PaymentRequirements) GetScheme() string                { return r.Scheme }
func (r PaymentRequirements) GetNetwork() string               { return r.Network }
func (r PaymentRequirements) GetAsset() string                 { return r.Asset }
func (r PaymentRequirements) GetAmount() string                { return r.Amount }
func (r PaymentRequirements) GetPayTo() string                 { return r.PayTo }
func (r PaymentRequirements) GetMaxTimeoutSeconds() int        { return r.MaxTimeoutSeconds }
func (r PaymentRequirements) GetExtra() map[string]interface{} { return r.Extra }

// PaymentRequired is a v2 402 response body.
type PaymentRequired struct {
	X402Version int                    `json:"x402Version"`
	Error       string                 `json:"error,omitempty"`
	Resource    *ResourceInfo          `json:"resource,omitempty"`
	Accepts     []PaymentRequirements  `json:"accepts"`
	Extensions  map[string]interface{} `json:"extensions,omitempty"`
}

// ResourceInfo describes the protected resource an offer or payload is
// about.
type ResourceInfo struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	MimeType    string `json:"mimeType,omitempty"`
}

// SupportedKind is one (scheme, network) pair a facilitator can serve,
// with any per-kind metadata it wants callers to know (the SVM fee payer
// rides in Extra).
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is a facilitator's full capability listing.
type SupportedResponse struct {
	Kinds      []SupportedKind     `json:"kinds"`
	Extensions []string            `json:"extensions"`
	Signers    map[string][]string `json:"signers"`
}

func ToPaymentPayload(data []byte) (*PaymentPayload, error) {
	return decodeInto[PaymentPayload](data)
}

func ToPaymentRequirements(data []byte) (*PaymentRequirements, error) {
	return decodeInto[PaymentRequirements](data)
}

func ToPaymentRequired(data []byte) (*PaymentRequired, error) {
	return decodeInto[PaymentRequired](data)
}

func ToSupportedKind(data []byte) (*SupportedKind, error) {
	return decodeInto[SupportedKind](data)
}
