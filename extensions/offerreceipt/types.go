// Package offerreceipt implements the "offer-receipt" standard extension:
// signed offers attached to 402 responses, and a signed receipt attached to
// settlement. Two signing backends are supported, matching the two ways a
// resource server might already hold keys: JWS (a compact JWT whose claims
// carry the offer or receipt, keyed by `kid`) and EIP-712 (typed-data signing over the same
// chain key a facilitator already uses for EVM settlement).
package offerreceipt

// Key is the extension identifier used in declared-extensions maps and in
// the Extensions field of both PaymentRequirements and settlement output.
const Key = "offer-receipt"

// Algorithm names the signing backend an Offer or Receipt was produced with.
type Algorithm string

const (
	AlgorithmJWS    Algorithm = "jws"
	AlgorithmEIP712 Algorithm = "eip712"
)

// Declaration is what a route publishes in its Extensions map to opt a
// resource into offer-receipt. IncludeTxHash controls whether a settlement
// receipt names the on-chain transaction (off by default for privacy).
type Declaration struct {
	Algorithm     Algorithm `json:"algorithm"`
	KeyID         string    `json:"kid,omitempty"`
	IncludeTxHash bool      `json:"includeTxHash,omitempty"`
}

// Offer is the signed statement attached to a single PaymentRequirements
// entry in a 402 response: "this server, at this time, offered this price."
type Offer struct {
	Scheme            string `json:"scheme"`
	Network           string `json:"network"`
	Asset             string `json:"asset"`
	Amount            string `json:"amount"`
	PayTo             string `json:"payTo"`
	MaxTimeoutSeconds int    `json:"maxTimeoutSeconds"`
	IssuedAt          int64  `json:"issuedAt"`
}

// Receipt is the signed statement attached to a settlement response.
// Transaction is populated only when the declaration opts in.
type Receipt struct {
	Success     bool   `json:"success"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
	Transaction string `json:"transaction,omitempty"`
	SettledAt   int64  `json:"settledAt"`
}

// SignedOffer is what gets merged into the 402 response's Extensions[Key].
type SignedOffer struct {
	Offer     Offer     `json:"offer"`
	Algorithm Algorithm `json:"algorithm"`
	KeyID     string    `json:"kid,omitempty"`
	Signature string    `json:"signature"`
}

// SignedReceipt is what gets merged into the settlement extensions map.
type SignedReceipt struct {
	Receipt   Receipt   `json:"receipt"`
	Algorithm Algorithm `json:"algorithm"`
	KeyID     string    `json:"kid,omitempty"`
	Signature string    `json:"signature"`
}
