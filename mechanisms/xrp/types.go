package xrp

import (
	"context"
	"fmt"
)

// Payment is the XRP Ledger transaction shape this scheme builds and
// verifies. Amount and Fee are always in drops (never the 3-letter
// currency/issuer form) for the exact scheme.
type Payment struct {
	Account            string  `json:"Account"`
	Destination        string  `json:"Destination"`
	Amount             string  `json:"Amount"`
	Fee                string  `json:"Fee"`
	Sequence           uint32  `json:"Sequence"`
	LastLedgerSequence uint32  `json:"LastLedgerSequence"`
	DestinationTag     *uint32 `json:"DestinationTag,omitempty"`
	Memos              []Memo  `json:"Memos,omitempty"`
}

// Memo is a single XRPL transaction memo (hex-encoded fields per the
// ledger's wire format).
type Memo struct {
	MemoType string `json:"MemoType,omitempty"`
	MemoData string `json:"MemoData,omitempty"`
}

// ExactXrpPayload is the scheme-specific payload for exact-XRP payments.
type ExactXrpPayload struct {
	Transaction       Payment `json:"transaction"`
	SignedTransaction string  `json:"signedTransaction"`
}

// ToMap converts the payload to the generic map[string]interface{} carried
// by types.PaymentPayload.Payload.
func (p *ExactXrpPayload) ToMap() map[string]interface{} {
	tx := map[string]interface{}{
		"Account":            p.Transaction.Account,
		"Destination":        p.Transaction.Destination,
		"Amount":             p.Transaction.Amount,
		"Fee":                p.Transaction.Fee,
		"Sequence":           p.Transaction.Sequence,
		"LastLedgerSequence": p.Transaction.LastLedgerSequence,
	}
	if p.Transaction.DestinationTag != nil {
		tx["DestinationTag"] = *p.Transaction.DestinationTag
	}
	return map[string]interface{}{
		"transaction":       tx,
		"signedTransaction": p.SignedTransaction,
	}
}

// PayloadFromMap decodes a generic payload map into an ExactXrpPayload,
// failing strictly on any missing or mistyped required field.
func PayloadFromMap(m map[string]interface{}) (*ExactXrpPayload, error) {
	signedTx, ok := m["signedTransaction"].(string)
	if !ok || signedTx == "" {
		return nil, fmt.Errorf("missing or invalid field: signedTransaction")
	}

	txRaw, ok := m["transaction"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("missing or invalid field: transaction")
	}

	getStr := func(key string) (string, error) {
		v, ok := txRaw[key].(string)
		if !ok {
			return "", fmt.Errorf("missing or invalid field: transaction.%s", key)
		}
		return v, nil
	}
	getUint32 := func(key string) (uint32, error) {
		v, ok := txRaw[key].(float64)
		if !ok {
			return 0, fmt.Errorf("missing or invalid field: transaction.%s", key)
		}
		return uint32(v), nil
	}

	account, err := getStr("Account")
	if err != nil {
		return nil, err
	}
	destination, err := getStr("Destination")
	if err != nil {
		return nil, err
	}
	amount, err := getStr("Amount")
	if err != nil {
		return nil, err
	}
	fee, err := getStr("Fee")
	if err != nil {
		return nil, err
	}
	sequence, err := getUint32("Sequence")
	if err != nil {
		return nil, err
	}
	lastLedgerSequence, err := getUint32("LastLedgerSequence")
	if err != nil {
		return nil, err
	}

	payment := Payment{
		Account:            account,
		Destination:        destination,
		Amount:             amount,
		Fee:                fee,
		Sequence:           sequence,
		LastLedgerSequence: lastLedgerSequence,
	}

	if tagRaw, ok := txRaw["DestinationTag"].(float64); ok {
		tag := uint32(tagRaw)
		payment.DestinationTag = &tag
	}

	return &ExactXrpPayload{Transaction: payment, SignedTransaction: signedTx}, nil
}

// ClientXrpSigner is implemented by client-side XRPL key material. It reads
// the chain state needed to fill in a Payment (sequence, fee, ledger index)
// and wallet-signs the finished transaction to a hex blob.
type ClientXrpSigner interface {
	// Address returns the signer's classic XRPL address.
	Address() string

	// AccountSequence returns the account's current transaction sequence.
	AccountSequence(ctx context.Context) (uint32, error)

	// CurrentLedgerIndex returns the validated ledger index to compute
	// LastLedgerSequence from.
	CurrentLedgerIndex(ctx context.Context) (uint32, error)

	// OpenLedgerFeeDrops returns the current open-ledger base fee in drops.
	OpenLedgerFeeDrops(ctx context.Context) (uint64, error)

	// Sign wallet-signs tx and returns its hex transaction blob and hash.
	Sign(ctx context.Context, tx Payment) (txBlobHex string, txHash string, err error)
}

// FacilitatorXrpRPC is the narrow capability interface the facilitator uses
// to verify and settle an exact-XRP payment. A concrete implementation wraps
// an actual rippled JSON-RPC/WebSocket client; that wiring is external to
// the protocol engine.
type FacilitatorXrpRPC interface {
	// DecodeSignedPayment parses and signature-verifies a signed
	// transaction blob, returning the Payment it carries; its Account is
	// the account whose signature was checked. An invalid signature or non-Payment
	// transaction type MUST return an error.
	DecodeSignedPayment(ctx context.Context, txBlobHex string) (*Payment, error)

	// AccountSequence returns account's current transaction sequence.
	AccountSequence(ctx context.Context, account string) (uint32, error)

	// AccountBalanceDrops returns account's current XRP balance in drops.
	AccountBalanceDrops(ctx context.Context, account string) (uint64, error)

	// CurrentLedgerIndex returns the current validated ledger index.
	CurrentLedgerIndex(ctx context.Context) (uint32, error)

	// Submit relays a signed transaction blob to the network and returns
	// its transaction hash.
	Submit(ctx context.Context, txBlobHex string) (txHash string, err error)

	// TxValidated reports whether txHash has reached a validated ledger and,
	// if so, whether its engine result was tesSUCCESS.
	TxValidated(ctx context.Context, txHash string) (validated bool, success bool, err error)
}
