package lightning

import (
	"context"
	"fmt"
)

// ExactLightningPayload is the scheme-specific payload for exact-Lightning
// payments: the paid invoice and, optionally, the node-specific identifier
// used to look it up for settlement.
type ExactLightningPayload struct {
	Bolt11    string `json:"bolt11"`
	InvoiceID string `json:"invoiceId,omitempty"`
}

// ToMap converts the payload to the generic map[string]interface{} carried
// by types.PaymentPayload.Payload.
func (p *ExactLightningPayload) ToMap() map[string]interface{} {
	m := map[string]interface{}{
		"bolt11": p.Bolt11,
	}
	if p.InvoiceID != "" {
		m["invoiceId"] = p.InvoiceID
	}
	return m
}

// PayloadFromMap decodes a generic payload map into an ExactLightningPayload.
func PayloadFromMap(m map[string]interface{}) (*ExactLightningPayload, error) {
	bolt11, ok := m["bolt11"].(string)
	if !ok || bolt11 == "" {
		return nil, fmt.Errorf("missing or invalid field: bolt11")
	}

	payload := &ExactLightningPayload{Bolt11: bolt11}
	if invoiceID, ok := m["invoiceId"].(string); ok {
		payload.InvoiceID = invoiceID
	}
	return payload, nil
}

// DecodedInvoice is the structural information extracted from a BOLT11
// invoice, independent of any node lookup.
type DecodedInvoice struct {
	PaymentHash string
	AmountMsat  uint64
	Expired     bool
}

// InvoiceDecoder decodes and structurally validates a bolt11 invoice string
// for a given network, without contacting any node. This is the one
// capability the facilitator's Verify needs.
type InvoiceDecoder interface {
	Decode(network string, bolt11 string) (*DecodedInvoice, error)
}

// InvoiceStatus is the node's view of a previously issued invoice.
type InvoiceStatus struct {
	Settled     bool
	AmountMsat  uint64
	PaymentHash string
}

// InvoiceLookup is the pluggable settlement port: a Lightning node
// integration that resolves an invoice (by invoiceId or by the bolt11's
// payment hash) to its current settlement status. Settle refuses to report
// success without one configured.
type InvoiceLookup interface {
	LookupInvoice(ctx context.Context, invoiceID string, bolt11 string) (*InvoiceStatus, error)
}

// InvoiceIssuer is the server-side capability that mints a new invoice for
// a priced route. A resource server wires this in to have
// EnhancePaymentRequirements attach a real, payable bolt11 string rather
// than requiring the route handler to create one itself.
type InvoiceIssuer interface {
	CreateInvoice(ctx context.Context, amountMsat uint64, memo string) (bolt11 string, invoiceID string, err error)
}

// ClientLightningWallet is the client-side capability that pays a bolt11
// invoice through whatever Lightning node or wallet backs the caller. The
// scheme client never holds key material directly: Lightning settlement
// proof lives in the node's own payment record, not in a signed payload.
type ClientLightningWallet interface {
	PayInvoice(ctx context.Context, bolt11 string) (invoiceID string, err error)
}
