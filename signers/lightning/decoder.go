// Package lightning provides concrete adapters for the Lightning capability
// interfaces in mechanisms/lightning: a zpay32-backed structural invoice
// decoder, an in-memory InvoiceLookup for tests, and an LND gRPC-backed
// InvoiceLookup/InvoiceIssuer for production settlement.
package lightning

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"

	x402ln "github.com/x402-engine/x402/mechanisms/lightning"
)

// Decoder implements x402ln.InvoiceDecoder using zpay32.
type Decoder struct{}

// NewDecoder creates a new Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

func chainParamsForNetwork(network string) (*chaincfg.Params, error) {
	switch network {
	case "lightning:mainnet":
		return &chaincfg.MainNetParams, nil
	case "lightning:testnet":
		return &chaincfg.TestNet3Params, nil
	case "lightning:signet", "btc-lightning-signet":
		return &chaincfg.SigNetParams, nil
	default:
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
}

// Decode parses and structurally validates bolt11 for network.
func (d *Decoder) Decode(network string, bolt11 string) (*x402ln.DecodedInvoice, error) {
	params, err := chainParamsForNetwork(network)
	if err != nil {
		return nil, err
	}

	invoice, err := zpay32.Decode(bolt11, params)
	if err != nil {
		return nil, fmt.Errorf("failed to decode bolt11 invoice: %w", err)
	}

	var amountMsat uint64
	if invoice.MilliSat != nil {
		amountMsat = uint64(*invoice.MilliSat)
	}

	expired := time.Now().After(invoice.Timestamp.Add(invoice.Expiry()))

	paymentHash := ""
	if invoice.PaymentHash != nil {
		paymentHash = hex.EncodeToString(invoice.PaymentHash[:])
	}

	return &x402ln.DecodedInvoice{
		PaymentHash: paymentHash,
		AmountMsat:  amountMsat,
		Expired:     expired,
	}, nil
}
