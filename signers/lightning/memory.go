package lightning

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	x402ln "github.com/x402-engine/x402/mechanisms/lightning"
)

// MemoryInvoiceStore is an in-memory reference InvoiceLookup/InvoiceIssuer
// pair for tests and local development. It never talks to a real Lightning
// node; invoices are marked settled by calling MarkSettled directly (e.g.
// from a test harness simulating a paid invoice).
type MemoryInvoiceStore struct {
	mu       sync.Mutex
	invoices map[string]*x402ln.InvoiceStatus
}

// NewMemoryInvoiceStore creates an empty MemoryInvoiceStore.
func NewMemoryInvoiceStore() *MemoryInvoiceStore {
	return &MemoryInvoiceStore{invoices: make(map[string]*x402ln.InvoiceStatus)}
}

// CreateInvoice implements x402ln.InvoiceIssuer by registering a new
// unsettled invoice under a random identifier. The caller is responsible for
// actually producing a bolt11 string elsewhere (e.g. via a real node during
// integration testing); this store only tracks settlement state.
func (m *MemoryInvoiceStore) CreateInvoice(ctx context.Context, amountMsat uint64, memo string) (string, string, error) {
	idBytes := make([]byte, 16)
	if _, err := rand.Read(idBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate invoice id: %w", err)
	}
	invoiceID := hex.EncodeToString(idBytes)

	m.mu.Lock()
	m.invoices[invoiceID] = &x402ln.InvoiceStatus{Settled: false, AmountMsat: amountMsat}
	m.mu.Unlock()

	return "", invoiceID, nil
}

// MarkSettled records invoiceID as settled for amountMsat, as if a node had
// reported the corresponding HTLC resolved.
func (m *MemoryInvoiceStore) MarkSettled(invoiceID string, amountMsat uint64, paymentHash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[invoiceID] = &x402ln.InvoiceStatus{
		Settled:     true,
		AmountMsat:  amountMsat,
		PaymentHash: paymentHash,
	}
}

// LookupInvoice implements x402ln.InvoiceLookup.
func (m *MemoryInvoiceStore) LookupInvoice(ctx context.Context, invoiceID string, bolt11 string) (*x402ln.InvoiceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.invoices[invoiceID]
	if !ok {
		return nil, fmt.Errorf("unknown invoice: %s", invoiceID)
	}
	return status, nil
}
