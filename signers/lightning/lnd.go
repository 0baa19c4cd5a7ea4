package lightning

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/lightningnetwork/lnd/lnrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	x402ln "github.com/x402-engine/x402/mechanisms/lightning"
)

// LNDClient wraps an LND lnrpc.LightningClient to implement both
// x402ln.InvoiceIssuer and x402ln.InvoiceLookup against a real node.
type LNDClient struct {
	conn   *grpc.ClientConn
	client lnrpc.LightningClient
}

// NewLNDClient dials target (LND's gRPC listener) with the given transport
// credentials/options (typically TLS + macaroon interceptor) and wraps the
// resulting connection.
func NewLNDClient(target string, opts ...grpc.DialOption) (*LNDClient, error) {
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to dial lnd: %w", err)
	}
	return &LNDClient{conn: conn, client: lnrpc.NewLightningClient(conn)}, nil
}

// Close releases the underlying gRPC connection.
func (c *LNDClient) Close() error {
	return c.conn.Close()
}

// CreateInvoice implements x402ln.InvoiceIssuer via LND's AddInvoice.
func (c *LNDClient) CreateInvoice(ctx context.Context, amountMsat uint64, memo string) (string, string, error) {
	resp, err := c.client.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:      memo,
		ValueMsat: int64(amountMsat),
	})
	if err != nil {
		return "", "", fmt.Errorf("AddInvoice failed: %w", err)
	}
	return resp.PaymentRequest, hex.EncodeToString(resp.RHash), nil
}

// LookupInvoice implements x402ln.InvoiceLookup via LND's LookupInvoice,
// keyed by the invoice's payment hash. invoiceID is expected to be the
// hex-encoded payment hash returned by CreateInvoice; bolt11 is accepted as
// a fallback only to report a more useful error when invoiceID is empty.
func (c *LNDClient) LookupInvoice(ctx context.Context, invoiceID string, bolt11 string) (*x402ln.InvoiceStatus, error) {
	if invoiceID == "" {
		return nil, fmt.Errorf("no invoice id to look up (bolt11: %s)", bolt11)
	}

	rHash, err := hex.DecodeString(invoiceID)
	if err != nil {
		return nil, fmt.Errorf("invalid invoice id: %w", err)
	}

	resp, err := c.client.LookupInvoice(ctx, &lnrpc.PaymentHash{RHash: rHash})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("invoice not found: %s", invoiceID)
		}
		return nil, fmt.Errorf("LookupInvoice failed: %w", err)
	}

	return &x402ln.InvoiceStatus{
		Settled:     resp.State == lnrpc.Invoice_SETTLED,
		AmountMsat:  uint64(resp.AmtPaidMsat),
		PaymentHash: invoiceID,
	}, nil
}
