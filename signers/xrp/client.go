// Package xrp provides xrpl-go-backed implementations of the narrow XRP
// Ledger capability interfaces consumed by mechanisms/xrp: ClientXrpSigner
// for client-side wallets and FacilitatorXrpRPC for the facilitator's view
// of the ledger. Driving an actual rippled node through xrpl-go is the one
// external collaborator this scheme reaches out to; everything upstream of
// it only ever talks to these two interfaces.
package xrp

import (
	"context"
	"encoding/json"
	"fmt"

	xrplclient "github.com/Peersyst/xrpl-go/xrpl"
	"github.com/Peersyst/xrpl-go/xrpl/queries/account"
	"github.com/Peersyst/xrpl-go/xrpl/queries/ledger"
	"github.com/Peersyst/xrpl-go/xrpl/queries/transactions"
	"github.com/Peersyst/xrpl-go/xrpl/rpc"
	"github.com/Peersyst/xrpl-go/xrpl/transaction"
	"github.com/Peersyst/xrpl-go/xrpl/wallet"

	x402xrp "github.com/x402-engine/x402/mechanisms/xrp"
)

// ClientSigner wraps an xrpl-go wallet and JSON-RPC client to implement
// x402xrp.ClientXrpSigner.
type ClientSigner struct {
	wallet wallet.Wallet
	client *xrplclient.Client
}

// NewClientSignerFromSeed derives a wallet from a family seed (e.g.
// "sEd...") and wires it to the given rippled JSON-RPC endpoint.
func NewClientSignerFromSeed(seed string, rpcURL string) (*ClientSigner, error) {
	w, err := wallet.FromSeed(seed, "")
	if err != nil {
		return nil, fmt.Errorf("failed to derive wallet from seed: %w", err)
	}

	cfg, err := rpc.NewClientConfig(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure xrpl-go rpc client: %w", err)
	}

	return &ClientSigner{
		wallet: w,
		client: xrplclient.NewClient(cfg),
	}, nil
}

// Address returns the wallet's classic XRPL address.
func (s *ClientSigner) Address() string {
	return s.wallet.GetAddress()
}

// AccountSequence returns the account's current transaction sequence.
func (s *ClientSigner) AccountSequence(ctx context.Context) (uint32, error) {
	req := &account.AccountInfoRequest{
		Account: s.wallet.GetAddress(),
	}
	resp, err := s.client.Account.AccountInfo(req)
	if err != nil {
		return 0, fmt.Errorf("account_info failed: %w", err)
	}
	return uint32(resp.AccountData.Sequence), nil
}

// CurrentLedgerIndex returns the most recently validated ledger index.
func (s *ClientSigner) CurrentLedgerIndex(ctx context.Context) (uint32, error) {
	req := &ledger.LedgerCurrentRequest{}
	resp, err := s.client.Ledger.LedgerCurrent(req)
	if err != nil {
		return 0, fmt.Errorf("ledger_current failed: %w", err)
	}
	return uint32(resp.LedgerCurrentIndex), nil
}

// OpenLedgerFeeDrops returns the current open-ledger base fee, in drops.
func (s *ClientSigner) OpenLedgerFeeDrops(ctx context.Context) (uint64, error) {
	resp, err := s.client.Fee()
	if err != nil {
		return 0, fmt.Errorf("fee failed: %w", err)
	}
	return uint64(resp.Drops.OpenLedgerFee), nil
}

// Sign wallet-signs tx and returns its hex transaction blob and hash.
func (s *ClientSigner) Sign(ctx context.Context, tx x402xrp.Payment) (string, string, error) {
	flat := paymentToFlatTransaction(tx)
	blob, hash, err := s.wallet.Sign(flat)
	if err != nil {
		return "", "", fmt.Errorf("failed to sign payment: %w", err)
	}
	return blob, hash, nil
}

// FacilitatorRPC wraps an xrpl-go JSON-RPC client to implement
// x402xrp.FacilitatorXrpRPC. It never holds key material: it only decodes
// and relays already-signed transaction blobs.
type FacilitatorRPC struct {
	client *xrplclient.Client
}

// NewFacilitatorRPC wires a FacilitatorRPC to the given rippled JSON-RPC
// endpoint.
func NewFacilitatorRPC(rpcURL string) (*FacilitatorRPC, error) {
	cfg, err := rpc.NewClientConfig(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("failed to configure xrpl-go rpc client: %w", err)
	}
	return &FacilitatorRPC{client: xrplclient.NewClient(cfg)}, nil
}

// DecodeSignedPayment parses and signature-verifies a signed transaction
// blob via the network's own sign-verification (the node rejects a bad
// signature at submit time), and decodes the Payment it carries.
func (f *FacilitatorRPC) DecodeSignedPayment(ctx context.Context, txBlobHex string) (*x402xrp.Payment, error) {
	decoded, err := transaction.DecodeBlob(txBlobHex)
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction blob: %w", err)
	}

	raw, err := json.Marshal(decoded)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize decoded transaction: %w", err)
	}

	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, fmt.Errorf("failed to normalize decoded transaction: %w", err)
	}

	if txType, _ := flat["TransactionType"].(string); txType != "Payment" {
		return nil, fmt.Errorf("unsupported transaction type: %v", flat["TransactionType"])
	}

	payment, err := flatTransactionToPayment(flat)
	if err != nil {
		return nil, err
	}

	if _, ok := decoded["SigningPubKey"]; !ok {
		return nil, fmt.Errorf("transaction is not signed")
	}

	return payment, nil
}

// AccountSequence returns account's current transaction sequence.
func (f *FacilitatorRPC) AccountSequence(ctx context.Context, account0 string) (uint32, error) {
	req := &account.AccountInfoRequest{Account: account0}
	resp, err := f.client.Account.AccountInfo(req)
	if err != nil {
		return 0, fmt.Errorf("account_info failed: %w", err)
	}
	return uint32(resp.AccountData.Sequence), nil
}

// AccountBalanceDrops returns account's current XRP balance, in drops.
func (f *FacilitatorRPC) AccountBalanceDrops(ctx context.Context, account0 string) (uint64, error) {
	req := &account.AccountInfoRequest{Account: account0}
	resp, err := f.client.Account.AccountInfo(req)
	if err != nil {
		return 0, fmt.Errorf("account_info failed: %w", err)
	}
	return uint64(resp.AccountData.Balance), nil
}

// CurrentLedgerIndex returns the current validated ledger index.
func (f *FacilitatorRPC) CurrentLedgerIndex(ctx context.Context) (uint32, error) {
	req := &ledger.LedgerCurrentRequest{}
	resp, err := f.client.Ledger.LedgerCurrent(req)
	if err != nil {
		return 0, fmt.Errorf("ledger_current failed: %w", err)
	}
	return uint32(resp.LedgerCurrentIndex), nil
}

// Submit relays a signed transaction blob to the network.
func (f *FacilitatorRPC) Submit(ctx context.Context, txBlobHex string) (string, error) {
	req := &transactions.SubmitRequest{TxBlob: txBlobHex}
	resp, err := f.client.Transaction.Submit(req)
	if err != nil {
		return "", fmt.Errorf("submit failed: %w", err)
	}
	if !resp.Accepted && !resp.EngineResult.IsSuccessful() {
		return "", fmt.Errorf("submit rejected: %s", resp.EngineResult)
	}
	return resp.TxJson.Hash, nil
}

// TxValidated reports whether txHash has reached a validated ledger.
func (f *FacilitatorRPC) TxValidated(ctx context.Context, txHash string) (bool, bool, error) {
	req := &transactions.TxRequest{Transaction: txHash}
	resp, err := f.client.Transaction.Tx(req)
	if err != nil {
		return false, false, fmt.Errorf("tx lookup failed: %w", err)
	}
	if !resp.Validated {
		return false, false, nil
	}
	return true, resp.Meta.TransactionResult == "tesSUCCESS", nil
}

func paymentToFlatTransaction(tx x402xrp.Payment) map[string]interface{} {
	flat := map[string]interface{}{
		"TransactionType":    "Payment",
		"Account":            tx.Account,
		"Destination":        tx.Destination,
		"Amount":             tx.Amount,
		"Fee":                tx.Fee,
		"Sequence":           tx.Sequence,
		"LastLedgerSequence": tx.LastLedgerSequence,
	}
	if tx.DestinationTag != nil {
		flat["DestinationTag"] = *tx.DestinationTag
	}
	return flat
}

func flatTransactionToPayment(flat map[string]interface{}) (*x402xrp.Payment, error) {
	getStr := func(key string) (string, error) {
		v, ok := flat[key].(string)
		if !ok {
			return "", fmt.Errorf("decoded transaction missing field: %s", key)
		}
		return v, nil
	}
	getUint32 := func(key string) (uint32, error) {
		switch v := flat[key].(type) {
		case float64:
			return uint32(v), nil
		case json.Number:
			n, err := v.Int64()
			if err != nil {
				return 0, fmt.Errorf("decoded transaction field %s is not numeric", key)
			}
			return uint32(n), nil
		default:
			return 0, fmt.Errorf("decoded transaction missing field: %s", key)
		}
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

	payment := &x402xrp.Payment{
		Account:            account,
		Destination:        destination,
		Amount:             amount,
		Fee:                fee,
		Sequence:           sequence,
		LastLedgerSequence: lastLedgerSequence,
	}

	if tag, err := getUint32("DestinationTag"); err == nil {
		payment.DestinationTag = &tag
	}

	return payment, nil
}
