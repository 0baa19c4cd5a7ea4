package facilitator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"

	solana "github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/svm"
	"github.com/x402-engine/x402/types"
)

// ExactSvmScheme verifies and settles exact-SVM payments. The client hands
// over a partially-signed transaction; this side checks its shape against
// the requirement, adds the fee-payer signature, simulates, and submits.
type ExactSvmScheme struct {
	signer svm.FacilitatorSvmSigner
}

func NewExactSvmScheme(signer svm.FacilitatorSvmSigner) *ExactSvmScheme {
	return &ExactSvmScheme{signer: signer}
}

func (f *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// CaipFamily returns the network family pattern this facilitator serves.
func (f *ExactSvmScheme) CaipFamily() string {
	return "solana:*"
}

// GetExtra advertises a fee payer for the supported-kinds listing. With
// several keypairs configured, one is picked at random per call so load
// spreads across them.
func (f *ExactSvmScheme) GetExtra(network x402.Network) map[string]interface{} {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	return map[string]interface{}{
		"feePayer": addresses[rand.Intn(len(addresses))].String(),
	}
}

// GetSigners lists every fee-payer address available on network.
func (f *ExactSvmScheme) GetSigners(network x402.Network) []string {
	addresses := f.signer.GetAddresses(context.Background(), string(network))
	out := make([]string, len(addresses))
	for i, addr := range addresses {
		out[i] = addr.String()
	}
	return out
}

// paymentShape is the decoded, position-checked form of a client
// transaction: the fixed instruction layout resolved into its parts.
type paymentShape struct {
	tx        *solana.Transaction
	transfer  solana.CompiledInstruction
	createATA *solana.CompiledInstruction
	feePayers []string
}

// Verify checks a payment transaction bottom-up: requirement sanity, fee
// payer ownership, wire decode, instruction layout, compute budget bounds,
// transfer semantics, then a fee-payer-signed simulation as the final
// proof the transfer would succeed on chain.
func (f *ExactSvmScheme) Verify(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.VerifyResponse, error) {
	network := x402.Network(requirements.Network)

	if payload.Accepted.Scheme != svm.SchemeExact || requirements.Scheme != svm.SchemeExact {
		return nil, x402.NewVerifyError("unsupported_scheme", "", network, nil)
	}
	if payload.Accepted.Network != requirements.Network {
		return nil, x402.NewVerifyError("network_mismatch", "", network, nil)
	}

	feePayer, managed, err := f.resolveFeePayer(ctx, requirements)
	if err != nil {
		return nil, x402.NewVerifyError(err.Error(), "", network, nil)
	}

	shape, err := f.decodeShape(payload, managed)
	if err != nil {
		return nil, x402.NewVerifyError(err.Error(), "", network, err)
	}

	payer, err := svm.GetTokenPayerFromTransaction(shape.tx)
	if err != nil {
		return nil, x402.NewVerifyError("invalid_exact_solana_payload_no_transfer_instruction", "", network, err)
	}

	if err := f.checkTransfer(shape, requirements); err != nil {
		return nil, x402.NewVerifyError(err.Error(), payer, network, err)
	}

	// The fee-payer signature slot is the only one the client left open;
	// fill it and simulate. Simulation is what catches everything static
	// checks can't: drained balances, closed accounts, frozen mints.
	if err := f.signer.SignTransaction(ctx, shape.tx, feePayer, string(requirements.Network)); err != nil {
		return nil, x402.NewVerifyError("transaction_signing_failed", payer, network, err)
	}
	if err := f.signer.SimulateTransaction(ctx, shape.tx, string(requirements.Network)); err != nil {
		return nil, x402.NewVerifyError("transaction_simulation_failed", payer, network, err)
	}

	return &x402.VerifyResponse{IsValid: true, Payer: payer}, nil
}

// Settle re-verifies, signs as fee payer, submits, and waits out
// confirmation. Verification is repeated rather than trusted from an
// earlier call: between verify and settle the chain may have consumed the
// source balance.
func (f *ExactSvmScheme) Settle(
	ctx context.Context,
	payload types.PaymentPayload,
	requirements types.PaymentRequirements,
) (*x402.SettleResponse, error) {
	network := x402.Network(requirements.Network)

	verified, err := f.Verify(ctx, payload, requirements)
	if err != nil {
		ve := &x402.VerifyError{}
		if errors.As(err, &ve) {
			return nil, x402.NewSettleError(ve.Reason, ve.Payer, ve.Network, "", ve.Err)
		}
		return nil, x402.NewSettleError("verification_failed", "", network, "", err)
	}

	raw, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, x402.NewSettleError("invalid_exact_solana_payload_transaction", verified.Payer, network, "", err)
	}
	tx, err := svm.DecodeTransaction(raw.Transaction)
	if err != nil {
		return nil, x402.NewSettleError("invalid_exact_solana_payload_transaction", verified.Payer, network, "", err)
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return nil, x402.NewSettleError("missing_fee_payer", verified.Payer, network, "", nil)
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, x402.NewSettleError("invalid_fee_payer", verified.Payer, network, "", err)
	}

	// Account 0 pays fees; it must be the key the requirement promised,
	// or the client is spending someone else's lamports.
	if got := tx.Message.AccountKeys[0]; got != feePayer {
		return nil, x402.NewSettleError("fee_payer_mismatch", verified.Payer, network, "",
			fmt.Errorf("expected %s, got %s", feePayer, got))
	}

	if err := f.signer.SignTransaction(ctx, tx, feePayer, string(requirements.Network)); err != nil {
		return nil, x402.NewSettleError("transaction_failed", verified.Payer, network, "", err)
	}
	signature, err := f.signer.SendTransaction(ctx, tx, string(requirements.Network))
	if err != nil {
		return nil, x402.NewSettleError("transaction_failed", verified.Payer, network, "", err)
	}
	if err := f.signer.ConfirmTransaction(ctx, signature, string(requirements.Network)); err != nil {
		return nil, x402.NewSettleError("transaction_confirmation_failed", verified.Payer, network, signature.String(), err)
	}

	return &x402.SettleResponse{
		Success:     true,
		Transaction: signature.String(),
		Network:     network,
		Payer:       verified.Payer,
	}, nil
}

// resolveFeePayer pulls the fee payer out of requirements.extra and checks
// it belongs to this facilitator. Returns the key, the full managed-address
// list (the transfer check needs it), or an error whose message is the
// taxonomy reason.
func (f *ExactSvmScheme) resolveFeePayer(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (solana.PublicKey, []string, error) {
	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok || feePayerStr == "" {
		return solana.PublicKey{}, nil, errors.New("invalid_exact_solana_payload_missing_fee_payer")
	}

	addresses := f.signer.GetAddresses(ctx, string(requirements.Network))
	managed := make([]string, len(addresses))
	found := false
	for i, addr := range addresses {
		managed[i] = addr.String()
		if managed[i] == feePayerStr {
			found = true
		}
	}
	if !found {
		return solana.PublicKey{}, nil, errors.New("fee_payer_not_managed_by_facilitator")
	}

	key, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return solana.PublicKey{}, nil, errors.New("invalid_fee_payer")
	}
	return key, managed, nil
}

// decodeShape decodes the wire transaction and pins the instruction layout:
// compute limit, compute price, an optional create-ATA, and the transfer,
// in that order and nothing else.
func (f *ExactSvmScheme) decodeShape(payload types.PaymentPayload, feePayers []string) (*paymentShape, error) {
	raw, err := svm.PayloadFromMap(payload.Payload)
	if err != nil {
		return nil, errors.New("invalid_exact_solana_payload_transaction")
	}
	tx, err := svm.DecodeTransaction(raw.Transaction)
	if err != nil {
		return nil, errors.New("invalid_exact_solana_payload_transaction_could_not_be_decoded")
	}

	instructions := tx.Message.Instructions
	if len(instructions) != 3 && len(instructions) != 4 {
		return nil, errors.New("invalid_exact_solana_payload_transaction_instructions_length")
	}

	shape := &paymentShape{
		tx:        tx,
		transfer:  instructions[len(instructions)-1],
		feePayers: feePayers,
	}

	if err := f.checkComputeLimit(tx, instructions[0]); err != nil {
		return nil, err
	}
	if err := f.checkComputePrice(tx, instructions[1]); err != nil {
		return nil, err
	}
	if len(instructions) == 4 {
		shape.createATA = &instructions[2]
		if err := f.checkCreateATA(tx, instructions[2]); err != nil {
			return nil, err
		}
	}
	return shape, nil
}

// checkComputeLimit requires instruction 0 to be a well-formed
// SetComputeUnitLimit.
func (f *ExactSvmScheme) checkComputeLimit(tx *solana.Transaction, inst solana.CompiledInstruction) error {
	const discriminator = 2 // SetComputeUnitLimit
	reject := errors.New("invalid_exact_solana_payload_transaction_instructions_compute_limit_instruction")

	if !tx.Message.AccountKeys[inst.ProgramIDIndex].Equals(solana.ComputeBudget) {
		return reject
	}
	if len(inst.Data) < 1 || inst.Data[0] != discriminator {
		return reject
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return reject
	}
	if _, err := computebudget.DecodeInstruction(accounts, inst.Data); err != nil {
		return reject
	}
	return nil
}

// checkComputePrice requires instruction 1 to be a SetComputeUnitPrice
// whose priority fee is bounded - an unbounded price would let a client
// spend the facilitator's lamports on priority fees.
func (f *ExactSvmScheme) checkComputePrice(tx *solana.Transaction, inst solana.CompiledInstruction) error {
	const discriminator = 3 // SetComputeUnitPrice
	reject := errors.New("invalid_exact_solana_payload_transaction_instructions_compute_price_instruction")

	if !tx.Message.AccountKeys[inst.ProgramIDIndex].Equals(solana.ComputeBudget) {
		return reject
	}
	if len(inst.Data) < 1 || inst.Data[0] != discriminator {
		return reject
	}
	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return reject
	}
	decoded, err := computebudget.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return reject
	}
	price, ok := decoded.Impl.(*computebudget.SetComputeUnitPrice)
	if !ok {
		return reject
	}
	if price.MicroLamports > svm.MaxComputeUnitPriceMicrolamports {
		return errors.New("invalid_exact_solana_payload_transaction_instructions_compute_price_instruction_too_high")
	}
	return nil
}

// checkCreateATA requires the optional third instruction to target the
// associated-token program. Its accounts are not checked further here: if
// it creates the wrong ATA, the transfer's destination check fails next,
// and if it creates an unrelated account the client merely funded a
// stranger's rent through its own lamports, since the fee payer only pays
// the transaction fee.
func (f *ExactSvmScheme) checkCreateATA(tx *solana.Transaction, inst solana.CompiledInstruction) error {
	if !tx.Message.AccountKeys[inst.ProgramIDIndex].Equals(solana.SPLAssociatedTokenAccountProgramID) {
		return errors.New("invalid_exact_solana_payload_transaction_instructions_create_ata_instruction")
	}
	return nil
}

// checkTransfer is the heart of verification: the final instruction must
// be a TransferChecked of the required mint, to the recipient's ATA, for
// at least the required amount, authorized by someone other than this
// facilitator's own keys.
func (f *ExactSvmScheme) checkTransfer(shape *paymentShape, requirements types.PaymentRequirements) error {
	tx, inst := shape.tx, shape.transfer
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
		return errors.New("invalid_exact_solana_payload_no_transfer_instruction")
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil || len(accounts) < 4 {
		return errors.New("invalid_exact_solana_payload_no_transfer_instruction")
	}
	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return errors.New("invalid_exact_solana_payload_no_transfer_instruction")
	}
	transfer, ok := decoded.Impl.(*token.TransferChecked)
	if !ok {
		return errors.New("invalid_exact_solana_payload_no_transfer_instruction")
	}

	// TransferChecked account order: source, mint, destination, authority.
	// The authority must not be one of our own fee payers - otherwise a
	// client could craft a transaction that moves the facilitator's tokens
	// and have the facilitator co-sign it.
	authority := accounts[3].PublicKey.String()
	for _, ours := range shape.feePayers {
		if authority == ours {
			return errors.New("invalid_exact_solana_payload_transaction_fee_payer_transferring_funds")
		}
	}

	if accounts[1].PublicKey.String() != requirements.Asset {
		return errors.New("invalid_exact_solana_payload_mint_mismatch")
	}

	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return errors.New("invalid_exact_solana_payload_recipient_mismatch")
	}
	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return errors.New("invalid_exact_solana_payload_mint_mismatch")
	}
	wantDest, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return errors.New("invalid_exact_solana_payload_recipient_mismatch")
	}
	if !transfer.GetDestinationAccount().PublicKey.Equals(wantDest) {
		return errors.New("invalid_exact_solana_payload_recipient_mismatch")
	}

	required, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return errors.New("invalid_exact_svm_payload_amount_insufficient")
	}
	if *transfer.Amount < required {
		return errors.New("invalid_exact_svm_payload_amount_insufficient")
	}
	return nil
}
