package client

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/x402-engine/x402/mechanisms/svm"
	"github.com/x402-engine/x402/types"
)

// ExactSvmScheme builds exact-SVM payment transactions client-side. The
// produced transaction carries the fixed instruction layout the
// facilitator insists on, signed by the token owner with the fee-payer
// slot left open.
type ExactSvmScheme struct {
	signer svm.ClientSvmSigner
	config *svm.ClientConfig
}

// NewExactSvmScheme creates the scheme client. The optional config
// overrides the network's default RPC endpoint.
func NewExactSvmScheme(signer svm.ClientSvmSigner, config ...*svm.ClientConfig) *ExactSvmScheme {
	s := &ExactSvmScheme{signer: signer}
	if len(config) > 0 {
		s.config = config[0]
	}
	return s
}

func (c *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// transferPlan is everything CreatePaymentPayload resolves from the chain
// before it can assemble instructions.
type transferPlan struct {
	rpcClient      *rpc.Client
	mint           solana.PublicKey
	tokenProgram   solana.PublicKey
	decimals       uint8
	sourceATA      solana.PublicKey
	destinationATA solana.PublicKey
	destATAExists  bool
	amount         uint64
	feePayer       solana.PublicKey
}

// CreatePaymentPayload assembles and partially signs the payment
// transaction: compute limit, compute price, a create-ATA instruction only
// when the recipient's token account is missing, and the TransferChecked
// itself.
func (c *ExactSvmScheme) CreatePaymentPayload(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (types.PaymentPayload, error) {
	plan, err := c.resolvePlan(ctx, requirements)
	if err != nil {
		return types.PaymentPayload{}, err
	}

	blockhash, err := plan.rpcClient.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	builder := solana.NewTransactionBuilder().
		SetRecentBlockHash(blockhash.Value.Blockhash).
		SetFeePayer(plan.feePayer)

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(svm.DefaultComputeUnitLimit).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(svm.DefaultComputeUnitPriceMicrolamports).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}
	builder.AddInstruction(cuLimit).AddInstruction(cuPrice)

	// A missing destination account would make TransferChecked fail in
	// simulation, so the account is created in the same transaction. The
	// create helper only speaks the classic token program; token-2022
	// recipients must already hold an account.
	if !plan.destATAExists {
		if plan.tokenProgram != solana.TokenProgramID {
			return types.PaymentPayload{}, fmt.Errorf("recipient has no token account and mint is not owned by the classic token program")
		}
		createATA := associatedtokenaccount.NewCreateInstruction(
			c.signer.Address(),
			mustWalletOf(requirements.PayTo),
			plan.mint,
		).Build()
		builder.AddInstruction(createATA)
	}

	transfer, err := token.NewTransferCheckedInstructionBuilder().
		SetAmount(plan.amount).
		SetDecimals(plan.decimals).
		SetSourceAccount(plan.sourceATA).
		SetMintAccount(plan.mint).
		SetDestinationAccount(plan.destinationATA).
		SetOwnerAccount(c.signer.Address()).
		ValidateAndBuild()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to build transfer instruction: %w", err)
	}
	builder.AddInstruction(transfer)

	tx, err := builder.Build()
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to create transaction: %w", err)
	}
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to sign transaction: %w", err)
	}

	wire, err := svm.EncodeTransaction(tx)
	if err != nil {
		return types.PaymentPayload{}, fmt.Errorf("failed to encode transaction: %w", err)
	}

	// The engine wraps this with accepted/resource/extensions.
	return types.PaymentPayload{
		X402Version: 2,
		Payload:     (&svm.ExactSvmPayload{Transaction: wire}).ToMap(),
	}, nil
}

// resolvePlan validates the requirement and reads everything the builder
// needs from the chain: token program, decimals, both ATAs, and whether
// the destination account already exists.
func (c *ExactSvmScheme) resolvePlan(
	ctx context.Context,
	requirements types.PaymentRequirements,
) (*transferPlan, error) {
	networkStr := requirements.Network
	if !svm.IsValidNetwork(networkStr) {
		return nil, fmt.Errorf("unsupported network: %s", networkStr)
	}
	netConfig, err := svm.GetNetworkConfig(networkStr)
	if err != nil {
		return nil, err
	}

	rpcURL := netConfig.RPCURL
	if c.config != nil && c.config.RPCURL != "" {
		rpcURL = c.config.RPCURL
	}
	rpcClient := rpc.New(rpcURL)

	mint, err := solana.PublicKeyFromBase58(requirements.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid asset address: %w", err)
	}
	payTo, err := solana.PublicKeyFromBase58(requirements.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid payTo address: %w", err)
	}
	amount, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid amount: %w", err)
	}

	feePayerStr, ok := requirements.Extra["feePayer"].(string)
	if !ok {
		return nil, fmt.Errorf("feePayer is required in paymentRequirements.extra for Solana transactions")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return nil, fmt.Errorf("invalid feePayer address: %w", err)
	}

	mintAccount, err := rpcClient.GetAccountInfo(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to get mint account: %w", err)
	}
	tokenProgram := mintAccount.Value.Owner
	if tokenProgram != solana.TokenProgramID && tokenProgram != solana.Token2022ProgramID {
		return nil, fmt.Errorf("asset was not created by a known token program")
	}
	var mintData token.Mint
	if err := bin.NewBinDecoder(mintAccount.Value.Data.GetBinary()).Decode(&mintData); err != nil {
		return nil, fmt.Errorf("failed to decode mint data: %w", err)
	}

	sourceATA, _, err := solana.FindAssociatedTokenAddress(c.signer.Address(), mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive source ATA: %w", err)
	}
	destinationATA, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to derive destination ATA: %w", err)
	}

	destExists := true
	if _, err := rpcClient.GetAccountInfo(ctx, destinationATA); err != nil {
		if !errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("failed to check destination token account: %w", err)
		}
		destExists = false
	}

	return &transferPlan{
		rpcClient:      rpcClient,
		mint:           mint,
		tokenProgram:   tokenProgram,
		decimals:       mintData.Decimals,
		sourceATA:      sourceATA,
		destinationATA: destinationATA,
		destATAExists:  destExists,
		amount:         amount,
		feePayer:       feePayer,
	}, nil
}

// mustWalletOf re-parses an address already validated by resolvePlan.
func mustWalletOf(addr string) solana.PublicKey {
	return solana.MustPublicKeyFromBase58(addr)
}
