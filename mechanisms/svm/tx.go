package svm

import (
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
)

// EncodeTransaction serializes tx to the base64 wire format carried in an
// ExactSvmPayload.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	data, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DecodeTransaction parses a base64 wire-encoded transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to base64-decode transaction: %w", err)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode transaction: %w", err)
	}
	return tx, nil
}

// GetTokenPayerFromTransaction extracts the token-owner authority address
// from the transaction's TransferChecked instruction (the last of the 3 or 4
// fixed-order instructions).
func GetTokenPayerFromTransaction(tx *solana.Transaction) (string, error) {
	instructions := tx.Message.Instructions
	if len(instructions) == 0 {
		return "", fmt.Errorf("transaction has no instructions")
	}

	inst := instructions[len(instructions)-1]
	progID := tx.Message.AccountKeys[inst.ProgramIDIndex]
	if progID != solana.TokenProgramID && progID != solana.Token2022ProgramID {
		return "", fmt.Errorf("final instruction is not a token transfer")
	}

	accounts, err := inst.ResolveInstructionAccounts(&tx.Message)
	if err != nil {
		return "", fmt.Errorf("failed to resolve transfer instruction accounts: %w", err)
	}
	if len(accounts) < 4 {
		return "", fmt.Errorf("transfer instruction has too few accounts")
	}

	decoded, err := token.DecodeInstruction(accounts, inst.Data)
	if err != nil {
		return "", fmt.Errorf("failed to decode transfer instruction: %w", err)
	}
	if _, ok := decoded.Impl.(*token.TransferChecked); !ok {
		return "", fmt.Errorf("final instruction is not TransferChecked")
	}

	return accounts[3].PublicKey.String(), nil
}
