package offerreceipt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/extensions/offerreceipt"
	"github.com/x402-engine/x402/types"
)

func TestResourceServerExtension_EnrichPaymentRequiredResponse(t *testing.T) {
	signer := offerreceipt.NewJWSSigner("test-key", []byte("super-secret"))
	ext := offerreceipt.NewResourceServerExtension(signer)

	requirements := types.PaymentRequirements{
		Scheme:            "exact",
		Network:           "eip155:84532",
		Asset:             "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		Amount:            "10000",
		PayTo:             "0x209693Bc6afc0C5328bA36FaF03C514EF312287C",
		MaxTimeoutSeconds: 60,
	}
	reqCtx := x402.ExtensionRequestContext{
		Requirements: []x402.PaymentRequirementsView{requirements},
	}

	info, err := ext.EnrichPaymentRequiredResponse(nil, reqCtx)
	require.NoError(t, err)

	offers, ok := info.Info.([]offerreceipt.SignedOffer)
	require.True(t, ok)
	require.Len(t, offers, 1)
	assert.Equal(t, offerreceipt.AlgorithmJWS, offers[0].Algorithm)
	assert.Equal(t, "test-key", offers[0].KeyID)
	assert.NotEmpty(t, offers[0].Signature)
	assert.Equal(t, requirements.Amount, offers[0].Offer.Amount)
}

func TestResourceServerExtension_EnrichSettlementResponse(t *testing.T) {
	signer := offerreceipt.NewJWSSigner("test-key", []byte("super-secret"))
	ext := offerreceipt.NewResourceServerExtension(signer)

	settlement := &x402.SettleResponse{
		Success:     true,
		Transaction: "0xabc123",
		Network:     x402.Network("eip155:84532"),
		Payer:       "0x1111111111111111111111111111111111111111",
	}
	settleCtx := x402.ExtensionSettlementContext{Settlement: settlement}

	t.Run("tx hash omitted by default", func(t *testing.T) {
		info, err := ext.EnrichSettlementResponse(nil, settleCtx)
		require.NoError(t, err)
		receipt, ok := info.Info.(offerreceipt.SignedReceipt)
		require.True(t, ok)
		assert.Empty(t, receipt.Receipt.Transaction)
		assert.Equal(t, settlement.Payer, receipt.Receipt.Payer)
	})

	t.Run("tx hash included when declared", func(t *testing.T) {
		decl := offerreceipt.Declaration{IncludeTxHash: true}
		info, err := ext.EnrichSettlementResponse(decl, settleCtx)
		require.NoError(t, err)
		receipt, ok := info.Info.(offerreceipt.SignedReceipt)
		require.True(t, ok)
		assert.Equal(t, settlement.Transaction, receipt.Receipt.Transaction)
	})
}
