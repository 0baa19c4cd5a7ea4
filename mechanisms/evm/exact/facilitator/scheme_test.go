package facilitator_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/extensions/gassponsor"
	"github.com/x402-engine/x402/mechanisms/evm"
	"github.com/x402-engine/x402/mechanisms/evm/exact/facilitator"
	"github.com/x402-engine/x402/types"
)

func gasSponsoredPayload(permit gassponsor.Permit) types.PaymentPayload {
	return types.PaymentPayload{
		X402Version: 2,
		Accepted:    types.PaymentRequirements{Scheme: evm.SchemeExact, Network: "eip155:84532"},
		Extensions: map[string]interface{}{
			gassponsor.Key: permit,
		},
	}
}

func TestExactEvmScheme_Verify_GasSponsoredPermit(t *testing.T) {
	scheme := facilitator.NewExactEvmScheme(nil, nil)

	requirements := types.PaymentRequirements{
		Scheme:  evm.SchemeExact,
		Network: "eip155:84532",
		Extensions: map[string]interface{}{
			gassponsor.Key: gassponsor.Declaration{Spender: "0x2222222222222222222222222222222222222222"},
		},
	}

	t.Run("valid permit matching declared spender", func(t *testing.T) {
		payload := gasSponsoredPayload(gassponsor.Permit{
			From:      "0x1111111111111111111111111111111111111111",
			Asset:     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Spender:   "0x2222222222222222222222222222222222222222",
			Amount:    "10000",
			Nonce:     "1",
			Deadline:  "1999999999",
			Signature: "0xsignature",
		})

		resp, err := scheme.Verify(context.Background(), payload, requirements)
		require.NoError(t, err)
		assert.True(t, resp.IsValid)
		assert.Equal(t, "0x1111111111111111111111111111111111111111", resp.Payer)
	})

	t.Run("spender mismatch is rejected", func(t *testing.T) {
		payload := gasSponsoredPayload(gassponsor.Permit{
			From:      "0x1111111111111111111111111111111111111111",
			Asset:     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Spender:   "0x9999999999999999999999999999999999999999",
			Amount:    "10000",
			Nonce:     "1",
			Deadline:  "1999999999",
			Signature: "0xsignature",
		})

		_, err := scheme.Verify(context.Background(), payload, requirements)
		assert.Error(t, err)
	})

	t.Run("settle reports the permit2 gap explicitly", func(t *testing.T) {
		payload := gasSponsoredPayload(gassponsor.Permit{
			From:      "0x1111111111111111111111111111111111111111",
			Asset:     "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
			Spender:   "0x2222222222222222222222222222222222222222",
			Amount:    "10000",
			Nonce:     "1",
			Deadline:  "1999999999",
			Signature: "0xsignature",
		})

		_, err := scheme.Settle(context.Background(), payload, requirements)
		assert.Error(t, err)
	})
}

func authorizedPayload(validAfter, validBefore string) types.PaymentPayload {
	evmPayload := evm.ExactEIP3009Payload{
		Signature: "0xsignature",
		Authorization: evm.ExactEIP3009Authorization{
			From:        "0x1111111111111111111111111111111111111111",
			To:          "0x3333333333333333333333333333333333333333",
			Value:       "10000",
			ValidAfter:  validAfter,
			ValidBefore: validBefore,
			Nonce:       "0x01",
		},
	}
	return types.PaymentPayload{
		X402Version: 2,
		Accepted:    types.PaymentRequirements{Scheme: evm.SchemeExact, Network: "eip155:84532"},
		Payload:     evmPayload.ToMap(),
	}
}

func TestExactEvmScheme_Verify_ValidityWindow(t *testing.T) {
	scheme := facilitator.NewExactEvmScheme(nil, nil)

	requirements := types.PaymentRequirements{
		Scheme:  evm.SchemeExact,
		Network: "eip155:84532",
		Asset:   "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
		PayTo:   "0x3333333333333333333333333333333333333333",
		Amount:  "10000",
	}

	now := time.Now().Unix()

	t.Run("expired authorization is rejected", func(t *testing.T) {
		payload := authorizedPayload(fmt.Sprintf("%d", now-7200), fmt.Sprintf("%d", now-3600))

		_, err := scheme.Verify(context.Background(), payload, requirements)
		require.Error(t, err)
		var verr *x402.VerifyError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "validity_window", verr.Reason)
	})

	t.Run("not-yet-valid authorization is rejected", func(t *testing.T) {
		payload := authorizedPayload(fmt.Sprintf("%d", now+3600), fmt.Sprintf("%d", now+7200))

		_, err := scheme.Verify(context.Background(), payload, requirements)
		require.Error(t, err)
		var verr *x402.VerifyError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "validity_window", verr.Reason)
	})
}
