package facilitatorfees_test

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402-engine/x402/extensions/facilitatorfees"
)

func TestComputeFee_Flat(t *testing.T) {
	quote := facilitatorfees.FacilitatorFeeQuote{Kind: facilitatorfees.KindFlat, Flat: "500"}
	fee, err := facilitatorfees.ComputeFee(quote, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "500", fee.String())
}

func TestComputeFee_BPS(t *testing.T) {
	quote := facilitatorfees.FacilitatorFeeQuote{Kind: facilitatorfees.KindBPS, BPS: 50}
	fee, err := facilitatorfees.ComputeFee(quote, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "5000", fee.String()) // 0.5% of 1,000,000

	t.Run("clamped by minFee", func(t *testing.T) {
		quote := facilitatorfees.FacilitatorFeeQuote{Kind: facilitatorfees.KindBPS, BPS: 1, MinFee: "100"}
		fee, err := facilitatorfees.ComputeFee(quote, big.NewInt(1000))
		require.NoError(t, err)
		assert.Equal(t, "100", fee.String())
	})

	t.Run("clamped by maxFee", func(t *testing.T) {
		quote := facilitatorfees.FacilitatorFeeQuote{Kind: facilitatorfees.KindBPS, BPS: 500, MaxFee: "1000"}
		fee, err := facilitatorfees.ComputeFee(quote, big.NewInt(1_000_000))
		require.NoError(t, err)
		assert.Equal(t, "1000", fee.String())
	})
}

func TestComputeFee_Tiered(t *testing.T) {
	quote := facilitatorfees.FacilitatorFeeQuote{
		Kind: facilitatorfees.KindTiered,
		Tiers: []facilitatorfees.Tier{
			{UpToAmount: "1000", Fee: "10"},
			{UpToAmount: "100000", Fee: "100"},
		},
	}

	fee, err := facilitatorfees.ComputeFee(quote, big.NewInt(500))
	require.NoError(t, err)
	assert.Equal(t, "10", fee.String())

	fee, err = facilitatorfees.ComputeFee(quote, big.NewInt(50000))
	require.NoError(t, err)
	assert.Equal(t, "100", fee.String())

	_, err = facilitatorfees.ComputeFee(quote, big.NewInt(999999))
	assert.Error(t, err, "amount above all tiers is an error, not a silent zero fee")
}

func TestComputeFee_Hybrid(t *testing.T) {
	quote := facilitatorfees.FacilitatorFeeQuote{
		Kind: facilitatorfees.KindHybrid,
		Flat: "100",
		BPS:  50,
	}
	fee, err := facilitatorfees.ComputeFee(quote, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, "5100", fee.String()) // 100 flat + 5000 bps
}
