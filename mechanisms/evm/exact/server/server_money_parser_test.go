package server

import (
	"fmt"
	"testing"

	x402 "github.com/x402-engine/x402"
)

const mainnetUSDC = "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"

// daiAbove is a parser that routes amounts above threshold to a DAI-like
// asset and declines everything else.
func daiAbove(threshold float64) x402.MoneyParser {
	return func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
		if amount > threshold {
			return &x402.AssetAmount{
				Amount: fmt.Sprintf("%.0f", amount*1e18),
				Asset:  "0xDAI",
				Extra:  map[string]interface{}{"token": "DAI"},
			}, nil
		}
		return nil, nil
	}
}

func TestMoneyParserChain(t *testing.T) {
	t.Run("custom parser wins above its threshold", func(t *testing.T) {
		server := NewExactEvmScheme()
		server.RegisterMoneyParser(daiAbove(100))

		high, err := server.ParsePrice(150.0, "eip155:1")
		if err != nil {
			t.Fatalf("ParsePrice failed: %v", err)
		}
		if high.Asset != "0xDAI" || high.Extra["token"] != "DAI" {
			t.Errorf("custom parser should have handled 150: %+v", high)
		}

		low, err := server.ParsePrice(50.0, "eip155:1")
		if err != nil {
			t.Fatalf("ParsePrice failed: %v", err)
		}
		if low.Asset != mainnetUSDC {
			t.Errorf("default conversion should have handled 50: %+v", low)
		}
	})

	t.Run("parsers run in registration order", func(t *testing.T) {
		server := NewExactEvmScheme()
		server.RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
			if amount > 1000 {
				return &x402.AssetAmount{Amount: "1", Asset: "0xPremium", Extra: map[string]interface{}{"tier": "premium"}}, nil
			}
			return nil, nil
		})
		server.RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
			if amount > 100 {
				return &x402.AssetAmount{Amount: "1", Asset: "0xLarge", Extra: map[string]interface{}{"tier": "large"}}, nil
			}
			return nil, nil
		})

		for amount, wantTier := range map[float64]string{2000: "premium", 200: "large"} {
			result, err := server.ParsePrice(amount, "eip155:1")
			if err != nil {
				t.Fatalf("ParsePrice(%v) failed: %v", amount, err)
			}
			if result.Extra["tier"] != wantTier {
				t.Errorf("ParsePrice(%v) tier = %v, want %s", amount, result.Extra["tier"], wantTier)
			}
		}

		if result, _ := server.ParsePrice(5.0, "eip155:1"); result.Asset != mainnetUSDC {
			t.Errorf("amount below every threshold should default: %+v", result)
		}
	})

	t.Run("parsers can gate on network", func(t *testing.T) {
		server := NewExactEvmScheme()
		server.RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
			if network == "eip155:84532" {
				return &x402.AssetAmount{Amount: "1", Asset: "0xTestnetToken"}, nil
			}
			return nil, nil
		})

		testnet, _ := server.ParsePrice(10.0, "eip155:84532")
		if testnet.Asset != "0xTestnetToken" {
			t.Errorf("network-gated parser skipped: %+v", testnet)
		}
		mainnet, _ := server.ParsePrice(10.0, "eip155:1")
		if mainnet.Asset != mainnetUSDC {
			t.Errorf("other networks should default: %+v", mainnet)
		}
	})

	t.Run("erroring parser is skipped, not fatal", func(t *testing.T) {
		server := NewExactEvmScheme()
		server.RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
			return nil, fmt.Errorf("amount %v is not allowed", amount)
		})
		server.RegisterMoneyParser(daiAbove(50))

		result, err := server.ParsePrice(99.0, "eip155:1")
		if err != nil {
			t.Fatalf("the erroring parser should be skipped: %v", err)
		}
		if result.Asset != "0xDAI" {
			t.Errorf("the next parser should have handled it: %+v", result)
		}
	})

	t.Run("registration chains", func(t *testing.T) {
		server := NewExactEvmScheme()
		chained := server.
			RegisterMoneyParser(daiAbove(10)).
			RegisterMoneyParser(daiAbove(20))
		if chained != server {
			t.Error("RegisterMoneyParser must return the receiver")
		}
	})
}

func TestMoneyParserStringPrices(t *testing.T) {
	server := NewExactEvmScheme()
	server.RegisterMoneyParser(daiAbove(50))

	tests := []struct {
		price     string
		wantAsset string
	}{
		{"$100", "0xDAI"},
		{"25.50", mainnetUSDC},
		{"75 USD", "0xDAI"},
		{"10 USDC", mainnetUSDC},
	}
	for _, tt := range tests {
		result, err := server.ParsePrice(tt.price, "eip155:1")
		if err != nil {
			t.Fatalf("ParsePrice(%q) failed: %v", tt.price, err)
		}
		if result.Asset != tt.wantAsset {
			t.Errorf("ParsePrice(%q) asset = %s, want %s", tt.price, result.Asset, tt.wantAsset)
		}
	}
}

func TestDefaultConversion(t *testing.T) {
	server := NewExactEvmScheme()

	t.Run("decimal dollars scale to atomic units", func(t *testing.T) {
		result, err := server.ParsePrice(10.0, "eip155:1")
		if err != nil {
			t.Fatalf("ParsePrice failed: %v", err)
		}
		if result.Asset != mainnetUSDC || result.Amount != "10000000" {
			t.Errorf("default conversion wrong: %+v", result)
		}
	})

	t.Run("whole numbers at atomic scale pass through", func(t *testing.T) {
		result, err := server.ParsePrice(1500000.0, "eip155:1")
		if err != nil {
			t.Fatalf("ParsePrice failed: %v", err)
		}
		if result.Amount != "1500000" {
			t.Errorf("atomic-looking amount rescaled: %s", result.Amount)
		}
	})
}
