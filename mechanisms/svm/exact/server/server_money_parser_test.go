package server

import (
	"fmt"
	"testing"

	x402 "github.com/x402-engine/x402"
)

const mainnetUSDCMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// customMintAbove routes amounts above threshold to a custom mint and
// declines everything else.
func customMintAbove(threshold float64) x402.MoneyParser {
	return func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
		if amount > threshold {
			return &x402.AssetAmount{
				Amount: fmt.Sprintf("%.0f", amount*1e9),
				Asset:  "CustomMint111111111111111111111111",
			}, nil
		}
		return nil, nil
	}
}

func TestSvmMoneyParserChain(t *testing.T) {
	t.Run("custom parser wins above its threshold", func(t *testing.T) {
		server := NewExactSvmScheme()
		server.RegisterMoneyParser(customMintAbove(50))

		high, err := server.ParsePrice(100.0, "solana:mainnet")
		if err != nil {
			t.Fatalf("ParsePrice failed: %v", err)
		}
		if high.Asset != "CustomMint111111111111111111111111" {
			t.Errorf("custom parser should have handled 100: %+v", high)
		}

		low, err := server.ParsePrice(10.0, "solana:mainnet")
		if err != nil {
			t.Fatalf("ParsePrice failed: %v", err)
		}
		if low.Asset != mainnetUSDCMint {
			t.Errorf("default mint should have handled 10: %+v", low)
		}
	})

	t.Run("earlier registration wins", func(t *testing.T) {
		server := NewExactSvmScheme()
		server.RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
			return &x402.AssetAmount{Amount: "1", Asset: "FirstMint1111111111111111111111111"}, nil
		})
		server.RegisterMoneyParser(func(amount float64, network x402.Network) (*x402.AssetAmount, error) {
			return &x402.AssetAmount{Amount: "1", Asset: "SecondMint111111111111111111111111"}, nil
		})

		result, err := server.ParsePrice(1.0, "solana:mainnet")
		if err != nil {
			t.Fatalf("ParsePrice failed: %v", err)
		}
		if result.Asset != "FirstMint1111111111111111111111111" {
			t.Errorf("first parser should win: %+v", result)
		}
	})

	t.Run("registration chains", func(t *testing.T) {
		server := NewExactSvmScheme()
		if server.RegisterMoneyParser(customMintAbove(1)) != server {
			t.Error("RegisterMoneyParser must return the receiver")
		}
	})
}

func TestSvmMoneyParserStringPrices(t *testing.T) {
	server := NewExactSvmScheme()
	server.RegisterMoneyParser(customMintAbove(50))

	tests := []struct {
		price     string
		wantAsset string
	}{
		{"$100", "CustomMint111111111111111111111111"},
		{"25.50", mainnetUSDCMint},
		{"75", "CustomMint111111111111111111111111"},
		{"10", mainnetUSDCMint},
	}
	for _, tt := range tests {
		result, err := server.ParsePrice(tt.price, "solana:mainnet")
		if err != nil {
			t.Fatalf("ParsePrice(%q) failed: %v", tt.price, err)
		}
		if result.Asset != tt.wantAsset {
			t.Errorf("ParsePrice(%q) asset = %s, want %s", tt.price, result.Asset, tt.wantAsset)
		}
	}
}

func TestSvmDefaultConversion(t *testing.T) {
	server := NewExactSvmScheme()

	result, err := server.ParsePrice(10.0, "solana:mainnet")
	if err != nil {
		t.Fatalf("ParsePrice failed: %v", err)
	}
	if result.Asset != mainnetUSDCMint || result.Amount != "10000000" {
		t.Errorf("default conversion wrong: %+v", result)
	}
}
