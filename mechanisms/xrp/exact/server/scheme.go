package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/xrp"
	"github.com/x402-engine/x402/types"
)

// ExactXrpScheme implements the SchemeNetworkServer interface for exact-XRP
// Ledger Payment transactions (V2). The native asset has no token address, so
// Asset is always left empty.
type ExactXrpScheme struct {
	moneyParsers []x402.MoneyParser
}

// NewExactXrpScheme creates a new ExactXrpScheme.
func NewExactXrpScheme() *ExactXrpScheme {
	return &ExactXrpScheme{}
}

// Scheme returns the scheme identifier.
func (s *ExactXrpScheme) Scheme() string {
	return xrp.SchemeExact
}

// RegisterMoneyParser registers a custom money parser in the parser chain,
// tried in registration order before the default decimal-XRP-to-drops
// conversion.
func (s *ExactXrpScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactXrpScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice converts price to a drops AssetAmount.
func (s *ExactXrpScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	if priceMap, ok := price.(map[string]interface{}); ok {
		if amountVal, hasAmount := priceMap["amount"]; hasAmount {
			amountStr, ok := amountVal.(string)
			if !ok {
				return x402.AssetAmount{}, fmt.Errorf("amount must be a string")
			}
			return x402.AssetAmount{Amount: amountStr}, nil
		}
	}

	decimalAmount, err := s.parseMoneyToDecimal(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	for _, parser := range s.moneyParsers {
		result, err := parser(decimalAmount, network)
		if err != nil {
			continue
		}
		if result != nil {
			return *result, nil
		}
	}

	dropsStr := fmt.Sprintf("%.6f", decimalAmount*1_000_000)
	drops, err := strconv.ParseFloat(dropsStr, 64)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf("failed to convert amount to drops: %w", err)
	}

	return x402.AssetAmount{Amount: fmt.Sprintf("%.0f", drops)}, nil
}

// parseMoneyToDecimal converts Money (string | number) to a decimal XRP
// amount.
func (s *ExactXrpScheme) parseMoneyToDecimal(price x402.Price) (float64, error) {
	switch v := price.(type) {
	case string:
		clean := strings.TrimSpace(v)
		clean = strings.TrimSuffix(clean, " XRP")
		clean = strings.TrimSpace(clean)
		amount, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0, fmt.Errorf("failed to parse price string '%s': %w", v, err)
		}
		return amount, nil
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("unsupported price type: %T", price)
	}
}

// EnhancePaymentRequirements adds scheme-specific enhancements to V2 payment
// requirements.
func (s *ExactXrpScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensionKeys []string,
) (types.PaymentRequirements, error) {
	networkStr := string(requirements.Network)
	if !xrp.IsValidNetwork(networkStr) {
		return requirements, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	if supportedKind.Extra != nil {
		for _, key := range extensionKeys {
			if val, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = val
			}
		}
	}

	return requirements, nil
}

// GetDisplayAmount formats a drops amount for display as decimal XRP.
func (s *ExactXrpScheme) GetDisplayAmount(amount string) (string, error) {
	drops, err := xrp.ParseDrops(amount)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%.6f XRP", float64(drops)/1_000_000), nil
}

// ValidatePaymentRequirements validates that requirements are valid for this
// scheme.
func (s *ExactXrpScheme) ValidatePaymentRequirements(requirements x402.PaymentRequirements) error {
	networkStr := string(requirements.Network)
	if !xrp.IsValidNetwork(networkStr) {
		return fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	if !xrp.IsValidAddress(requirements.PayTo) {
		return fmt.Errorf("invalid PayTo address: %s", requirements.PayTo)
	}

	drops, err := xrp.ParseDrops(requirements.Amount)
	if err != nil || drops == 0 {
		return fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	return nil
}

// GetSupportedNetworks returns the list of supported networks.
func (s *ExactXrpScheme) GetSupportedNetworks() []string {
	networks := make([]string, 0, len(xrp.NetworkConfigs))
	for network := range xrp.NetworkConfigs {
		networks = append(networks, network)
	}
	return networks
}
