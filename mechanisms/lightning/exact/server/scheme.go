package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/lightning"
	"github.com/x402-engine/x402/types"
)

// ExactLightningScheme implements the SchemeNetworkServer interface for
// exact-Lightning BOLT11 invoice payments (V2). The native asset has no
// token address; amounts are expressed in millisatoshis.
type ExactLightningScheme struct {
	issuer       lightning.InvoiceIssuer
	moneyParsers []x402.MoneyParser
}

// NewExactLightningScheme creates a new ExactLightningScheme. issuer mints
// the invoice attached to payment requirements; it may be nil for a server
// that attaches bolt11 invoices itself before calling into the engine, in
// which case EnhancePaymentRequirements leaves requirements.Extra["bolt11"]
// untouched if already present.
func NewExactLightningScheme(issuer lightning.InvoiceIssuer) *ExactLightningScheme {
	return &ExactLightningScheme{issuer: issuer}
}

// Scheme returns the scheme identifier.
func (s *ExactLightningScheme) Scheme() string {
	return lightning.SchemeExact
}

// RegisterMoneyParser registers a custom money parser in the parser chain,
// tried in registration order before the default decimal-BTC-to-millisatoshi
// conversion.
func (s *ExactLightningScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactLightningScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice converts price to a millisatoshi AssetAmount.
func (s *ExactLightningScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	if priceMap, ok := price.(map[string]interface{}); ok {
		if amountVal, hasAmount := priceMap["amount"]; hasAmount {
			amountStr, ok := amountVal.(string)
			if !ok {
				return x402.AssetAmount{}, fmt.Errorf("amount must be a string")
			}
			return x402.AssetAmount{Amount: amountStr}, nil
		}
	}

	decimalBTC, err := s.parseMoneyToDecimal(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}

	for _, parser := range s.moneyParsers {
		result, err := parser(decimalBTC, network)
		if err != nil {
			continue
		}
		if result != nil {
			return *result, nil
		}
	}

	msatStr := fmt.Sprintf("%.0f", decimalBTC*1e11)
	return x402.AssetAmount{Amount: msatStr}, nil
}

func (s *ExactLightningScheme) parseMoneyToDecimal(price x402.Price) (float64, error) {
	switch v := price.(type) {
	case string:
		clean := strings.TrimSpace(v)
		clean = strings.TrimSuffix(clean, " BTC")
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

// EnhancePaymentRequirements mints a bolt11 invoice for the route's amount
// (if an issuer is configured and none is already present) and attaches it
// to requirements.Extra["bolt11"] / ["invoiceId"].
func (s *ExactLightningScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensionKeys []string,
) (types.PaymentRequirements, error) {
	networkStr := string(requirements.Network)
	if !lightning.IsValidNetwork(networkStr) {
		return requirements, fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}

	if _, hasBolt11 := requirements.Extra["bolt11"]; !hasBolt11 {
		if s.issuer == nil {
			return requirements, fmt.Errorf("no invoice issuer configured and requirements did not already include a bolt11 invoice")
		}

		amountMsat, err := strconv.ParseUint(requirements.Amount, 10, 64)
		if err != nil {
			return requirements, fmt.Errorf("invalid amount: %s", requirements.Amount)
		}

		bolt11, invoiceID, err := s.issuer.CreateInvoice(ctx, amountMsat, "")
		if err != nil {
			return requirements, fmt.Errorf("failed to create invoice: %w", err)
		}

		requirements.Extra["bolt11"] = bolt11
		if invoiceID != "" {
			requirements.Extra["invoiceId"] = invoiceID
		}
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

// ValidatePaymentRequirements validates that requirements are valid for this
// scheme.
func (s *ExactLightningScheme) ValidatePaymentRequirements(requirements x402.PaymentRequirements) error {
	networkStr := string(requirements.Network)
	if !lightning.IsValidNetwork(networkStr) {
		return fmt.Errorf("unsupported network: %s", requirements.Network)
	}

	amountMsat, err := strconv.ParseUint(requirements.Amount, 10, 64)
	if err != nil || amountMsat == 0 {
		return fmt.Errorf("invalid amount: %s", requirements.Amount)
	}

	return nil
}

// GetSupportedNetworks returns the list of supported networks.
func (s *ExactLightningScheme) GetSupportedNetworks() []string {
	networks := make([]string, 0, len(lightning.NetworkConfigs))
	for network := range lightning.NetworkConfigs {
		networks = append(networks, network)
	}
	return networks
}
