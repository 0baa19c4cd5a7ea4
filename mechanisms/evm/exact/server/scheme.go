package server

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/evm"
	"github.com/x402-engine/x402/types"
)

// ExactEvmScheme is the resource-server side of exact-EVM: it prices
// routes in the network's default stablecoin and fills in the EIP-712
// domain fields a client needs to sign EIP-3009 authorizations.
type ExactEvmScheme struct {
	moneyParsers []x402.MoneyParser
}

func NewExactEvmScheme() *ExactEvmScheme {
	return &ExactEvmScheme{}
}

func (s *ExactEvmScheme) Scheme() string {
	return evm.SchemeExact
}

// RegisterMoneyParser appends a custom converter to the parser chain.
// Parsers run in registration order on the decimal amount; returning nil
// defers to the next one, and the built-in default-asset conversion is
// always the last resort. Returns s for chaining.
func (s *ExactEvmScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactEvmScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice resolves a route's advertised price to an atomic AssetAmount.
// A map-form price ({amount, asset}) passes through unchanged; everything
// else is reduced to a decimal and offered to the parser chain.
func (s *ExactEvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	if resolved, isMap, err := x402.AssetAmountFromPrice(price); isMap {
		if err != nil {
			return x402.AssetAmount{}, err
		}
		if resolved.Asset == "" {
			return x402.AssetAmount{}, fmt.Errorf("asset address must be specified for AssetAmount")
		}
		return *resolved, nil
	}

	decimal, err := x402.ParseMoney(price)
	if err != nil {
		return x402.AssetAmount{}, err
	}
	if custom := x402.RunMoneyParsers(s.moneyParsers, decimal, network); custom != nil {
		return *custom, nil
	}
	return s.defaultConversion(decimal, network)
}

// defaultConversion prices the amount in the network's default asset.
// Whole numbers at or above one full token are taken to already be atomic
// units - a route priced 1500000 means 1.5 USDC, not $1.5M.
func (s *ExactEvmScheme) defaultConversion(amount float64, network x402.Network) (x402.AssetAmount, error) {
	config, err := evm.GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	oneUnit := float64(1)
	for i := 0; i < config.DefaultAsset.Decimals; i++ {
		oneUnit *= 10
	}
	if amount >= oneUnit && amount == float64(int64(amount)) {
		return x402.AssetAmount{
			Asset:  config.DefaultAsset.Address,
			Amount: fmt.Sprintf("%.0f", amount),
			Extra:  make(map[string]interface{}),
		}, nil
	}

	atomic, err := evm.ParseAmount(fmt.Sprintf("%.6f", amount), config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf("failed to convert amount: %w", err)
	}
	return x402.AssetAmount{
		Asset:  config.DefaultAsset.Address,
		Amount: atomic.String(),
		Extra:  make(map[string]interface{}),
	}, nil
}

// EnhancePaymentRequirements fills the gaps between a priced route and a
// signable requirement: the default asset when none was named, atomic
// units when the amount came through as a decimal, and the token's
// EIP-712 name/version so clients can reconstruct the signing domain.
func (s *ExactEvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensionKeys []string,
) (types.PaymentRequirements, error) {
	networkStr := requirements.Network
	config, err := evm.GetNetworkConfig(networkStr)
	if err != nil {
		return requirements, err
	}

	assetInfo := &config.DefaultAsset
	if requirements.Asset != "" {
		assetInfo, err = evm.GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		requirements.Asset = assetInfo.Address
	}

	if strings.Contains(requirements.Amount, ".") {
		atomic, err := evm.ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = atomic.String()
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}
	// Existing name/version entries win: a caller may pin exact domain
	// values for tokens whose on-chain metadata disagrees with the table.
	if _, ok := requirements.Extra["name"]; !ok {
		requirements.Extra["name"] = assetInfo.Name
	}
	if _, ok := requirements.Extra["version"]; !ok {
		requirements.Extra["version"] = assetInfo.Version
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

// GetDisplayAmount renders an atomic amount as a human-readable price.
func (s *ExactEvmScheme) GetDisplayAmount(amount string, network string, asset string) (string, error) {
	assetInfo, err := evm.GetAssetInfo(network, asset)
	if err != nil {
		return "", err
	}
	value, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return "", fmt.Errorf("invalid amount: %s", amount)
	}
	return "$" + evm.FormatAmount(value, assetInfo.Decimals) + " USDC", nil
}

// ValidatePaymentRequirements rejects requirements this scheme could never
// collect on: unknown network, malformed recipient, non-positive amount,
// or an asset that is neither an address nor a known symbol.
func (s *ExactEvmScheme) ValidatePaymentRequirements(requirements x402.PaymentRequirements) error {
	networkStr := string(requirements.Network)
	if !evm.IsValidNetwork(networkStr) {
		return fmt.Errorf("unsupported network: %s", requirements.Network)
	}
	if !evm.IsValidAddress(requirements.PayTo) {
		return fmt.Errorf("invalid PayTo address: %s", requirements.PayTo)
	}
	if requirements.Amount == "" {
		return fmt.Errorf("amount is required")
	}
	amount, ok := new(big.Int).SetString(requirements.Amount, 10)
	if !ok || amount.Sign() <= 0 {
		return fmt.Errorf("invalid amount: %s", requirements.Amount)
	}
	if requirements.Asset != "" && !evm.IsValidAddress(requirements.Asset) {
		if _, err := evm.GetAssetInfo(networkStr, requirements.Asset); err != nil {
			return fmt.Errorf("invalid asset: %s", requirements.Asset)
		}
	}
	return nil
}

// ConvertToTokenAmount converts a decimal amount string to atomic units of
// the network's default asset.
func (s *ExactEvmScheme) ConvertToTokenAmount(decimalAmount string, network string) (string, error) {
	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return "", err
	}
	amount, err := evm.ParseAmount(decimalAmount, config.DefaultAsset.Decimals)
	if err != nil {
		return "", err
	}
	return amount.String(), nil
}

// ConvertFromTokenAmount is the inverse of ConvertToTokenAmount.
func (s *ExactEvmScheme) ConvertFromTokenAmount(tokenAmount string, network string) (string, error) {
	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return "", err
	}
	amount, ok := new(big.Int).SetString(tokenAmount, 10)
	if !ok {
		return "", fmt.Errorf("invalid token amount: %s", tokenAmount)
	}
	return evm.FormatAmount(amount, config.DefaultAsset.Decimals), nil
}

// GetSupportedNetworks lists every network in the built-in table.
func (s *ExactEvmScheme) GetSupportedNetworks() []string {
	networks := make([]string, 0, len(evm.NetworkConfigs))
	for network := range evm.NetworkConfigs {
		networks = append(networks, network)
	}
	return networks
}

// GetSupportedAssets lists a network's assets by symbol and by address.
func (s *ExactEvmScheme) GetSupportedAssets(network string) ([]string, error) {
	config, err := evm.GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}
	assets := make([]string, 0, 2*len(config.SupportedAssets))
	for symbol := range config.SupportedAssets {
		assets = append(assets, symbol)
	}
	for _, asset := range config.SupportedAssets {
		assets = append(assets, asset.Address)
	}
	return assets, nil
}
