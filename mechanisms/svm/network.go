package svm

import (
	"fmt"
	"strings"
)

// IsValidNetwork reports whether network is a registered solana:* network.
func IsValidNetwork(network string) bool {
	_, ok := NetworkConfigs[network]
	return ok
}

// GetNetworkConfig returns the registered configuration for network.
func GetNetworkConfig(network string) (*NetworkConfig, error) {
	config, ok := NetworkConfigs[network]
	if !ok {
		return nil, fmt.Errorf("unsupported network: %s", network)
	}
	return &config, nil
}

// GetAssetInfo resolves an asset reference (mint address or symbol) to its
// AssetInfo on the given network.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	for _, info := range config.SupportedAssets {
		if info.Address == asset {
			return &info, nil
		}
	}
	if info, ok := config.SupportedAssets[strings.ToUpper(asset)]; ok {
		return &info, nil
	}

	// Unknown mint: assume it follows the default asset's decimals so
	// ParsePrice/ParseAmount still work for servers pointing at a custom
	// SPL token the registry doesn't know about.
	fallback := config.DefaultAsset
	fallback.Address = asset
	return &fallback, nil
}

// ParseAmount converts a decimal string amount (e.g. "1.50") to the token's
// smallest unit given its decimals, never using floating point.
func ParseAmount(decimalAmount string, decimals int) (uint64, error) {
	parts := strings.SplitN(decimalAmount, ".", 2)
	whole := parts[0]
	if whole == "" {
		whole = "0"
	}
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}
	if len(frac) > decimals {
		return 0, fmt.Errorf("amount %s has more precision than %d decimals", decimalAmount, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	combined := strings.TrimLeft(whole+frac, "0")
	if combined == "" {
		combined = "0"
	}

	var result uint64
	for _, c := range combined {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid amount: %s", decimalAmount)
		}
		result = result*10 + uint64(c-'0')
	}
	return result, nil
}
