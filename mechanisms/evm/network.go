package evm

import (
	"fmt"
	"regexp"
	"strings"
)

var addressPattern = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// IsValidAddress reports whether s is a well-formed 20-byte hex address.
func IsValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// IsValidNetwork reports whether network is a registered eip155:* network.
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

// GetAssetInfo resolves an asset reference (contract address or symbol) to
// its AssetInfo on the given network.
func GetAssetInfo(network string, asset string) (*AssetInfo, error) {
	config, err := GetNetworkConfig(network)
	if err != nil {
		return nil, err
	}

	if IsValidAddress(asset) {
		for _, info := range config.SupportedAssets {
			if strings.EqualFold(info.Address, asset) {
				return &info, nil
			}
		}
		// Unknown address: fall back to the network's default token's
		// name/version/decimals since the EIP-3009 domain fields are only
		// used for signing, not balance lookups.
		fallback := config.DefaultAsset
		fallback.Address = asset
		return &fallback, nil
	}

	if info, ok := config.SupportedAssets[strings.ToUpper(asset)]; ok {
		return &info, nil
	}

	return nil, fmt.Errorf("unknown asset %q on network %s", asset, network)
}
