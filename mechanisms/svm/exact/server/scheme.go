package server

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	x402 "github.com/x402-engine/x402"
	"github.com/x402-engine/x402/mechanisms/svm"
	"github.com/x402-engine/x402/types"
)

// ExactSvmScheme is the resource-server side of exact-SVM: it prices
// routes in the network's default SPL token and forwards the
// facilitator-advertised fee payer into each requirement.
type ExactSvmScheme struct {
	moneyParsers []x402.MoneyParser
}

func NewExactSvmScheme() *ExactSvmScheme {
	return &ExactSvmScheme{}
}

func (s *ExactSvmScheme) Scheme() string {
	return svm.SchemeExact
}

// RegisterMoneyParser appends a custom converter to the parser chain.
// Parsers run in registration order on the decimal amount; returning nil
// defers to the next one, and the built-in default-asset conversion is
// always the last resort. Returns s for chaining.
func (s *ExactSvmScheme) RegisterMoneyParser(parser x402.MoneyParser) *ExactSvmScheme {
	s.moneyParsers = append(s.moneyParsers, parser)
	return s
}

// ParsePrice resolves a route's advertised price to an atomic AssetAmount.
// A map-form price without an asset falls back to the network's default
// mint rather than erroring, since SVM route configs commonly omit it.
func (s *ExactSvmScheme) ParsePrice(price x402.Price, network x402.Network) (x402.AssetAmount, error) {
	config, err := svm.GetNetworkConfig(string(network))
	if err != nil {
		return x402.AssetAmount{}, err
	}

	if resolved, isMap, err := x402.AssetAmountFromPrice(price); isMap {
		if err != nil {
			return x402.AssetAmount{}, err
		}
		if resolved.Asset == "" {
			resolved.Asset = config.DefaultAsset.Address
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

	atomic, err := svm.ParseAmount(fmt.Sprintf("%.6f", decimal), config.DefaultAsset.Decimals)
	if err != nil {
		return x402.AssetAmount{}, fmt.Errorf("failed to convert amount: %w", err)
	}
	return x402.AssetAmount{
		Amount: strconv.FormatUint(atomic, 10),
		Asset:  config.DefaultAsset.Address,
		Extra:  make(map[string]interface{}),
	}, nil
}

// EnhancePaymentRequirements fills the gaps between a priced route and a
// payable requirement: default mint, atomic units, and - critically for
// this rail - the fee payer the facilitator advertised via supported(),
// without which no client can construct a valid transaction.
func (s *ExactSvmScheme) EnhancePaymentRequirements(
	ctx context.Context,
	requirements types.PaymentRequirements,
	supportedKind types.SupportedKind,
	extensionKeys []string,
) (types.PaymentRequirements, error) {
	networkStr := requirements.Network
	config, err := svm.GetNetworkConfig(networkStr)
	if err != nil {
		return requirements, err
	}

	assetInfo := &config.DefaultAsset
	if requirements.Asset != "" {
		assetInfo, err = svm.GetAssetInfo(networkStr, requirements.Asset)
		if err != nil {
			return requirements, err
		}
	} else {
		requirements.Asset = assetInfo.Address
	}

	if strings.Contains(requirements.Amount, ".") {
		atomic, err := svm.ParseAmount(requirements.Amount, assetInfo.Decimals)
		if err != nil {
			return requirements, fmt.Errorf("failed to parse amount: %w", err)
		}
		requirements.Amount = strconv.FormatUint(atomic, 10)
	}

	if requirements.Extra == nil {
		requirements.Extra = make(map[string]interface{})
	}
	if supportedKind.Extra != nil {
		if feePayer, ok := supportedKind.Extra["feePayer"]; ok {
			requirements.Extra["feePayer"] = feePayer
		}
		for _, key := range extensionKeys {
			if val, ok := supportedKind.Extra[key]; ok {
				requirements.Extra[key] = val
			}
		}
	}

	return requirements, nil
}
