package x402

import (
	"fmt"
	"strconv"
	"strings"
)

// AssetAmountFromPrice recognizes the pre-resolved map form of a Price
// ({amount, asset?, extra?}) and returns it as an AssetAmount. The second
// return is false when price is not in map form and the caller should fall
// back to money parsing.
func AssetAmountFromPrice(price Price) (*AssetAmount, bool, error) {
	priceMap, ok := price.(map[string]interface{})
	if !ok {
		return nil, false, nil
	}
	amountVal, ok := priceMap["amount"]
	if !ok {
		return nil, false, nil
	}
	amount, ok := amountVal.(string)
	if !ok {
		return nil, true, fmt.Errorf("amount must be a string")
	}

	out := &AssetAmount{Amount: amount, Extra: make(map[string]interface{})}
	if assetVal, ok := priceMap["asset"].(string); ok {
		out.Asset = assetVal
	}
	if extraVal, ok := priceMap["extra"].(map[string]interface{}); ok {
		out.Extra = extraVal
	}
	return out, true, nil
}

// ParseMoney reduces the Money forms of a Price to a decimal amount:
// "$0.01", "0.10 USDC", "1.50 USD", bare numeric strings, and raw
// numbers. Currency decoration is stripped, not interpreted - which token
// the amount denominates is the scheme's default-asset decision.
func ParseMoney(price Price) (float64, error) {
	switch v := price.(type) {
	case string:
		s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(v), "$"))
		if fields := strings.Fields(s); len(fields) > 0 {
			s = fields[0]
		}
		amount, err := strconv.ParseFloat(s, 64)
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

// RunMoneyParsers walks a registered parser chain over a decimal amount.
// A parser that errors is skipped; the first non-nil result wins; nil
// means every parser declined and the caller applies its default
// conversion.
func RunMoneyParsers(parsers []MoneyParser, amount float64, network Network) *AssetAmount {
	for _, parser := range parsers {
		result, err := parser(amount, network)
		if err != nil {
			continue
		}
		if result != nil {
			return result
		}
	}
	return nil
}
