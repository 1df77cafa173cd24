package pnl

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// AssetClassOption marks a fill as an options contract regardless of its
// symbol shape.
const AssetClassOption = "option"

var optionMultiplier = decimal.NewFromInt(100)

// occSymbol matches OCC-style option symbols: root, yymmdd expiry, call/put
// flag, zero-padded strike in thousandths (e.g. AAPL240621C00190000).
var occSymbol = regexp.MustCompile(`^[A-Z]{1,6}[0-9]{6}[CP][0-9]{8}$`)

// InferMultiplier resolves the contract multiplier for a fill. An explicit
// positive multiplier wins; otherwise options (by asset class tag or OCC
// symbol shape) get 100 and everything else gets 1.
func InferMultiplier(explicit decimal.Decimal, symbol, assetClass string) decimal.Decimal {
	if explicit.IsPositive() {
		return explicit
	}
	if strings.EqualFold(strings.TrimSpace(assetClass), AssetClassOption) {
		return optionMultiplier
	}
	if occSymbol.MatchString(strings.ToUpper(strings.TrimSpace(symbol))) {
		return optionMultiplier
	}
	return decimal.NewFromInt(1)
}
