// Package token provides shared stablecoin amount conversion utilities.
//
// USDC uses 6 decimal places on both supported networks. On-chain amounts
// arrive as raw integers in the smallest unit (1 USDC = 1,000,000 units)
// and are converted to decimal USD values for price comparison.
package token

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Decimals is the decimal precision of USDC.
const Decimals = 6

// Tolerance is the accepted fraction of the required price. Amounts at or
// above requiredPrice * Tolerance settle, absorbing on-chain rounding.
var Tolerance = decimal.RequireFromString("0.98")

// FromRaw converts a raw smallest-unit amount into a USD decimal using
// the given token precision.
func FromRaw(raw *big.Int, decimals int32) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -decimals)
}

// FromRawString converts a raw smallest-unit amount given as a decimal
// string (the form chain RPCs report token balances in). Returns
// (zero, false) on malformed input.
func FromRawString(raw string, decimals int32) (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d.Shift(-decimals), true
}

// MeetsPrice reports whether amountUsd satisfies requiredPriceUsd within
// the tolerance.
func MeetsPrice(amountUsd, requiredPriceUsd decimal.Decimal) bool {
	return amountUsd.GreaterThanOrEqual(requiredPriceUsd.Mul(Tolerance))
}
