package types

import "strings"

// DefaultDecimals is the implied precision of on-chain amounts.
const DefaultDecimals uint = 18

// Decimals returns the number of implied decimal places for a currency.
// Token amounts default to 18; the common stablecoins use 6 and fiat
// settlement currencies use their ISO 4217 minor units.
func Decimals(currency string) uint {
	switch strings.ToLower(currency) {
	case "usdc", "usdt":
		return 6
	case "usd", "eur", "gbp", "cad", "aud", "chf":
		return 2
	case "jpy", "krw", "vnd":
		return 0
	default:
		return DefaultDecimals
	}
}

// Format renders an amount in major units followed by the upper-cased
// currency code, e.g. "1.5 ETH".
func Format(a Amount, currency string) string {
	s := a.FormatMajor(Decimals(currency))
	if currency == "" {
		return s
	}

	return s + " " + strings.ToUpper(currency)
}
