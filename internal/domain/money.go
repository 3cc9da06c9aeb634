package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "USD"

// minorUnits is the ISO 4217 exponent per supported currency.
var minorUnits = map[string]int32{
	"USD": 2,
	"EUR": 2,
	"GBP": 2,
	"JPY": 0,
}

// MinorUnits returns the number of decimal places of currency's minor unit.
func MinorUnits(currency string) int32 {
	if n, ok := minorUnits[strings.ToUpper(currency)]; ok {
		return n
	}
	return 2
}

// ValidAmount reports whether amount is strictly positive and carries no
// precision below the currency's minor unit.
func ValidAmount(amount decimal.Decimal, currency string) bool {
	if !amount.IsPositive() {
		return false
	}
	return amount.Equal(amount.Truncate(MinorUnits(currency)))
}

// FormatAmount renders amount with exactly the currency's minor-unit digits.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(MinorUnits(currency))
}
