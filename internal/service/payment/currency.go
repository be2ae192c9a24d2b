// internal/service/payment/currency.go
package payment

import (
	"fmt"
	"math"
	"strings"

	"audiotricks-service/internal/domain/payment"
)

// zeroDecimal currencies have no minor unit.
var zeroDecimal = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
	"UGX": true,
}

// Convert moves an amount in minor units between currencies. Rates are units of
// the currency per one US dollar.
func Convert(amountMinor int64, from, to *payment.Currency) (int64, error) {
	if from.RateToUSD <= 0 || to.RateToUSD <= 0 {
		return 0, fmt.Errorf("currency rate must be positive (%s=%v, %s=%v)", from.Code, from.RateToUSD, to.Code, to.RateToUSD)
	}
	if strings.EqualFold(from.Code, to.Code) {
		return amountMinor, nil
	}

	major := float64(amountMinor) / minorFactor(from.Code)
	converted := major / from.RateToUSD * to.RateToUSD
	return int64(math.Round(converted * minorFactor(to.Code))), nil
}

// FormatPrice renders an amount the way the pricing page shows it, e.g. "€9.19".
func FormatPrice(amountMinor int64, c *payment.Currency) string {
	symbol := c.Symbol
	if symbol == "" {
		symbol = c.Code + " "
	}
	if zeroDecimal[strings.ToUpper(c.Code)] {
		return fmt.Sprintf("%s%d", symbol, amountMinor)
	}
	return fmt.Sprintf("%s%.2f", symbol, float64(amountMinor)/100)
}

func minorFactor(code string) float64 {
	if zeroDecimal[strings.ToUpper(code)] {
		return 1
	}
	return 100
}
