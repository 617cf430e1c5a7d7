package processor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// RateTableConverter converts between currencies through a base currency
// using a fixed rate table. Production deployments refresh the table from
// the platform's FX vendor; the Convert contract is the same either way.
type RateTableConverter struct {
	base string
	// units of base currency per one unit of the keyed currency
	rates map[string]decimal.Decimal
}

// NewRateTableConverter builds a converter around the given base currency.
// The base currency itself always has rate 1.
func NewRateTableConverter(baseCurrency string, rates map[string]decimal.Decimal) *RateTableConverter {
	normalized := make(map[string]decimal.Decimal, len(rates)+1)
	for cur, rate := range rates {
		normalized[strings.ToUpper(cur)] = rate
	}
	base := strings.ToUpper(baseCurrency)
	normalized[base] = decimal.NewFromInt(1)
	return &RateTableConverter{base: base, rates: normalized}
}

// Convert returns the amount in toCurrency along with the effective rate
// (units of toCurrency per unit of fromCurrency) and the conversion time.
func (c *RateTableConverter) Convert(ctx context.Context, amount decimal.Decimal, fromCurrency, toCurrency string) (*Conversion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	from := strings.ToUpper(fromCurrency)
	to := strings.ToUpper(toCurrency)

	if from == to {
		return &Conversion{
			Amount:    amount,
			Rate:      decimal.NewFromInt(1),
			Timestamp: time.Now().UTC(),
		}, nil
	}

	fromRate, ok := c.rates[from]
	if !ok {
		return nil, fmt.Errorf("no conversion rate for currency %s", from)
	}
	toRate, ok := c.rates[to]
	if !ok {
		return nil, fmt.Errorf("no conversion rate for currency %s", to)
	}

	rate := fromRate.Div(toRate)
	return &Conversion{
		Amount:    amount.Mul(rate).Round(2),
		Rate:      rate,
		Timestamp: time.Now().UTC(),
	}, nil
}
