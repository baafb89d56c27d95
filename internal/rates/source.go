// Package rates fetches executable market quotes from P2P venues.
package rates

import (
	"context"

	"github.com/shopspring/decimal"
)

// PaymentMethodAll asks a venue for quotes regardless of payment channel.
const PaymentMethodAll = "all"

// MarketQuote is one advertised price on a venue.
type MarketQuote struct {
	SourceID               string
	Price                  decimal.Decimal
	MinAmount              decimal.Decimal
	MaxAmount              decimal.Decimal
	CounterpartyName       string
	CompletedOrderEstimate int
	CompletionRate         decimal.Decimal
}

// Source returns up to maxCount quotes for the payment-method tag, best first.
type Source interface {
	FetchQuotes(ctx context.Context, paymentMethod string, maxCount int) ([]MarketQuote, error)
}

// usable drops non-positive prices and trims to maxCount.
func usable(quotes []MarketQuote, maxCount int) []MarketQuote {
	out := make([]MarketQuote, 0, len(quotes))
	for _, q := range quotes {
		if !q.Price.IsPositive() {
			continue
		}
		out = append(out, q)
		if maxCount > 0 && len(out) == maxCount {
			break
		}
	}
	return out
}
