// Package docs holds the postable business documents of the shop — loans,
// loan payments, purchases, sales and receipts — each implementing the
// engine's transactor protocol. Only this package knows which ledgers a
// document moves; the engine never inspects document fields.
package docs

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RateFunc looks up the unit price of a metal or currency at a point in
// time. It is an injected read-only dependency; the ledger engine itself
// never calls it.
type RateFunc func(symbol string, asOf time.Time) (decimal.Decimal, error)

var ErrUnknownSymbol = errors.New("unknown rate symbol")

// FixedRate returns a RateFunc serving a static price table. Useful for
// tests and offline runs.
func FixedRate(prices map[string]decimal.Decimal) RateFunc {
	return func(symbol string, _ time.Time) (decimal.Decimal, error) {
		p, ok := prices[symbol]
		if !ok {
			return decimal.Decimal{}, fmt.Errorf("%w: %q", ErrUnknownSymbol, symbol)
		}
		return p, nil
	}
}
