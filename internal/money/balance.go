package money

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Balance is an immutable multi-currency value: at most one amount per
// currency. Absent currencies read as zero, and zero amounts are pruned so
// that IsZero and Equal are canonical. All operations return a new Balance.
//
// Comparison is only meaningful within a single currency; callers must not
// compare amounts across currencies.
type Balance struct {
	amounts map[string]decimal.Decimal
}

// NewBalance builds a Balance from any number of single-currency amounts.
// Amounts sharing a currency are summed.
func NewBalance(ms ...Money) Balance {
	b := Balance{}
	for _, m := range ms {
		b = b.AddMoney(m)
	}
	return b
}

func (b Balance) clone() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(b.amounts)+1)
	for c, a := range b.amounts {
		out[c] = a
	}
	return out
}

func prune(amounts map[string]decimal.Decimal) Balance {
	for c, a := range amounts {
		if a.IsZero() {
			delete(amounts, c)
		}
	}
	if len(amounts) == 0 {
		return Balance{}
	}
	return Balance{amounts: amounts}
}

// AddMoney returns the balance with one amount added in its currency.
func (b Balance) AddMoney(m Money) Balance {
	out := b.clone()
	out[m.Currency] = out[m.Currency].Add(m.Amount)
	return prune(out)
}

// Add combines two balances currency-wise.
func (b Balance) Add(o Balance) Balance {
	out := b.clone()
	for c, a := range o.amounts {
		out[c] = out[c].Add(a)
	}
	return prune(out)
}

// Sub subtracts a balance currency-wise.
func (b Balance) Sub(o Balance) Balance {
	return b.Add(o.Neg())
}

// Neg negates every currency amount.
func (b Balance) Neg() Balance {
	out := make(map[string]decimal.Decimal, len(b.amounts))
	for c, a := range b.amounts {
		out[c] = a.Neg()
	}
	return prune(out)
}

// IsZero reports whether every currency amount is zero.
func (b Balance) IsZero() bool { return len(b.amounts) == 0 }

// Get returns the amount held in one currency (zero if absent).
func (b Balance) Get(currency string) decimal.Decimal {
	return b.amounts[currency]
}

// Amounts lists the non-zero amounts ordered by currency code.
func (b Balance) Amounts() []Money {
	if len(b.amounts) == 0 {
		return nil
	}
	out := make([]Money, 0, len(b.amounts))
	for c, a := range b.amounts {
		out = append(out, Money{Amount: a, Currency: c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out
}

// Equal reports currency-wise equality.
func (b Balance) Equal(o Balance) bool {
	if len(b.amounts) != len(o.amounts) {
		return false
	}
	for c, a := range b.amounts {
		oa, ok := o.amounts[c]
		if !ok || !a.Equal(oa) {
			return false
		}
	}
	return true
}

func (b Balance) String() string {
	if b.IsZero() {
		return "0"
	}
	parts := make([]string, 0, len(b.amounts))
	for _, m := range b.Amounts() {
		parts = append(parts, m.String())
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON encodes the balance as a currency-ordered list of amounts.
func (b Balance) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Amounts())
}

// UnmarshalJSON decodes a list of amounts, summing duplicates.
func (b *Balance) UnmarshalJSON(data []byte) error {
	var ms []Money
	if err := json.Unmarshal(data, &ms); err != nil {
		return err
	}
	*b = NewBalance(ms...)
	return nil
}
