// Package rates provides exchange rates for currency conversion.
package rates

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrUnknownCurrency = fmt.Errorf("unknown currency")

// Provider returns the multiplier converting one unit of from into to.
type Provider interface {
	Rate(from, to string) (decimal.Decimal, error)
}

// Func adapts a function to a Provider.
type Func func(from, to string) (decimal.Decimal, error)

func (f Func) Rate(from, to string) (decimal.Decimal, error) { return f(from, to) }

// Static quotes every currency against a single base currency and derives
// cross rates through it.
type Static struct {
	Base string
	// PerBase is the amount of each currency bought by one unit of Base.
	PerBase map[string]decimal.Decimal
}

// DefaultStatic is a fixed USD table used when no live provider is configured.
func DefaultStatic() *Static {
	return &Static{
		Base: "USD",
		PerBase: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("0.92"),
			"GBP": decimal.RequireFromString("0.79"),
			"JPY": decimal.RequireFromString("149.50"),
			"CAD": decimal.RequireFromString("1.36"),
			"AUD": decimal.RequireFromString("1.52"),
			"CHF": decimal.RequireFromString("0.88"),
			"CNY": decimal.RequireFromString("7.24"),
			"INR": decimal.RequireFromString("83.12"),
			"BTC": decimal.RequireFromString("0.000016"),
			"ETH": decimal.RequireFromString("0.00031"),
		},
	}
}

func (s *Static) quote(cur string) (decimal.Decimal, error) {
	cur = strings.ToUpper(strings.TrimSpace(cur))
	if cur == strings.ToUpper(s.Base) {
		return decimal.NewFromInt(1), nil
	}
	q, ok := s.PerBase[cur]
	if !ok || !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrUnknownCurrency, cur)
	}
	return q, nil
}

func (s *Static) Rate(from, to string) (decimal.Decimal, error) {
	qf, err := s.quote(from)
	if err != nil {
		return decimal.Zero, err
	}
	qt, err := s.quote(to)
	if err != nil {
		return decimal.Zero, err
	}
	return qt.DivRound(qf, 8), nil
}
