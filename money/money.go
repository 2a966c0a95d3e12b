// Package money holds the decimal helpers every ledger mutation goes through.
// All stored amounts are rounded to two places before they reach the store.
package money

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Epsilon is the tolerance used when comparing a paid amount against a contracted one.
var Epsilon = decimal.New(1, -2)

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)
)

func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FloorZero clamps negative values to zero.
func FloorZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}

// Percent returns rate percent of amount, rounded to cents.
func Percent(amount, rate decimal.Decimal) decimal.Decimal {
	return amount.Mul(rate).Div(hundred).Round(2)
}

func Sum(values ...decimal.Decimal) decimal.Decimal {
	total := zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// WithinEpsilon reports whether |a-b| <= eps.
func WithinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// SplitEven divides total into n parts that differ by at most one cent and sum exactly to total.
// Leftover cents go to the leading parts.
func SplitEven(total decimal.Decimal, n int) []decimal.Decimal {
	if n <= 0 {
		return nil
	}
	cents := total.Round(2).Shift(2).IntPart()
	neg := cents < 0
	if neg {
		cents = -cents
	}
	base := cents / int64(n)
	rem := cents % int64(n)

	parts := make([]decimal.Decimal, n)
	for i := 0; i < n; i++ {
		c := base
		if int64(i) < rem {
			c++
		}
		if neg {
			c = -c
		}
		parts[i] = decimal.New(c, -2)
	}
	return parts
}

// ParseAmount accepts user-formatted amounts such as "1,200.50" or "MMK -20,000"
// as well as json.Number and float values coming from loosely typed payloads.
func ParseAmount(i interface{}) (decimal.Decimal, error) {
	switch v := i.(type) {
	case decimal.Decimal:
		return v, nil
	case string:
		return parseAmountString(v)
	case json.Number:
		return decimal.NewFromString(v.String())
	case float64:
		return decimal.NewFromFloat(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case int64:
		return decimal.NewFromInt(v), nil
	default:
		return zero, fmt.Errorf("invalid amount %v", i)
	}
}

func parseAmountString(v string) (decimal.Decimal, error) {
	s := strings.TrimSpace(v)
	s = strings.ReplaceAll(s, ",", "")

	neg := false
	// Keep digits, '.', and a '-' seen before the first digit only.
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			neg = true
		}
	}
	clean := b.String()
	if clean == "" {
		return zero, fmt.Errorf("invalid amount %q", v)
	}
	if neg {
		clean = "-" + clean
	}
	return decimal.NewFromString(clean)
}
