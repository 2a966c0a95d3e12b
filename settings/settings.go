// Package settings supplies institution-wide billing defaults: the VAT rate and
// the credit-card commission table keyed by installment count.
package settings

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

type Provider interface {
	VATRate(ctx context.Context) (decimal.Decimal, error)
	// CommissionRate returns the card commission percentage for a plan with n installments.
	// ok is false when the table has no applicable entry.
	CommissionRate(ctx context.Context, installmentCount int) (rate decimal.Decimal, ok bool, err error)
}

// Static serves fixed values, usually loaded from the environment at startup.
type Static struct {
	Vat        decimal.Decimal
	Commission map[int]decimal.Decimal
}

func (s Static) VATRate(context.Context) (decimal.Decimal, error) {
	return s.Vat, nil
}

// CommissionRate picks the exact installment count when configured, otherwise the
// closest lower tier. A count below every tier has no commission.
func (s Static) CommissionRate(_ context.Context, installmentCount int) (decimal.Decimal, bool, error) {
	if rate, ok := s.Commission[installmentCount]; ok {
		return rate, true, nil
	}
	tiers := make([]int, 0, len(s.Commission))
	for k := range s.Commission {
		tiers = append(tiers, k)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(tiers)))
	for _, tier := range tiers {
		if tier <= installmentCount {
			return s.Commission[tier], true, nil
		}
	}
	return decimal.Zero, false, nil
}

// ParseCommissionTable reads "count:rate" pairs separated by commas, e.g. "1:1.5,3:2.9,6:4".
func ParseCommissionTable(raw string) (map[int]decimal.Decimal, error) {
	table := make(map[int]decimal.Decimal)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return table, nil
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid commission entry %q", pair)
		}
		count, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("invalid installment count in %q", pair)
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
		if err != nil || rate.IsNegative() {
			return nil, fmt.Errorf("invalid commission rate in %q", pair)
		}
		table[count] = rate
	}
	return table, nil
}
