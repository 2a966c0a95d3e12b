package settings

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCommissionTable(t *testing.T) {
	table, err := ParseCommissionTable(" 1:1.5, 3:2.9 ,6:4 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	expected := map[int]string{1: "1.5", 3: "2.9", 6: "4"}
	if len(table) != len(expected) {
		t.Fatalf("expected %d entries, got %d", len(expected), len(table))
	}
	for k, v := range expected {
		if !table[k].Equal(decimal.RequireFromString(v)) {
			t.Fatalf("entry %d expected %s, got %s", k, v, table[k])
		}
	}

	for _, bad := range []string{"1", "x:2", "0:1", "2:-1", "2:abc"} {
		if _, err := ParseCommissionTable(bad); err == nil {
			t.Fatalf("ParseCommissionTable(%q) expected error", bad)
		}
	}
}

func TestStatic_CommissionTiers(t *testing.T) {
	s := Static{
		Vat: decimal.NewFromInt(18),
		Commission: map[int]decimal.Decimal{
			2: decimal.RequireFromString("1.5"),
			6: decimal.RequireFromString("4"),
		},
	}
	cases := []struct {
		count    int
		ok       bool
		expected string
	}{
		{1, false, "0"},
		{2, true, "1.5"},
		{4, true, "1.5"},
		{6, true, "4"},
		{12, true, "4"},
	}
	for _, tc := range cases {
		rate, ok, err := s.CommissionRate(context.Background(), tc.count)
		if err != nil {
			t.Fatalf("count %d: %v", tc.count, err)
		}
		if ok != tc.ok || !rate.Equal(decimal.RequireFromString(tc.expected)) {
			t.Fatalf("count %d expected (%s,%v), got (%s,%v)", tc.count, tc.expected, tc.ok, rate, ok)
		}
	}
}

func TestCached_WithoutClientPassesThrough(t *testing.T) {
	c := NewCached(Static{Vat: decimal.NewFromInt(20)}, nil, 0)
	vat, err := c.VATRate(context.Background())
	if err != nil || !vat.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("expected 20, got %s (%v)", vat, err)
	}
	if _, ok, _ := c.CommissionRate(context.Background(), 3); ok {
		t.Fatalf("expected no commission for empty table")
	}
	if err := c.Invalidate(context.Background()); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
}
