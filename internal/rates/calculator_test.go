package rates

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func testTable() RateTable {
	return RateTable{
		Base: "USD",
		Rates: map[string]decimal.Decimal{
			"USD": decimal.NewFromInt(1),
			"EUR": decimal.RequireFromString("0.9"),
			"GBP": decimal.RequireFromString("0.8"),
			"XXX": decimal.Zero,
		},
		Timestamp: time.Now().UTC(),
	}
}

func TestComputeCrossRate(t *testing.T) {
	table := testTable()
	current := decimal.RequireFromString("1.234567")

	got := ComputeCrossRate(current, "EUR", "GBP", table)
	want := decimal.RequireFromString("0.888889") // 0.8/0.9 rounded half-up to 6dp
	if !got.Equal(want) {
		t.Fatalf("cross rate = %s, want %s", got, want)
	}

	got = ComputeCrossRate(current, "USD", "EUR", table)
	if !got.Equal(decimal.RequireFromString("0.9")) {
		t.Fatalf("USD/EUR = %s, want 0.9", got)
	}
}

func TestComputeCrossRateKeepsCurrentOnGaps(t *testing.T) {
	table := testTable()
	current := decimal.RequireFromString("42.5")

	cases := []struct {
		name         string
		base, target string
	}{
		{"missing base", "ZZZ", "EUR"},
		{"missing target", "EUR", "ZZZ"},
		{"zero base", "XXX", "EUR"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ComputeCrossRate(current, tc.base, tc.target, table)
			if !got.Equal(current) {
				t.Fatalf("rate = %s, want current %s unchanged", got, current)
			}
		})
	}
}

func TestChangePercent(t *testing.T) {
	oldRate := decimal.RequireFromString("1.18")
	newRate := decimal.RequireFromString("1.25")

	got, ok := ChangePercent(oldRate, newRate)
	if !ok {
		t.Fatal("change percent should be defined for non-zero old rate")
	}
	if !got.Equal(decimal.RequireFromString("5.93")) {
		t.Fatalf("change percent = %s, want 5.93", got)
	}
}

func TestChangePercentNegative(t *testing.T) {
	got, ok := ChangePercent(decimal.NewFromInt(2), decimal.RequireFromString("1.9"))
	if !ok {
		t.Fatal("change percent should be defined")
	}
	if !got.Equal(decimal.RequireFromString("-5")) {
		t.Fatalf("change percent = %s, want -5", got)
	}
}

func TestChangePercentRoundsRatioFirst(t *testing.T) {
	// ratio 0.0000499990 rounds to 0.000050 at six places before scaling,
	// so the percent lands on 0.01 rather than truncating to zero
	got, ok := ChangePercent(decimal.NewFromInt(10000), decimal.RequireFromString("10000.49990"))
	if !ok {
		t.Fatal("change percent should be defined")
	}
	if !got.Equal(decimal.RequireFromString("0.01")) {
		t.Fatalf("change percent = %s, want 0.01", got)
	}
}

func TestChangePercentUndefinedForZeroOld(t *testing.T) {
	if _, ok := ChangePercent(decimal.Zero, decimal.NewFromInt(1)); ok {
		t.Fatal("change percent must be undefined when old rate is zero")
	}
}
