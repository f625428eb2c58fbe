package margin

import (
	"testing"

	"lv-posengine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestRequiredMargin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lots     string
		price    string
		cs       string
		leverage int64
		want     string
	}{
		{"one lot fx", "1", "1.2", "100000", 500, "240"},
		{"two lots fx", "2", "1.2", "100000", 500, "480"},
		{"fraction of a lot", "0.1", "1.1", "100000", 100, "110"},
		{"short uses magnitude", "-2", "1.5", "100000", 1000, "300"},
		{"unit contract", "3", "50000", "1", 10, "15000"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := RequiredMargin(d(tt.lots), d(tt.price), d(tt.cs), tt.leverage)
			require.NoError(t, err)
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestRequiredMargin_InvalidLeverage(t *testing.T) {
	t.Parallel()

	_, err := RequiredMargin(d("1"), d("1.2"), d("100000"), 0)
	assert.Error(t, err)
	_, err = RequiredMargin(d("1"), d("1.2"), d("100000"), -5)
	assert.Error(t, err)
}

func TestUnrealizedPnL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		side  types.Side
		entry string
		mark  string
		lots  string
		cs    string
		want  string
	}{
		{"long gain", types.SideBuy, "1.1000", "1.1050", "1", "100000", "500"},
		{"long loss", types.SideBuy, "1.1000", "1.0950", "1", "100000", "-500"},
		{"short gain", types.SideSell, "1.1000", "1.0950", "1", "100000", "500"},
		{"short loss", types.SideSell, "1.1000", "1.1050", "1", "100000", "-500"},
		{"flat mark", types.SideBuy, "100", "100", "5", "1", "0"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := UnrealizedPnL(tt.side, d(tt.entry), d(tt.mark), d(tt.lots), d(tt.cs))
			assert.True(t, got.Equal(d(tt.want)), "got %s want %s", got, tt.want)
		})
	}
}

func TestFreeMarginAndEquity(t *testing.T) {
	t.Parallel()

	free := FreeMargin(d("1000"), d("-200"), d("300"))
	assert.True(t, free.Equal(d("500")))

	equity := Equity(d("1000"), d("-200"))
	assert.True(t, equity.Equal(d("800")))
}

func TestMarginLevel(t *testing.T) {
	t.Parallel()

	// 800 equity on 400 used margin = 200%.
	level := MarginLevel(d("800"), d("400"))
	assert.True(t, level.Equal(d("200")))

	// No exposure reads as zero, never a division error.
	assert.True(t, MarginLevel(d("800"), decimal.Zero).IsZero())
	assert.True(t, MarginLevel(d("800"), d("-1")).IsZero())
}
