package symbols

import (
	"strings"

	"lv-posengine/internal/errs"

	"github.com/shopspring/decimal"
)

// Spec holds the immutable contract parameters for one instrument.
// Loaded once at startup, never mutated.
type Spec struct {
	Symbol         string
	Display        string
	Base           string
	Quote          string
	Precision      int32
	Pip            decimal.Decimal
	ContractSize   decimal.Decimal
	MinLot         decimal.Decimal
	LotStep        decimal.Decimal
	MaxLot         decimal.Decimal
	MaxLeverage    int64
	PriceBoundsPct decimal.Decimal
}

type Catalog struct {
	specs map[string]Spec
}

func NewCatalog() *Catalog {
	c := &Catalog{specs: make(map[string]Spec, len(defaultSpecs))}
	for _, s := range defaultSpecs {
		c.specs[s.Symbol] = s
	}
	return c
}

func (c *Catalog) Spec(symbol string) (Spec, error) {
	s, ok := c.specs[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Spec{}, errs.Validation("unknown symbol %q", symbol)
	}
	return s, nil
}

func (c *Catalog) Symbols() []string {
	out := make([]string, 0, len(c.specs))
	for sym := range c.specs {
		out = append(out, sym)
	}
	return out
}

func fxMajor(symbol, display, base, quote string, precision int32, pip string) Spec {
	return Spec{
		Symbol:         symbol,
		Display:        display,
		Base:           base,
		Quote:          quote,
		Precision:      precision,
		Pip:            decimal.RequireFromString(pip),
		ContractSize:   decimal.NewFromInt(100000),
		MinLot:         decimal.RequireFromString("0.01"),
		LotStep:        decimal.RequireFromString("0.01"),
		MaxLot:         decimal.NewFromInt(100),
		MaxLeverage:    5000,
		PriceBoundsPct: decimal.RequireFromString("0.02"),
	}
}

var defaultSpecs = []Spec{
	fxMajor("EURUSD", "EUR/USD", "EUR", "USD", 5, "0.0001"),
	fxMajor("GBPUSD", "GBP/USD", "GBP", "USD", 5, "0.0001"),
	fxMajor("USDJPY", "USD/JPY", "USD", "JPY", 3, "0.001"),
	fxMajor("AUDUSD", "AUD/USD", "AUD", "USD", 5, "0.0001"),
	fxMajor("USDCAD", "USD/CAD", "USD", "CAD", 5, "0.0001"),
	{
		Symbol:         "BTCUSDT",
		Display:        "BTC/USDT",
		Base:           "BTC",
		Quote:          "USDT",
		Precision:      2,
		Pip:            decimal.RequireFromString("0.01"),
		ContractSize:   decimal.NewFromInt(1),
		MinLot:         decimal.RequireFromString("0.001"),
		LotStep:        decimal.RequireFromString("0.001"),
		MaxLot:         decimal.NewFromInt(1000),
		MaxLeverage:    5000,
		PriceBoundsPct: decimal.RequireFromString("0.05"),
	},
}
