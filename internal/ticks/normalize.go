package ticks

import (
	"strings"
	"time"

	"lv-posengine/internal/errs"
	"lv-posengine/internal/stream"

	"github.com/shopspring/decimal"
)

// RawTick is one frame from the external feed. Prices arrive as strings;
// any side may be missing.
type RawTick struct {
	Symbol string `json:"symbol"`
	TS     int64  `json:"timestamp"`
	Bid    string `json:"bidPrice"`
	Ask    string `json:"askPrice"`
	Last   string `json:"lastPrice"`
}

// Normalize turns a raw feed frame into the canonical internal tick and the
// richer display quote. With zeroSpread enabled, bid, ask and last collapse
// to the mid before anything downstream sees them. A frame without a symbol
// or a usable price is rejected.
func Normalize(raw RawTick, zeroSpread bool) (stream.Tick, Quote, error) {
	symbol := strings.ToUpper(strings.TrimSpace(raw.Symbol))
	if symbol == "" {
		return stream.Tick{}, Quote{}, errs.Validation("tick without symbol")
	}

	bid := parsePrice(raw.Bid)
	ask := parsePrice(raw.Ask)
	last := parsePrice(raw.Last)

	var mid decimal.Decimal
	switch {
	case bid.IsPositive() && ask.IsPositive():
		mid = bid.Add(ask).Div(decimal.NewFromInt(2))
	case last.IsPositive():
		mid = last
	case bid.IsPositive():
		mid = bid
	case ask.IsPositive():
		mid = ask
	default:
		return stream.Tick{}, Quote{}, errs.Validation("tick for %s without price", symbol)
	}

	if zeroSpread {
		bid, ask, last = mid, mid, mid
	} else {
		if !bid.IsPositive() {
			bid = mid
		}
		if !ask.IsPositive() {
			ask = mid
		}
		if !last.IsPositive() {
			last = mid
		}
	}

	ts := raw.TS
	if ts <= 0 {
		ts = time.Now().Unix()
	}

	tick := stream.Tick{Symbol: symbol, Mid: mid, TS: ts}
	quote := Quote{
		Symbol: symbol,
		Bid:    bid.String(),
		Ask:    ask.String(),
		Last:   last.String(),
		TS:     ts,
	}
	return tick, quote, nil
}

func parsePrice(raw string) decimal.Decimal {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(raw)
	if err != nil || !v.IsPositive() {
		return decimal.Zero
	}
	return v
}
