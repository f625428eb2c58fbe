package margin

import (
	"lv-posengine/internal/errs"
	"lv-posengine/internal/types"

	"github.com/shopspring/decimal"
)

// RequiredMargin returns |lots| * price * contractSize / leverage.
func RequiredMargin(lots, price, contractSize decimal.Decimal, leverage int64) (decimal.Decimal, error) {
	if leverage <= 0 {
		return decimal.Zero, errs.Validation("invalid leverage %d", leverage)
	}
	notional := lots.Abs().Mul(price).Mul(contractSize)
	return notional.Div(decimal.NewFromInt(leverage)), nil
}

// UnrealizedPnL values an open position at the mark price. Lots is an
// unsigned magnitude; the side fixes the sign convention.
func UnrealizedPnL(side types.Side, entry, mark, lots, contractSize decimal.Decimal) decimal.Decimal {
	size := lots.Abs().Mul(contractSize)
	if side == types.SideSell {
		return entry.Sub(mark).Mul(size)
	}
	return mark.Sub(entry).Mul(size)
}

// FreeMargin = balance + unrealized P&L - used margin.
func FreeMargin(balance, unrealizedPnL, usedMargin decimal.Decimal) decimal.Decimal {
	return balance.Add(unrealizedPnL).Sub(usedMargin)
}

// Equity = balance + unrealized P&L.
func Equity(balance, unrealizedPnL decimal.Decimal) decimal.Decimal {
	return balance.Add(unrealizedPnL)
}

// MarginLevel = equity / used margin * 100. Zero used margin yields a zero
// level; callers treat that as "no exposure", not distress.
func MarginLevel(equity, usedMargin decimal.Decimal) decimal.Decimal {
	if !usedMargin.IsPositive() {
		return decimal.Zero
	}
	return equity.Div(usedMargin).Mul(decimal.NewFromInt(100))
}
