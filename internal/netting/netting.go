package netting

import (
	"lv-posengine/internal/errs"

	"github.com/shopspring/decimal"
)

// Result is the outcome of applying one fill to a netted position.
type Result struct {
	Net      decimal.Decimal
	Avg      decimal.Decimal
	Realized decimal.Decimal
	Closed   bool
	Flipped  bool
}

// Apply nets a signed fill of fillLots at fillPrice into a position with the
// given net size and average entry. Realized P&L is produced only for the
// reduced portion. A fill that flips through zero re-bases the average entry
// of the new leg to the fill price.
func Apply(net, avg, fillLots, fillPrice, contractSize, lotStep decimal.Decimal) (Result, error) {
	if fillLots.IsZero() {
		return Result{}, errs.Validation("fill size must be non-zero")
	}
	if !fillPrice.IsPositive() {
		return Result{}, errs.Validation("fill price must be positive")
	}
	if !contractSize.IsPositive() {
		return Result{}, errs.Validation("contract size must be positive")
	}

	net = roundToStep(net, lotStep)
	fillLots = roundToStep(fillLots, lotStep)
	if fillLots.IsZero() {
		return Result{}, errs.Validation("fill size below lot step")
	}

	// Opening from flat.
	if net.IsZero() {
		return Result{Net: fillLots, Avg: fillPrice, Realized: decimal.Zero}, nil
	}

	// Same direction: weighted-average entry, nothing realized.
	if net.Sign() == fillLots.Sign() {
		newNet := net.Add(fillLots)
		newAvg := avg.Mul(net).Add(fillPrice.Mul(fillLots)).Div(newNet)
		return Result{Net: newNet, Avg: newAvg, Realized: decimal.Zero}, nil
	}

	// Opposite direction: realize P&L on the closed portion.
	reduceQty := decimal.Min(fillLots.Abs(), net.Abs())
	var realized decimal.Decimal
	if net.IsPositive() {
		realized = fillPrice.Sub(avg).Mul(contractSize).Mul(reduceQty)
	} else {
		realized = avg.Sub(fillPrice).Mul(contractSize).Mul(reduceQty)
	}

	newNet := roundToStep(net.Add(fillLots), lotStep)
	if newNet.IsZero() {
		return Result{Net: decimal.Zero, Avg: decimal.Zero, Realized: realized, Closed: true}, nil
	}
	if newNet.Sign() != net.Sign() {
		// Flipped through zero: the remainder is a fresh leg at the fill price.
		return Result{Net: newNet, Avg: fillPrice, Realized: realized, Flipped: true}, nil
	}
	return Result{Net: newNet, Avg: avg, Realized: realized}, nil
}

// roundToStep snaps a lot quantity to the symbol's lot-step precision so
// arithmetic residues count as exactly zero.
func roundToStep(lots, lotStep decimal.Decimal) decimal.Decimal {
	if !lotStep.IsPositive() {
		return lots
	}
	exp := -lotStep.Exponent()
	if exp < 0 {
		exp = 0
	}
	return lots.Round(exp)
}
