package positions

import (
	"time"

	"lv-posengine/internal/types"

	"github.com/shopspring/decimal"
)

// Position is one netted exposure bucket per (account, position id).
// NetLots is signed: positive long, negative short, zero flat. AvgEntry is
// meaningful only while NetLots is non-zero.
type Position struct {
	ID        string
	Account   string
	Symbol    string
	NetLots   decimal.Decimal
	AvgEntry  decimal.Decimal
	Leverage  int64
	OpenTime  time.Time
	Mark      decimal.Decimal
	UnrealPnL decimal.Decimal
	Margin    decimal.Decimal
	UpdatedAt time.Time
}

func (p Position) Open() bool {
	return !p.NetLots.IsZero()
}

func (p Position) Side() types.Side {
	switch p.NetLots.Sign() {
	case 1:
		return types.SideBuy
	case -1:
		return types.SideSell
	}
	return ""
}

// AccountState is the hot per-account aggregate. UsedMargin and UnrealPnL
// are overwritten whole by the mark-to-market loop; Balance is a cache of
// the durable balance and changes only when a booking lands.
type AccountState struct {
	Balance    decimal.Decimal
	UsedMargin decimal.Decimal
	UnrealPnL  decimal.Decimal
}

// Snapshot is the wire shape of one position for session pushes.
type Snapshot struct {
	ID        string     `json:"id"`
	Symbol    string     `json:"symbol"`
	Side      types.Side `json:"side"`
	NetLots   string     `json:"net_lots"`
	OpenPrice string     `json:"open_price"`
	Mark      string     `json:"mark"`
	UnrealPnL string     `json:"unreal_pnl"`
	Margin    string     `json:"margin"`
	OpenTime  int64      `json:"open_time"`
	TS        int64      `json:"ts"`
}

func (p Position) Snapshot() Snapshot {
	return Snapshot{
		ID:        p.ID,
		Symbol:    p.Symbol,
		Side:      p.Side(),
		NetLots:   p.NetLots.String(),
		OpenPrice: p.AvgEntry.String(),
		Mark:      p.Mark.String(),
		UnrealPnL: p.UnrealPnL.String(),
		Margin:    p.Margin.String(),
		OpenTime:  p.OpenTime.Unix(),
		TS:        p.UpdatedAt.Unix(),
	}
}
