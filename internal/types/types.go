package types

type Side string

type LedgerEntryKind string

type EventType string

const (
	SideBuy  Side = "Buy"
	SideSell Side = "Sell"
)

const (
	LedgerEntryRealizedPnL LedgerEntryKind = "realized_pnl"
	LedgerEntryFee         LedgerEntryKind = "fee"
	LedgerEntryDeposit     LedgerEntryKind = "deposit"
	LedgerEntryWithdrawal  LedgerEntryKind = "withdrawal"
	LedgerEntryAdjustment  LedgerEntryKind = "adjustment"
)

const (
	EventPositionsSnapshot EventType = "positions_snapshot"
	EventPositionUpdate    EventType = "positions_update"
	EventCapitalUpdate     EventType = "capital_update"
	EventMarginCall        EventType = "margin_call"
	EventQuote             EventType = "quote"
)
