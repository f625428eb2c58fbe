package positions

import (
	"sort"
	"sync"
	"time"

	"lv-posengine/internal/errs"
	"lv-posengine/internal/netting"

	"github.com/shopspring/decimal"
)

type posKey struct {
	account string
	id      string
}

type posEntry struct {
	mu  sync.Mutex
	pos Position
}

// Store is the authoritative hot-state table of open positions plus the
// secondary indices the tick loop needs: active positions per account and
// accounts with exposure per symbol.
//
// Fills against the same (account, id) serialize on the entry mutex so the
// netting math never runs on a stale read; different keys proceed in
// parallel. Mark updates take the same entry mutex but touch only the
// mark/pnl/margin fields.
type Store struct {
	mu       sync.RWMutex
	byKey    map[posKey]*posEntry
	active   map[string]map[string]struct{}
	bySymbol map[string]map[string]int
	accounts map[string]*AccountState
}

func NewStore() *Store {
	return &Store{
		byKey:    make(map[posKey]*posEntry),
		active:   make(map[string]map[string]struct{}),
		bySymbol: make(map[string]map[string]int),
		accounts: make(map[string]*AccountState),
	}
}

// Fill is the store-level view of an executed trade: signed lots at a price.
type Fill struct {
	Symbol       string
	Lots         decimal.Decimal
	Price        decimal.Decimal
	Leverage     int64
	ContractSize decimal.Decimal
	LotStep      decimal.Decimal
	Time         time.Time
}

// Apply nets one fill into the position, creating it when absent. Returns
// the updated position and the realized P&L of the reduced portion.
func (s *Store) Apply(account, id string, fill Fill) (Position, decimal.Decimal, error) {
	key := posKey{account: account, id: id}
	s.mu.Lock()
	entry, ok := s.byKey[key]
	if !ok {
		entry = &posEntry{pos: Position{ID: id, Account: account, Symbol: fill.Symbol}}
		s.byKey[key] = entry
	}
	s.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	pos := entry.pos
	if pos.Open() && pos.Symbol != fill.Symbol {
		return Position{}, decimal.Zero, errs.Validation("position %s is %s, not %s", id, pos.Symbol, fill.Symbol)
	}

	res, err := netting.Apply(pos.NetLots, pos.AvgEntry, fill.Lots, fill.Price, fill.ContractSize, fill.LotStep)
	if err != nil {
		return Position{}, decimal.Zero, err
	}

	wasOpen := pos.Open()
	pos.Symbol = fill.Symbol
	pos.NetLots = res.Net
	pos.AvgEntry = res.Avg
	pos.Leverage = fill.Leverage
	pos.UpdatedAt = fill.Time
	if !wasOpen && res.Net.Sign() != 0 {
		pos.OpenTime = fill.Time
	}
	if res.Flipped {
		pos.OpenTime = fill.Time
	}
	if res.Closed {
		pos.Mark = fill.Price
		pos.UnrealPnL = decimal.Zero
		pos.Margin = decimal.Zero
	}
	entry.pos = pos

	s.mu.Lock()
	if pos.Open() {
		s.indexOpenLocked(account, id, fill.Symbol, !wasOpen)
	} else if wasOpen {
		s.indexCloseLocked(account, id, fill.Symbol)
	}
	s.mu.Unlock()

	return pos, res.Realized, nil
}

func (s *Store) indexOpenLocked(account, id, symbol string, newlyOpen bool) {
	if !newlyOpen {
		return
	}
	if s.active[account] == nil {
		s.active[account] = make(map[string]struct{})
	}
	s.active[account][id] = struct{}{}
	if s.bySymbol[symbol] == nil {
		s.bySymbol[symbol] = make(map[string]int)
	}
	s.bySymbol[symbol][account]++
}

func (s *Store) indexCloseLocked(account, id, symbol string) {
	delete(s.active[account], id)
	if len(s.active[account]) == 0 {
		delete(s.active, account)
	}
	if counts := s.bySymbol[symbol]; counts != nil {
		counts[account]--
		if counts[account] <= 0 {
			delete(counts, account)
		}
		if len(counts) == 0 {
			delete(s.bySymbol, symbol)
		}
	}
}

func (s *Store) Get(account, id string) (Position, bool) {
	s.mu.RLock()
	entry, ok := s.byKey[posKey{account: account, id: id}]
	s.mu.RUnlock()
	if !ok {
		return Position{}, false
	}
	entry.mu.Lock()
	pos := entry.pos
	entry.mu.Unlock()
	return pos, true
}

// UpdateMark overwrites the valuation fields of one position. Net size and
// average entry are never touched here; last writer wins is fine because
// every tick fully recomputes from current inputs.
func (s *Store) UpdateMark(account, id string, mark, unrealPnL, requiredMargin decimal.Decimal, ts time.Time) error {
	s.mu.RLock()
	entry, ok := s.byKey[posKey{account: account, id: id}]
	s.mu.RUnlock()
	if !ok {
		return errs.ErrNotFound
	}
	entry.mu.Lock()
	entry.pos.Mark = mark
	entry.pos.UnrealPnL = unrealPnL
	entry.pos.Margin = requiredMargin
	entry.pos.UpdatedAt = ts
	entry.mu.Unlock()
	return nil
}

// ListActive returns copies of the account's open positions, oldest first.
func (s *Store) ListActive(account string) []Position {
	s.mu.RLock()
	ids := make([]string, 0, len(s.active[account]))
	for id := range s.active[account] {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	out := make([]Position, 0, len(ids))
	for _, id := range ids {
		if pos, ok := s.Get(account, id); ok && pos.Open() {
			out = append(out, pos)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out
}

// ActiveBySymbol filters the account's open positions to one symbol.
func (s *Store) ActiveBySymbol(account, symbol string) []Position {
	all := s.ListActive(account)
	out := all[:0]
	for _, pos := range all {
		if pos.Symbol == symbol {
			out = append(out, pos)
		}
	}
	return out
}

// FindOpen returns the account's oldest open position in the symbol, if any.
func (s *Store) FindOpen(account, symbol string) (Position, bool) {
	active := s.ActiveBySymbol(account, symbol)
	if len(active) == 0 {
		return Position{}, false
	}
	return active[0], true
}

// SubscribersOf lists accounts holding open exposure in the symbol.
func (s *Store) SubscribersOf(symbol string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.bySymbol[symbol]))
	for account := range s.bySymbol[symbol] {
		out = append(out, account)
	}
	return out
}

// Account returns the hot aggregate state for the account.
func (s *Store) Account(account string) (AccountState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.accounts[account]
	if !ok {
		return AccountState{}, false
	}
	return *st, true
}

// SetBalance caches the durable balance after a booking or hydration.
func (s *Store) SetBalance(account string, balance decimal.Decimal) {
	s.mu.Lock()
	st, ok := s.accounts[account]
	if !ok {
		st = &AccountState{}
		s.accounts[account] = st
	}
	st.Balance = balance
	s.mu.Unlock()
}

// SetAggregates overwrites the account's used margin and unrealized P&L.
// Always a full overwrite, never an increment, so drift cannot accumulate.
func (s *Store) SetAggregates(account string, usedMargin, unrealPnL decimal.Decimal) {
	s.mu.Lock()
	st, ok := s.accounts[account]
	if !ok {
		st = &AccountState{}
		s.accounts[account] = st
	}
	st.UsedMargin = usedMargin
	st.UnrealPnL = unrealPnL
	s.mu.Unlock()
}
