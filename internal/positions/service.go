package positions

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"lv-posengine/internal/errs"
	"lv-posengine/internal/margin"
	"lv-posengine/internal/symbols"
	"lv-posengine/internal/types"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
)

// Booker commits a realized P&L delta to the durable ledger and balance,
// exactly once per reference. Returns the resulting balance and whether the
// delta was applied (false when the reference was already booked).
type Booker interface {
	BookRealizedPnL(ctx context.Context, account string, amount decimal.Decimal, symbol, reference string) (decimal.Decimal, bool, error)
}

// BalanceReader hydrates the hot balance cache from the durable store.
type BalanceReader interface {
	Balance(ctx context.Context, account string) (decimal.Decimal, error)
}

// PriceSource exposes the last cached mid price per symbol.
type PriceSource interface {
	Mid(symbol string) (decimal.Decimal, bool)
}

// Publisher pushes events to an account's connected sessions. Sends are
// best-effort and must never block.
type Publisher interface {
	PushAccount(account string, event types.EventType, data any)
}

type Service struct {
	store   *Store
	catalog *symbols.Catalog
	booker  Booker
	reader  BalanceReader
	prices  PriceSource
	pub     Publisher
}

func NewService(store *Store, catalog *symbols.Catalog, booker Booker, reader BalanceReader, prices PriceSource, pub Publisher) *Service {
	return &Service{store: store, catalog: catalog, booker: booker, reader: reader, prices: prices, pub: pub}
}

type FillRequest struct {
	Account    string
	Symbol     string
	Side       types.Side
	Lots       decimal.Decimal
	Price      decimal.Decimal
	Leverage   int64
	PositionID string
	ClientRef  string
}

type FillResult struct {
	Position  Snapshot        `json:"position"`
	Realized  decimal.Decimal `json:"realized"`
	Booked    bool            `json:"booked"`
	Reference string          `json:"reference"`
}

// ApplyFill validates and nets one executed fill into the account's
// position, booking any realized P&L durably. Validation failures reject the
// fill before any state mutation.
func (s *Service) ApplyFill(ctx context.Context, req FillRequest) (FillResult, error) {
	if strings.TrimSpace(req.Account) == "" {
		return FillResult{}, errs.Validation("missing account")
	}
	if req.Side != types.SideBuy && req.Side != types.SideSell {
		return FillResult{}, errs.Validation("invalid side %q", req.Side)
	}
	if !req.Lots.IsPositive() {
		return FillResult{}, errs.Validation("lots must be positive")
	}
	if !req.Price.IsPositive() {
		return FillResult{}, errs.Validation("price must be positive")
	}

	spec, err := s.catalog.Spec(req.Symbol)
	if err != nil {
		return FillResult{}, err
	}
	if req.Lots.LessThan(spec.MinLot) {
		return FillResult{}, errs.Validation("lots below minimum %s", spec.MinLot)
	}
	if req.Lots.GreaterThan(spec.MaxLot) {
		return FillResult{}, errs.Validation("lots above maximum %s", spec.MaxLot)
	}
	if req.Leverage <= 0 {
		return FillResult{}, errs.Validation("invalid leverage %d", req.Leverage)
	}
	if req.Leverage > spec.MaxLeverage {
		return FillResult{}, errs.Validation("leverage above cap %d", spec.MaxLeverage)
	}
	if err := s.checkPriceBounds(spec, req.Price); err != nil {
		return FillResult{}, err
	}

	signedLots := req.Lots
	if req.Side == types.SideSell {
		signedLots = signedLots.Neg()
	}

	positionID := req.PositionID
	if positionID == "" {
		if existing, ok := s.store.FindOpen(req.Account, spec.Symbol); ok {
			positionID = existing.ID
		} else {
			positionID = ulid.Make().String()
		}
	}

	if err := s.checkMargin(ctx, req, spec, signedLots, positionID); err != nil {
		return FillResult{}, err
	}

	now := time.Now().UTC()
	pos, realized, err := s.store.Apply(req.Account, positionID, Fill{
		Symbol:       spec.Symbol,
		Lots:         signedLots,
		Price:        req.Price,
		Leverage:     req.Leverage,
		ContractSize: spec.ContractSize,
		LotStep:      spec.LotStep,
		Time:         now,
	})
	if err != nil {
		return FillResult{}, err
	}

	reference := req.ClientRef
	if reference == "" {
		reference = ulid.Make().String()
	}

	result := FillResult{Position: pos.Snapshot(), Realized: realized, Reference: reference}
	if !realized.IsZero() {
		balance, applied, bookErr := s.booker.BookRealizedPnL(ctx, req.Account, realized, spec.Symbol, reference)
		if bookErr != nil {
			log.Printf("[fills] booking failed account=%s ref=%s: %v", req.Account, reference, bookErr)
			return result, fmt.Errorf("realized pnl %s not booked for ref %s: %w", realized, reference, errs.ErrInconsistent)
		}
		result.Booked = applied
		s.store.SetBalance(req.Account, balance)
	}

	if s.pub != nil {
		s.pub.PushAccount(req.Account, types.EventPositionUpdate, result.Position)
	}
	return result, nil
}

// ClosePosition fully closes a position at the last cached mid price.
func (s *Service) ClosePosition(ctx context.Context, account, positionID string) (FillResult, error) {
	pos, ok := s.store.Get(account, positionID)
	if !ok {
		return FillResult{}, errs.ErrNotFound
	}
	if !pos.Open() {
		return FillResult{}, errs.Validation("position %s already closed", positionID)
	}
	mid, ok := s.prices.Mid(pos.Symbol)
	if !ok {
		return FillResult{}, errs.ErrPriceUnavailable
	}
	side := types.SideSell
	if pos.NetLots.Sign() < 0 {
		side = types.SideBuy
	}
	return s.ApplyFill(ctx, FillRequest{
		Account:    account,
		Symbol:     pos.Symbol,
		Side:       side,
		Lots:       pos.NetLots.Abs(),
		Price:      mid,
		Leverage:   pos.Leverage,
		PositionID: positionID,
	})
}

// Snapshot lists the account's open positions in wire shape.
func (s *Service) Snapshot(account string) []Snapshot {
	active := s.store.ListActive(account)
	out := make([]Snapshot, 0, len(active))
	for _, pos := range active {
		out = append(out, pos.Snapshot())
	}
	return out
}

func (s *Service) checkPriceBounds(spec symbols.Spec, price decimal.Decimal) error {
	if !spec.PriceBoundsPct.IsPositive() || s.prices == nil {
		return nil
	}
	mid, ok := s.prices.Mid(spec.Symbol)
	if !ok || !mid.IsPositive() {
		return nil
	}
	deviation := price.Sub(mid).Abs().Div(mid)
	if deviation.GreaterThan(spec.PriceBoundsPct) {
		return errs.Validation("price %s deviates more than %s%% from mark %s",
			price, spec.PriceBoundsPct.Mul(decimal.NewFromInt(100)), mid)
	}
	return nil
}

// checkMargin rejects exposure-increasing fills that would exceed free
// margin. Reducing fills always pass so an underwater account can still
// close out.
func (s *Service) checkMargin(ctx context.Context, req FillRequest, spec symbols.Spec, signedLots decimal.Decimal, positionID string) error {
	if current, ok := s.store.Get(req.Account, positionID); ok && current.Open() {
		if current.NetLots.Sign() != signedLots.Sign() && signedLots.Abs().LessThanOrEqual(current.NetLots.Abs()) {
			return nil
		}
	}

	required, err := margin.RequiredMargin(req.Lots, req.Price, spec.ContractSize, req.Leverage)
	if err != nil {
		return err
	}

	state, ok := s.store.Account(req.Account)
	if !ok {
		balance, readErr := s.reader.Balance(ctx, req.Account)
		if readErr != nil {
			return fmt.Errorf("read balance for %s: %w", req.Account, readErr)
		}
		s.store.SetBalance(req.Account, balance)
		state = AccountState{Balance: balance}
	}

	free := margin.FreeMargin(state.Balance, state.UnrealPnL, state.UsedMargin)
	if required.GreaterThan(free) {
		return errs.InsufficientMarginError{Required: required, Free: free}
	}
	return nil
}
