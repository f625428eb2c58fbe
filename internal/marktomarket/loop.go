package marktomarket

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"lv-posengine/internal/accounts"
	"lv-posengine/internal/errs"
	"lv-posengine/internal/margin"
	"lv-posengine/internal/positions"
	"lv-posengine/internal/stream"
	"lv-posengine/internal/symbols"
	"lv-posengine/internal/types"

	"github.com/shopspring/decimal"
)

// AggregateSink persists the overwritten per-account totals.
type AggregateSink interface {
	SetAggregates(ctx context.Context, account string, usedMargin, unrealizedPnL decimal.Decimal) error
}

type Config struct {
	// PositionPushEvery bounds position update pushes per position.
	PositionPushEvery time.Duration
	// CapitalPushEvery bounds capital pushes and aggregate persistence per account.
	CapitalPushEvery time.Duration
	// AlertCooldown bounds margin-call alerts per account.
	AlertCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.PositionPushEvery <= 0 {
		c.PositionPushEvery = 100 * time.Millisecond
	}
	if c.CapitalPushEvery <= 0 {
		c.CapitalPushEvery = 2 * time.Second
	}
	if c.AlertCooldown <= 0 {
		c.AlertCooldown = 5 * time.Second
	}
	return c
}

type posPushKey struct {
	account string
	id      string
}

// MarginCallAlert is pushed when an account's free margin goes negative.
type MarginCallAlert struct {
	Message    string `json:"message"`
	FreeMargin string `json:"free_margin"`
}

// Loop is the single consumer of the internal tick stream. Per tick it
// recomputes the valuation of every affected position, overwrites the
// owning accounts' totals, and emits throttled session updates. Errors for
// one account are logged and skipped, never fatal to the loop.
type Loop struct {
	bus     *stream.TickBus
	store   *positions.Store
	catalog *symbols.Catalog
	sink    AggregateSink
	reader  positions.BalanceReader
	pub     positions.Publisher
	cfg     Config

	now         func() time.Time
	lastPosPush map[posPushKey]time.Time
	lastCapPush map[string]time.Time
	lastAlert   map[string]time.Time
}

func NewLoop(bus *stream.TickBus, store *positions.Store, catalog *symbols.Catalog, sink AggregateSink, reader positions.BalanceReader, pub positions.Publisher, cfg Config) *Loop {
	return &Loop{
		bus:         bus,
		store:       store,
		catalog:     catalog,
		sink:        sink,
		reader:      reader,
		pub:         pub,
		cfg:         cfg.withDefaults(),
		now:         time.Now,
		lastPosPush: make(map[posPushKey]time.Time),
		lastCapPush: make(map[string]time.Time),
		lastAlert:   make(map[string]time.Time),
	}
}

// Run consumes ticks until the context is canceled.
func (l *Loop) Run(ctx context.Context) {
	sub := l.bus.Subscribe()
	defer l.bus.Unsubscribe(sub)
	log.Printf("[mtm] loop started")
	for {
		select {
		case <-ctx.Done():
			log.Printf("[mtm] loop stopped")
			return
		case tick := <-sub:
			l.HandleTick(ctx, tick)
		}
	}
}

// HandleTick marks every position with exposure in the tick's symbol.
func (l *Loop) HandleTick(ctx context.Context, tick stream.Tick) {
	if tick.Symbol == "" || !tick.Mid.IsPositive() {
		log.Printf("[mtm] dropping malformed tick %+v", tick)
		return
	}
	spec, err := l.catalog.Spec(tick.Symbol)
	if err != nil {
		log.Printf("[mtm] dropping tick for unknown symbol %s", tick.Symbol)
		return
	}

	for _, account := range l.store.SubscribersOf(spec.Symbol) {
		if err := l.markAccount(ctx, account, spec, tick); err != nil {
			log.Printf("[mtm] account %s skipped: %v", account, err)
		}
	}
}

func (l *Loop) markAccount(ctx context.Context, account string, spec symbols.Spec, tick stream.Tick) error {
	tickTime := time.Unix(tick.TS, 0).UTC()

	for _, pos := range l.store.ActiveBySymbol(account, spec.Symbol) {
		unrealPnL := margin.UnrealizedPnL(pos.Side(), pos.AvgEntry, tick.Mid, pos.NetLots.Abs(), spec.ContractSize)
		required, err := margin.RequiredMargin(pos.NetLots, tick.Mid, spec.ContractSize, pos.Leverage)
		if err != nil {
			log.Printf("[mtm] position %s/%s skipped: %v", account, pos.ID, err)
			continue
		}
		if err := l.store.UpdateMark(account, pos.ID, tick.Mid, unrealPnL, required, tickTime); err != nil {
			continue
		}
		l.maybePushPosition(account, pos.ID)
	}

	// Account totals are always a full recompute over every open position,
	// not just the ones this tick touched.
	var totalUsed, totalPnL decimal.Decimal
	for _, pos := range l.store.ListActive(account) {
		totalUsed = totalUsed.Add(pos.Margin)
		totalPnL = totalPnL.Add(pos.UnrealPnL)
	}
	l.store.SetAggregates(account, totalUsed, totalPnL)

	balance, err := l.accountBalance(ctx, account)
	if err != nil {
		return fmt.Errorf("aggregate for %s: %w", account, err)
	}
	capital := accounts.Compute(balance, totalUsed, totalPnL)

	l.maybePushCapital(ctx, account, capital)
	l.maybeAlertMarginCall(account, capital)
	return nil
}

func (l *Loop) accountBalance(ctx context.Context, account string) (decimal.Decimal, error) {
	if state, ok := l.store.Account(account); ok {
		return state.Balance, nil
	}
	balance, err := l.reader.Balance(ctx, account)
	if err != nil {
		return decimal.Zero, err
	}
	l.store.SetBalance(account, balance)
	return balance, nil
}

func (l *Loop) maybePushPosition(account, id string) {
	if l.pub == nil {
		return
	}
	key := posPushKey{account: account, id: id}
	now := l.now()
	if last, ok := l.lastPosPush[key]; ok && now.Sub(last) < l.cfg.PositionPushEvery {
		return
	}
	pos, ok := l.store.Get(account, id)
	if !ok {
		return
	}
	l.pub.PushAccount(account, types.EventPositionUpdate, pos.Snapshot())
	l.lastPosPush[key] = now
}

func (l *Loop) maybePushCapital(ctx context.Context, account string, capital accounts.Capital) {
	now := l.now()
	if last, ok := l.lastCapPush[account]; ok && now.Sub(last) < l.cfg.CapitalPushEvery {
		return
	}
	l.lastCapPush[account] = now

	if l.sink != nil {
		if err := l.sink.SetAggregates(ctx, account, capital.UsedMargin, capital.UnrealizedPnL); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				log.Printf("[mtm] no account record for %s, skipping persistence", account)
			} else {
				log.Printf("[mtm] persisting aggregates for %s: %v", account, err)
			}
		}
	}
	if l.pub != nil {
		l.pub.PushAccount(account, types.EventCapitalUpdate, capital)
	}
}

func (l *Loop) maybeAlertMarginCall(account string, capital accounts.Capital) {
	if l.pub == nil || capital.FreeMargin.Sign() >= 0 {
		return
	}
	now := l.now()
	if last, ok := l.lastAlert[account]; ok && now.Sub(last) < l.cfg.AlertCooldown {
		return
	}
	l.lastAlert[account] = now
	l.pub.PushAccount(account, types.EventMarginCall, MarginCallAlert{
		Message:    "margin call: free margin below zero",
		FreeMargin: capital.FreeMargin.StringFixed(2),
	})
	log.Printf("[mtm] margin call for %s: free_margin=%s", account, capital.FreeMargin)
}
