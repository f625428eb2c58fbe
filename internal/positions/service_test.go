package positions

import (
	"context"
	"sync"
	"testing"

	"lv-posengine/internal/errs"
	"lv-posengine/internal/symbols"
	"lv-posengine/internal/types"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBooker struct {
	mu      sync.Mutex
	booked  map[string]decimal.Decimal
	balance decimal.Decimal
	err     error
}

func newFakeBooker(balance string) *fakeBooker {
	return &fakeBooker{booked: make(map[string]decimal.Decimal), balance: d(balance)}
}

func (b *fakeBooker) BookRealizedPnL(ctx context.Context, account string, amount decimal.Decimal, symbol, reference string) (decimal.Decimal, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return decimal.Zero, false, b.err
	}
	if _, ok := b.booked[reference]; ok {
		return b.balance, false, nil
	}
	b.booked[reference] = amount
	b.balance = b.balance.Add(amount)
	return b.balance, true, nil
}

func (b *fakeBooker) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance, nil
}

type fakePrices struct {
	mids map[string]decimal.Decimal
}

func (p fakePrices) Mid(symbol string) (decimal.Decimal, bool) {
	mid, ok := p.mids[symbol]
	return mid, ok
}

type fakePub struct {
	mu     sync.Mutex
	events []types.EventType
}

func (p *fakePub) PushAccount(account string, event types.EventType, data any) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func newTestService(balance string, mids map[string]decimal.Decimal) (*Service, *Store, *fakeBooker, *fakePub) {
	store := NewStore()
	booker := newFakeBooker(balance)
	pub := &fakePub{}
	svc := NewService(store, symbols.NewCatalog(), booker, booker, fakePrices{mids: mids}, pub)
	return svc, store, booker, pub
}

func TestApplyFill_OpensPosition(t *testing.T) {
	t.Parallel()

	svc, store, _, pub := newTestService("100000", nil)
	res, err := svc.ApplyFill(context.Background(), FillRequest{
		Account:  "acct-1",
		Symbol:   "eurusd",
		Side:     types.SideBuy,
		Lots:     d("0.10"),
		Price:    d("1.1000"),
		Leverage: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", res.Position.Symbol)
	assert.Equal(t, types.SideBuy, res.Position.Side)
	assert.True(t, res.Realized.IsZero())
	assert.False(t, res.Booked)
	assert.NotEmpty(t, res.Reference)

	active := store.ListActive("acct-1")
	require.Len(t, active, 1)
	assert.True(t, active[0].NetLots.Equal(d("0.1")))

	pub.mu.Lock()
	defer pub.mu.Unlock()
	require.Len(t, pub.events, 1)
	assert.Equal(t, types.EventPositionUpdate, pub.events[0])
}

func TestApplyFill_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _, _ := newTestService("100000", nil)
	base := FillRequest{
		Account:  "acct-1",
		Symbol:   "EURUSD",
		Side:     types.SideBuy,
		Lots:     d("0.10"),
		Price:    d("1.1000"),
		Leverage: 500,
	}

	tests := []struct {
		name   string
		mutate func(*FillRequest)
	}{
		{"missing account", func(r *FillRequest) { r.Account = " " }},
		{"bad side", func(r *FillRequest) { r.Side = "Hold" }},
		{"zero lots", func(r *FillRequest) { r.Lots = decimal.Zero }},
		{"negative lots", func(r *FillRequest) { r.Lots = d("-1") }},
		{"zero price", func(r *FillRequest) { r.Price = decimal.Zero }},
		{"unknown symbol", func(r *FillRequest) { r.Symbol = "XYZABC" }},
		{"below min lot", func(r *FillRequest) { r.Lots = d("0.001") }},
		{"above max lot", func(r *FillRequest) { r.Lots = d("10000") }},
		{"zero leverage", func(r *FillRequest) { r.Leverage = 0 }},
		{"leverage above cap", func(r *FillRequest) { r.Leverage = 100000 }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			req := base
			tt.mutate(&req)
			_, err := svc.ApplyFill(context.Background(), req)
			assert.Error(t, err)
		})
	}
}

func TestApplyFill_PriceBounds(t *testing.T) {
	t.Parallel()

	mids := map[string]decimal.Decimal{"EURUSD": d("1.1000")}
	svc, _, _, _ := newTestService("100000", mids)

	// Within 2% of the cached mid: accepted.
	_, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("0.10"), Price: d("1.1100"), Leverage: 500,
	})
	require.NoError(t, err)

	// 10% away: rejected before any mutation.
	_, err = svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-2", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("0.10"), Price: d("1.2100"), Leverage: 500,
	})
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestApplyFill_InsufficientMargin(t *testing.T) {
	t.Parallel()

	// 1 lot EURUSD at 1.1 with 1:500 needs 220; balance is 100.
	svc, _, _, _ := newTestService("100", nil)
	_, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("1"), Price: d("1.1000"), Leverage: 500,
	})
	require.Error(t, err)
	assert.True(t, errs.IsInsufficientMargin(err))
}

func TestApplyFill_ReducingFillSkipsMarginCheck(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService("300", nil)
	res, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("1"), Price: d("1.1000"), Leverage: 500,
	})
	require.NoError(t, err)

	// Simulate the account going deeply underwater.
	store.SetAggregates("acct-1", d("220"), d("-10000"))

	// Closing out must still be allowed.
	_, err = svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideSell,
		Lots: d("1"), Price: d("1.0000"), Leverage: 500,
		PositionID: res.Position.ID,
	})
	require.NoError(t, err)
	assert.Empty(t, store.ListActive("acct-1"))
}

func TestApplyFill_RealizedBookingIsIdempotent(t *testing.T) {
	t.Parallel()

	svc, _, booker, _ := newTestService("100000", nil)
	open, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("1"), Price: d("1.1000"), Leverage: 500,
	})
	require.NoError(t, err)

	close1, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideSell,
		Lots: d("1"), Price: d("1.1100"), Leverage: 500,
		PositionID: open.Position.ID,
		ClientRef:  "fill-77",
	})
	require.NoError(t, err)
	assert.True(t, close1.Realized.Equal(d("1000")), "got %s", close1.Realized)
	assert.True(t, close1.Booked)
	assert.True(t, booker.balance.Equal(d("101000")))

	// Retrying the same reference opens and closes nothing twice: the fill
	// nets against the flat bucket but the booking is a no-op.
	reopen, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("1"), Price: d("1.1000"), Leverage: 500,
		PositionID: open.Position.ID,
	})
	require.NoError(t, err)
	close2, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideSell,
		Lots: d("1"), Price: d("1.1100"), Leverage: 500,
		PositionID: reopen.Position.ID,
		ClientRef:  "fill-77",
	})
	require.NoError(t, err)
	assert.False(t, close2.Booked)
	assert.True(t, booker.balance.Equal(d("101000")), "balance moved twice: %s", booker.balance)
}

func TestApplyFill_BookingFailureReportsInconsistency(t *testing.T) {
	t.Parallel()

	svc, store, booker, _ := newTestService("100000", nil)
	open, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("1"), Price: d("1.1000"), Leverage: 500,
	})
	require.NoError(t, err)

	booker.mu.Lock()
	booker.err = assert.AnError
	booker.mu.Unlock()

	_, err = svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideSell,
		Lots: d("1"), Price: d("1.1100"), Leverage: 500,
		PositionID: open.Position.ID,
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrInconsistent)
	// The hot state already netted the fill; the caller must reconcile.
	assert.Empty(t, store.ListActive("acct-1"))
}

func TestApplyFill_ReusesOpenPositionBucket(t *testing.T) {
	t.Parallel()

	svc, store, _, _ := newTestService("100000", nil)
	first, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("0.10"), Price: d("1.1000"), Leverage: 500,
	})
	require.NoError(t, err)

	second, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("0.10"), Price: d("1.1200"), Leverage: 500,
	})
	require.NoError(t, err)

	assert.Equal(t, first.Position.ID, second.Position.ID)
	require.Len(t, store.ListActive("acct-1"), 1)
	pos, _ := store.Get("acct-1", first.Position.ID)
	assert.True(t, pos.NetLots.Equal(d("0.2")))
	assert.True(t, pos.AvgEntry.Equal(d("1.11")), "got %s", pos.AvgEntry)
}

func TestClosePosition(t *testing.T) {
	t.Parallel()

	mids := map[string]decimal.Decimal{"EURUSD": d("1.1200")}
	svc, store, booker, _ := newTestService("100000", mids)
	open, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("0.10"), Price: d("1.1000"), Leverage: 500,
	})
	require.NoError(t, err)

	res, err := svc.ClosePosition(context.Background(), "acct-1", open.Position.ID)
	require.NoError(t, err)
	// (1.1200-1.1000)*100000*0.1 = 200
	assert.True(t, res.Realized.Equal(d("200")), "got %s", res.Realized)
	assert.True(t, res.Booked)
	assert.True(t, booker.balance.Equal(d("100200")))
	assert.Empty(t, store.ListActive("acct-1"))
}

func TestClosePosition_Errors(t *testing.T) {
	t.Parallel()

	// No cached price for the symbol.
	svc, _, _, _ := newTestService("100000", nil)
	open, err := svc.ApplyFill(context.Background(), FillRequest{
		Account: "acct-1", Symbol: "EURUSD", Side: types.SideBuy,
		Lots: d("0.10"), Price: d("1.1000"), Leverage: 500,
	})
	require.NoError(t, err)

	_, err = svc.ClosePosition(context.Background(), "acct-1", "nope")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = svc.ClosePosition(context.Background(), "acct-1", open.Position.ID)
	assert.ErrorIs(t, err, errs.ErrPriceUnavailable)
}
