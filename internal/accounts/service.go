package accounts

import (
	"context"
	"errors"

	"lv-posengine/internal/errs"
	"lv-posengine/internal/margin"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Service reads and persists per-account capital rows. Used margin and
// unrealized P&L are only ever written as a full overwrite computed from the
// current set of open positions.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

type Capital struct {
	Balance       decimal.Decimal `json:"balance"`
	Equity        decimal.Decimal `json:"equity"`
	UsedMargin    decimal.Decimal `json:"used_margin"`
	FreeMargin    decimal.Decimal `json:"free_margin"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	MarginLevel   decimal.Decimal `json:"margin_level"`
}

func (s *Service) Capital(ctx context.Context, account string) (Capital, error) {
	var balance, used, upnl decimal.Decimal
	err := s.pool.QueryRow(ctx,
		"select balance, used_margin, unrealized_pnl from accounts where id = $1",
		account).Scan(&balance, &used, &upnl)
	if errors.Is(err, pgx.ErrNoRows) {
		return Capital{}, errs.ErrNotFound
	}
	if err != nil {
		return Capital{}, err
	}
	return Compute(balance, used, upnl), nil
}

// SetAggregates overwrites the persisted used-margin and unrealized-P&L
// columns for the account.
func (s *Service) SetAggregates(ctx context.Context, account string, usedMargin, unrealizedPnL decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx,
		"update accounts set used_margin = $1, unrealized_pnl = $2, updated_at = now() where id = $3",
		usedMargin, unrealizedPnL, account)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// Compute derives the full capital view from the three stored figures.
func Compute(balance, usedMargin, unrealizedPnL decimal.Decimal) Capital {
	equity := margin.Equity(balance, unrealizedPnL)
	return Capital{
		Balance:       balance,
		Equity:        equity,
		UsedMargin:    usedMargin,
		FreeMargin:    margin.FreeMargin(balance, unrealizedPnL, usedMargin),
		UnrealizedPnL: unrealizedPnL,
		MarginLevel:   margin.MarginLevel(equity, usedMargin),
	}
}
