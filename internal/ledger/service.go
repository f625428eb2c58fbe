package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"lv-posengine/internal/errs"
	"lv-posengine/internal/types"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Service owns the durable append-only ledger and the account balances it
// feeds. Balance-affecting operations for one account serialize on the
// account row lock; different accounts are independent.
type Service struct {
	pool *pgxpool.Pool
}

func NewService(pool *pgxpool.Pool) *Service {
	return &Service{pool: pool}
}

type Entry struct {
	ID        string          `json:"id"`
	AccountID string          `json:"account_id"`
	Symbol    string          `json:"symbol,omitempty"`
	Kind      string          `json:"kind"`
	Amount    decimal.Decimal `json:"amount"`
	Ref       string          `json:"ref"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Service) ensureAccount(ctx context.Context, tx pgx.Tx, account string) error {
	_, err := tx.Exec(ctx, "insert into accounts (id) values ($1) on conflict (id) do nothing", account)
	return err
}

// BookRealizedPnL applies a realized P&L delta to the account balance and
// appends the matching ledger row as one atomic unit. A reference that was
// already booked is a no-op: the call reports the current balance and
// applied=false. The account row lock excludes concurrent balance mutations
// for the same account.
func (s *Service) BookRealizedPnL(ctx context.Context, account string, amount decimal.Decimal, symbol, reference string) (decimal.Decimal, bool, error) {
	if reference == "" {
		return decimal.Zero, false, errs.Validation("missing booking reference")
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("begin booking tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ensureAccount(ctx, tx, account); err != nil {
		return decimal.Zero, false, err
	}
	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "select balance from accounts where id = $1 for update", account).Scan(&balance)
	if err != nil {
		return decimal.Zero, false, err
	}

	var exists bool
	err = tx.QueryRow(ctx, "select exists(select 1 from ledger_entries where kind = $1 and ref = $2)", string(types.LedgerEntryRealizedPnL), reference).Scan(&exists)
	if err != nil {
		return decimal.Zero, false, err
	}
	if exists {
		if err := tx.Commit(ctx); err != nil {
			return decimal.Zero, false, err
		}
		return balance, false, nil
	}

	_, err = tx.Exec(ctx,
		"insert into ledger_entries (account_id, symbol, kind, amount, ref, created_at) values ($1, nullif($2, ''), $3, $4, $5, $6)",
		account, symbol, string(types.LedgerEntryRealizedPnL), amount, reference, time.Now().UTC())
	if err != nil {
		return decimal.Zero, false, err
	}
	err = tx.QueryRow(ctx, "update accounts set balance = balance + $1, updated_at = now() where id = $2 returning balance", amount, account).Scan(&balance)
	if err != nil {
		return decimal.Zero, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, false, err
	}
	return balance, true, nil
}

// Adjust books a non-trading balance change (deposit, withdrawal, fee,
// administrative adjustment) under the same per-account lock discipline as
// realized P&L bookings.
func (s *Service) Adjust(ctx context.Context, account string, amount decimal.Decimal, kind types.LedgerEntryKind, reference string) (decimal.Decimal, error) {
	switch kind {
	case types.LedgerEntryRealizedPnL:
		return decimal.Zero, errs.Validation("realized pnl must go through BookRealizedPnL")
	case types.LedgerEntryFee, types.LedgerEntryDeposit, types.LedgerEntryWithdrawal, types.LedgerEntryAdjustment:
	default:
		return decimal.Zero, errs.Validation("unknown ledger kind %q", kind)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	if err := s.ensureAccount(ctx, tx, account); err != nil {
		return decimal.Zero, err
	}
	var balance decimal.Decimal
	err = tx.QueryRow(ctx, "select balance from accounts where id = $1 for update", account).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	_, err = tx.Exec(ctx,
		"insert into ledger_entries (account_id, kind, amount, ref, created_at) values ($1, $2, $3, $4, $5)",
		account, string(kind), amount, reference, time.Now().UTC())
	if err != nil {
		return decimal.Zero, err
	}
	err = tx.QueryRow(ctx, "update accounts set balance = balance + $1, updated_at = now() where id = $2 returning balance", amount, account).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// ReverseEntry deletes a ledger entry and applies the inverse balance delta
// in the same transaction, for administrative corrections.
func (s *Service) ReverseEntry(ctx context.Context, entryID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var account string
	var amount decimal.Decimal
	err = tx.QueryRow(ctx, "select account_id, amount from ledger_entries where id = $1", entryID).Scan(&account, &amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return errs.ErrNotFound
	}
	if err != nil {
		return err
	}
	var locked decimal.Decimal
	err = tx.QueryRow(ctx, "select balance from accounts where id = $1 for update", account).Scan(&locked)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "delete from ledger_entries where id = $1", entryID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, "update accounts set balance = balance - $1, updated_at = now() where id = $2", amount, account); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Balance reads the durable balance; an account never touched yet reads as
// zero.
func (s *Service) Balance(ctx context.Context, account string) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.pool.QueryRow(ctx, "select balance from accounts where id = $1", account).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	return balance, err
}

// EntriesByAccount lists recent ledger rows, newest first.
func (s *Service) EntriesByAccount(ctx context.Context, account string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx,
		"select id, account_id, coalesce(symbol, ''), kind, amount, ref, created_at from ledger_entries where account_id = $1 order by created_at desc limit $2",
		account, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Symbol, &e.Kind, &e.Amount, &e.Ref, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
