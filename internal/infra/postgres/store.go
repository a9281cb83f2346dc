// Package postgres is the Postgres-backed store, for deployments where the
// storefront shares a database with other services. It implements the same
// settlement contract as the sqlite store: row-level locking plus the
// (causing_order_id, reason) uniqueness constraint as the exactly-once fence.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/topup-systems/topup/internal/domain"
)

// uniqueViolation is the Postgres error code for a unique constraint hit.
const uniqueViolation = "23505"

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and applies the schema migrations.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id               TEXT PRIMARY KEY,
			payer_ref        TEXT NOT NULL,
			quantity         BIGINT NOT NULL,
			unit_price       NUMERIC NOT NULL,
			amount           NUMERIC NOT NULL,
			credits_per_unit BIGINT NOT NULL DEFAULT 1,
			status           TEXT NOT NULL DEFAULT 'pending',
			external_ref     TEXT NOT NULL DEFAULT '',
			created_at       TIMESTAMPTZ NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_payer ON orders(payer_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_external_ref ON orders(external_ref)`,
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id               TEXT PRIMARY KEY,
			owner_ref        TEXT NOT NULL,
			delta            BIGINT NOT NULL,
			reason           TEXT NOT NULL,
			causing_order_id TEXT,
			actor            TEXT NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_settlement
			ON ledger_entries(causing_order_id, reason)
			WHERE causing_order_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_owner ON ledger_entries(owner_ref)`,
		`CREATE TABLE IF NOT EXISTS balances (
			owner_ref  TEXT PRIMARY KEY,
			balance    BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// ─── Order Operations ───────────────────────────────────────────────────────

func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO orders (id, payer_ref, quantity, unit_price, amount, credits_per_unit, status, external_ref, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, o.ID, o.PayerRef, o.Quantity, o.UnitPrice, o.Amount, o.CreditsPerUnit,
		string(o.Status), o.ExternalRef, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.queryOrder(ctx, `WHERE id = $1`, id)
}

func (s *Store) FindOrderByExternalRef(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.ErrOrderNotFound
	}
	return s.queryOrder(ctx, `WHERE external_ref = $1`, ref)
}

func (s *Store) AttachExternalRef(ctx context.Context, id, ref string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET external_ref = $1, updated_at = now()
		WHERE id = $2 AND (external_ref = '' OR external_ref = $1)
	`, ref, id)
	if err != nil {
		return fmt.Errorf("attach external ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflictingExternalRef
	}
	return nil
}

// SettleOrder locks the order row, performs the pending→terminal swap, and
// applies the ledger entry in the same transaction. Follows the ledger
// transfer pattern: FOR UPDATE locking with the unique index as backstop.
func (s *Store) SettleOrder(ctx context.Context, id string, to domain.Status, entry *domain.LedgerEntry) (*domain.Order, bool, error) {
	if !to.Terminal() {
		return nil, false, domain.ErrInvalidTransition
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var status string
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR UPDATE`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if domain.Status(status).Terminal() {
		tx.Rollback(ctx)
		o, err := s.GetOrder(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return o, false, nil
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`, string(to), id); err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	if entry != nil {
		if err := applyEntry(ctx, tx, entry); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	o, err := s.GetOrder(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

func (s *Store) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`, id)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetOrder(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidTransition
	}
	return s.GetOrder(ctx, id)
}

// ─── Ledger Operations ──────────────────────────────────────────────────────

func (s *Store) AppendAdjustment(ctx context.Context, entry *domain.LedgerEntry) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	if err := applyEntry(ctx, tx, entry); err != nil {
		return err
	}

	var balance int64
	if err := tx.QueryRow(ctx, `SELECT balance FROM balances WHERE owner_ref = $1`, entry.OwnerRef).Scan(&balance); err != nil {
		return err
	}
	if balance < 0 {
		return fmt.Errorf("%w: adjustment would leave balance at %d", domain.ErrInvalidRequest, balance)
	}

	return tx.Commit(ctx)
}

func (s *Store) Balance(ctx context.Context, ownerRef string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM balances WHERE owner_ref = $1`, ownerRef).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

func (s *Store) EntriesByOwner(ctx context.Context, ownerRef string) ([]domain.LedgerEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, owner_ref, delta, reason, COALESCE(causing_order_id, ''), actor, created_at
		FROM ledger_entries WHERE owner_ref = $1 ORDER BY created_at DESC, id
	`, ownerRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		if err := rows.Scan(&e.ID, &e.OwnerRef, &e.Delta, &e.Reason, &e.CausingOrderID, &e.Actor, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ─── Read Model ─────────────────────────────────────────────────────────────

func (s *Store) OrdersByPayer(ctx context.Context, payerRef string) ([]domain.Order, error) {
	return s.queryOrders(ctx, `WHERE payer_ref = $1 ORDER BY created_at DESC, id`, payerRef)
}

func (s *Store) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return s.queryOrders(ctx, `WHERE status = 'pending' ORDER BY created_at, id`)
}

// ─── Internals ──────────────────────────────────────────────────────────────

func applyEntry(ctx context.Context, tx pgx.Tx, e *domain.LedgerEntry) error {
	var causing *string
	if e.CausingOrderID != "" {
		causing = &e.CausingOrderID
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO ledger_entries (id, owner_ref, delta, reason, causing_order_id, actor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.OwnerRef, e.Delta, string(e.Reason), causing, string(e.Actor), e.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrAlreadyGranted
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO balances (owner_ref, balance, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (owner_ref) DO UPDATE SET
			balance    = balances.balance + EXCLUDED.balance,
			updated_at = now()
	`, e.OwnerRef, e.Delta)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (s *Store) queryOrder(ctx context.Context, where string, args ...any) (*domain.Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, payer_ref, quantity, unit_price, amount, credits_per_unit, status, external_ref, created_at, updated_at
		FROM orders `+where, args...)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

func (s *Store) queryOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, payer_ref, quantity, unit_price, amount, credits_per_unit, status, external_ref, created_at, updated_at
		FROM orders `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func scanOrder(row pgx.Row) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.PayerRef, &o.Quantity, &o.UnitPrice, &o.Amount,
		&o.CreditsPerUnit, &o.Status, &o.ExternalRef, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
