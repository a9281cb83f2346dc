package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/topup-systems/topup/internal/domain"
)

// ─── Order Operations ───────────────────────────────────────────────────────

// CreateOrder persists a pending order.
func (db *DB) CreateOrder(ctx context.Context, o *domain.Order) error {
	_, err := db.db.ExecContext(ctx, `
		INSERT INTO orders (id, payer_ref, quantity, unit_price, amount, credits_per_unit, status, external_ref, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.PayerRef, o.Quantity, o.UnitPrice.String(), o.Amount.String(), o.CreditsPerUnit,
		string(o.Status), o.ExternalRef, fmtTime(o.CreatedAt), fmtTime(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// GetOrder loads an order by id.
func (db *DB) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return db.queryOrder(ctx, `WHERE id = ?`, id)
}

// FindOrderByExternalRef resolves a gateway correlation id to its order.
func (db *DB) FindOrderByExternalRef(ctx context.Context, ref string) (*domain.Order, error) {
	if ref == "" {
		return nil, domain.ErrOrderNotFound
	}
	return db.queryOrder(ctx, `WHERE external_ref = ?`, ref)
}

// AttachExternalRef records the gateway-side id once. Re-attaching the same
// value is a no-op; a different value fails with ErrConflictingExternalRef.
func (db *DB) AttachExternalRef(ctx context.Context, id, ref string) error {
	res, err := db.db.ExecContext(ctx, `
		UPDATE orders SET external_ref = ?, updated_at = ?
		WHERE id = ? AND (external_ref = '' OR external_ref = ?)
	`, ref, fmtTime(time.Now().UTC()), id, ref)
	if err != nil {
		return fmt.Errorf("attach external ref: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		if _, err := db.GetOrder(ctx, id); err != nil {
			return err
		}
		return domain.ErrConflictingExternalRef
	}
	return nil
}

// SettleOrder performs the pending→terminal compare-and-swap. The ledger
// append and balance update ride in the same transaction as the status
// write, so a failure in any of the three leaves no observable effect.
func (db *DB) SettleOrder(ctx context.Context, id string, to domain.Status, entry *domain.LedgerEntry) (*domain.Order, bool, error) {
	if !to.Terminal() {
		return nil, false, domain.ErrInvalidTransition
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET status = ?, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, string(to), fmtTime(time.Now().UTC()), id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 0 {
		// Lost the race (or the order never existed). No side effects.
		tx.Rollback()
		o, err := db.GetOrder(ctx, id)
		if err != nil {
			return nil, false, err
		}
		return o, false, nil
	}

	if entry != nil {
		if err := applyEntry(ctx, tx, entry); err != nil {
			return nil, false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}

	o, err := db.GetOrder(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// CancelOrder moves a pending order to cancelled.
func (db *DB) CancelOrder(ctx context.Context, id string) (*domain.Order, error) {
	res, err := db.db.ExecContext(ctx, `
		UPDATE orders SET status = 'cancelled', updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, fmtTime(time.Now().UTC()), id)
	if err != nil {
		return nil, fmt.Errorf("cancel order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := db.GetOrder(ctx, id); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidTransition
	}
	return db.GetOrder(ctx, id)
}

// ─── Ledger Operations ──────────────────────────────────────────────────────

// AppendAdjustment records a manual correction and applies its delta.
// Adjustments may not drive a balance negative.
func (db *DB) AppendAdjustment(ctx context.Context, entry *domain.LedgerEntry) error {
	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	defer tx.Rollback()

	if err := applyEntry(ctx, tx, entry); err != nil {
		return err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE owner_ref = ?`, entry.OwnerRef).Scan(&balance); err != nil {
		return err
	}
	if balance < 0 {
		return fmt.Errorf("%w: adjustment would leave balance at %d", domain.ErrInvalidRequest, balance)
	}

	return tx.Commit()
}

// Balance returns the owner's materialized credit balance.
func (db *DB) Balance(ctx context.Context, ownerRef string) (int64, error) {
	var balance int64
	err := db.db.QueryRowContext(ctx,
		`SELECT balance FROM balances WHERE owner_ref = ?`, ownerRef).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// EntriesByOwner returns the owner's ledger history, newest first.
func (db *DB) EntriesByOwner(ctx context.Context, ownerRef string) ([]domain.LedgerEntry, error) {
	rows, err := db.db.QueryContext(ctx, `
		SELECT id, owner_ref, delta, reason, COALESCE(causing_order_id, ''), actor, created_at
		FROM ledger_entries WHERE owner_ref = ? ORDER BY created_at DESC, id
	`, ownerRef)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.OwnerRef, &e.Delta, &e.Reason, &e.CausingOrderID, &e.Actor, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ─── Read Model ─────────────────────────────────────────────────────────────

// OrdersByPayer returns a payer's orders, newest first.
func (db *DB) OrdersByPayer(ctx context.Context, payerRef string) ([]domain.Order, error) {
	return db.queryOrders(ctx, `WHERE payer_ref = ? ORDER BY created_at DESC, id`, payerRef)
}

// PendingOrders returns unsettled orders, oldest first.
func (db *DB) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return db.queryOrders(ctx, `WHERE status = 'pending' ORDER BY created_at, id`)
}

// ─── Internals ──────────────────────────────────────────────────────────────

// applyEntry appends a ledger row and bumps the owner's balance, creating
// the account at 0 if it does not exist. A duplicate settlement entry trips
// the uniqueness constraint and surfaces as ErrAlreadyGranted.
func applyEntry(ctx context.Context, tx *sql.Tx, e *domain.LedgerEntry) error {
	causing := sql.NullString{String: e.CausingOrderID, Valid: e.CausingOrderID != ""}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO ledger_entries (id, owner_ref, delta, reason, causing_order_id, actor, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.OwnerRef, e.Delta, string(e.Reason), causing, string(e.Actor), fmtTime(e.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyGranted
		}
		return fmt.Errorf("append ledger entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (owner_ref, balance, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(owner_ref) DO UPDATE SET
			balance    = balance + excluded.balance,
			updated_at = excluded.updated_at
	`, e.OwnerRef, e.Delta, fmtTime(time.Now().UTC()))
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	return nil
}

func (db *DB) queryOrder(ctx context.Context, where string, args ...any) (*domain.Order, error) {
	row := db.db.QueryRowContext(ctx, `
		SELECT id, payer_ref, quantity, unit_price, amount, credits_per_unit, status, external_ref, created_at, updated_at
		FROM orders `+where, args...)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return o, err
}

func (db *DB) queryOrders(ctx context.Context, where string, args ...any) ([]domain.Order, error) {
	rows, err := db.db.QueryContext(ctx, `
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

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	var unitPrice, amount, createdAt, updatedAt string
	err := row.Scan(&o.ID, &o.PayerRef, &o.Quantity, &unitPrice, &amount,
		&o.CreditsPerUnit, &o.Status, &o.ExternalRef, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if o.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
		return nil, fmt.Errorf("corrupt unit_price %q: %w", unitPrice, err)
	}
	if o.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount %q: %w", amount, err)
	}
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updatedAt)
	return &o, nil
}

func fmtTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
