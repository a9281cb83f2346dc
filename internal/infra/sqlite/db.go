// Package sqlite is the default embedded store for orders, ledger entries,
// and balances. A single database/sql transaction implements the settlement
// atomic unit: status compare-and-swap, ledger append, balance update.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite connection.
type DB struct {
	db *sql.DB
}

// Open creates (or opens) the store database under dir and applies the
// schema migrations.
func Open(dir string) (*DB, error) {
	path := filepath.Join(dir, "topup.db")
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY churn under concurrent settlements.
	db.SetMaxOpenConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close releases the underlying connection.
func (db *DB) Close() error { return db.db.Close() }

// Migrations returns the schema migration statements.
// Each string is a single SQL statement (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id               TEXT PRIMARY KEY,
			payer_ref        TEXT NOT NULL,
			quantity         INTEGER NOT NULL,
			unit_price       TEXT NOT NULL,
			amount           TEXT NOT NULL,
			credits_per_unit INTEGER NOT NULL DEFAULT 1,
			status           TEXT NOT NULL DEFAULT 'pending',
			external_ref     TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_payer ON orders(payer_ref)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_external_ref ON orders(external_ref)`,

		// Append-only ledger. The uniqueness constraint on
		// (causing_order_id, reason) is the exactly-once fencing token for
		// order settlements.
		`CREATE TABLE IF NOT EXISTS ledger_entries (
			id               TEXT PRIMARY KEY,
			owner_ref        TEXT NOT NULL,
			delta            INTEGER NOT NULL,
			reason           TEXT NOT NULL,
			causing_order_id TEXT,
			actor            TEXT NOT NULL,
			created_at       TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_settlement
			ON ledger_entries(causing_order_id, reason)
			WHERE causing_order_id IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_owner ON ledger_entries(owner_ref)`,

		// Materialized balances, kept consistent with the ledger inside the
		// same transaction that appends entries.
		`CREATE TABLE IF NOT EXISTS balances (
			owner_ref  TEXT PRIMARY KEY,
			balance    INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT NOT NULL
		)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
