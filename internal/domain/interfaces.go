package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application layer depends on them.

// Store abstracts durable order and ledger state. Implementations must make
// SettleOrder atomic: the status compare-and-swap, the ledger append, and
// the balance update commit together or not at all.
type Store interface {
	// CreateOrder persists a freshly built pending order.
	CreateOrder(ctx context.Context, o *Order) error

	// GetOrder loads an order by id. Returns ErrOrderNotFound.
	GetOrder(ctx context.Context, id string) (*Order, error)

	// FindOrderByExternalRef resolves a gateway correlation id back to its
	// order. Returns ErrOrderNotFound for foreign references.
	FindOrderByExternalRef(ctx context.Context, ref string) (*Order, error)

	// AttachExternalRef records the gateway-side id. Setting the same value
	// twice is a no-op; a different value on an already-referenced order
	// returns ErrConflictingExternalRef.
	AttachExternalRef(ctx context.Context, id, ref string) error

	// SettleOrder performs the pending→terminal compare-and-swap. When entry
	// is non-nil it is appended and the owner's balance bumped in the same
	// transaction, fenced by the (causing_order_id, reason) uniqueness
	// constraint. If the order is already terminal the existing record is
	// returned with swapped=false and no side effects.
	SettleOrder(ctx context.Context, id string, to Status, entry *LedgerEntry) (o *Order, swapped bool, err error)

	// CancelOrder moves a pending order to cancelled. Returns
	// ErrInvalidTransition if the order is already terminal.
	CancelOrder(ctx context.Context, id string) (*Order, error)

	// AppendAdjustment records a manual_adjustment ledger entry and applies
	// its delta to the owner's balance.
	AppendAdjustment(ctx context.Context, entry *LedgerEntry) error

	// Balance returns the owner's current credit balance (0 for unknown
	// owners; accounts are created lazily with balance 0).
	Balance(ctx context.Context, ownerRef string) (int64, error)

	// EntriesByOwner returns the owner's ledger history, newest first.
	EntriesByOwner(ctx context.Context, ownerRef string) ([]LedgerEntry, error)

	// OrdersByPayer returns a payer's orders, newest first.
	OrdersByPayer(ctx context.Context, payerRef string) ([]Order, error)

	// PendingOrders returns the global feed of unsettled orders, oldest
	// first, for the operator review surface.
	PendingOrders(ctx context.Context) ([]Order, error)

	Close() error
}

// Notifier delivers a best-effort human-readable settlement notice.
// Failures must be logged by callers, never propagated into settlement.
type Notifier interface {
	Notify(ctx context.Context, n Notice) error
}

// Notice is the payload handed to a Notifier after settlement commits.
type Notice struct {
	PayerRef   string `json:"payer_ref"`
	OrderID    string `json:"order_id"`
	Status     Status `json:"status"`
	Credits    int64  `json:"credits,omitempty"`
	NewBalance int64  `json:"new_balance,omitempty"`
}
