// Package lifecycle is the single authority over order state transitions.
// Settle is the only path out of pending, and the only caller of the credit
// issuer; repeated or racing settlement attempts collapse into the
// idempotent AlreadySettled result.
package lifecycle

import (
	"context"
	"errors"
	"log"

	"github.com/shopspring/decimal"

	"github.com/topup-systems/topup/internal/app/issuer"
	"github.com/topup-systems/topup/internal/domain"
	"github.com/topup-systems/topup/internal/infra/observability"
)

// Config carries the pricing knobs frozen onto each new order.
type Config struct {
	UnitPrice      decimal.Decimal // price of one credit unit
	CreditsPerUnit int64           // credits granted per purchased unit
	MinQuantity    int64           // smallest allowed purchase
}

// DefaultConfig returns the storefront pricing defaults.
func DefaultConfig() Config {
	return Config{
		UnitPrice:      decimal.NewFromFloat(25.0),
		CreditsPerUnit: 1,
		MinQuantity:    1,
	}
}

// Manager creates, settles, and cancels orders.
type Manager struct {
	store    domain.Store
	issuer   *issuer.Issuer
	notifier domain.Notifier // optional, best effort
	cfg      Config
}

// New creates a lifecycle manager.
func New(store domain.Store, iss *issuer.Issuer, cfg Config) *Manager {
	if cfg.MinQuantity <= 0 {
		cfg.MinQuantity = 1
	}
	if cfg.CreditsPerUnit <= 0 {
		cfg.CreditsPerUnit = 1
	}
	return &Manager{store: store, issuer: iss, cfg: cfg}
}

// SetNotifier attaches the post-settlement notifier.
func (m *Manager) SetNotifier(n domain.Notifier) { m.notifier = n }

// SettleResult reports the terminal order after a settlement attempt.
// AlreadySettled marks the idempotent branch: the order was terminal before
// this call, nothing was applied, and callers must treat it as success.
type SettleResult struct {
	Order          *domain.Order
	Entry          *domain.LedgerEntry // non-nil only for a fresh grant
	AlreadySettled bool
}

// CreateOrder constructs and persists a pending order priced with the
// configured rate. The amount and credits-per-unit factor are frozen on the
// record so later settlement never re-reads pricing.
func (m *Manager) CreateOrder(ctx context.Context, payerRef string, quantity int64) (*domain.Order, error) {
	if quantity < m.cfg.MinQuantity {
		return nil, domain.ErrInvalidRequest
	}
	o, err := domain.NewOrder(payerRef, quantity, m.cfg.UnitPrice, m.cfg.CreditsPerUnit)
	if err != nil {
		return nil, err
	}
	if err := m.store.CreateOrder(ctx, o); err != nil {
		return nil, err
	}
	log.Printf("order %s: created for %s, %d units, amount %s", o.ID, o.PayerRef, o.Quantity, o.Amount)
	return o, nil
}

// AttachExternalRef records the gateway correlation id on an order.
func (m *Manager) AttachExternalRef(ctx context.Context, orderID, ref string) error {
	if ref == "" {
		return domain.ErrInvalidRequest
	}
	if err := m.store.AttachExternalRef(ctx, orderID, ref); err != nil {
		if errors.Is(err, domain.ErrConflictingExternalRef) {
			log.Printf("order %s: conflicting external ref %q", orderID, ref)
		}
		return err
	}
	return nil
}

// Settle resolves a pending order to the requested terminal outcome. It is
// idempotent: once any settlement has committed, every further call returns
// AlreadySettled with the surviving status and applies nothing. The first
// committed compare-and-swap wins; there is no last-write-wins.
func (m *Manager) Settle(ctx context.Context, orderID string, outcome domain.Outcome, actor domain.Actor) (*SettleResult, error) {
	o, err := m.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status.Terminal() {
		observability.DuplicateSettlements.Inc()
		return &SettleResult{Order: o, AlreadySettled: true}, nil
	}

	var entry *domain.LedgerEntry
	if outcome == domain.OutcomeApproved {
		entry = m.issuer.Grant(o, actor)
	}

	settled, swapped, err := m.store.SettleOrder(ctx, o.ID, outcome.Status(), entry)
	if errors.Is(err, domain.ErrAlreadyGranted) {
		// The ledger fence fired: a grant for this order is already
		// committed. Collapse into the idempotent branch.
		log.Printf("order %s: grant fence hit, treating as already settled", orderID)
		cur, gerr := m.store.GetOrder(ctx, orderID)
		if gerr != nil {
			return nil, gerr
		}
		return &SettleResult{Order: cur, AlreadySettled: true}, nil
	}
	if err != nil {
		return nil, err
	}
	if !swapped {
		observability.DuplicateSettlements.Inc()
		return &SettleResult{Order: settled, AlreadySettled: true}, nil
	}

	observability.SettlementsTotal.WithLabelValues(string(outcome), string(actor)).Inc()
	log.Printf("order %s: settled %s by %s", settled.ID, settled.Status, actor)

	res := &SettleResult{Order: settled, Entry: entry}
	m.notifySettled(ctx, res)
	return res, nil
}

// Cancel withdraws a pending order. Once a concurrent settlement has moved
// the order out of pending it fails with ErrInvalidTransition, which
// callers treat as informational.
func (m *Manager) Cancel(ctx context.Context, orderID string, actor domain.Actor) (*domain.Order, error) {
	o, err := m.store.CancelOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	log.Printf("order %s: cancelled by %s", o.ID, actor)
	return o, nil
}

// GetOrder loads a single order by id.
func (m *Manager) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return m.store.GetOrder(ctx, orderID)
}

// OrdersByPayer returns a payer's orders, newest first.
func (m *Manager) OrdersByPayer(ctx context.Context, payerRef string) ([]domain.Order, error) {
	return m.store.OrdersByPayer(ctx, payerRef)
}

// PendingOrders returns the operator review feed, oldest first.
func (m *Manager) PendingOrders(ctx context.Context) ([]domain.Order, error) {
	return m.store.PendingOrders(ctx)
}

// notifySettled hands the settlement notice to the notifier. Runs after the
// settlement has durably committed; any failure is logged and swallowed.
func (m *Manager) notifySettled(ctx context.Context, res *SettleResult) {
	if m.notifier == nil {
		return
	}
	n := domain.Notice{
		PayerRef: res.Order.PayerRef,
		OrderID:  res.Order.ID,
		Status:   res.Order.Status,
	}
	if res.Entry != nil {
		n.Credits = res.Entry.Delta
		if balance, err := m.issuer.CurrentBalance(ctx, res.Order.PayerRef); err == nil {
			n.NewBalance = balance
		}
	}
	if err := m.notifier.Notify(ctx, n); err != nil {
		log.Printf("order %s: notify failed: %v", res.Order.ID, err)
	}
}
