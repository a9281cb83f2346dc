// Package issuer computes and applies credit grants. It owns the mapping
// from an approved order to its ledger delta; the store's uniqueness
// constraint on (causing_order_id, reason) is its exactly-once enforcement
// point, active inside the same transaction as the lifecycle status write.
package issuer

import (
	"context"

	"github.com/topup-systems/topup/internal/domain"
)

// Issuer grants credits and answers balance queries.
type Issuer struct {
	store domain.Store
}

// New creates a credit issuer over the given store.
func New(store domain.Store) *Issuer {
	return &Issuer{store: store}
}

// Grant builds the single settlement ledger entry for an order moving
// pending→approved. The entry's append is committed by the store together
// with the status swap; a duplicate append is rejected there with
// ErrAlreadyGranted regardless of what the order status said.
func (i *Issuer) Grant(o *domain.Order, actor domain.Actor) *domain.LedgerEntry {
	return domain.NewSettlementEntry(o, actor)
}

// Adjust applies a manual balance correction with an audit ledger entry.
func (i *Issuer) Adjust(ctx context.Context, ownerRef string, delta int64, actor domain.Actor) (*domain.LedgerEntry, error) {
	if ownerRef == "" || delta == 0 {
		return nil, domain.ErrInvalidRequest
	}
	entry := domain.NewAdjustmentEntry(ownerRef, delta, actor)
	if err := i.store.AppendAdjustment(ctx, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

// CurrentBalance returns the owner's credit balance.
func (i *Issuer) CurrentBalance(ctx context.Context, ownerRef string) (int64, error) {
	return i.store.Balance(ctx, ownerRef)
}

// History returns the owner's ledger entries, newest first.
func (i *Issuer) History(ctx context.Context, ownerRef string) ([]domain.LedgerEntry, error) {
	return i.store.EntriesByOwner(ctx, ownerRef)
}
