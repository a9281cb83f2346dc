package domain

import (
	"time"

	"github.com/google/uuid"
)

// ─── Ledger Types ───────────────────────────────────────────────────────────

// Reason is the business cause of a ledger entry.
type Reason string

const (
	ReasonOrderSettlement  Reason = "order_settlement"
	ReasonManualAdjustment Reason = "manual_adjustment"
)

// LedgerEntry is one immutable row in the append-only credit ledger.
// For any causing order id, at most one entry with reason order_settlement
// may ever exist; the store enforces this with a uniqueness constraint.
type LedgerEntry struct {
	ID             string    `json:"id"`
	OwnerRef       string    `json:"owner_ref"`
	Delta          int64     `json:"delta"`
	Reason         Reason    `json:"reason"`
	CausingOrderID string    `json:"causing_order_id,omitempty"`
	Actor          Actor     `json:"actor"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewSettlementEntry builds the single grant entry for an order approval.
func NewSettlementEntry(o *Order, actor Actor) *LedgerEntry {
	return &LedgerEntry{
		ID:             uuid.NewString(),
		OwnerRef:       o.PayerRef,
		Delta:          o.Credits(),
		Reason:         ReasonOrderSettlement,
		CausingOrderID: o.ID,
		Actor:          actor,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewAdjustmentEntry builds a manual balance correction entry.
func NewAdjustmentEntry(ownerRef string, delta int64, actor Actor) *LedgerEntry {
	return &LedgerEntry{
		ID:        uuid.NewString(),
		OwnerRef:  ownerRef,
		Delta:     delta,
		Reason:    ReasonManualAdjustment,
		Actor:     actor,
		CreatedAt: time.Now().UTC(),
	}
}

// Account is a payer's materialized credit balance. The balance always
// equals the sum of committed ledger deltas for the owner.
type Account struct {
	OwnerRef  string    `json:"owner_ref"`
	Balance   int64     `json:"balance"`
	UpdatedAt time.Time `json:"updated_at"`
}
