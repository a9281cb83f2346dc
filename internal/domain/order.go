// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of the module; it depends on nothing
// but the money arithmetic library.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Order Types ────────────────────────────────────────────────────────────

// Status is the lifecycle state of a purchase order.
// pending is the only non-terminal state; every transition out of it is
// final and the record is immutable afterward.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusCancelled
}

// Outcome is the requested terminal resolution of a settlement.
type Outcome string

const (
	OutcomeApproved Outcome = "approved"
	OutcomeRejected Outcome = "rejected"
)

// Status returns the order status that the outcome settles into.
func (o Outcome) Status() Status {
	if o == OutcomeApproved {
		return StatusApproved
	}
	return StatusRejected
}

// Actor identifies who authorized a settlement or ledger entry.
type Actor string

const (
	ActorGateway  Actor = "gateway"
	ActorOperator Actor = "operator"
	ActorSystem   Actor = "system"
)

// Order is a single purchase request for a quantity of credits at a price
// frozen when the order was created.
type Order struct {
	ID             string          `json:"id"`
	PayerRef       string          `json:"payer_ref"`
	Quantity       int64           `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Amount         decimal.Decimal `json:"amount"`
	CreditsPerUnit int64           `json:"credits_per_unit"`
	Status         Status          `json:"status"`
	ExternalRef    string          `json:"external_ref,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// NewOrder builds a pending order with a fresh id and the amount computed
// and frozen from quantity × unitPrice. The credits-per-unit factor is
// captured at creation time so later settlement never re-reads pricing.
func NewOrder(payerRef string, quantity int64, unitPrice decimal.Decimal, creditsPerUnit int64) (*Order, error) {
	if payerRef == "" || quantity <= 0 || creditsPerUnit <= 0 {
		return nil, ErrInvalidRequest
	}
	amount := unitPrice.Mul(decimal.NewFromInt(quantity))
	if !amount.IsPositive() {
		return nil, ErrInvalidRequest
	}
	now := time.Now().UTC()
	return &Order{
		ID:             uuid.NewString(),
		PayerRef:       payerRef,
		Quantity:       quantity,
		UnitPrice:      unitPrice,
		Amount:         amount,
		CreditsPerUnit: creditsPerUnit,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// Credits returns the balance delta an approval of this order grants.
func (o *Order) Credits() int64 {
	return o.Quantity * o.CreditsPerUnit
}
