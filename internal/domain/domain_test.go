package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

// ─── Order Tests ────────────────────────────────────────────────────────────

func TestNewOrder(t *testing.T) {
	o, err := NewOrder("u1", 5, decimal.NewFromFloat(10.0), 1)
	if err != nil {
		t.Fatalf("NewOrder() error: %v", err)
	}
	if o.ID == "" {
		t.Error("id should be generated")
	}
	if o.Status != StatusPending {
		t.Errorf("Status = %q, want %q", o.Status, StatusPending)
	}
	if !o.Amount.Equal(decimal.NewFromFloat(50.0)) {
		t.Errorf("Amount = %s, want 50", o.Amount)
	}
	if o.Credits() != 5 {
		t.Errorf("Credits() = %d, want 5", o.Credits())
	}
}

func TestNewOrder_Invalid(t *testing.T) {
	tests := []struct {
		name     string
		payer    string
		qty      int64
		price    decimal.Decimal
		perUnit  int64
	}{
		{"zero quantity", "u1", 0, decimal.NewFromInt(10), 1},
		{"negative quantity", "u1", -3, decimal.NewFromInt(10), 1},
		{"zero price", "u1", 5, decimal.Zero, 1},
		{"negative price", "u1", 5, decimal.NewFromInt(-1), 1},
		{"empty payer", "", 5, decimal.NewFromInt(10), 1},
		{"zero credits per unit", "u1", 5, decimal.NewFromInt(10), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOrder(tt.payer, tt.qty, tt.price, tt.perUnit)
			if err != ErrInvalidRequest {
				t.Errorf("NewOrder() error = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestNewOrder_CreditsPerUnitFactor(t *testing.T) {
	o, err := NewOrder("u1", 4, decimal.NewFromFloat(2.5), 10)
	if err != nil {
		t.Fatal(err)
	}
	if o.Credits() != 40 {
		t.Errorf("Credits() = %d, want 40", o.Credits())
	}
}

// ─── Status Tests ───────────────────────────────────────────────────────────

func TestStatus_Terminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusApproved, true},
		{StatusRejected, true},
		{StatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOutcome_Status(t *testing.T) {
	if OutcomeApproved.Status() != StatusApproved {
		t.Error("approved outcome should settle to approved status")
	}
	if OutcomeRejected.Status() != StatusRejected {
		t.Error("rejected outcome should settle to rejected status")
	}
}

// ─── Ledger Tests ───────────────────────────────────────────────────────────

func TestNewSettlementEntry(t *testing.T) {
	o, _ := NewOrder("u7", 3, decimal.NewFromInt(25), 1)
	e := NewSettlementEntry(o, ActorGateway)

	if e.OwnerRef != "u7" {
		t.Errorf("OwnerRef = %q, want u7", e.OwnerRef)
	}
	if e.Delta != 3 {
		t.Errorf("Delta = %d, want 3", e.Delta)
	}
	if e.Reason != ReasonOrderSettlement {
		t.Errorf("Reason = %q, want %q", e.Reason, ReasonOrderSettlement)
	}
	if e.CausingOrderID != o.ID {
		t.Errorf("CausingOrderID = %q, want %q", e.CausingOrderID, o.ID)
	}
	if e.Actor != ActorGateway {
		t.Errorf("Actor = %q, want gateway", e.Actor)
	}
}

func TestNewAdjustmentEntry(t *testing.T) {
	e := NewAdjustmentEntry("u2", -4, ActorSystem)
	if e.Reason != ReasonManualAdjustment {
		t.Errorf("Reason = %q, want %q", e.Reason, ReasonManualAdjustment)
	}
	if e.CausingOrderID != "" {
		t.Errorf("CausingOrderID = %q, want empty", e.CausingOrderID)
	}
	if e.Delta != -4 {
		t.Errorf("Delta = %d, want -4", e.Delta)
	}
}
