package reconciler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/topup-systems/topup/internal/app/issuer"
	"github.com/topup-systems/topup/internal/app/lifecycle"
	"github.com/topup-systems/topup/internal/domain"
	"github.com/topup-systems/topup/internal/infra/sqlite"
)

var testSecret = []byte("ipn-secret")

func newTestReconciler(t *testing.T) (*Reconciler, *lifecycle.Manager, *issuer.Issuer) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	iss := issuer.New(db)
	mgr := lifecycle.New(db, iss, lifecycle.Config{
		UnitPrice:      decimal.NewFromFloat(10.0),
		CreditsPerUnit: 1,
		MinQuantity:    1,
	})
	rec := New(mgr, db, testSecret, []string{"op1"})
	return rec, mgr, iss
}

func sign(raw []byte) string {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write(raw)
	return hex.EncodeToString(mac.Sum(nil))
}

func pendingOrder(t *testing.T, mgr *lifecycle.Manager, ref string) *domain.Order {
	t.Helper()
	o, err := mgr.CreateOrder(context.Background(), "u1", 5)
	if err != nil {
		t.Fatal(err)
	}
	if err := mgr.AttachExternalRef(context.Background(), o.ID, ref); err != nil {
		t.Fatal(err)
	}
	return o
}

// ─── Signature ──────────────────────────────────────────────────────────────

func TestVerifySignature(t *testing.T) {
	raw := []byte(`{"payment_status":"finished"}`)

	if !VerifySignature(testSecret, raw, sign(raw)) {
		t.Error("valid signature rejected")
	}
	if VerifySignature(testSecret, raw, "deadbeef") {
		t.Error("forged signature accepted")
	}
	if VerifySignature(testSecret, raw, "") {
		t.Error("empty signature accepted")
	}
	if VerifySignature(nil, raw, sign(raw)) {
		t.Error("empty secret must fail closed")
	}
	// Vendors send the hex digest in either case.
	upper := []byte(fmt.Sprintf("%X", hmacSum(raw)))
	if !VerifySignature(testSecret, raw, string(upper)) {
		t.Error("uppercase hex signature rejected")
	}
}

func hmacSum(raw []byte) []byte {
	mac := hmac.New(sha256.New, testSecret)
	mac.Write(raw)
	return mac.Sum(nil)
}

func TestHandleGatewayNotification_BadSignature(t *testing.T) {
	rec, mgr, iss := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	raw := []byte(`{"payment_status":"finished","order_id":"ref-1"}`)
	res, err := rec.HandleGatewayNotification(ctx, raw, "deadbeef")
	if err != nil {
		t.Fatalf("HandleGatewayNotification() error: %v", err)
	}
	if res.Disposition != DispositionBadSignature {
		t.Errorf("Disposition = %q, want bad_signature", res.Disposition)
	}

	// No state touched, whatever the payload claimed.
	got, _ := mgr.GetOrder(ctx, o.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	balance, _ := iss.CurrentBalance(ctx, "u1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

// ─── Gateway Notifications ──────────────────────────────────────────────────

func TestHandleGatewayNotification_Approves(t *testing.T) {
	rec, mgr, iss := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	raw := []byte(`{"payment_status":"finished","order_id":"ref-1"}`)
	res, err := rec.HandleGatewayNotification(ctx, raw, sign(raw))
	if err != nil {
		t.Fatalf("HandleGatewayNotification() error: %v", err)
	}
	if res.Disposition != DispositionSettled {
		t.Errorf("Disposition = %q, want settled", res.Disposition)
	}
	if res.Order.ID != o.ID || res.Order.Status != domain.StatusApproved {
		t.Errorf("Order = %+v", res.Order)
	}
	balance, _ := iss.CurrentBalance(ctx, "u1")
	if balance != 5 {
		t.Errorf("balance = %d, want 5", balance)
	}
}

func TestHandleGatewayNotification_CardVendorVocabulary(t *testing.T) {
	rec, mgr, _ := newTestReconciler(t)
	ctx := context.Background()
	pendingOrder(t, mgr, "ref-mp")

	// The card gateway sends status + external_reference.
	raw := []byte(`{"status":"approved","external_reference":"ref-mp","payment_id":"123"}`)
	res, err := rec.HandleGatewayNotification(ctx, raw, sign(raw))
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != DispositionSettled {
		t.Errorf("Disposition = %q, want settled", res.Disposition)
	}
}

func TestHandleGatewayNotification_DuplicateDelivery(t *testing.T) {
	rec, mgr, iss := newTestReconciler(t)
	ctx := context.Background()
	pendingOrder(t, mgr, "ref-1")

	raw := []byte(`{"payment_status":"finished","order_id":"ref-1"}`)
	sig := sign(raw)

	first, err := rec.HandleGatewayNotification(ctx, raw, sig)
	if err != nil {
		t.Fatal(err)
	}
	second, err := rec.HandleGatewayNotification(ctx, raw, sig)
	if err != nil {
		t.Fatal(err)
	}

	if first.Disposition != DispositionSettled {
		t.Errorf("first = %q, want settled", first.Disposition)
	}
	if second.Disposition != DispositionAlreadySettled {
		t.Errorf("second = %q, want already_settled", second.Disposition)
	}

	balance, _ := iss.CurrentBalance(ctx, "u1")
	if balance != 5 {
		t.Errorf("balance = %d, want 5 after duplicate delivery", balance)
	}
}

func TestHandleGatewayNotification_NonFinalStatuses(t *testing.T) {
	rec, mgr, _ := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	for _, status := range []string{"waiting", "confirming", "partially_paid", "in_process", "pending"} {
		t.Run(status, func(t *testing.T) {
			raw := []byte(`{"payment_status":"` + status + `","order_id":"ref-1"}`)
			res, err := rec.HandleGatewayNotification(ctx, raw, sign(raw))
			if err != nil {
				t.Fatal(err)
			}
			if res.Disposition != DispositionIgnored {
				t.Errorf("Disposition = %q, want ignored", res.Disposition)
			}
		})
	}

	// Still pending, still settleable by a later terminal notification.
	got, _ := mgr.GetOrder(ctx, o.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}

	raw := []byte(`{"payment_status":"confirmed","order_id":"ref-1"}`)
	res, err := rec.HandleGatewayNotification(ctx, raw, sign(raw))
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != DispositionSettled {
		t.Errorf("late terminal notification: Disposition = %q, want settled", res.Disposition)
	}
}

func TestHandleGatewayNotification_RejectedStatuses(t *testing.T) {
	rec, mgr, iss := newTestReconciler(t)
	ctx := context.Background()

	for i, status := range []string{"rejected", "cancelled", "refunded", "charged_back", "failed", "expired"} {
		ref := fmt.Sprintf("ref-%d", i)
		pendingOrder(t, mgr, ref)
		raw := []byte(fmt.Sprintf(`{"payment_status":"%s","order_id":"%s"}`, status, ref))
		res, err := rec.HandleGatewayNotification(ctx, raw, sign(raw))
		if err != nil {
			t.Fatal(err)
		}
		if res.Order.Status != domain.StatusRejected {
			t.Errorf("%s: Status = %q, want rejected", status, res.Order.Status)
		}
	}

	balance, _ := iss.CurrentBalance(ctx, "u1")
	if balance != 0 {
		t.Errorf("balance = %d, want 0; rejections never credit", balance)
	}
}

func TestHandleGatewayNotification_UnknownOrder(t *testing.T) {
	rec, _, _ := newTestReconciler(t)

	raw := []byte(`{"payment_status":"finished","order_id":"foreign-ref"}`)
	res, err := rec.HandleGatewayNotification(context.Background(), raw, sign(raw))
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != DispositionUnknownOrder {
		t.Errorf("Disposition = %q, want unknown_order", res.Disposition)
	}
}

func TestHandleGatewayNotification_MalformedPayload(t *testing.T) {
	rec, _, _ := newTestReconciler(t)

	raw := []byte(`{not json`)
	res, err := rec.HandleGatewayNotification(context.Background(), raw, sign(raw))
	if err != nil {
		t.Fatal(err)
	}
	if res.Disposition != DispositionIgnored {
		t.Errorf("Disposition = %q, want ignored", res.Disposition)
	}
}

// ─── Operator Decisions ─────────────────────────────────────────────────────

func TestHandleOperatorDecision(t *testing.T) {
	rec, mgr, iss := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	res, err := rec.HandleOperatorDecision(ctx, o.ID, true, "op1")
	if err != nil {
		t.Fatalf("HandleOperatorDecision() error: %v", err)
	}
	if res.Disposition != DispositionSettled {
		t.Errorf("Disposition = %q, want settled", res.Disposition)
	}
	balance, _ := iss.CurrentBalance(ctx, "u1")
	if balance != 5 {
		t.Errorf("balance = %d, want 5", balance)
	}
}

func TestHandleOperatorDecision_Unauthorized(t *testing.T) {
	rec, mgr, _ := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	_, err := rec.HandleOperatorDecision(ctx, o.ID, true, "intruder")
	if !errors.Is(err, domain.ErrUnknownOperator) {
		t.Fatalf("error = %v, want ErrUnknownOperator", err)
	}

	got, _ := mgr.GetOrder(ctx, o.ID)
	if got.Status != domain.StatusPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

func TestHandleOperatorDecision_DoubleTap(t *testing.T) {
	rec, mgr, _ := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	first, err := rec.HandleOperatorDecision(ctx, o.ID, true, "op1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := rec.HandleOperatorDecision(ctx, o.ID, true, "op1")
	if err != nil {
		t.Fatal(err)
	}
	if first.Disposition != DispositionSettled || second.Disposition != DispositionAlreadySettled {
		t.Errorf("dispositions = %q, %q", first.Disposition, second.Disposition)
	}
}

func TestHandleOperatorDecision_RejectAfterGatewayApproved(t *testing.T) {
	rec, mgr, iss := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	raw := []byte(`{"payment_status":"finished","order_id":"ref-1"}`)
	if _, err := rec.HandleGatewayNotification(ctx, raw, sign(raw)); err != nil {
		t.Fatal(err)
	}

	res, err := rec.HandleOperatorDecision(ctx, o.ID, false, "op1")
	if err != nil {
		t.Fatalf("operator reject after gateway approve: %v", err)
	}
	if res.Disposition != DispositionAlreadySettled {
		t.Errorf("Disposition = %q, want already_settled", res.Disposition)
	}
	if res.Order.Status != domain.StatusApproved {
		t.Errorf("surviving status = %q, want approved", res.Order.Status)
	}
	balance, _ := iss.CurrentBalance(ctx, "u1")
	if balance != 5 {
		t.Errorf("balance = %d, rejection attempt must not claw back the grant", balance)
	}
}

// ─── Races ──────────────────────────────────────────────────────────────────

func TestGatewayOperatorRace(t *testing.T) {
	rec, mgr, iss := newTestReconciler(t)
	ctx := context.Background()
	o := pendingOrder(t, mgr, "ref-1")

	raw := []byte(`{"payment_status":"finished","order_id":"ref-1"}`)
	sig := sign(raw)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec.HandleGatewayNotification(ctx, raw, sig)
	}()
	go func() {
		defer wg.Done()
		rec.HandleOperatorDecision(ctx, o.ID, false, "op1")
	}()
	wg.Wait()

	got, _ := mgr.GetOrder(ctx, o.ID)
	if !got.Status.Terminal() {
		t.Fatalf("Status = %q, want terminal", got.Status)
	}
	balance, _ := iss.CurrentBalance(ctx, "u1")
	entries, _ := iss.History(ctx, "u1")
	switch got.Status {
	case domain.StatusApproved:
		if balance != 5 || len(entries) != 1 {
			t.Errorf("approved but balance=%d entries=%d", balance, len(entries))
		}
	case domain.StatusRejected:
		if balance != 0 || len(entries) != 0 {
			t.Errorf("rejected but balance=%d entries=%d", balance, len(entries))
		}
	}
}
