// Package reconciler translates external payment signals (gateway webhook
// notifications and operator decisions) into settlement calls. It is the
// trust boundary: signature verification and operator authorization happen
// here, before any state is touched.
package reconciler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"github.com/topup-systems/topup/internal/app/lifecycle"
	"github.com/topup-systems/topup/internal/domain"
	"github.com/topup-systems/topup/internal/infra/observability"
)

// Disposition classifies how a notification was handled. Every disposition
// is an acknowledgement; only settled and already_settled changed (or
// confirmed) order state.
type Disposition string

const (
	DispositionSettled        Disposition = "settled"
	DispositionAlreadySettled Disposition = "already_settled"
	DispositionIgnored        Disposition = "ignored"         // non-final vendor status
	DispositionUnknownOrder   Disposition = "unknown_order"   // foreign external ref
	DispositionBadSignature   Disposition = "bad_signature"   // failed authentication
)

// HandledResult is the outcome of processing one notification.
type HandledResult struct {
	Disposition Disposition   `json:"disposition"`
	Order       *domain.Order `json:"order,omitempty"`
}

// Reconciler authenticates and normalizes payment notifications.
type Reconciler struct {
	mgr       *lifecycle.Manager
	store     domain.Store
	secret    []byte
	operators map[string]struct{}
}

// New creates a reconciler. secret is the shared HMAC key for gateway
// notifications; operators is the static allow-list for manual decisions.
func New(mgr *lifecycle.Manager, store domain.Store, secret []byte, operators []string) *Reconciler {
	allowed := make(map[string]struct{}, len(operators))
	for _, op := range operators {
		allowed[op] = struct{}{}
	}
	return &Reconciler{mgr: mgr, store: store, secret: secret, operators: allowed}
}

// gatewayNotification covers both vendor payload vocabularies seen in the
// wild: the crypto gateway sends payment_status + order_id, the card
// gateway sends status + external_reference.
type gatewayNotification struct {
	PaymentStatus     string `json:"payment_status"`
	Status            string `json:"status"`
	OrderID           string `json:"order_id"`
	ExternalReference string `json:"external_reference"`
	PaymentID         string `json:"payment_id"`
}

// VerifySignature checks the hex HMAC-SHA256 of the raw payload against the
// shared secret, in constant time.
func VerifySignature(secret, raw []byte, signature string) bool {
	if len(secret) == 0 || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(raw)
	want := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(want), []byte(strings.ToLower(signature)))
}

// HandleGatewayNotification authenticates, normalizes, and settles one
// gateway callback. It fails closed on a bad signature and acknowledges
// everything else: gateways redeliver until acknowledged, and a non-final
// status now does not block a terminal notification later.
func (r *Reconciler) HandleGatewayNotification(ctx context.Context, raw []byte, signature string) (*HandledResult, error) {
	if !VerifySignature(r.secret, raw, signature) {
		observability.BadSignatures.Inc()
		log.Printf("gateway notification: bad signature, dropping")
		return &HandledResult{Disposition: DispositionBadSignature}, nil
	}

	var n gatewayNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		log.Printf("gateway notification: bad payload: %v", err)
		return &HandledResult{Disposition: DispositionIgnored}, nil
	}

	outcome, final := mapVendorStatus(n.vendorStatus())
	if !final {
		observability.NotificationsTotal.WithLabelValues(string(DispositionIgnored)).Inc()
		return &HandledResult{Disposition: DispositionIgnored}, nil
	}

	order, err := r.store.FindOrderByExternalRef(ctx, n.externalRef())
	if errors.Is(err, domain.ErrOrderNotFound) {
		observability.NotificationsTotal.WithLabelValues(string(DispositionUnknownOrder)).Inc()
		log.Printf("gateway notification: unknown external ref %q, acknowledged", n.externalRef())
		return &HandledResult{Disposition: DispositionUnknownOrder}, nil
	}
	if err != nil {
		return nil, err
	}

	res, err := r.mgr.Settle(ctx, order.ID, outcome, domain.ActorGateway)
	if err != nil {
		return nil, err
	}

	d := DispositionSettled
	if res.AlreadySettled {
		d = DispositionAlreadySettled
	}
	observability.NotificationsTotal.WithLabelValues(string(d)).Inc()
	return &HandledResult{Disposition: d, Order: res.Order}, nil
}

// HandleOperatorDecision settles an order from a manual approve/reject tap.
// The operator must be on the allow-list; racing taps and gateway callbacks
// collapse into already_settled.
func (r *Reconciler) HandleOperatorDecision(ctx context.Context, orderID string, approve bool, operatorRef string) (*HandledResult, error) {
	if _, ok := r.operators[operatorRef]; !ok {
		log.Printf("operator decision: %q not on allow-list", operatorRef)
		return nil, domain.ErrUnknownOperator
	}

	outcome := domain.OutcomeRejected
	if approve {
		outcome = domain.OutcomeApproved
	}

	res, err := r.mgr.Settle(ctx, orderID, outcome, domain.ActorOperator)
	if err != nil {
		return nil, err
	}

	d := DispositionSettled
	if res.AlreadySettled {
		d = DispositionAlreadySettled
	}
	return &HandledResult{Disposition: d, Order: res.Order}, nil
}

func (n *gatewayNotification) vendorStatus() string {
	if n.PaymentStatus != "" {
		return n.PaymentStatus
	}
	return n.Status
}

func (n *gatewayNotification) externalRef() string {
	if n.ExternalReference != "" {
		return n.ExternalReference
	}
	return n.OrderID
}

// mapVendorStatus folds both vendors' status vocabularies into the abstract
// outcome space. final=false means the status is not terminal: acknowledge
// and wait for a later notification.
func mapVendorStatus(status string) (domain.Outcome, bool) {
	switch strings.ToLower(status) {
	case "approved", "finished", "confirmed":
		return domain.OutcomeApproved, true
	case "rejected", "cancelled", "refunded", "charged_back", "failed", "expired":
		return domain.OutcomeRejected, true
	default:
		// waiting, confirming, partially_paid, in_process, pending, ...
		return "", false
	}
}
