package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/topup-systems/topup/internal/domain"
	"github.com/topup-systems/topup/internal/infra/observability"
)

// signatureHeaders are checked in order for the gateway HMAC. The crypto
// gateway uses its own header name; a generic one is accepted for relays.
var signatureHeaders = []string{"X-Gateway-Signature", "X-Nowpayments-Sig"}

// handleGatewayWebhook receives payment-gateway callbacks. Every outcome
// (settled, duplicate, unknown order, non-final status, even a bad
// signature) is acknowledged with 200 so the gateway stops redelivering;
// only a transient store failure returns 5xx, and the redelivered retry is
// safe because settlement is idempotent.
// POST /webhook/gateway
func (s *Server) handleGatewayWebhook(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(observability.WebhookDuration)
	defer timer.ObserveDuration()

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "stream read error")
		return
	}

	var signature string
	for _, h := range signatureHeaders {
		if signature = r.Header.Get(h); signature != "" {
			break
		}
	}

	res, err := s.rec.HandleGatewayNotification(r.Context(), raw, signature)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "settlement failed, safe to retry")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createOrderRequest struct {
	PayerRef    string `json:"payer_ref"`
	Quantity    int64  `json:"quantity"`
	ExternalRef string `json:"external_ref,omitempty"`
}

// handleCreateOrder opens a pending order for a purchase request.
// POST /api/v1/orders
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	o, err := s.mgr.CreateOrder(r.Context(), req.PayerRef, req.Quantity)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidRequest) {
			writeError(w, http.StatusUnprocessableEntity, "quantity and payer_ref must be valid")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// The gateway-side id may already be known when the front end created
	// the payment preference first.
	if req.ExternalRef != "" {
		if err := s.mgr.AttachExternalRef(r.Context(), o.ID, req.ExternalRef); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		o.ExternalRef = req.ExternalRef
	}

	writeJSON(w, http.StatusCreated, o)
}

// handleGetOrder returns one order by id. Payers poll this instead of ever
// resubmitting a payment: the order stays addressable whatever happened.
// GET /api/v1/orders/{id}
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	o, err := s.mgr.GetOrder(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, o)
	}
}

type attachRefRequest struct {
	ExternalRef string `json:"external_ref"`
}

// handleAttachExternalRef records the gateway correlation id on an order.
// PUT /api/v1/orders/{id}/external-ref
func (s *Server) handleAttachExternalRef(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req attachRefRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ExternalRef == "" {
		writeError(w, http.StatusBadRequest, "external_ref required")
		return
	}

	err := s.mgr.AttachExternalRef(r.Context(), id, req.ExternalRef)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrConflictingExternalRef):
		writeError(w, http.StatusConflict, "order already has a different external ref")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "attached"})
	}
}

// handleCancelOrder withdraws a pending order. A 409 means a settlement got
// there first; the caller should re-read the order, not retry the cancel.
// POST /api/v1/orders/{id}/cancel
func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	o, err := s.mgr.Cancel(r.Context(), id, domain.ActorSystem)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "order already settled")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, o)
	}
}

type decisionRequest struct {
	Approve     bool   `json:"approve"`
	OperatorRef string `json:"operator_ref"`
}

// handleOperatorDecision applies a manual approve/reject from the review
// surface. Duplicate taps return the already-settled order with 200.
// POST /api/v1/orders/{id}/decision
func (s *Server) handleOperatorDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	res, err := s.rec.HandleOperatorDecision(r.Context(), id, req.Approve, req.OperatorRef)
	switch {
	case errors.Is(err, domain.ErrUnknownOperator):
		writeError(w, http.StatusForbidden, "operator not authorized")
	case errors.Is(err, domain.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// handlePendingOrders returns the operator review feed.
// GET /api/v1/orders/pending
func (s *Server) handlePendingOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.mgr.PendingOrders(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleBalance answers the "show my balance" command.
// GET /api/v1/accounts/{ref}/balance
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	balance, err := s.issuer.CurrentBalance(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner_ref": ref, "balance": balance})
}

// handleAccountOrders lists a payer's orders, newest first.
// GET /api/v1/accounts/{ref}/orders
func (s *Server) handleAccountOrders(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	orders, err := s.mgr.OrdersByPayer(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleAccountLedger lists a payer's ledger history, newest first.
// GET /api/v1/accounts/{ref}/ledger
func (s *Server) handleAccountLedger(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	entries, err := s.issuer.History(r.Context(), ref)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []domain.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}
