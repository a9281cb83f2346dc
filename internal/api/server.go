// Package api provides the HTTP surface of the storefront: the gateway
// webhook, the order/account API consumed by the chat front end, and the
// operator review endpoints.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/topup-systems/topup/internal/app/issuer"
	"github.com/topup-systems/topup/internal/app/lifecycle"
	"github.com/topup-systems/topup/internal/app/reconciler"
)

// Server is the storefront HTTP API server.
type Server struct {
	mgr            *lifecycle.Manager
	issuer         *issuer.Issuer
	rec            *reconciler.Reconciler
	metricsEnabled bool
}

// NewServer creates a new API server.
func NewServer(mgr *lifecycle.Manager, iss *issuer.Issuer, rec *reconciler.Reconciler) *Server {
	return &Server{mgr: mgr, issuer: iss, rec: rec}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Inbound payment-gateway callbacks.
	r.Post("/webhook/gateway", s.handleGatewayWebhook)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/orders", s.handleCreateOrder)
		r.Get("/orders/pending", s.handlePendingOrders)
		r.Get("/orders/{id}", s.handleGetOrder)
		r.Put("/orders/{id}/external-ref", s.handleAttachExternalRef)
		r.Post("/orders/{id}/cancel", s.handleCancelOrder)
		r.Post("/orders/{id}/decision", s.handleOperatorDecision)

		r.Get("/accounts/{ref}/balance", s.handleBalance)
		r.Get("/accounts/{ref}/orders", s.handleAccountOrders)
		r.Get("/accounts/{ref}/ledger", s.handleAccountLedger)
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
