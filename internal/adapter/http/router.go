package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/iho/custody/internal/adapter/http/handler"
	"github.com/iho/custody/internal/adapter/http/middleware"
	"github.com/iho/custody/internal/domain"
	"github.com/iho/custody/internal/infrastructure/auth"
	"github.com/iho/custody/internal/usecase"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	ExchangeHandler *handler.ExchangeHandler
	EscrowHandler   *handler.EscrowHandler
	AdminHandler    *handler.AdminHandler
	LedgerHandler   *handler.LedgerHandler
	HealthHandler   *handler.HealthHandler
	// AuthHandler is optional; token issuing is only mounted when set.
	AuthHandler *handler.AuthHandler

	IdempotencyStore usecase.IdempotencyStore
	IdempotencyTTL   time.Duration
	RateLimiter      *middleware.RateLimiter
	// JWTManager enables bearer authentication. Without it the caller
	// headers are trusted.
	JWTManager      *auth.JWTManager
	FailureRecorder middleware.FailureRecorder
	// HTTPRecorder is optional; request metrics are skipped without it.
	HTTPRecorder   middleware.HTTPRecorder
	Logger         zerolog.Logger
	MetricsHandler http.Handler
}

// NewRouter creates a new HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Metrics(cfg.HTTPRecorder))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery)
	if cfg.RateLimiter != nil {
		r.Use(cfg.RateLimiter.Limit)
	}

	// Health endpoints
	r.Get("/health", cfg.HealthHandler.Liveness)
	r.Get("/ready", cfg.HealthHandler.Readiness)

	metricsHandler := cfg.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	traders := middleware.RequireRole(cfg.FailureRecorder, domain.RoleParticipant, domain.RoleAdmin)
	assets := middleware.RequireRole(cfg.FailureRecorder, domain.RoleAsset)
	admins := middleware.RequireRole(cfg.FailureRecorder, domain.RoleAdmin)

	// API v1
	r.Route("/api/v1", func(r chi.Router) {
		if cfg.JWTManager != nil {
			r.Use(middleware.AuthMiddleware(cfg.JWTManager, cfg.FailureRecorder))
		} else {
			r.Use(middleware.DevIdentity)
		}

		// Idempotency middleware for mutating requests
		if cfg.IdempotencyStore != nil {
			r.Use(middleware.Idempotency(cfg.IdempotencyStore, cfg.IdempotencyTTL))
		}

		if cfg.AuthHandler != nil {
			r.Get("/me", cfg.AuthHandler.GetCurrentPrincipal)
		}

		r.Route("/exchange", func(r chi.Router) {
			r.With(assets).Post("/deposits", cfg.ExchangeHandler.Deposit)

			r.Group(func(r chi.Router) {
				r.Use(traders)
				r.Post("/orders", cfg.ExchangeHandler.CreateOrder)
				r.Post("/orders/{id}/cancel", cfg.ExchangeHandler.CancelOrder)
				r.Post("/orders/{id}/execute", cfg.ExchangeHandler.ExecuteOrder)
				r.Post("/orders/{id}/agreements/{agreementID}/confirm", cfg.ExchangeHandler.ConfirmAgreement)
				r.Post("/orders/{id}/agreements/{agreementID}/cancel", cfg.ExchangeHandler.CancelAgreement)
				r.Post("/withdrawals", cfg.ExchangeHandler.Withdraw)
			})
		})

		r.Route("/escrow", func(r chi.Router) {
			r.With(assets).Post("/deposits", cfg.EscrowHandler.Deposit)

			r.Group(func(r chi.Router) {
				r.Use(traders)
				r.Post("/escrows", cfg.EscrowHandler.Create)
				r.Post("/escrows/{id}/cancel", cfg.EscrowHandler.Cancel)
				r.Post("/escrows/{id}/finish", cfg.EscrowHandler.Finish)
				r.Post("/escrows/{id}/approve", cfg.EscrowHandler.Approve)
				r.Post("/withdrawals", cfg.EscrowHandler.Withdraw)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(admins)
			r.Post("/upgrade", cfg.AdminHandler.Upgrade)
			r.Get("/versions", cfg.AdminHandler.Versions)
			r.Put("/assets/{asset}", cfg.AdminHandler.SetAssetStatus)
			if cfg.AuthHandler != nil {
				r.Post("/tokens", cfg.AuthHandler.IssueToken)
			}
		})

		// Read API
		r.Route("/ledger", func(r chi.Router) {
			r.Get("/reconciliation", cfg.LedgerHandler.Reconcile)
			r.Route("/{store}", func(r chi.Router) {
				r.Get("/", cfg.LedgerHandler.Summary)
				r.Get("/balances/{owner}", cfg.LedgerHandler.Balances)
				r.Get("/assets/{asset}", cfg.LedgerHandler.Asset)
				r.Get("/orders", cfg.LedgerHandler.ListOrders)
				r.Get("/orders/{id}", cfg.LedgerHandler.GetOrder)
				r.Get("/orders/{id}/agreements", cfg.LedgerHandler.ListAgreements)
				r.Get("/orders/{id}/agreements/{agreementID}", cfg.LedgerHandler.GetAgreement)
				r.Get("/escrows", cfg.LedgerHandler.ListEscrows)
				r.Get("/escrows/{id}", cfg.LedgerHandler.GetEscrow)
				r.Get("/consistency", cfg.LedgerHandler.CheckConsistency)
			})
		})
		r.Get("/events", cfg.LedgerHandler.ListEvents)
	})

	return r
}
