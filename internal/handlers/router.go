package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"agentdesk/internal/config"
	"agentdesk/internal/middleware"
	"agentdesk/internal/models"
	"agentdesk/internal/websocket"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Deps are the collaborators the HTTP surface needs. Limiter and Metrics
// are optional.
type Deps struct {
	Settlement Settlement
	Lifecycle  Lifecycle
	Changes    AccountChanges
	Admin      AdminCommands
	Catalog    Catalog
	Users      UserLookup
	Audit      AuditLog
	Reconciler Reconciler
	Admins     AdminStore
	Hub        *websocket.Hub
	Limiter    middleware.Limiter
	Metrics    http.Handler
	Logger     *slog.Logger
}

type Handler struct {
	cfg        config.Config
	settlement Settlement
	lifecycle  Lifecycle
	changes    AccountChanges
	admin      AdminCommands
	catalog    Catalog
	users      UserLookup
	audit      AuditLog
	reconciler Reconciler
	admins     AdminStore
	hub        *websocket.Hub
	limiter    middleware.Limiter
	metrics    http.Handler
	logger     *slog.Logger
}

func New(cfg config.Config, deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		cfg:        cfg,
		settlement: deps.Settlement,
		lifecycle:  deps.Lifecycle,
		changes:    deps.Changes,
		admin:      deps.Admin,
		catalog:    deps.Catalog,
		users:      deps.Users,
		audit:      deps.Audit,
		reconciler: deps.Reconciler,
		admins:     deps.Admins,
		hub:        deps.Hub,
		limiter:    deps.Limiter,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

func (h *Handler) Routes() http.Handler {
	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.Logger)
	router.Use(chimiddleware.Recoverer)
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins(h.cfg.AllowedOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.Post("/auth/login", h.Login)

	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))
		r.Get("/me", h.Me)
		r.Get("/services", h.ListServices)
		r.Get("/wallet", h.GetWallet)
		r.Get("/transactions", h.ListTransactions)
		r.With(middleware.RateLimit(h.limiter, h.cfg.SubmitRateLimit, h.logger)).Post("/requests", h.SubmitRequest)
		r.Get("/requests", h.ListRequests)
		r.Get("/requests/{id}", h.GetRequest)
		r.Post("/account-change", h.RequestAccountChange)
		r.Get("/ws/events", h.StreamEvents)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Use(middleware.Auth(h.cfg.JWTSecret))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admins, models.AdminReviewRequests))
			r.Get("/requests/pending", h.AdminPendingRequests)
			r.Get("/requests/{id}", h.AdminGetRequest)
			r.Post("/requests/{id}/transition", h.AdminTransitionRequest)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admins, models.AdminApproveAccountChange))
			r.Get("/account-changes", h.AdminListAccountChanges)
			r.Post("/account-changes/{userId}/approve", h.AdminApproveAccountChange)
			r.Post("/account-changes/{userId}/reject", h.AdminRejectAccountChange)
		})
		r.With(middleware.RequireAdmin(h.admins, models.AdminManageWallets)).Post("/wallets/{userId}/credit", h.AdminCreditWallet)
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admins, ""))
			r.Post("/users", h.AdminProvisionUser)
			r.Post("/users/{id}/password", h.AdminResetPassword)
			r.Post("/promote", h.AdminPromote)
			r.Post("/roles/grant", h.AdminGrantRole)
		})
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin(h.admins, models.AdminViewTransactions))
			r.Get("/transactions/{userId}", h.AdminListTransactions)
			r.Get("/audit", h.AdminListAuditLogs)
			r.Get("/reconcile", h.AdminReconcile)
		})
	})

	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		router.Method(http.MethodGet, "/metrics", h.metrics)
	}
	return router
}

func allowedOrigins(raw string) []string {
	var out []string
	for _, origin := range strings.Split(raw, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
