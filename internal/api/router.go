// Package api composes the services into the HTTP surface of the api-server mode.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"school-meals/internal/apperr"
	"school-meals/internal/auth"
	"school-meals/internal/config"
	"school-meals/internal/logger"
	"school-meals/internal/metrics"
	"school-meals/internal/models"
	"school-meals/internal/services/accounts"
	"school-meals/internal/services/calendar"
	"school-meals/internal/services/classes"
	"school-meals/internal/services/order"
	"school-meals/internal/services/pricing"
	"school-meals/internal/services/report"
	"school-meals/internal/storage"
	"school-meals/internal/web"
)

// Dependencies holds everything the router needs
type Dependencies struct {
	Config *config.Config
	Store  storage.Store
	Logger *logger.Logger
	// Events is optional; nil disables meal event publishing.
	Events order.EventPublisher
	// Now overrides the wall clock, mainly in tests.
	Now func() time.Time
}

type registrar interface {
	RegisterRoutes(routes web.Routes)
}

// NewRouter wires the services onto a single handler
func NewRouter(deps Dependencies) (http.Handler, error) {
	cfg, log := deps.Config, deps.Logger
	now := deps.Now
	if now == nil {
		now = time.Now
	}

	window, err := order.NewWindow(cfg.Ordering, now)
	if err != nil {
		return nil, fmt.Errorf("failed to build ordering window: %w", err)
	}
	tokens := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	loginLimiter := web.NewRateLimiter(cfg.Server.LoginRateLimit, cfg.Server.LoginBurst, log)

	orders := order.NewService(deps.Store, window, deps.Events, log)
	handlers := []registrar{
		accounts.NewHandler(accounts.NewService(deps.Store, tokens, log), log, loginLimiter.Handler),
		classes.NewHandler(classes.NewService(deps.Store, log), log),
		pricing.NewHandler(pricing.NewService(deps.Store, log), log),
		calendar.NewHandler(calendar.NewService(deps.Store, window, deps.Events, log), log),
		order.NewHandler(orders, log),
		report.NewHandler(report.NewService(deps.Store, log), log),
	}

	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		web.WriteError(w, req, log, "route_not_found", apperr.NotFound("route %s not found", req.URL.Path))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		web.WriteJSON(w, http.StatusMethodNotAllowed, map[string]interface{}{
			"error":      "method not allowed",
			"timestamp":  time.Now().UTC().Format(time.RFC3339),
			"request_id": logger.RequestID(req.Context()),
		})
	})
	r.Use(metrics.Instrument, web.RequestLogging(log), web.Timeout(cfg.Server.RequestTimeout))

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler(deps.Store, log)).Methods(http.MethodGet)

	// Three subrouters share the /api prefix; a request falls through to the
	// next one when the previous has no route for it.
	authn := web.NewAuthenticator(tokens, log)
	routes := web.Routes{
		Public: r.PathPrefix("/api").Subrouter(),
		User:   r.PathPrefix("/api").Subrouter(),
		Admin:  r.PathPrefix("/api").Subrouter(),
	}
	routes.User.Use(authn.Handler)
	routes.Admin.Use(authn.Handler, web.RequireRole(log, models.RoleAdmin))

	for _, h := range handlers {
		h.RegisterRoutes(routes)
	}

	return web.NewCORS(cfg.Server.AllowedOrigins).Handler(r), nil
}

func healthHandler(store storage.Store, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := store.Ping(ctx); err != nil {
			log.Warn("health_check_failed", "Storage is unreachable", logger.RequestID(r.Context()), map[string]interface{}{
				"error": err.Error(),
			})
			web.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		web.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
