package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"arbitrage-platform-go/internal/auth"
	"arbitrage-platform-go/internal/config"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// APIServer provides the HTTP interface for the platform.
type APIServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewAPIServer wires the route table. /api is rate limited; everything under
// /api/v1 except auth requires a bearer token, and /api/v1/admin additionally
// requires the admin role.
func NewAPIServer(cfg *config.Server, h *Handlers, authSvc *auth.Service, logger *zap.Logger) *APIServer {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.HealthHandler)

	mux.HandleFunc("POST /api/v1/auth/signup", h.SignupHandler)
	mux.HandleFunc("POST /api/v1/auth/login", h.LoginHandler)

	authed := func(handler http.HandlerFunc) http.Handler {
		return authSvc.Middleware(handler)
	}
	admin := func(handler http.HandlerFunc) http.Handler {
		return authSvc.Middleware(auth.RequireAdmin(handler))
	}

	mux.Handle("POST /api/v1/trades", authed(h.CreateTradeHandler))
	mux.Handle("GET /api/v1/trades/mine", authed(h.MyTradesHandler))
	mux.Handle("GET /api/v1/trades/{id}", authed(h.GetTradeHandler))

	mux.Handle("POST /api/v1/support", authed(h.OpenTicketHandler))
	mux.Handle("GET /api/v1/support/mine", authed(h.MyTicketsHandler))
	mux.Handle("GET /api/v1/support/{id}", authed(h.GetTicketHandler))
	mux.Handle("POST /api/v1/support/{id}/reply", authed(h.ReplyTicketHandler))
	mux.Handle("POST /api/v1/support/{id}/close", authed(h.CloseTicketHandler))

	mux.Handle("GET /api/v1/admin/stats", admin(h.StatsHandler))
	mux.Handle("GET /api/v1/admin/users", admin(h.ListUsersHandler))
	mux.Handle("GET /api/v1/admin/users/{id}", admin(h.GetUserHandler))
	mux.Handle("PATCH /api/v1/admin/users/{id}", admin(h.PatchUserHandler))
	mux.Handle("DELETE /api/v1/admin/users/{id}", admin(h.DeleteUserHandler))
	mux.Handle("GET /api/v1/admin/trades", admin(h.ListTradesHandler))
	mux.Handle("GET /api/v1/admin/trades/{id}", admin(h.GetTradeHandler))

	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimitBurst)
	root := rateLimit(limiter, mux)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: root,
	}

	return &APIServer{
		server: server,
		logger: logger.Named("api-server"),
	}
}

// Start runs the HTTP server in a new goroutine.
func (s *APIServer) Start() {
	s.logger.Info("Starting API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
			s.logger.Error("API server failed", zap.Error(err))
		}
	}()
}

// Stop gracefully shuts down the server.
func (s *APIServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping API server...")
	return s.server.Shutdown(ctx)
}

// Handler exposes the composed route table, mainly for tests.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

// rateLimit applies a shared token bucket to the /api subtree.
func rateLimit(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api") && !limiter.Allow() {
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, please try again later")
			return
		}
		next.ServeHTTP(w, r)
	})
}
