package api

import (
	"net/http"

	"platesolver/internal/health"
	"platesolver/internal/observability"
	"platesolver/internal/solve"
)

// RouterConfig holds dependencies for the router.
type RouterConfig struct {
	SolveService  *solve.Service
	Metrics       *observability.Metrics
	HealthChecker *health.Checker
	APIKey        string
}

// NewRouter creates a new HTTP router with all routes configured.
func NewRouter(cfg RouterConfig) http.Handler {
	handler := NewHandler(cfg.SolveService, cfg.HealthChecker)

	mux := http.NewServeMux()

	// Health check endpoints (liveness/readiness probes) - no auth required
	mux.HandleFunc("GET /livez", handler.Livez)
	mux.HandleFunc("GET /readyz", handler.Readyz)

	// Solve and target endpoints - auth required
	authMiddleware := AuthMiddleware(cfg.APIKey)
	mux.Handle("POST /v1/solves", authMiddleware(http.HandlerFunc(handler.CreateSolve)))
	mux.Handle("GET /v1/solves", authMiddleware(http.HandlerFunc(handler.ListSolves)))
	mux.Handle("GET /v1/solves/{solveId}", authMiddleware(http.HandlerFunc(handler.GetSolve)))
	mux.Handle("DELETE /v1/solves/{solveId}", authMiddleware(http.HandlerFunc(handler.DeleteSolve)))
	mux.Handle("DELETE /v1/solves", authMiddleware(http.HandlerFunc(handler.DeleteSolves)))
	mux.Handle("POST /v1/targets/sync", authMiddleware(http.HandlerFunc(handler.SyncTarget)))

	// Apply middleware chain (order matters: outermost first)
	var h http.Handler = mux
	h = ContentTypeMiddleware()(h)
	h = CORSMiddleware()(h)
	if cfg.Metrics != nil {
		h = MetricsMiddleware(cfg.Metrics)(h)
	}
	h = LoggingMiddleware()(h)
	h = RecoveryMiddleware()(h)

	return h
}
