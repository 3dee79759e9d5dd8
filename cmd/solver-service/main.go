// solver-service is the HTTP API server for plate-solving astrophotography images.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"platesolver/internal/api"
	"platesolver/internal/astrometry"
	"platesolver/internal/config"
	"platesolver/internal/credentials"
	"platesolver/internal/dispatcher"
	"platesolver/internal/health"
	"platesolver/internal/observability"
	"platesolver/internal/session"
	"platesolver/internal/solve"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	// Load configuration
	svcCfg := config.LoadServiceConfig()
	solverCfg := config.LoadSolverConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	if err := solverCfg.Validate(); err != nil {
		return err
	}

	// Setup metrics
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	// Create callback dispatcher
	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	// Create solver transport and session manager
	client := astrometry.NewClient(astrometry.Options{
		ReadTimeout:   solverCfg.ReadTimeout,
		UploadTimeout: solverCfg.UploadTimeout,
	})
	creds, err := credentials.NewFileStore(config.GetEnv("SOLVER_API_KEY_FILE", "/run/secrets/solver-api-key"))
	if err != nil {
		return err
	}
	sessions := session.NewManager(client, creds, solverCfg)

	// Create solve orchestrator and service
	orchestrator := solve.NewOrchestrator(solve.Options{
		Transport: client,
		Sessions:  sessions,
		Config:    solverCfg,
		Events:    eventDispatcher,
		Metrics:   metrics,
	})
	solveService := solve.NewService(orchestrator)

	slog.Info("Solver configured", "server", solverCfg.EffectiveServerURL())

	// Create health checker probing the remote solver
	healthChecker := health.NewChecker(health.ProbeFunc(func(ctx context.Context) error {
		return client.Ready(ctx, solverCfg.EffectiveServerURL())
	}))

	// Create API router
	router := api.NewRouter(api.RouterConfig{
		SolveService:  solveService,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY_FILE configured")
	}

	// Create API server
	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Create metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// shutdown closes both servers gracefully
	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: Mark service as unhealthy for load balancer draining
	healthChecker.SetShuttingDown()

	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: Graceful shutdown - stop accepting new connections, finish in-flight requests
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: Cancel active solves, then drain the callback dispatcher so
	// their terminal events still reach subscribers.
	if active := solveService.ActiveCount(); active > 0 {
		slog.Info("Cancelling active solves", "count", active)
		solveService.CancelAll()
	}

	slog.Info("Draining callback dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}
