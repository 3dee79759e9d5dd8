// Package health provides liveness and readiness probes.
package health

import (
	"context"
	"sync"
	"time"
)

// SolverProbe verifies the remote solver endpoint answers at all.
type SolverProbe interface {
	Ready(ctx context.Context) error
}

// ProbeFunc adapts a function to the SolverProbe interface.
type ProbeFunc func(ctx context.Context) error

func (f ProbeFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult contains the result of a single check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// IsHealthy returns true if the overall status is healthy.
func (r *Response) IsHealthy() bool {
	return r.Status == StatusHealthy
}

// Checker performs health checks against the remote solver.
type Checker struct {
	solver  SolverProbe
	timeout time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker probing the given solver.
func NewChecker(solver SolverProbe) *Checker {
	return &Checker{
		solver:  solver,
		timeout: 5 * time.Second,
	}
}

// Liveness reports whether the process is alive. It never consults external
// services; failing this probe should restart the process.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{Status: StatusHealthy}
}

// Readiness checks whether the service can accept solve requests. The result
// is cached for a second so probes do not hammer the remote solver.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}
	if c.cachedReady != nil && time.Since(c.lastCheck) < time.Second {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	checks := map[string]CheckResult{
		"solver": c.checkSolver(ctx),
	}
	overall := StatusHealthy
	if checks["solver"].Status != StatusHealthy {
		overall = StatusUnhealthy
	}
	response := &Response{Status: overall, Checks: checks}

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

func (c *Checker) checkSolver(ctx context.Context) CheckResult {
	if c.solver == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "solver not configured"}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.solver.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// SetShuttingDown marks the service as shutting down so readiness turns
// unhealthy and load balancers stop routing new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil
}
