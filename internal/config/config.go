// Package config provides configuration loading from environment variables.
package config

import (
	"time"

	"platesolver/internal/apperrors"
)

// DefaultServerURL is the public astrometric calibration service. Custom
// servers are self-hosted instances of the same API.
const DefaultServerURL = "https://nova.astrometry.net"

// ScaleUnits describes how the optional scale bounds are expressed.
type ScaleUnits string

const (
	ScaleDegWidth     ScaleUnits = "degwidth"
	ScaleArcMinWidth  ScaleUnits = "arcminwidth"
	ScaleArcSecPerPix ScaleUnits = "arcsecperpix"
)

// ServiceConfig holds configuration for the solver service process.
type ServiceConfig struct {
	Port              string
	MetricsPort       string
	APIKey            string        // bearer key for the service's own API, empty disables auth
	ShutdownDrainWait time.Duration // time to wait for load balancer to drain (0 to skip)
}

// LoadServiceConfig loads service configuration from environment variables.
func LoadServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		Port:              GetEnv("PORT", "8080"),
		MetricsPort:       GetEnv("METRICS_PORT", "9090"),
		APIKey:            GetSecretFile(GetEnv("API_KEY_FILE", "")),
		ShutdownDrainWait: GetDurationEnv("SHUTDOWN_DRAIN_WAIT", 5*time.Second),
	}
}

// SolverConfig holds configuration for the remote solver and the solve
// orchestration pipeline.
type SolverConfig struct {
	UseCustomServer bool   // when false the custom URL field is ignored entirely
	CustomServerURL string // only consulted when UseCustomServer is true

	MaxConcurrent int  // max concurrent solve pipelines, <= 0 disables the gate
	AutoSolve     bool // advisory flag for callers importing new files

	ScaleUnits ScaleUnits
	ScaleLower float64 // 0 = unset
	ScaleUpper float64 // 0 = unset

	PollInterval    time.Duration // between submission/job status polls
	MaxPollAttempts int           // per poll loop, bounds total elapsed time
	ReadTimeout     time.Duration // per read call
	UploadTimeout   time.Duration // per upload call
}

// LoadSolverConfig loads solver configuration from environment variables.
func LoadSolverConfig() *SolverConfig {
	return &SolverConfig{
		UseCustomServer: GetBoolEnv("SOLVER_USE_CUSTOM_SERVER", false),
		CustomServerURL: GetEnv("SOLVER_CUSTOM_SERVER_URL", ""),
		MaxConcurrent:   GetIntEnv("SOLVER_MAX_CONCURRENT", 3),
		AutoSolve:       GetBoolEnv("SOLVER_AUTO_SOLVE", false),
		ScaleUnits:      ScaleUnits(GetEnv("SOLVER_SCALE_UNITS", string(ScaleDegWidth))),
		ScaleLower:      GetFloatEnv("SOLVER_SCALE_LOWER", 0),
		ScaleUpper:      GetFloatEnv("SOLVER_SCALE_UPPER", 0),
		PollInterval:    GetDurationEnv("SOLVER_POLL_INTERVAL", 5*time.Second),
		MaxPollAttempts: GetIntEnv("SOLVER_MAX_POLL_ATTEMPTS", 120),
		ReadTimeout:     GetDurationEnv("SOLVER_READ_TIMEOUT", 30*time.Second),
		UploadTimeout:   GetDurationEnv("SOLVER_UPLOAD_TIMEOUT", 120*time.Second),
	}
}

// EffectiveServerURL resolves the server URL for every remote call.
// The custom URL is honored only when the custom-server flag is set;
// otherwise the fixed default wins regardless of what the field holds.
func (c *SolverConfig) EffectiveServerURL() string {
	if c.UseCustomServer && c.CustomServerURL != "" {
		return c.CustomServerURL
	}
	return DefaultServerURL
}

// Validate checks the solver configuration for values that would break the
// pipeline at runtime.
func (c *SolverConfig) Validate() error {
	switch c.ScaleUnits {
	case ScaleDegWidth, ScaleArcMinWidth, ScaleArcSecPerPix:
	default:
		return apperrors.Validation("scaleUnits", "scale units must be degwidth, arcminwidth or arcsecperpix")
	}
	if c.ScaleLower < 0 || c.ScaleUpper < 0 {
		return apperrors.Validation("scale", "scale bounds must be non-negative")
	}
	if c.ScaleLower > 0 && c.ScaleUpper > 0 && c.ScaleLower > c.ScaleUpper {
		return apperrors.Validation("scale", "lower scale bound exceeds upper bound")
	}
	if c.PollInterval <= 0 {
		return apperrors.Validation("pollInterval", "poll interval must be positive")
	}
	if c.MaxPollAttempts <= 0 {
		return apperrors.Validation("maxPollAttempts", "poll attempt ceiling must be positive")
	}
	return nil
}
