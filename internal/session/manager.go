// Package session caches the process-wide solver session token.
package session

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"platesolver/internal/apperrors"
	"platesolver/internal/config"
	"platesolver/internal/credentials"
)

// LoginClient is the slice of the transport client the manager needs.
type LoginClient interface {
	Login(ctx context.Context, serverURL, apiKey string) (string, error)
}

// Manager holds one session token for the whole process. The token is
// created lazily on first use and dropped explicitly (Clear) or implicitly
// when a solve fails with an auth classification.
type Manager struct {
	transport LoginClient
	creds     credentials.Store
	cfg       *config.SolverConfig

	mu    sync.RWMutex
	token string

	// Collapses concurrent Ensure calls into one in-flight login, so two
	// solves racing to re-authenticate share a single fresh token.
	group singleflight.Group
}

// NewManager creates a session manager.
func NewManager(transport LoginClient, creds credentials.Store, cfg *config.SolverConfig) *Manager {
	return &Manager{
		transport: transport,
		creds:     creds,
		cfg:       cfg,
	}
}

// Ensure returns the cached token, logging in first when none is cached.
// Fails with a configuration error when no API key is stored.
func (m *Manager) Ensure(ctx context.Context) (string, error) {
	m.mu.RLock()
	token := m.token
	m.mu.RUnlock()
	if token != "" {
		return token, nil
	}

	result, err, _ := m.group.Do("login", func() (any, error) {
		// A racing caller may have finished logging in while we waited on
		// the flight group.
		m.mu.RLock()
		cached := m.token
		m.mu.RUnlock()
		if cached != "" {
			return cached, nil
		}

		apiKey, err := m.creds.Get()
		if err != nil {
			return "", err
		}
		if apiKey == "" {
			return "", apperrors.Config("no solver API key configured")
		}

		fresh, err := m.transport.Login(ctx, m.cfg.EffectiveServerURL(), apiKey)
		if err != nil {
			return "", err
		}

		m.mu.Lock()
		m.token = fresh
		m.mu.Unlock()
		return fresh, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Clear unconditionally drops the cached token. Safe to call when nothing
// is cached.
func (m *Manager) Clear() {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
}
