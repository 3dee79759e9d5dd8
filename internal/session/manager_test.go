package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"platesolver/internal/apperrors"
	"platesolver/internal/config"
)

type fakeLogin struct {
	calls atomic.Int64
	err   error
}

func (f *fakeLogin) Login(ctx context.Context, serverURL, apiKey string) (string, error) {
	n := f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("token-%d", n), nil
}

type memCreds struct {
	mu  sync.Mutex
	key string
}

func (c *memCreds) Save(key string) error { c.mu.Lock(); defer c.mu.Unlock(); c.key = key; return nil }
func (c *memCreds) Get() (string, error)  { c.mu.Lock(); defer c.mu.Unlock(); return c.key, nil }
func (c *memCreds) Delete() error         { c.mu.Lock(); defer c.mu.Unlock(); c.key = ""; return nil }

func TestEnsureCachesToken(t *testing.T) {
	t.Parallel()
	transport := &fakeLogin{}
	m := NewManager(transport, &memCreds{key: "apikey"}, &config.SolverConfig{})

	first, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	second, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	if first != second {
		t.Errorf("expected cached token, got %q then %q", first, second)
	}
	if transport.calls.Load() != 1 {
		t.Errorf("expected exactly 1 login, got %d", transport.calls.Load())
	}
}

func TestEnsureAfterClearLogsInAgain(t *testing.T) {
	t.Parallel()
	transport := &fakeLogin{}
	m := NewManager(transport, &memCreds{key: "apikey"}, &config.SolverConfig{})

	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}
	m.Clear()
	if _, err := m.Ensure(context.Background()); err != nil {
		t.Fatal(err)
	}

	if transport.calls.Load() != 2 {
		t.Errorf("expected 2 logins across a clear, got %d", transport.calls.Load())
	}
}

func TestClearWithoutTokenIsSafe(t *testing.T) {
	t.Parallel()
	m := NewManager(&fakeLogin{}, &memCreds{}, &config.SolverConfig{})
	m.Clear()
	m.Clear()
}

func TestEnsureMissingKey(t *testing.T) {
	t.Parallel()
	transport := &fakeLogin{}
	m := NewManager(transport, &memCreds{}, &config.SolverConfig{})

	_, err := m.Ensure(context.Background())
	if !errors.Is(err, apperrors.ErrConfig) {
		t.Errorf("expected config error, got %v", err)
	}
	if transport.calls.Load() != 0 {
		t.Error("login should not be attempted without a key")
	}
}

func TestEnsureLoginFailureNotCached(t *testing.T) {
	t.Parallel()
	transport := &fakeLogin{err: apperrors.Auth("astrometry.login", "bad apikey")}
	m := NewManager(transport, &memCreds{key: "apikey"}, &config.SolverConfig{})

	if _, err := m.Ensure(context.Background()); !errors.Is(err, apperrors.ErrAuth) {
		t.Fatalf("expected auth error, got %v", err)
	}

	// A subsequent call retries the login rather than serving a stale error.
	transport.err = nil
	token, err := m.Ensure(context.Background())
	if err != nil {
		t.Fatalf("Ensure after recovery: %v", err)
	}
	if token == "" {
		t.Error("expected a token after recovery")
	}
}

func TestConcurrentEnsureSharesOneLogin(t *testing.T) {
	t.Parallel()
	transport := &fakeLogin{}
	m := NewManager(transport, &memCreds{key: "apikey"}, &config.SolverConfig{})

	const callers = 16
	tokens := make([]string, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := range callers {
		go func() {
			defer wg.Done()
			tok, err := m.Ensure(context.Background())
			if err != nil {
				t.Errorf("Ensure: %v", err)
			}
			tokens[i] = tok
		}()
	}
	wg.Wait()

	if got := transport.calls.Load(); got != 1 {
		t.Errorf("expected concurrent callers to share 1 login, got %d", got)
	}
	for _, tok := range tokens {
		if tok != tokens[0] {
			t.Errorf("expected one shared token, got %q and %q", tokens[0], tok)
		}
	}
}
