package cloudevent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSendSetsEnvelopeHeaders(t *testing.T) {
	t.Parallel()

	var gotHeaders http.Header
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	event := New("solver.solve.exit", "platesolver", "solve-1", map[string]any{"status": "success"})
	sender := NewSender(5 * time.Second)

	if err := sender.Send(context.Background(), server.URL, event, "hmac-key"); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if gotHeaders.Get("Ce-Type") != "solver.solve.exit" {
		t.Errorf("Ce-Type = %q", gotHeaders.Get("Ce-Type"))
	}
	if gotHeaders.Get("Ce-Subject") != "solve-1" {
		t.Errorf("Ce-Subject = %q", gotHeaders.Get("Ce-Subject"))
	}
	if gotHeaders.Get("Content-Type") != "application/cloudevents+json" {
		t.Errorf("Content-Type = %q", gotHeaders.Get("Content-Type"))
	}
	if gotHeaders.Get("Ce-Id") == "" {
		t.Error("expected a generated event id")
	}
	sig := gotHeaders.Get("X-Signature-256")
	if len(sig) != len("sha256=")+64 {
		t.Errorf("unexpected signature %q", sig)
	}
}

func TestSendNon2xx(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	event := New("solver.solve.start", "platesolver", "solve-1", nil)
	err := NewSender(5*time.Second).Send(context.Background(), server.URL, event, "")

	he, ok := err.(*HTTPError)
	if !ok {
		t.Fatalf("expected *HTTPError, got %v", err)
	}
	if he.StatusCode != http.StatusBadGateway {
		t.Errorf("StatusCode = %d", he.StatusCode)
	}
}

func TestIsClientError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"400", &HTTPError{StatusCode: 400}, true},
		{"499 boundary", &HTTPError{StatusCode: 499}, true},
		{"500", &HTTPError{StatusCode: 500}, false},
		{"non-HTTP error", context.DeadlineExceeded, false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsClientError(tt.err); got != tt.expected {
				t.Errorf("IsClientError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestGenerateSignature(t *testing.T) {
	t.Parallel()
	payload := []byte(`{"test":"data"}`)

	sig := generateSignature(payload, "secret-key")
	if len(sig) < 7 || sig[:7] != "sha256=" {
		t.Errorf("signature should start with 'sha256=', got %q", sig)
	}
	if sig != generateSignature(payload, "secret-key") {
		t.Error("signature should be deterministic")
	}
	if sig == generateSignature(payload, "different-key") {
		t.Error("different keys should produce different signatures")
	}
}
