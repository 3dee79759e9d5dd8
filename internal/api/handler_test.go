package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"platesolver/internal/astrometry"
	"platesolver/internal/config"
	"platesolver/internal/health"
	"platesolver/internal/solve"
	"platesolver/internal/testutil"
)

// stubTransport keeps solves parked in the submission poll loop until
// release is closed, so handlers can observe active solves.
type stubTransport struct {
	release chan struct{}
}

func (s *stubTransport) UploadFile(context.Context, string, string, astrometry.UploadOptions) (int64, error) {
	return 42, nil
}

func (s *stubTransport) UploadURL(context.Context, string, string, astrometry.UploadOptions) (int64, error) {
	return 42, nil
}

func (s *stubTransport) GetSubmissionStatus(context.Context, string, int64) (*astrometry.SubmissionStatus, error) {
	select {
	case <-s.release:
		return &astrometry.SubmissionStatus{JobIDs: []int64{7}}, nil
	default:
		return &astrometry.SubmissionStatus{}, nil
	}
}

func (s *stubTransport) GetJobStatus(context.Context, string, int64) (astrometry.JobState, error) {
	return astrometry.JobSuccess, nil
}

func (s *stubTransport) GetJobCalibration(context.Context, string, int64) (*astrometry.Calibration, error) {
	return &astrometry.Calibration{RA: 83.822, Dec: -5.391}, nil
}

func (s *stubTransport) GetJobAnnotations(context.Context, string, int64) ([]astrometry.Annotation, error) {
	return nil, nil
}

func (s *stubTransport) GetJobInfo(context.Context, string, int64) (*astrometry.JobInfo, error) {
	return &astrometry.JobInfo{}, nil
}

type stubSessions struct{}

func (stubSessions) Ensure(context.Context) (string, error) { return "tok", nil }
func (stubSessions) Clear()                                 {}

type stubProbe struct{ err error }

func (s stubProbe) Ready(context.Context) error { return s.err }

func newTestRouter(t *testing.T, apiKey string, probeErr error) (http.Handler, *stubTransport) {
	t.Helper()
	transport := &stubTransport{release: make(chan struct{})}
	t.Cleanup(func() {
		select {
		case <-transport.release:
		default:
			close(transport.release)
		}
	})

	orch := solve.NewOrchestrator(solve.Options{
		Transport: transport,
		Sessions:  stubSessions{},
		Config: &config.SolverConfig{
			ScaleUnits:      config.ScaleDegWidth,
			PollInterval:    5 * time.Millisecond,
			MaxPollAttempts: 1000,
		},
	})
	router := NewRouter(RouterConfig{
		SolveService:  solve.NewService(orch),
		HealthChecker: health.NewChecker(stubProbe{err: probeErr}),
		APIKey:        apiKey,
	})
	return router, transport
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateSolve(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/solves", solve.Request{
		ID:       "api-1",
		ImageURL: "https://example.com/m42.jpg",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp solve.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "api-1" || resp.Status != solve.StatusPending {
		t.Errorf("response = %+v", resp)
	}
}

func TestCreateSolveInvalidBody(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/solves", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCreateSolveValidationError(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/solves", solve.Request{ID: "no-source"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestGetSolveLifecycle(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/solves", solve.Request{
		ID:       "api-get",
		ImageURL: "https://example.com/m42.jpg",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d", rec.Code)
	}

	testutil.MustWaitFor(t, func() bool {
		rec := doJSON(t, router, http.MethodGet, "/v1/solves/api-get", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		var patch solve.Patch
		if err := json.Unmarshal(rec.Body.Bytes(), &patch); err != nil {
			return false
		}
		return patch.Status == solve.StatusSubmitted
	}, testutil.WithTimeout(5*time.Second), testutil.WithInterval(10*time.Millisecond))
}

func TestGetSolveUnknown(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(t, router, http.MethodGet, "/v1/solves/ghost", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteSolve(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/solves", solve.Request{
		ID:       "api-del",
		ImageURL: "https://example.com/m42.jpg",
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("create status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodDelete, "/v1/solves/api-del", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	// Idempotent: repeating the delete still succeeds.
	rec = doJSON(t, router, http.MethodDelete, "/v1/solves/api-del", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("second delete status = %d", rec.Code)
	}
}

func TestDeleteAllSolves(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	for _, id := range []string{"bulk-1", "bulk-2"} {
		rec := doJSON(t, router, http.MethodPost, "/v1/solves", solve.Request{
			ID:       id,
			ImageURL: "https://example.com/m42.jpg",
		})
		if rec.Code != http.StatusAccepted {
			t.Fatalf("create %s status = %d", id, rec.Code)
		}
	}

	rec := doJSON(t, router, http.MethodDelete, "/v1/solves", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete all status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/v1/solves", nil)
	var list solve.ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Solves) != 0 {
		t.Errorf("active solves after cancel all = %d", len(list.Solves))
	}
}

func TestSyncTargetMatch(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	body := map[string]any{
		"result": astrometry.Result{
			Calibration: astrometry.Calibration{RA: 83.822, Dec: -5.391},
			Annotations: []astrometry.Annotation{
				{Category: astrometry.CategoryMessier, Names: []string{"M 42"}},
			},
		},
		"targets": []map[string]any{
			{"id": "t1", "name": "M 42", "status": "acquiring"},
		},
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/targets/sync", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Matched bool `json:"matched"`
		Target  struct {
			ID string `json:"id"`
		} `json:"target"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Matched || resp.Target.ID != "t1" {
		t.Errorf("response = %+v", resp)
	}
}

func TestSyncTargetCreates(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	body := map[string]any{
		"result": astrometry.Result{
			Calibration: astrometry.Calibration{RA: 200, Dec: 50},
		},
		"fileId": "file-9",
	}
	rec := doJSON(t, router, http.MethodPost, "/v1/targets/sync", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var resp struct {
		Matched bool `json:"matched"`
		Target  struct {
			Name     string   `json:"name"`
			ImageIDs []string `json:"imageIds"`
		} `json:"target"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Matched {
		t.Error("expected no match")
	}
	if resp.Target.Name != "Field RA200.00" {
		t.Errorf("target name = %q", resp.Target.Name)
	}
	if len(resp.Target.ImageIDs) != 1 || resp.Target.ImageIDs[0] != "file-9" {
		t.Errorf("imageIds = %v", resp.Target.ImageIDs)
	}
}

func TestSyncTargetMissingResult(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(t, router, http.MethodPost, "/v1/targets/sync", map[string]any{"targets": []any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealthEndpoints(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	rec := doJSON(t, router, http.MethodGet, "/livez", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("livez status = %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusOK {
		t.Errorf("readyz status = %d", rec.Code)
	}
}

func TestReadyzSolverDown(t *testing.T) {
	router, _ := newTestRouter(t, "", errors.New("connection refused"))

	rec := doJSON(t, router, http.MethodGet, "/readyz", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d", rec.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	router, _ := newTestRouter(t, "secret", nil)

	cases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"malformed header", "Token abc", http.StatusUnauthorized},
		{"wrong key", "Bearer wrong", http.StatusUnauthorized},
		{"correct key", "Bearer secret", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/solves", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d", rec.Code, tc.want)
			}
		})
	}

	// Health endpoints bypass auth.
	req := httptest.NewRequest(http.MethodGet, "/livez", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("livez with auth enabled status = %d", rec.Code)
	}
}

func TestContentTypeRejected(t *testing.T) {
	router, _ := newTestRouter(t, "", nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/solves", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router, _ := newTestRouter(t, "secret", nil)

	req := httptest.NewRequest(http.MethodOptions, "/v1/solves", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS headers")
	}
}
