package solve

import (
	"context"
	"errors"
	"strings"
	"testing"

	"platesolver/internal/apperrors"
	"platesolver/internal/astrometry"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	orch, _ := newTestOrchestrator(t, &fakeTransport{})
	return NewService(orch)
}

func TestServiceCreateValidation(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	cases := []struct {
		name string
		req  Request
	}{
		{"missing id", Request{FilePath: "/tmp/x.fits"}},
		{"id too long", Request{ID: strings.Repeat("a", maxSolveIDLength+1), FilePath: "/tmp/x.fits"}},
		{"id bad characters", Request{ID: "bad id!", FilePath: "/tmp/x.fits"}},
		{"id leading dash", Request{ID: "-leading", FilePath: "/tmp/x.fits"}},
		{"no source", Request{ID: "a"}},
		{"both sources", Request{ID: "a", FilePath: "/tmp/x.fits", ImageURL: "https://example.com/x.jpg"}},
		{"relative image url", Request{ID: "a", ImageURL: "/m31.jpg"}},
		{"ftp image url", Request{ID: "a", ImageURL: "ftp://example.com/m31.jpg"}},
		{"callback missing url", Request{ID: "a", FilePath: "/tmp/x.fits", Callback: &Callback{}}},
		{"callback bad url", Request{ID: "a", FilePath: "/tmp/x.fits", Callback: &Callback{URL: "not a url"}}},
		{"too many event filters", Request{ID: "a", FilePath: "/tmp/x.fits", Callback: &Callback{
			URL:    "https://example.com/hook",
			Events: make([]string, maxCallbackEvents+1),
		}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), tc.req); !errors.Is(err, apperrors.ErrValidation) {
				t.Fatalf("error = %v, want validation", err)
			}
		})
	}
}

func TestServiceCreateAcknowledges(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	resp, err := svc.Create(context.Background(), Request{ID: "svc-1", FilePath: "/tmp/x.fits"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if resp.ID != "svc-1" || resp.Status != StatusPending {
		t.Errorf("response = %+v", resp)
	}
}

func TestServiceGetUnknown(t *testing.T) {
	t.Parallel()

	svc := newTestService(t)
	if _, err := svc.Get("ghost"); !errors.Is(err, apperrors.ErrNotFound) {
		t.Fatalf("error = %v, want not found", err)
	}
	// Cancelling an unknown solve is a no-op, never an error.
	svc.Cancel("ghost")
}

func TestServiceListAndCancel(t *testing.T) {
	t.Parallel()

	polled := make(chan struct{}, 2)
	transport := &fakeTransport{
		submission: func(context.Context, string, int64) (*astrometry.SubmissionStatus, error) {
			select {
			case polled <- struct{}{}:
			default:
			}
			return &astrometry.SubmissionStatus{}, nil
		},
	}
	orch, _ := newTestOrchestrator(t, transport, func(o *Options) {
		o.Clock = &stalledClock{newInstantClock()}
	})
	svc := NewService(orch)

	if _, err := svc.Create(context.Background(), Request{ID: "list-1", FilePath: "/tmp/x.fits"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	<-polled

	list := svc.List()
	if len(list.Solves) != 1 {
		t.Fatalf("List returned %d solves", len(list.Solves))
	}
	if list.Solves[0].SolveID != "list-1" || list.Solves[0].Status != StatusSubmitted {
		t.Errorf("snapshot = %+v", list.Solves[0])
	}
	if got := svc.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d", got)
	}

	svc.Cancel("list-1")
	if got := svc.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after cancel = %d", got)
	}
}
