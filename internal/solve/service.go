package solve

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"platesolver/internal/apperrors"
)

const (
	maxSolveIDLength  = 128
	maxCallbackEvents = 16
)

var solveIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Service validates incoming solve requests before handing them to the
// orchestrator. It is the surface the HTTP handlers talk to.
type Service struct {
	orch *Orchestrator
}

func NewService(orch *Orchestrator) *Service {
	return &Service{orch: orch}
}

// Create validates and starts a solve, returning the acknowledgment.
func (s *Service) Create(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	if _, err := s.orch.StartSolve(ctx, req); err != nil {
		return nil, err
	}
	return &Response{ID: req.ID, Status: StatusPending}, nil
}

// Get returns the latest patch of an active solve.
func (s *Service) Get(id string) (Patch, error) {
	patch, ok := s.orch.Snapshot(id)
	if !ok {
		return Patch{}, apperrors.NotFound("solve", id)
	}
	return patch, nil
}

// List returns the latest patch of every active solve.
func (s *Service) List() ListResponse {
	return ListResponse{Solves: s.orch.Snapshots()}
}

// Cancel requests cancellation of an active solve. Cancelling an unknown
// or already-finished solve is a no-op.
func (s *Service) Cancel(id string) {
	s.orch.Cancel(id)
}

// CancelAll cancels every active solve. Used during shutdown.
func (s *Service) CancelAll() { s.orch.CancelAll() }

// ActiveCount returns the number of active solves.
func (s *Service) ActiveCount() int { return s.orch.ActiveCount() }

func validateRequest(req Request) error {
	if req.ID == "" {
		return apperrors.Validation("id", "solve id is required")
	}
	if len(req.ID) > maxSolveIDLength {
		return apperrors.Validation("id", fmt.Sprintf("solve id exceeds %d characters", maxSolveIDLength))
	}
	if !solveIDPattern.MatchString(req.ID) {
		return apperrors.Validation("id", "solve id may only contain letters, digits, '.', '_' and '-'")
	}
	if (req.FilePath == "") == (req.ImageURL == "") {
		return apperrors.Validation("source", "exactly one of filePath and imageUrl must be set")
	}
	if req.ImageURL != "" {
		if err := validateHTTPURL("imageUrl", req.ImageURL); err != nil {
			return err
		}
	}
	if req.Callback != nil {
		if err := validateHTTPURL("callback.url", req.Callback.URL); err != nil {
			return err
		}
		if len(req.Callback.Events) > maxCallbackEvents {
			return apperrors.Validation("callback.events", fmt.Sprintf("at most %d event filters are allowed", maxCallbackEvents))
		}
	}
	return nil
}

func validateHTTPURL(field, raw string) error {
	if raw == "" {
		return apperrors.Validation(field, "url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return apperrors.Validation(field, "must be an absolute http or https url")
	}
	return nil
}
