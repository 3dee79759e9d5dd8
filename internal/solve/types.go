// Package solve drives plate-solve requests through the remote solver as
// per-request asynchronous state machines.
package solve

import (
	"time"

	"platesolver/internal/astrometry"
)

// Status is the local state of a solve pipeline.
//
// Transitions are monotonic: pending -> uploading -> submitted -> solving ->
// success|failure, with cancelled reachable from any non-terminal state.
// No transition ever leaves a terminal status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSubmitted Status = "submitted"
	StatusSolving   Status = "solving"
	StatusSuccess   Status = "success"
	StatusFailure   Status = "failure"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transitions can occur.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusFailure || s == StatusCancelled
}

// progressFor maps a status to its reported progress. Failure and
// cancellation freeze progress at the last reported value instead.
func progressFor(s Status) int {
	switch s {
	case StatusUploading:
		return 10
	case StatusSubmitted:
		return 25
	case StatusSolving:
		return 50
	case StatusSuccess:
		return 100
	default:
		return 0
	}
}

// Request describes a single solve. Exactly one of FilePath and ImageURL
// must be set; both flavors are identical after the upload step.
type Request struct {
	ID       string    `json:"id"`
	FileID   string    `json:"fileId,omitempty"`
	FileName string    `json:"fileName,omitempty"`
	FilePath string    `json:"filePath,omitempty"`
	ImageURL string    `json:"imageUrl,omitempty"`
	Callback *Callback `json:"callback,omitempty"`
}

// Source labels the request's input kind for metrics and events.
func (r *Request) Source() string {
	if r.ImageURL != "" {
		return "url"
	}
	return "file"
}

// Callback configures lifecycle event delivery for a solve.
type Callback struct {
	URL    string   `json:"url"`
	Events []string `json:"events,omitempty"`
	Key    string   `json:"key,omitempty"` // HMAC signing key
}

// Patch is one immutable state transition of a solve. The orchestrator only
// ever produces patches; callers apply them to their own storage.
type Patch struct {
	SolveID   string             `json:"solveId"`
	Status    Status             `json:"status"`
	Progress  int                `json:"progress"`
	ErrorCode string             `json:"errorCode,omitempty"`
	Error     string             `json:"error,omitempty"`
	Result    *astrometry.Result `json:"result,omitempty"`
	Time      time.Time          `json:"time"`
}

// Response acknowledges an accepted solve request.
type Response struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

// ListResponse is the snapshot of all active solves.
type ListResponse struct {
	Solves []Patch `json:"solves"`
}
