package solve

import (
	"slices"

	"platesolver/pkg/cloudevent"
)

// Lifecycle event types emitted to solve callbacks.
const (
	EventTypeStart    = "solver.solve.start"
	EventTypeProgress = "solver.solve.progress"
	EventTypeExit     = "solver.solve.exit"
)

// EventSink delivers lifecycle events to external callbacks. Delivery is
// best effort; a full queue must not stall the solve pipeline.
type EventSink interface {
	Dispatch(destination, signingKey string, event *cloudevent.CloudEvent) error
}

// eventTypeFor maps a patch status to a lifecycle event type.
func eventTypeFor(s Status) string {
	switch {
	case s == StatusPending:
		return EventTypeStart
	case s.Terminal():
		return EventTypeExit
	default:
		return EventTypeProgress
	}
}

// wantsEvent reports whether the callback's event filter allows the type.
// An empty filter allows everything.
func wantsEvent(eventType string, filter []string) bool {
	if len(filter) == 0 {
		return true
	}
	return slices.Contains(filter, eventType)
}

// eventBuilder turns patches into CloudEvents for a fixed source.
type eventBuilder struct {
	source string
}

func (b eventBuilder) build(req Request, patch Patch) *cloudevent.CloudEvent {
	data := map[string]any{
		"solveId":  patch.SolveID,
		"status":   string(patch.Status),
		"progress": patch.Progress,
	}
	if req.FileID != "" {
		data["fileId"] = req.FileID
	}
	if patch.Error != "" {
		data["error"] = patch.Error
		data["errorCode"] = patch.ErrorCode
	}
	if patch.Result != nil {
		data["result"] = patch.Result
	}
	return cloudevent.New(eventTypeFor(patch.Status), b.source, patch.SolveID, data)
}
