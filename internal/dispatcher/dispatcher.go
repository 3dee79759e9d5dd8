// Package dispatcher delivers solve lifecycle events to callback URLs with
// buffering, retry and per-host circuit breaking.
package dispatcher

import (
	"context"
	"errors"

	"platesolver/pkg/cloudevent"
)

// ErrBufferFull is returned when the queue is full and the event is dropped.
var ErrBufferFull = errors.New("dispatcher buffer full, event dropped")

// Dispatcher handles async delivery of callback events.
type Dispatcher interface {
	// Dispatch queues an event for async delivery. Non-blocking.
	// Returns ErrBufferFull if the event cannot be queued.
	Dispatch(destination, signingKey string, event *cloudevent.CloudEvent) error

	// Stats returns current dispatcher statistics.
	Stats() Stats

	// Close gracefully shuts down, attempting to deliver queued events.
	// The context deadline controls how long to wait for drain.
	Close(ctx context.Context) error
}

// envelope is one queued delivery.
type envelope struct {
	payload     *cloudevent.CloudEvent
	destination string
	signingKey  string // empty = unsigned
	requeues    int    // times requeued due to an open circuit
}

// Stats holds dispatcher statistics.
type Stats struct {
	QueueDepth    int   // current queue size
	Queued        int64 // total events queued
	Delivered     int64 // successful deliveries
	Failed        int64 // failed after retries
	Dropped       int64 // dropped due to full buffer or max requeues
	Requeued      int64 // requeued due to open circuit
	RetriesTotal  int64 // total retry attempts
	BreakersTotal int   // total circuit breakers
	BreakersOpen  int   // currently open breakers
}
