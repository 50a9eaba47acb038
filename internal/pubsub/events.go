// Package pubsub provides a generic publish/subscribe event system used to
// fan out reconciliation reports, poll results and log lines.
package pubsub

import (
	"context"
	"time"
)

// EventType represents the type of event being published.
type EventType string

const (
	ReconciledEvent EventType = "reconciled"
	UntaggedEvent   EventType = "untagged"
	PollClosedEvent EventType = "poll_closed"
	LogEvent        EventType = "log"
)

// Event represents a published event with a typed payload.
type Event[T any] struct {
	Type      EventType
	Payload   T
	Timestamp time.Time
}

// Subscriber provides a subscription channel for events.
type Subscriber[T any] interface {
	Subscribe(ctx context.Context) <-chan Event[T]
}

// Publisher allows publishing events with a typed payload.
type Publisher[T any] interface {
	Publish(eventType EventType, payload T)
}

// Next blocks until the next event arrives on ch or ctx is done.
// ok is false when the channel was closed or the context ended first.
func Next[T any](ctx context.Context, ch <-chan Event[T]) (Event[T], bool) {
	select {
	case <-ctx.Done():
		return Event[T]{}, false
	case event, ok := <-ch:
		return event, ok
	}
}
