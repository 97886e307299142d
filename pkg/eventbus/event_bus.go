// Package eventbus carries process lifecycle notifications between the
// gateway and its collaborators.
//
// The gateway publishes events.ProcessCreated after a process is persisted and
// events.ProcessTransitioned after every applied state change, keyed by the
// process public ID so one process's events stay ordered on a partitioned
// broker. Delivery is at-least-once and best effort: the stored process is the
// source of truth, and subscribers such as the expiry registrar must tolerate
// duplicates and gaps.
package eventbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/sovereignrag/process/pkg/events"
)

var ErrUnexpectedEvent = errors.New("unexpected event payload")

// Event is anything the bus can route by type.
type Event interface {
	GetType() events.EventType
}

type EventPublisher interface {
	// Publish sends event under key. Callers treat failures as non-fatal.
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	// Handle registers the handler for one event type. It must be called
	// before Subscribe.
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives the decoded payload of one event. Returning an error
// asks the transport to redeliver.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	// GenerateID returns a unique message identifier.
	GenerateID() string
}

// On adapts a handler typed on one event payload to EventHandler. Payloads
// arrive as *T from the transport and as T from in-process callers; anything
// else is rejected with ErrUnexpectedEvent.
func On[T any](handler func(ctx context.Context, event *T) error) EventHandler {
	return func(ctx context.Context, event any) error {
		switch e := event.(type) {
		case *T:
			if e == nil {
				return fmt.Errorf("%w: nil %T", ErrUnexpectedEvent, e)
			}

			return handler(ctx, e)
		case T:
			return handler(ctx, &e)
		default:
			var want T

			return fmt.Errorf("%w: got %T, want %T", ErrUnexpectedEvent, event, want)
		}
	}
}
