package wal

import "context"

// Store persists WAL events. Append assigns the event's Seq; events are never
// mutated or deleted afterward. Implementations must be safe for concurrent
// use, and Append must assign strictly increasing sequence numbers in the
// order calls complete.
type Store interface {
	// Append persists the event and returns it with Seq (and ID, if unset)
	// assigned. A failed append must not assign a sequence number.
	Append(ctx context.Context, event Event) (Event, error)

	// List returns all events in sequence order.
	List(ctx context.Context) ([]Event, error)

	// Recent returns the most recent n events in sequence order.
	Recent(ctx context.Context, n int) ([]Event, error)
}
