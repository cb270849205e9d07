package admission

import (
	"context"

	"ticketgate/queue"
)

// State is the single derived admission state a consuming view reads.
type State int

const (
	Unregistered State = iota
	Registering
	Waiting
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unregistered:
		return "unregistered"
	case Registering:
		return "registering"
	case Waiting:
		return "waiting"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status is the projection views consume. Snapshot is set while Waiting;
// Reason is set when Failed.
type Status struct {
	State    State
	Snapshot *queue.Snapshot
	Reason   error
}

// EventSource is an open live-status subscription (see queue.Stream).
type EventSource interface {
	Events() <-chan queue.Event
	Err() error
	Close()
}

// Transport is the slice of the queue adapter the controller needs.
type Transport interface {
	Register(ctx context.Context) error
	PollStatus(ctx context.Context) (queue.PollOutcome, error)
	OpenStream(ctx context.Context) (EventSource, error)
}

type gate struct{ t *queue.Transport }

func (g gate) Register(ctx context.Context) error { return g.t.Register(ctx) }

func (g gate) PollStatus(ctx context.Context) (queue.PollOutcome, error) {
	return g.t.PollStatus(ctx)
}

func (g gate) OpenStream(ctx context.Context) (EventSource, error) {
	st, err := g.t.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

// WrapTransport adapts the concrete HTTP transport to the controller's
// Transport interface.
func WrapTransport(t *queue.Transport) Transport { return gate{t: t} }
