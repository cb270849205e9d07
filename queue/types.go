package queue

import "fmt"

// Snapshot is one observation of the participant's place in the waiting
// room. It is replaced wholesale on every status update, never patched.
type Snapshot struct {
	TotalSize int `json:"totalQueueSize"`
	Position  int `json:"userQueuePosition"`
	Behind    int `json:"usersBehind"`
}

// Validate rejects snapshots the backend should never produce. Callers
// drop invalid snapshots at the boundary instead of propagating them.
func (s Snapshot) Validate() error {
	if s.TotalSize < 1 {
		return fmt.Errorf("queue: totalQueueSize %d < 1", s.TotalSize)
	}
	if s.Position < 1 {
		return fmt.Errorf("queue: userQueuePosition %d < 1", s.Position)
	}
	if s.Position > s.TotalSize {
		return fmt.Errorf("queue: position %d exceeds queue size %d", s.Position, s.TotalSize)
	}
	if s.Behind != s.TotalSize-s.Position {
		return fmt.Errorf("queue: usersBehind %d != totalQueueSize-position (%d)", s.Behind, s.TotalSize-s.Position)
	}
	return nil
}

type EventKind string

const (
	EventStatus      EventKind = "STATUS_UPDATE"
	EventAllowedIn   EventKind = "ALLOWED_IN"
	EventServerError EventKind = "ERROR"
	EventHeartbeat   EventKind = "HEARTBEAT"
)

// Event is a single message from the live status stream.
type Event struct {
	Kind     EventKind
	Snapshot *Snapshot // set for EventStatus
	Err      *ServerError
}

// ServerError is an explicit rejection signaled by the backend over the
// stream, as opposed to a transport-level failure.
type ServerError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("queue: server error %s: %s", e.Code, e.Message)
}

// PollOutcome is the result of one status poll. Ready means the
// participant may proceed to the purchase flow; otherwise Snapshot
// carries the current position.
type PollOutcome struct {
	Ready    bool
	Snapshot *Snapshot
}
