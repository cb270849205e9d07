package admission

import (
	"context"
	"errors"
	"time"

	"ticketgate/queue"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"
)

const (
	defaultPollInterval   = time.Second
	defaultHeartbeatGrace = 15 * time.Second
	defaultStreamRetries  = 3
)

var (
	// ErrStreamStalled means no event, not even a heartbeat, arrived
	// within the grace period.
	ErrStreamStalled = errors.New("admission: event stream stalled")

	// ErrStreamClosed means the server ended the stream before admitting
	// the participant.
	ErrStreamClosed = errors.New("admission: event stream closed before admission")
)

// SnapshotSink receives position updates from a strategy.
type SnapshotSink interface {
	OnSnapshot(queue.Snapshot)
}

// Strategy drives the waiting phase of one activation. Await returns nil
// once the participant is admitted, or the failure that should collapse
// the machine into Failed. Exactly one strategy runs per registration;
// the controller enforces this.
type Strategy interface {
	Await(ctx context.Context, t Transport, sink SnapshotSink) error
}

// PollStrategy checks the status endpoint on a fixed interval.
type PollStrategy struct {
	Interval time.Duration
}

func (p *PollStrategy) interval() time.Duration {
	if p.Interval > 0 {
		return p.Interval
	}
	return defaultPollInterval
}

func (p *PollStrategy) Await(ctx context.Context, t Transport, sink SnapshotSink) error {
	tick := time.NewTicker(p.interval())
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			out, err := t.PollStatus(ctx)
			if err != nil {
				return err
			}
			if out.Ready {
				return nil
			}
			if out.Snapshot != nil {
				sink.OnSnapshot(*out.Snapshot)
			}
		}
	}
}

// StreamStrategy prefers the live event stream, guarded by a heartbeat
// watchdog. A broken or stalled stream is reopened under a bounded
// exponential backoff; once MaxRetries attempts are spent it falls back
// to polling, and only fails the activation when that is exhausted too.
// A server-signaled error is fatal immediately.
type StreamStrategy struct {
	HeartbeatGrace time.Duration
	MaxRetries     uint64
	RetryInterval  time.Duration // initial backoff interval; 0 keeps the library default
	Fallback       *PollStrategy
}

func (s *StreamStrategy) grace() time.Duration {
	if s.HeartbeatGrace > 0 {
		return s.HeartbeatGrace
	}
	return defaultHeartbeatGrace
}

func (s *StreamStrategy) retries() uint64 {
	if s.MaxRetries > 0 {
		return s.MaxRetries
	}
	return defaultStreamRetries
}

func (s *StreamStrategy) Await(ctx context.Context, t Transport, sink SnapshotSink) error {
	admitted, err := s.followStream(ctx, t, sink)
	if admitted {
		return nil
	}
	var se *queue.ServerError
	if errors.As(err, &se) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	log.Warn().Err(err).Msg("admission: stream retries exhausted, falling back to polling")
	fb := s.Fallback
	if fb == nil {
		fb = &PollStrategy{}
	}
	return fb.Await(ctx, t, sink)
}

func (s *StreamStrategy) followStream(ctx context.Context, t Transport, sink SnapshotSink) (bool, error) {
	var admitted bool
	var fatal error
	op := func() error {
		ok, err := s.consumeOnce(ctx, t, sink)
		if ok {
			admitted = true
			return nil
		}
		var se *queue.ServerError
		if errors.As(err, &se) {
			fatal = err
			return backoff.Permanent(err)
		}
		log.Warn().Err(err).Msg("admission: event stream attempt failed")
		return err
	}
	eb := backoff.NewExponentialBackOff()
	if s.RetryInterval > 0 {
		eb.InitialInterval = s.RetryInterval
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(eb, s.retries()), ctx)
	err := backoff.Retry(op, bo)
	if admitted {
		return true, nil
	}
	if fatal != nil {
		return false, fatal
	}
	return false, err
}

// consumeOnce opens the stream and reads it until admission, a server
// error, a stall, or disconnect.
func (s *StreamStrategy) consumeOnce(ctx context.Context, t Transport, sink SnapshotSink) (bool, error) {
	st, err := t.OpenStream(ctx)
	if err != nil {
		return false, err
	}
	defer st.Close()

	grace := s.grace()
	watchdog := time.NewTimer(grace)
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-watchdog.C:
			return false, ErrStreamStalled
		case ev, open := <-st.Events():
			if !open {
				if err := st.Err(); err != nil {
					return false, err
				}
				return false, ErrStreamClosed
			}
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(grace)

			switch ev.Kind {
			case queue.EventHeartbeat:
				// Watchdog reset is the whole point.
			case queue.EventStatus:
				sink.OnSnapshot(*ev.Snapshot)
			case queue.EventAllowedIn:
				return true, nil
			case queue.EventServerError:
				return false, ev.Err
			}
		}
	}
}
