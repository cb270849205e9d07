package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"ticketgate/metrics"
	"ticketgate/queue"

	"github.com/rs/zerolog/log"
)

var (
	// ErrAlreadyActive is returned when Run is called while another
	// activation is still driving the same registration.
	ErrAlreadyActive = errors.New("admission: controller already active")

	// ErrStillActive is returned by Reset while an activation is
	// running.
	ErrStillActive = errors.New("admission: reset while activation is running")
)

// Controller is the admission state machine. It owns the state
// exclusively; views read a Status projection and may register an
// OnChange callback, but never mutate.
//
// One activation: Unregistered -> Registering -> Waiting... -> Ready or
// Failed. Ready and Failed are terminal until Reset. Reaching Ready
// performs no navigation; proceeding to the purchase flow is the
// caller's business.
type Controller struct {
	transport Transport
	strategy  Strategy
	onChange  func(Status)

	mu      sync.Mutex
	status  Status
	active  bool
	started time.Time
}

type Option func(*Controller)

// WithOnChange registers a callback invoked after every state
// transition, outside the controller lock.
func WithOnChange(fn func(Status)) Option {
	return func(c *Controller) { c.onChange = fn }
}

func NewController(t Transport, s Strategy, opts ...Option) *Controller {
	c := &Controller{transport: t, strategy: s}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Status returns the current projection.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Run drives one activation to a terminal state. It blocks until the
// machine reaches Ready (nil), Failed (the failure reason), or the
// context is cancelled (deactivation: the context error is returned and
// no Failed transition happens).
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	if c.status.State != Unregistered {
		c.mu.Unlock()
		return fmt.Errorf("admission: run from %s state, want unregistered", c.status.State)
	}
	c.active = true
	c.started = time.Now()
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.active = false
		c.mu.Unlock()
	}()

	c.setState(Status{State: Registering})

	if err := c.transport.Register(ctx); err != nil {
		return c.fail(ctx, err)
	}

	// Immediate status check: the first poll may already report admission.
	out, err := c.transport.PollStatus(ctx)
	if err != nil {
		return c.fail(ctx, err)
	}
	if out.Ready {
		c.ready()
		return nil
	}
	if out.Snapshot != nil {
		c.OnSnapshot(*out.Snapshot)
	}

	if err := c.strategy.Await(ctx, c.transport, c); err != nil {
		return c.fail(ctx, err)
	}
	c.ready()
	return nil
}

// OnSnapshot accepts a queue position update. Snapshots violating the
// position invariant are rejected here regardless of which transport
// produced them.
func (c *Controller) OnSnapshot(s queue.Snapshot) {
	if err := s.Validate(); err != nil {
		log.Warn().Err(err).Msg("admission: rejecting invalid snapshot")
		return
	}
	snap := s
	metrics.QueuePosition.Set(float64(snap.Position))
	log.Debug().Int("position", snap.Position).Int("totalSize", snap.TotalSize).Msg("admission: queue position updated")
	c.setState(Status{State: Waiting, Snapshot: &snap})
}

// Reset returns an inactive machine to Unregistered so the view can
// offer a retry. Besides the terminal states this also recovers the
// mid-flight state a cancelled Run leaves behind.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrStillActive
	}
	if c.status.State == Unregistered {
		c.mu.Unlock()
		return nil
	}
	c.status = Status{State: Unregistered}
	c.mu.Unlock()
	c.notify(Status{State: Unregistered})
	return nil
}

func (c *Controller) ready() {
	waited := time.Since(c.started)
	metrics.AdmissionsTotal.WithLabelValues("ready").Inc()
	metrics.AdmissionWaitDuration.Observe(waited.Seconds())
	log.Info().Dur("waited", waited).Msg("admission: allowed in")
	c.setState(Status{State: Ready})
}

// fail collapses any queue-side failure into Failed, except context
// cancellation, which is deactivation rather than failure.
func (c *Controller) fail(ctx context.Context, err error) error {
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		log.Debug().Msg("admission: deactivated")
		return err
	}
	metrics.AdmissionsTotal.WithLabelValues("failed").Inc()
	log.Error().Err(err).Msg("admission: activation failed")
	c.setState(Status{State: Failed, Reason: err})
	return err
}

func (c *Controller) setState(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
	c.notify(s)
}

func (c *Controller) notify(s Status) {
	if c.onChange != nil {
		c.onChange(s)
	}
}
