package handoff

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrPopupBlocked is returned synchronously when the environment refuses
// to create the window. No liveness poll is started and neither outcome
// callback will ever fire.
var ErrPopupBlocked = errors.New("handoff: popup blocked")

const defaultLivenessInterval = 500 * time.Millisecond

// Window is a handle to a spawned browser window.
type Window interface {
	Closed() bool
	Close()
}

// Opener spawns popup windows with fixed dimensions centered on the
// opener. A nil window or an error means creation was blocked.
type Opener interface {
	Open(url string) (Window, error)
}

// Session tracks one popup from open until a terminal outcome. A
// liveness poll watches for the user closing the window; an incoming
// terminal message races against it. The processing flag is the
// single-assignment guard that resolves the race: the first writer wins,
// so exactly one of onTerminal and onCancelled fires, never both.
type Session struct {
	ID        string
	CreatedAt time.Time

	win      Window
	interval time.Duration

	onTerminal  func(Message)
	onCancelled func()

	mu         sync.Mutex
	processing bool
	stopped    bool
	stop       chan struct{}
}

func newSession(o Opener, url string, interval time.Duration, onTerminal func(Message), onCancelled func()) (*Session, error) {
	win, err := o.Open(url)
	if err != nil {
		return nil, err
	}
	if win == nil {
		return nil, ErrPopupBlocked
	}
	if interval <= 0 {
		interval = defaultLivenessInterval
	}
	s := &Session{
		ID:          uuid.NewString(),
		CreatedAt:   time.Now(),
		win:         win,
		interval:    interval,
		onTerminal:  onTerminal,
		onCancelled: onCancelled,
		stop:        make(chan struct{}),
	}
	go s.watch()
	return s, nil
}

func (s *Session) watch() {
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-tick.C:
			if s.win.Closed() {
				s.cancel()
				return
			}
		}
	}
}

// claim flips the processing guard. Only the first caller gets true.
func (s *Session) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.processing {
		return false
	}
	s.processing = true
	return true
}

// Processing reports whether a terminal signal has been accepted.
func (s *Session) Processing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processing
}

func (s *Session) stopWatch() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stop)
	}
	s.mu.Unlock()
}

// accept consumes a terminal message. Returns false if the session was
// already settled, in which case the message is dropped.
func (s *Session) accept(m Message) bool {
	if !s.claim() {
		log.Debug().Str("sessionId", s.ID).Str("type", m.Type).Msg("popup: duplicate terminal message ignored")
		return false
	}
	s.stopWatch()
	s.win.Close()
	if s.onTerminal != nil {
		s.onTerminal(m)
	}
	return true
}

// cancel fires when the liveness poll sees the window gone before any
// result was delivered.
func (s *Session) cancel() {
	if !s.claim() {
		return
	}
	s.stopWatch()
	log.Info().Str("sessionId", s.ID).Msg("popup: closed by user before a result")
	if s.onCancelled != nil {
		s.onCancelled()
	}
}

// Close tears the session down without firing either callback. Safe to
// call from teardown at any time, any number of times. The liveness poll
// is stopped before the window is closed so deliberate closure never
// surfaces as a cancellation.
func (s *Session) Close() {
	s.claim()
	s.stopWatch()
	s.win.Close()
}
