package handoff

import (
	"sync"
	"time"

	"ticketgate/metrics"

	"github.com/rs/zerolog/log"
)

// DefaultPaymentChannel is the broadcast channel name shared with the
// payment callback page.
const DefaultPaymentChannel = "payment-handoff"

// PaymentHandoff spawns payment popups and receives their outcome over a
// named broadcast channel with acknowledged delivery: a payment result
// must never be silently dropped, so the opener replies with an ack the
// callback page waits for before closing.
//
// The bus is shared by every window of the origin, so the handoff keeps
// exactly one active subscriber: opening a new session releases the
// previous attempt's subscription first. Each attempt owns only its own
// subscription; tearing down a superseded session never touches the
// attempt that replaced it.
type PaymentHandoff struct {
	opener   Opener
	bus      *Bus
	channel  string
	liveness time.Duration

	mu      sync.Mutex
	current *subscription
}

func NewPaymentHandoff(o Opener, bus *Bus, channel string, liveness time.Duration) *PaymentHandoff {
	if channel == "" {
		channel = DefaultPaymentChannel
	}
	return &PaymentHandoff{opener: o, bus: bus, channel: channel, liveness: liveness}
}

// subscription is one attempt's claim on the bus channel. release is
// idempotent, and settles the claim even when it races the Subscribe
// call that produces the cancel func: a release before set marks the
// claim dead, and set then cancels immediately.
type subscription struct {
	mu       sync.Mutex
	cancel   func()
	released bool
}

func (s *subscription) set(cancel func()) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancel = cancel
	s.mu.Unlock()
}

func (s *subscription) release() {
	s.mu.Lock()
	c := s.cancel
	s.cancel = nil
	s.released = true
	s.mu.Unlock()
	if c != nil {
		c()
	}
}

// PaymentSession is one payment attempt. Close also releases this
// attempt's bus subscription, and only this attempt's.
type PaymentSession struct {
	*Session
	release func()
}

func (ps *PaymentSession) Close() {
	ps.release()
	ps.Session.Close()
}

// Open spawns the payment popup and subscribes for its outcome. Window
// creation failure returns ErrPopupBlocked synchronously.
func (h *PaymentHandoff) Open(url string, onSuccess func(PaymentResult), onFail func(PaymentError), onCancelled func()) (*PaymentSession, error) {
	sub := &subscription{}
	h.swap(sub)

	sess, err := newSession(h.opener, url, h.liveness, func(m Message) {
		// Ack strictly after acceptance, before the outcome callback, so
		// the callback page never closes believing delivery succeeded
		// when the opener failed to process it.
		h.bus.Publish(h.channel, NewPaymentAck())
		sub.release()
		h.dispatch(m, onSuccess, onFail)
	}, func() {
		sub.release()
		metrics.HandoffOutcomesTotal.WithLabelValues("payment", "cancelled").Inc()
		if onCancelled != nil {
			onCancelled()
		}
	})
	if err != nil {
		sub.release()
		metrics.HandoffOutcomesTotal.WithLabelValues("payment", "blocked").Inc()
		return nil, err
	}

	sub.set(h.bus.Subscribe(h.channel, func(m Message) {
		switch m.Type {
		case TypePaymentSuccess, TypePaymentFail:
			sess.accept(m)
		default:
			// Acks, including our own, are not terminal.
		}
	}))

	return &PaymentSession{Session: sess, release: sub.release}, nil
}

// swap makes sub the single active subscription, releasing whichever
// attempt held the channel before.
func (h *PaymentHandoff) swap(sub *subscription) {
	h.mu.Lock()
	prev := h.current
	h.current = sub
	h.mu.Unlock()
	if prev != nil {
		prev.release()
	}
}

func (h *PaymentHandoff) dispatch(m Message, onSuccess func(PaymentResult), onFail func(PaymentError)) {
	switch m.Type {
	case TypePaymentSuccess:
		res, err := m.Payment()
		if err != nil {
			log.Error().Err(err).Msg("payment: success message undecodable")
			metrics.HandoffOutcomesTotal.WithLabelValues("payment", "fail").Inc()
			if onFail != nil {
				onFail(PaymentError{Code: "MALFORMED", Message: "undecodable payment result"})
			}
			return
		}
		metrics.HandoffOutcomesTotal.WithLabelValues("payment", "success").Inc()
		log.Info().Str("orderId", res.OrderID).Int64("amount", res.Amount).Msg("payment: confirmed")
		if onSuccess != nil {
			onSuccess(res)
		}
	case TypePaymentFail:
		pe, err := m.PaymentFailure()
		if err != nil {
			pe = PaymentError{Code: "MALFORMED", Message: "undecodable payment failure"}
		}
		metrics.HandoffOutcomesTotal.WithLabelValues("payment", "fail").Inc()
		log.Warn().Str("code", pe.Code).Str("orderId", pe.OrderID).Msg("payment: failed")
		if onFail != nil {
			onFail(pe)
		}
	}
}
