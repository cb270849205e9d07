// Package callback holds the code that runs inside a popup after the
// third party redirects it back to same-origin: parse the terminal query
// parameters, emit the outcome to the opener, and get out of the user's
// way.
package callback

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"ticketgate/handoff"
	"ticketgate/metrics"

	"github.com/rs/zerolog/log"
)

const (
	defaultAckWait    = 3 * time.Second
	defaultCloseDelay = 1500 * time.Millisecond
)

// Poster is the opener-side port an OAuth callback page posts through.
// *handoff.OAuthSession satisfies it.
type Poster interface {
	Post(origin string, m handoff.Message)
}

// OAuthEmitter emits a login outcome. Delivery is fire-and-forget: one
// origin-tagged message, then a delayed self-close on success. On error
// the page stays open behind a manual close affordance.
type OAuthEmitter struct {
	Port       Poster
	Origin     string        // origin the callback page runs on
	CloseDelay time.Duration // 0 means the 1.5s default
	CloseSelf  func()        // closes the popup's own window
}

// Run parses callbackURL, posts exactly one terminal message, and
// returns it.
func (e *OAuthEmitter) Run(ctx context.Context, callbackURL string) (handoff.Message, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return handoff.Message{}, err
	}
	msg := oauthOutcome(u.Query())
	e.Port.Post(e.Origin, msg)

	if msg.Type == handoff.TypeOAuthSuccess {
		delay := e.CloseDelay
		if delay <= 0 {
			delay = defaultCloseDelay
		}
		// Long enough for the opener to process the message.
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return msg, ctx.Err()
		}
		if e.CloseSelf != nil {
			e.CloseSelf()
		}
	}
	return msg, nil
}

func oauthOutcome(q url.Values) handoff.Message {
	if errCode := q.Get("error"); errCode != "" {
		desc := q.Get("error_description")
		if desc == "" {
			desc = errCode
		}
		return handoff.NewOAuthError(desc)
	}
	if token := q.Get("accessToken"); token != "" {
		expiresIn, _ := strconv.ParseInt(q.Get("expiresIn"), 10, 64)
		return handoff.NewOAuthSuccess(handoff.Login{
			AccessToken: token,
			TokenType:   q.Get("tokenType"),
			ExpiresIn:   expiresIn,
		})
	}
	return handoff.NewOAuthError("callback carried no terminal parameters")
}

// Delivery is what a payment emitter managed to get across.
type Delivery struct {
	Message handoff.Message
	Acked   bool
}

// PaymentEmitter emits a payment outcome with acknowledged delivery: it
// publishes once on the broadcast channel, then waits a bounded time for
// the opener's ack. Whether the ack arrives or not, the popup closes:
// once the opener is presumed gone there is nothing left to wait for.
type PaymentEmitter struct {
	Bus       *handoff.Bus
	Channel   string        // "" means handoff.DefaultPaymentChannel
	AckWait   time.Duration // 0 means the 3s default
	CloseSelf func()
}

func (e *PaymentEmitter) channel() string {
	if e.Channel != "" {
		return e.Channel
	}
	return handoff.DefaultPaymentChannel
}

// Run derives the outcome from callbackURL, publishes it exactly once,
// and waits for the ack bound before closing.
func (e *PaymentEmitter) Run(ctx context.Context, callbackURL string) (Delivery, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return Delivery{}, err
	}
	msg := paymentOutcome(u.Query())

	// Subscribe for the ack before publishing so a same-tick reply is
	// not lost.
	acked := make(chan struct{}, 1)
	cancel := e.Bus.Subscribe(e.channel(), func(m handoff.Message) {
		if m.Type == handoff.TypePaymentAck {
			select {
			case acked <- struct{}{}:
			default:
			}
		}
	})
	defer cancel()

	start := time.Now()
	e.Bus.Publish(e.channel(), msg)

	wait := e.AckWait
	if wait <= 0 {
		wait = defaultAckWait
	}
	bound := time.NewTimer(wait)
	defer bound.Stop()

	d := Delivery{Message: msg}
	select {
	case <-acked:
		d.Acked = true
		metrics.AckRoundTrip.Observe(time.Since(start).Seconds())
	case <-bound.C:
		// Opener gone or not listening. Not an error: it may have
		// processed the outcome without us hearing the ack.
		log.Warn().Str("type", msg.Type).Dur("waited", wait).Msg("callback: no ack, closing anyway")
	case <-ctx.Done():
		return d, ctx.Err()
	}
	if e.CloseSelf != nil {
		e.CloseSelf()
	}
	return d, nil
}

func paymentOutcome(q url.Values) handoff.Message {
	paymentKey := q.Get("paymentKey")
	orderID := q.Get("orderId")
	rawAmount := q.Get("amount")
	if paymentKey != "" && orderID != "" && rawAmount != "" {
		amount, err := strconv.ParseInt(rawAmount, 10, 64)
		if err == nil {
			return handoff.NewPaymentSuccess(handoff.PaymentResult{
				PaymentKey: paymentKey,
				OrderID:    orderID,
				Amount:     amount,
			})
		}
		return handoff.NewPaymentFail(handoff.PaymentError{
			Code: "MALFORMED_AMOUNT", Message: "amount is not an integer", OrderID: orderID,
		})
	}
	if code := q.Get("code"); code != "" {
		return handoff.NewPaymentFail(handoff.PaymentError{
			Code: code, Message: q.Get("message"), OrderID: orderID,
		})
	}
	return handoff.NewPaymentFail(handoff.PaymentError{
		Code: "UNKNOWN", Message: "callback carried no terminal parameters", OrderID: orderID,
	})
}
