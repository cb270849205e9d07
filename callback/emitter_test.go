package callback

import (
	"context"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ticketgate/handoff"
)

type stubWindow struct {
	mu     sync.Mutex
	closed bool
}

func (w *stubWindow) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

func (w *stubWindow) Close() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

type stubOpener struct{ win *stubWindow }

func (o *stubOpener) Open(string) (handoff.Window, error) { return o.win, nil }

type capturedPost struct {
	origin string
	msg    handoff.Message
}

type stubPoster struct {
	mu    sync.Mutex
	posts []capturedPost
}

func (p *stubPoster) Post(origin string, m handoff.Message) {
	p.mu.Lock()
	p.posts = append(p.posts, capturedPost{origin: origin, msg: m})
	p.mu.Unlock()
}

func TestPaymentEmitter_AckedDelivery(t *testing.T) {
	// Scenario C end to end: opener listening, identical fields come
	// through, ack arrives well inside the bound, popup closes without
	// hitting the timeout.
	bus := handoff.NewBus()
	h := handoff.NewPaymentHandoff(&stubOpener{win: &stubWindow{}}, bus, "", time.Millisecond)

	var got handoff.PaymentResult
	if _, err := h.Open("https://pay.example/checkout", func(r handoff.PaymentResult) { got = r }, nil, nil); err != nil {
		t.Fatalf("Open err: %#v", err)
	}

	var selfClosed atomic.Bool
	e := &PaymentEmitter{Bus: bus, AckWait: time.Second, CloseSelf: func() { selfClosed.Store(true) }}

	start := time.Now()
	d, err := e.Run(context.Background(), "https://shop.example/payments/callback?paymentKey=pk_1&orderId=ord_1&amount=10000")
	if err != nil {
		t.Fatalf("Run err: %#v", err)
	}
	if !d.Acked {
		t.Fatal("delivery not acked despite listening opener")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("acked delivery took %v, should not approach the bound", elapsed)
	}
	want := handoff.PaymentResult{PaymentKey: "pk_1", OrderID: "ord_1", Amount: 10000}
	if got != want {
		t.Fatalf("opener result mismatch\ngot:  %#v\nwant: %#v", got, want)
	}
	if !selfClosed.Load() {
		t.Error("callback page did not close after ack")
	}
}

func TestPaymentEmitter_NoListenerTimesOut(t *testing.T) {
	// Scenario D: opener gone. The page waits out the bound, then closes
	// anyway.
	bus := handoff.NewBus()
	var selfClosed atomic.Bool
	e := &PaymentEmitter{Bus: bus, AckWait: 40 * time.Millisecond, CloseSelf: func() { selfClosed.Store(true) }}

	start := time.Now()
	d, err := e.Run(context.Background(), "https://shop.example/payments/callback?paymentKey=pk_1&orderId=ord_1&amount=10000")
	if err != nil {
		t.Fatalf("Run err: %#v", err)
	}
	elapsed := time.Since(start)
	if d.Acked {
		t.Fatal("delivery acked with nobody listening")
	}
	if elapsed < 40*time.Millisecond {
		t.Errorf("closed after %v, before the ack bound", elapsed)
	}
	if !selfClosed.Load() {
		t.Error("callback page did not close after timeout")
	}
	// The ack listener must not leak.
	if c := bus.SubscriberCount(handoff.DefaultPaymentChannel); c != 0 {
		t.Errorf("SubscriberCount = %d, want 0", c)
	}
}

func TestPaymentEmitter_ContextCancelled(t *testing.T) {
	bus := handoff.NewBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := &PaymentEmitter{Bus: bus, AckWait: time.Second}
	if _, err := e.Run(ctx, "https://shop.example/cb?code=X"); err == nil {
		t.Fatal("expected context error")
	}
}

func TestPaymentOutcome(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		wantType string
		wantCode string
	}{
		{name: "success", query: "paymentKey=pk_1&orderId=ord_1&amount=10000", wantType: handoff.TypePaymentSuccess},
		{name: "provider failure", query: "code=PAY_PROCESS_CANCELED&message=aborted&orderId=ord_1", wantType: handoff.TypePaymentFail, wantCode: "PAY_PROCESS_CANCELED"},
		{name: "no terminal params", query: "foo=bar", wantType: handoff.TypePaymentFail, wantCode: "UNKNOWN"},
		{name: "amount not a number", query: "paymentKey=pk&orderId=o&amount=ten", wantType: handoff.TypePaymentFail, wantCode: "MALFORMED_AMOUNT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := url.ParseQuery(tt.query)
			if err != nil {
				t.Fatalf("ParseQuery err: %#v", err)
			}
			msg := paymentOutcome(q)
			if msg.Type != tt.wantType {
				t.Fatalf("type = %q, want %q", msg.Type, tt.wantType)
			}
			if tt.wantCode != "" {
				pe, err := msg.PaymentFailure()
				if err != nil {
					t.Fatalf("PaymentFailure err: %#v", err)
				}
				if pe.Code != tt.wantCode {
					t.Errorf("code = %q, want %q", pe.Code, tt.wantCode)
				}
			}
		})
	}
}

func TestOAuthEmitter_SuccessClosesAfterDelay(t *testing.T) {
	p := &stubPoster{}
	var selfClosed atomic.Bool
	e := &OAuthEmitter{
		Port:       p,
		Origin:     "https://shop.example",
		CloseDelay: 5 * time.Millisecond,
		CloseSelf:  func() { selfClosed.Store(true) },
	}
	msg, err := e.Run(context.Background(), "https://shop.example/oauth/callback?accessToken=tok_1&tokenType=Bearer&expiresIn=3600")
	if err != nil {
		t.Fatalf("Run err: %#v", err)
	}
	if msg.Type != handoff.TypeOAuthSuccess {
		t.Fatalf("type = %q, want success", msg.Type)
	}
	if len(p.posts) != 1 {
		t.Fatalf("posted %d messages, want 1", len(p.posts))
	}
	if p.posts[0].origin != "https://shop.example" {
		t.Errorf("origin = %q", p.posts[0].origin)
	}
	login, err := p.posts[0].msg.OAuthLogin()
	if err != nil {
		t.Fatalf("OAuthLogin err: %#v", err)
	}
	if login.AccessToken != "tok_1" || login.ExpiresIn != 3600 {
		t.Errorf("login mismatch: %#v", login)
	}
	if !selfClosed.Load() {
		t.Error("success callback page did not self-close")
	}
}

func TestOAuthEmitter_ErrorStaysOpen(t *testing.T) {
	p := &stubPoster{}
	var selfClosed atomic.Bool
	e := &OAuthEmitter{
		Port:      p,
		Origin:    "https://shop.example",
		CloseSelf: func() { selfClosed.Store(true) },
	}
	msg, err := e.Run(context.Background(), "https://shop.example/oauth/callback?error=access_denied&error_description=user+refused")
	if err != nil {
		t.Fatalf("Run err: %#v", err)
	}
	if msg.Type != handoff.TypeOAuthError {
		t.Fatalf("type = %q, want error", msg.Type)
	}
	if selfClosed.Load() {
		t.Error("error callback page closed itself; it must stay open")
	}
}

func TestOAuthOutcome_NoTerminalParams(t *testing.T) {
	q, _ := url.ParseQuery("state=xyz")
	msg := oauthOutcome(q)
	if msg.Type != handoff.TypeOAuthError {
		t.Fatalf("type = %q, want error for missing params", msg.Type)
	}
}
