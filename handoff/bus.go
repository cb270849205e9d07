package handoff

import "sync"

// Bus is a named broadcast channel shared by every window of the origin.
// It is an explicit owned resource: the caller constructs one and passes
// it to both the payment handoff and the callback emitter. Publishing on
// a channel nobody subscribes to is a no-op, which is what makes a
// duplicate ack harmless.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]func(Message)
}

func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]func(Message))}
}

// Subscribe registers fn on the named channel and returns its
// deregistration func. Cancel is idempotent.
func (b *Bus) Subscribe(channel string, fn func(Message)) (cancel func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	handlers := b.subs[channel]
	if handlers == nil {
		handlers = make(map[int]func(Message))
		b.subs[channel] = handlers
	}
	handlers[id] = fn
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs[channel], id)
		b.mu.Unlock()
	}
}

// Publish fans m out to every current subscriber of the channel.
// Handlers run outside the bus lock, so they may publish in turn.
func (b *Bus) Publish(channel string, m Message) {
	b.mu.Lock()
	handlers := make([]func(Message), 0, len(b.subs[channel]))
	for _, fn := range b.subs[channel] {
		handlers = append(handlers, fn)
	}
	b.mu.Unlock()

	for _, fn := range handlers {
		fn(m)
	}
}

// SubscriberCount reports how many handlers are registered on channel.
func (b *Bus) SubscriberCount(channel string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[channel])
}
