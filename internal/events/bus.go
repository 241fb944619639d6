// Package events is the in-process fan-out used by app-side bookkeeping.
// Publishing never blocks: a subscriber that falls behind loses events.
package events

import "sync"

type subscription struct {
	name string
	ch   chan any
}

type Bus struct {
	mu     sync.RWMutex
	subs   map[chan any]subscription
	onDrop func(subscriber string, evt any)
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[chan any]subscription),
	}
}

// OnDrop registers fn to be called for every event a full subscriber missed.
// fn runs on the publisher's goroutine and must not publish.
func (b *Bus) OnDrop(fn func(subscriber string, evt any)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Subscribe registers a named subscriber. The name only shows up in drop
// reports. The returned cancel func is idempotent and closes the channel.
func (b *Bus) Subscribe(name string, buffer int) (<-chan any, func()) {
	if buffer <= 0 {
		buffer = 1
	}

	ch := make(chan any, buffer)

	b.mu.Lock()
	b.subs[ch] = subscription{name: name, ch: ch}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}

	return ch, cancel
}

func (b *Bus) Publish(evt any) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		select {
		case sub.ch <- evt:
		default:
			if b.onDrop != nil {
				b.onDrop(sub.name, evt)
			}
		}
	}
}
