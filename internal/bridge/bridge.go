// Package bridge connects the synchronous UI loop to the network engine with
// two bounded queues.
//
// Commands flow UI -> engine. The UI enqueues without blocking and accepts a
// silent drop when the queue is full, so a stalled engine never freezes input
// handling. Events flow engine -> UI. The engine waits for queue space rather
// than dropping, and the UI drains the queue once per frame.
//
// Closing the Client is the shutdown signal for the engine. The engine closing
// its Endpoint is observed by the UI as ErrClosed.
package bridge

import (
	"context"
	"errors"
	"sync"
)

const DefaultCapacity = 32

// ErrClosed is returned once the other side of the bridge has shut down.
var ErrClosed = errors.New("bridge: closed")

type queues struct {
	commands chan Command
	events   chan Event

	// done is closed when the UI drops its sending half. The command channel
	// itself is never closed so concurrent senders cannot panic.
	done      chan struct{}
	closeOnce sync.Once

	eventsOnce sync.Once
}

// Client is the UI-facing half. It is safe for concurrent use, so helpers such
// as the relay sequencer may send through the same Client as the UI loop.
type Client struct {
	q *queues
}

// Endpoint is the engine-facing half. Only the engine may call Emit and Close.
type Endpoint struct {
	q *queues
}

// New creates both halves of a bridge. A capacity below one uses DefaultCapacity.
func New(capacity int) (*Client, *Endpoint) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	q := &queues{
		commands: make(chan Command, capacity),
		events:   make(chan Event, capacity),
		done:     make(chan struct{}),
	}
	return &Client{q: q}, &Endpoint{q: q}
}

// TrySend enqueues cmd without blocking. It reports false when the queue is
// full or the client has been closed; the command is dropped in both cases.
func (c *Client) TrySend(cmd Command) bool {
	select {
	case <-c.q.done:
		return false
	default:
	}
	select {
	case c.q.commands <- cmd:
		return true
	default:
		return false
	}
}

// Send enqueues cmd, waiting for space. It is meant for startup sequencing,
// not for the UI loop.
func (c *Client) Send(ctx context.Context, cmd Command) error {
	select {
	case <-c.q.done:
		return ErrClosed
	default:
	}
	select {
	case c.q.commands <- cmd:
		return nil
	case <-c.q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Poll returns the next pending event without blocking. It returns a nil
// event and nil error when nothing is queued, and ErrClosed once the engine
// has closed its half and every queued event has been consumed.
func (c *Client) Poll() (Event, error) {
	select {
	case ev, ok := <-c.q.events:
		if !ok {
			return nil, ErrClosed
		}
		return ev, nil
	default:
		return nil, nil
	}
}

// Drain hands every currently queued event to fn, in queue order.
func (c *Client) Drain(fn func(Event)) error {
	for {
		ev, err := c.Poll()
		if err != nil {
			return err
		}
		if ev == nil {
			return nil
		}
		fn(ev)
	}
}

// Events exposes the raw inbound channel for callers that want to block on
// it, tests mostly.
func (c *Client) Events() <-chan Event {
	return c.q.events
}

// Close drops the UI's sending half. Further sends fail and the engine stops
// at its next selection point.
func (c *Client) Close() {
	c.q.closeOnce.Do(func() {
		close(c.q.done)
	})
}

func (e *Endpoint) Commands() <-chan Command {
	return e.q.commands
}

// Done is closed once the UI has closed its Client.
func (e *Endpoint) Done() <-chan struct{} {
	return e.q.done
}

// Closed reports whether the UI has closed its Client.
func (e *Endpoint) Closed() bool {
	select {
	case <-e.q.done:
		return true
	default:
		return false
	}
}

// Emit delivers ev, suspending until there is room. Once the client is closed
// nothing more is delivered.
func (e *Endpoint) Emit(ctx context.Context, ev Event) error {
	if e.Closed() {
		return ErrClosed
	}
	select {
	case e.q.events <- ev:
		return nil
	case <-e.q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the event queue. Queued events stay readable.
func (e *Endpoint) Close() {
	e.q.eventsOnce.Do(func() {
		close(e.q.events)
	})
}
