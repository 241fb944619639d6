// Package relay sequences the startup steps that make a node reachable
// through a known circuit relay: listen, dial the relay, wait for the
// identify handshake to settle, then reserve a circuit slot.
//
// A reservation issued before the handshake completes is rejected by the
// relay, so the wait between dial and reserve is a Gate. The default gate is
// a fixed grace period.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"terralink/internal/bridge"
	"terralink/internal/logging"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
)

const DefaultGracePeriod = 2 * time.Second

var ErrAlreadyStarted = errors.New("relay: sequencer already started")

// EphemeralListenAddr is requested when the node has no listener of its own.
var EphemeralListenAddr = ma.StringCast("/ip4/0.0.0.0/tcp/0")

type State int32

const (
	Idle State = iota
	AwaitingListener
	Dialing
	AwaitingHandshake
	ReservationRequested
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case AwaitingListener:
		return "awaiting_listener"
	case Dialing:
		return "dialing"
	case AwaitingHandshake:
		return "awaiting_handshake"
	case ReservationRequested:
		return "reservation_requested"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// CommandSender is satisfied by *bridge.Client.
type CommandSender interface {
	Send(ctx context.Context, cmd bridge.Command) error
}

// Gate reports when it is safe to reserve. Ready is called right after the
// dial has been submitted; the returned channel is closed once reserving may
// proceed.
type Gate interface {
	Ready(ctx context.Context) <-chan struct{}
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context) <-chan struct{}

func (f GateFunc) Ready(ctx context.Context) <-chan struct{} { return f(ctx) }

// GracePeriod opens Period after Ready is called.
type GracePeriod struct {
	Clock  clock.Clock
	Period time.Duration
}

func (g GracePeriod) Ready(ctx context.Context) <-chan struct{} {
	clk := g.Clock
	if clk == nil {
		clk = clock.New()
	}
	ready := make(chan struct{})
	timer := clk.Timer(g.Period)
	go func() {
		defer timer.Stop()
		select {
		case <-timer.C:
			close(ready)
		case <-ctx.Done():
		}
	}()
	return ready
}

type Sequencer struct {
	relay        ma.Multiaddr
	sender       CommandSender
	clock        clock.Clock
	grace        time.Duration
	gate         Gate
	needListener bool
	listenAddr   ma.Multiaddr

	state   atomic.Int32
	started atomic.Bool
}

type Option func(*Sequencer)

func WithClock(c clock.Clock) Option {
	return func(s *Sequencer) { s.clock = c }
}

// WithGracePeriod changes the default gate's wait. Ignored when WithGate is used.
func WithGracePeriod(d time.Duration) Option {
	return func(s *Sequencer) { s.grace = d }
}

func WithGate(g Gate) Option {
	return func(s *Sequencer) { s.gate = g }
}

// WithListener makes the sequencer request addr before dialing, for nodes
// that have no listener of their own. A nil addr means EphemeralListenAddr.
func WithListener(addr ma.Multiaddr) Option {
	return func(s *Sequencer) {
		s.needListener = true
		s.listenAddr = addr
	}
}

func New(relayAddr ma.Multiaddr, sender CommandSender, opts ...Option) *Sequencer {
	s := &Sequencer{
		relay:  relayAddr,
		sender: sender,
		clock:  clock.New(),
		grace:  DefaultGracePeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.gate == nil {
		s.gate = GracePeriod{Clock: s.clock, Period: s.grace}
	}
	if s.listenAddr == nil {
		s.listenAddr = EphemeralListenAddr
	}
	return s
}

func (s *Sequencer) State() State {
	return State(s.state.Load())
}

func (s *Sequencer) setState(next State) {
	s.state.Store(int32(next))
	logging.Log("RELAY", "state", map[string]string{
		"state": next.String(),
		"relay": s.relay.String(),
	})
}

// Run walks the state machine once. It returns after the reservation command
// has been queued, or early with the error that stopped it. ReservationRequested
// is terminal: the outcome of the reservation arrives through the engine.
func (s *Sequencer) Run(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	s.setState(AwaitingListener)
	if s.needListener {
		if err := s.sender.Send(ctx, bridge.Listen{Addr: s.listenAddr}); err != nil {
			return fmt.Errorf("request listener: %w", err)
		}
	}

	s.setState(Dialing)
	if err := s.sender.Send(ctx, bridge.Dial{Addr: s.relay}); err != nil {
		return fmt.Errorf("dial relay: %w", err)
	}
	ready := s.gate.Ready(ctx)
	s.setState(AwaitingHandshake)

	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := s.sender.Send(ctx, bridge.ReserveRelayCircuit{Relay: s.relay}); err != nil {
		return fmt.Errorf("reserve circuit: %w", err)
	}
	s.setState(ReservationRequested)
	return nil
}
