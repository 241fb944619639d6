package network

import (
	"context"
	"errors"
	"fmt"
	"net/netip"

	"terralink/internal/bridge"
	"terralink/internal/envelope"
	"terralink/internal/logging"
	"terralink/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"
)

// ErrSubstrateClosed is returned by Run when the substrate's event stream ends
// before the UI shut the bridge down.
var ErrSubstrateClosed = errors.New("network: substrate event stream closed")

// Engine is the sole owner of a Substrate. It serializes substrate events and
// bridge commands through one loop.
type Engine struct {
	sub      Substrate
	endpoint *bridge.Endpoint
	clock    clock.Clock
}

type EngineOption func(*Engine)

// WithClock sets the clock used to stamp outgoing envelopes.
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

func NewEngine(sub Substrate, endpoint *bridge.Endpoint, opts ...EngineOption) *Engine {
	e := &Engine{
		sub:      sub,
		endpoint: endpoint,
		clock:    clock.New(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) LocalID() peer.ID {
	return e.sub.ID()
}

// Run processes one ready item per iteration until the UI closes its side of
// the bridge, ctx is cancelled, or the substrate goes away. On return the
// event queue and the substrate are both closed.
func (e *Engine) Run(ctx context.Context) error {
	defer e.shutdown()

	logging.Log("ENGINE", "started", map[string]string{"peer_id": e.sub.ID().String()})
	for {
		// A closed client wins over anything else that is ready.
		select {
		case <-e.endpoint.Done():
			logging.Log("ENGINE", "stopped", map[string]string{"reason": "bridge_closed"})
			return nil
		default:
		}

		var err error
		select {
		case <-e.endpoint.Done():
			logging.Log("ENGINE", "stopped", map[string]string{"reason": "bridge_closed"})
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-e.sub.Events():
			if !ok {
				return ErrSubstrateClosed
			}
			err = e.handleSubstrateEvent(ctx, ev)
		case cmd := <-e.endpoint.Commands():
			err = e.handleCommand(ctx, cmd)
		}
		if errors.Is(err, bridge.ErrClosed) {
			logging.Log("ENGINE", "stopped", map[string]string{"reason": "bridge_closed"})
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (e *Engine) shutdown() {
	e.endpoint.Close()
	if err := e.sub.Close(); err != nil {
		logging.Log("ENGINE", "substrate_close_failed", map[string]string{"reason": err.Error()})
	}
}

func (e *Engine) emit(ctx context.Context, ev bridge.Event) error {
	if err := e.endpoint.Emit(ctx, ev); err != nil {
		return err
	}
	metrics.EventsEmitted.WithLabelValues(ev.Kind()).Inc()
	return nil
}

func (e *Engine) emitError(ctx context.Context, format string, args ...any) error {
	return e.emit(ctx, bridge.Error{Message: fmt.Sprintf(format, args...)})
}

func (e *Engine) handleSubstrateEvent(ctx context.Context, ev SubstrateEvent) error {
	metrics.SubstrateEvents.WithLabelValues(ev.Kind()).Inc()

	switch ev := ev.(type) {
	case ConnectionEstablished:
		return e.emit(ctx, bridge.PeerConnected{PeerID: ev.Peer, RemoteIP: remoteIP(ev.RemoteAddr)})
	case ConnectionClosed:
		return e.emit(ctx, bridge.PeerDisconnected{PeerID: ev.Peer})
	case NewListenAddr:
		return e.emit(ctx, bridge.Listening{Addr: ev.Addr})
	case GossipMessage:
		return e.handleGossip(ctx, ev)
	case DialFailed:
		return e.emitError(ctx, "dial %s failed: %v", ev.Addr, ev.Err)
	case ReservationFailed:
		return e.emitError(ctx, "relay reservation via %s failed: %v", ev.Relay, ev.Err)
	case ReservationAccepted:
		logging.Log("ENGINE", "reservation_accepted", map[string]string{
			"relay":   ev.Relay.String(),
			"expires": ev.Expiration.UTC().Format("2006-01-02T15:04:05Z"),
		})
		return e.emit(ctx, bridge.Listening{Addr: ev.CircuitAddr})
	case HolePunchFinished:
		fields := map[string]string{
			"peer_id": ev.Peer.String(),
			"success": fmt.Sprintf("%t", ev.Success),
		}
		if ev.Err != "" {
			fields["reason"] = ev.Err
		}
		logging.Log("ENGINE", "hole_punch", fields)
	case IdentifyCompleted:
		logging.Debug("ENGINE", "identify_completed", map[string]string{"peer_id": ev.Peer.String()})
	case Other:
		logging.Log("ENGINE", "substrate_event", map[string]string{
			"name":   ev.Name,
			"detail": ev.Detail,
		})
	default:
		logging.Log("ENGINE", "substrate_event", map[string]string{"name": fmt.Sprintf("%T", ev)})
	}
	return nil
}

func (e *Engine) handleGossip(ctx context.Context, ev GossipMessage) error {
	msg, err := envelope.Decode(ev.Data)
	if err != nil {
		metrics.DecodeDrops.Inc()
		logging.Debug("ENGINE", "gossip_dropped", map[string]string{
			"from":   ev.From.String(),
			"reason": err.Error(),
		})
		return nil
	}

	switch m := msg.(type) {
	case envelope.Chat:
		return e.emit(ctx, bridge.MessageReceived{SenderID: m.SenderID, Text: m.Text})
	case envelope.Presence:
		for _, addr := range m.ListenAddrs {
			if err := e.emit(ctx, bridge.PeerDiscovered{SenderID: m.SenderID, Addr: addr}); err != nil {
				return err
			}
		}
	case envelope.Unhandled:
		logging.Debug("ENGINE", "gossip_unhandled", map[string]string{
			"from":  ev.From.String(),
			"field": fmt.Sprintf("%d", m.Field),
		})
	}
	return nil
}

func (e *Engine) handleCommand(ctx context.Context, cmd bridge.Command) error {
	metrics.CommandsHandled.WithLabelValues(cmd.Kind()).Inc()

	switch c := cmd.(type) {
	case bridge.Listen:
		if c.Addr == nil {
			return e.commandFailed(ctx, cmd, "listen: no address given")
		}
		if err := e.sub.Listen(c.Addr); err != nil {
			return e.commandFailed(ctx, cmd, "listen on %s failed: %v", c.Addr, err)
		}
	case bridge.Dial:
		if c.Addr == nil {
			return e.commandFailed(ctx, cmd, "dial: no address given")
		}
		if err := e.sub.Dial(c.Addr); err != nil {
			return e.commandFailed(ctx, cmd, "dial %s failed: %v", c.Addr, err)
		}
	case bridge.ReserveRelayCircuit:
		if c.Relay == nil {
			return e.commandFailed(ctx, cmd, "relay reservation: no relay address given")
		}
		logging.Log("ENGINE", "reservation_requested", map[string]string{"relay": c.Relay.String()})
		if err := e.sub.Reserve(c.Relay); err != nil {
			return e.commandFailed(ctx, cmd, "relay reservation via %s failed: %v", c.Relay, err)
		}
	case bridge.PublishChat:
		e.publish(ctx, cmd, envelope.NewChat(c.SenderID, c.Text, e.clock.Now()))
	case bridge.BroadcastPresence:
		e.publish(ctx, cmd, envelope.NewPresence(c.SenderID, c.ListenAddrs, e.clock.Now()))
	default:
		logging.Log("ENGINE", "unknown_command", map[string]string{"type": fmt.Sprintf("%T", cmd)})
	}
	return nil
}

func (e *Engine) commandFailed(ctx context.Context, cmd bridge.Command, format string, args ...any) error {
	metrics.CommandFailures.WithLabelValues(cmd.Kind()).Inc()
	return e.emitError(ctx, format, args...)
}

// publish is fire and forget: failures are logged, never reported to the UI.
func (e *Engine) publish(ctx context.Context, cmd bridge.Command, msg envelope.Message) {
	data, err := envelope.Encode(msg)
	if err == nil {
		err = e.sub.Publish(ctx, data)
	}
	if err != nil {
		metrics.PublishFailures.Inc()
		logging.Log("ENGINE", "publish_failed", map[string]string{
			"kind":   cmd.Kind(),
			"reason": err.Error(),
		})
	}
}

// remoteIP keeps only the network layer address. The zero Addr means the
// address carried no IP component.
func remoteIP(addr multiaddr.Multiaddr) netip.Addr {
	if len(addr) == 0 {
		return netip.Addr{}
	}
	ip, err := manet.ToIP(addr)
	if err != nil {
		return netip.Addr{}
	}
	parsed, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}
	}
	return parsed.Unmap()
}
