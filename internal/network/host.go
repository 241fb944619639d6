package network

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"terralink/internal/logging"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/event"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	rhost "github.com/libp2p/go-libp2p/p2p/host/routed"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	relayclient "github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/client"
	"github.com/libp2p/go-libp2p/p2p/protocol/holepunch"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	libp2ptcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"lukechampine.com/blake3"
)

const (
	IdentifyProtocolVersion = "/terra-link/0.1.0"

	eventBuffer     = 256
	dialTimeout     = 30 * time.Second
	reserveTimeout  = 30 * time.Second
	renewBefore     = time.Minute
	minRenewBackoff = 30 * time.Second
)

type HostConfig struct {
	PrivateKey     crypto.PrivKey
	Topic          string
	ProtocolPrefix string
	IdleTimeout    time.Duration
}

// Host is the libp2p Substrate: TCP and QUIC with noise, identify, gossipsub
// on one topic, Kademlia behind a routed host, relay client and hole punching.
type Host struct {
	h      host.Host
	routed host.Host
	kad    *dht.IpfsDHT
	ps     *pubsub.PubSub
	topic  *pubsub.Topic
	sub    *pubsub.Subscription

	events chan SubstrateEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	reserving    map[peer.ID]struct{}
	closeOnce    sync.Once
	closeErr     error
	busSubCloser func() error
}

// NewHost builds and starts the substrate. Any failure here is fatal to the
// caller: there is no engine without a host.
func NewHost(ctx context.Context, cfg HostConfig) (*Host, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("node private key is not initialized")
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Minute
	}

	hctx, cancel := context.WithCancel(ctx)
	n := &Host{
		events:    make(chan SubstrateEvent, eventBuffer),
		ctx:       hctx,
		cancel:    cancel,
		reserving: make(map[peer.ID]struct{}),
	}
	fail := func(stage string, err error) (*Host, error) {
		_ = n.Close()
		return nil, fmt.Errorf("%s: %w", stage, err)
	}

	cm, err := connmgr.NewConnManager(32, 128, connmgr.WithGracePeriod(cfg.IdleTimeout))
	if err != nil {
		return fail("connmgr", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(cfg.PrivateKey),
		libp2p.NoListenAddrs,
		libp2p.Transport(libp2ptcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.ProtocolVersion(IdentifyProtocolVersion),
		libp2p.ConnectionManager(cm),
		libp2p.EnableRelay(),
		libp2p.EnableHolePunching(holepunch.WithTracer(holePunchTracer{n})),
		libp2p.Ping(true),
	)
	if err != nil {
		return fail("libp2p host", err)
	}
	n.h = h

	n.kad, err = dht.New(hctx, h,
		dht.Mode(dht.ModeAuto),
		dht.ProtocolPrefix(protocol.ID(cfg.ProtocolPrefix)),
	)
	if err != nil {
		return fail("dht", err)
	}
	n.routed = rhost.Wrap(h, n.kad)

	n.ps, err = pubsub.NewGossipSub(hctx, h,
		pubsub.WithMessageIdFn(contentMessageID),
		pubsub.WithGossipSubParams(gossipParams()),
	)
	if err != nil {
		return fail("gossipsub", err)
	}
	n.topic, err = n.ps.Join(cfg.Topic)
	if err != nil {
		return fail("join topic", err)
	}
	n.sub, err = n.topic.Subscribe()
	if err != nil {
		return fail("subscribe", err)
	}

	n.registerConnectionNotifications()
	if err := n.watchEventBus(); err != nil {
		return fail("event bus", err)
	}
	n.wg.Add(1)
	go n.readGossip()

	logging.Log("NODE", "host_started", map[string]string{
		"peer_id": h.ID().String(),
		"topic":   cfg.Topic,
	})
	return n, nil
}

func gossipParams() pubsub.GossipSubParams {
	params := pubsub.DefaultGossipSubParams()
	params.HeartbeatInterval = time.Second
	return params
}

// contentMessageID deduplicates by payload, so the same bytes relayed along
// two paths count once.
func contentMessageID(m *pb.Message) string {
	sum := blake3.Sum256(m.GetData())
	return string(sum[:])
}

func (n *Host) ID() peer.ID {
	return n.h.ID()
}

// Events is never closed; delivery stops once the host is closed.
func (n *Host) Events() <-chan SubstrateEvent {
	return n.events
}

func (n *Host) post(ev SubstrateEvent) {
	select {
	case <-n.ctx.Done():
		return
	default:
	}
	select {
	case n.events <- ev:
	case <-n.ctx.Done():
	}
}

// Listen binds a transport address. A circuit address is a request to be
// reachable through that relay and becomes a reservation.
func (n *Host) Listen(addr ma.Multiaddr) error {
	if IsCircuitAddr(addr) {
		return n.Reserve(RelayOf(addr))
	}
	return n.h.Network().Listen(addr)
}

// Dial requires a /p2p/ component. With no transport part the routed host
// looks the peer up in the DHT.
func (n *Host) Dial(addr ma.Multiaddr) error {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return fmt.Errorf("dial target must carry /p2p/<peer-id>: %w", err)
	}
	if info.ID == n.h.ID() {
		return errors.New("refusing to dial self")
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(n.ctx, dialTimeout)
		defer cancel()
		if err := n.routed.Connect(ctx, *info); err != nil {
			if n.ctx.Err() != nil {
				return
			}
			n.post(DialFailed{Addr: addr, Err: err})
		}
	}()
	return nil
}

// Reserve starts a reservation with relay and keeps it renewed. A second call
// for a relay that is already being held is a no-op.
func (n *Host) Reserve(relay ma.Multiaddr) error {
	info, err := peer.AddrInfoFromP2pAddr(relay)
	if err != nil {
		return fmt.Errorf("relay address must carry /p2p/<peer-id>: %w", err)
	}

	n.mu.Lock()
	if _, ok := n.reserving[info.ID]; ok {
		n.mu.Unlock()
		logging.Log("NODE", "reservation_already_held", map[string]string{"relay": relay.String()})
		return nil
	}
	n.reserving[info.ID] = struct{}{}
	n.mu.Unlock()

	n.wg.Add(1)
	go n.holdReservation(relay, *info)
	return nil
}

func (n *Host) holdReservation(relay ma.Multiaddr, info peer.AddrInfo) {
	defer n.wg.Done()
	defer func() {
		n.mu.Lock()
		delete(n.reserving, info.ID)
		n.mu.Unlock()
	}()

	first := true
	for {
		ctx, cancel := context.WithTimeout(n.ctx, reserveTimeout)
		rsvp, err := relayclient.Reserve(ctx, n.h, info)
		cancel()
		if n.ctx.Err() != nil {
			return
		}
		if err != nil {
			n.post(ReservationFailed{Relay: relay, Err: err})
			return
		}

		if first {
			n.post(ReservationAccepted{Relay: relay, CircuitAddr: CircuitAddr(relay), Expiration: rsvp.Expiration})
			first = false
		} else {
			n.post(Other{Name: "reservation_renewed", Detail: relay.String()})
		}

		wait := time.Until(rsvp.Expiration) - renewBefore
		if wait < minRenewBackoff {
			wait = minRenewBackoff
		}
		timer := time.NewTimer(wait)
		select {
		case <-n.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (n *Host) Publish(ctx context.Context, data []byte) error {
	return n.topic.Publish(ctx, data)
}

func (n *Host) Close() error {
	n.closeOnce.Do(func() {
		n.cancel()
		var errs []error
		if n.sub != nil {
			n.sub.Cancel()
		}
		if n.busSubCloser != nil {
			errs = append(errs, n.busSubCloser())
		}
		if n.kad != nil {
			errs = append(errs, n.kad.Close())
		}
		if n.h != nil {
			errs = append(errs, n.h.Close())
		}
		n.wg.Wait()
		n.closeErr = errors.Join(errs...)
	})
	return n.closeErr
}

func (n *Host) registerConnectionNotifications() {
	n.h.Network().Notify(&libp2pnet.NotifyBundle{
		ConnectedF: func(_ libp2pnet.Network, conn libp2pnet.Conn) {
			n.post(ConnectionEstablished{Peer: conn.RemotePeer(), RemoteAddr: conn.RemoteMultiaddr()})
		},
		DisconnectedF: func(network libp2pnet.Network, conn libp2pnet.Conn) {
			if len(network.ConnsToPeer(conn.RemotePeer())) == 0 {
				n.post(ConnectionClosed{Peer: conn.RemotePeer()})
			}
		},
	})
}

func (n *Host) watchEventBus() error {
	sub, err := n.h.EventBus().Subscribe([]interface{}{
		new(event.EvtLocalAddressesUpdated),
		new(event.EvtPeerIdentificationCompleted),
		new(event.EvtLocalReachabilityChanged),
	})
	if err != nil {
		return err
	}
	n.busSubCloser = sub.Close

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		for {
			select {
			case <-n.ctx.Done():
				return
			case evt, ok := <-sub.Out():
				if !ok {
					return
				}
				switch ev := evt.(type) {
				case event.EvtLocalAddressesUpdated:
					for _, update := range ev.Current {
						if update.Action == event.Added {
							n.post(NewListenAddr{Addr: update.Address})
						}
					}
				case event.EvtPeerIdentificationCompleted:
					n.post(IdentifyCompleted{Peer: ev.Peer})
				case event.EvtLocalReachabilityChanged:
					n.post(Other{Name: "reachability", Detail: ev.Reachability.String()})
				}
			}
		}
	}()
	return nil
}

func (n *Host) readGossip() {
	defer n.wg.Done()
	for {
		msg, err := n.sub.Next(n.ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, pubsub.ErrSubscriptionCancelled) {
				logging.Log("NODE", "gossip_reader_stopped", map[string]string{"reason": err.Error()})
			}
			return
		}
		if msg.GetFrom() == n.h.ID() || len(msg.Data) == 0 {
			continue
		}
		n.post(GossipMessage{From: msg.GetFrom(), Data: msg.Data})
	}
}

type holePunchTracer struct {
	host *Host
}

func (t holePunchTracer) Trace(evt *holepunch.Event) {
	if end, ok := evt.Evt.(*holepunch.EndHolePunchEvt); ok {
		t.host.post(HolePunchFinished{Peer: evt.Remote, Success: end.Success, Err: end.Error})
	}
}
