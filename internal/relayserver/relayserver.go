// Package relayserver runs a dedicated circuit relay v2 node that NAT-bound
// peers reserve slots on and hole-punch through.
package relayserver

import (
	"fmt"
	"time"

	"terralink/internal/logging"
	"terralink/internal/network"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	libp2pnet "github.com/libp2p/go-libp2p/core/network"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/relay"
	noise "github.com/libp2p/go-libp2p/p2p/security/noise"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	libp2ptcp "github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	DefaultTCPPort  = 4001
	DefaultQUICPort = 4002

	// MaxCircuits caps relayed connections across all peers. Every live
	// circuit holds one outbound stop stream in the relay service scope.
	MaxCircuits = 16
)

type Config struct {
	PrivateKey crypto.PrivKey
	ListenHost string // defaults to 0.0.0.0
	TCPPort    int
	QUICPort   int
	// PublicIP, when set, is used for the advertised RELAY_NODE address.
	PublicIP string
}

type Server struct {
	h   host.Host
	cfg Config
}

// Resources are the relay limits: 128 reservations held for an hour, four
// circuits per peer, each circuit capped at two minutes and 10 MiB.
func Resources() relay.Resources {
	res := relay.DefaultResources()
	res.MaxReservations = 128
	res.MaxReservationsPerIP = 4
	res.ReservationTTL = time.Hour
	res.MaxCircuits = 4
	res.Limit = &relay.RelayLimit{
		Duration: 2 * time.Minute,
		Data:     10 << 20,
	}
	return res
}

// limitConfig is libp2p's default scaled limits with the relay service
// capped at MaxCircuits concurrent circuits.
func limitConfig() rcmgr.ConcreteLimitConfig {
	limits := rcmgr.DefaultLimits
	libp2p.SetDefaultServiceLimits(&limits)
	partial := rcmgr.PartialLimitConfig{
		Service: map[string]rcmgr.ResourceLimits{
			relay.ServiceName: {
				Streams:         MaxCircuits + 256,
				StreamsInbound:  256,
				StreamsOutbound: MaxCircuits,
				Memory:          64 << 20,
			},
		},
	}
	return partial.Build(limits.AutoScale())
}

func Start(cfg Config) (*Server, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("relay private key is not initialized")
	}
	if cfg.ListenHost == "" {
		cfg.ListenHost = "0.0.0.0"
	}

	mgr, err := rcmgr.NewResourceManager(rcmgr.NewFixedLimiter(limitConfig()))
	if err != nil {
		return nil, fmt.Errorf("relay resource manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(cfg.PrivateKey),
		libp2p.ListenAddrStrings(
			fmt.Sprintf("/ip4/%s/tcp/%d", cfg.ListenHost, cfg.TCPPort),
			fmt.Sprintf("/ip4/%s/udp/%d/quic-v1", cfg.ListenHost, cfg.QUICPort),
		),
		libp2p.Transport(libp2ptcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.Security(noise.ID, noise.New),
		libp2p.ProtocolVersion(network.IdentifyProtocolVersion),
		libp2p.ForceReachabilityPublic(),
		libp2p.ResourceManager(mgr),
		libp2p.EnableRelayService(relay.WithResources(Resources())),
		libp2p.DisableRelay(),
		libp2p.Ping(true),
	)
	if err != nil {
		_ = mgr.Close()
		return nil, fmt.Errorf("relay host: %w", err)
	}

	h.Network().Notify(&libp2pnet.NotifyBundle{
		ConnectedF: func(_ libp2pnet.Network, conn libp2pnet.Conn) {
			logging.Log("RELAY", "connected", map[string]string{
				"peer_id": conn.RemotePeer().String(),
				"addr":    conn.RemoteMultiaddr().String(),
			})
		},
		DisconnectedF: func(_ libp2pnet.Network, conn libp2pnet.Conn) {
			logging.Log("RELAY", "disconnected", map[string]string{
				"peer_id": conn.RemotePeer().String(),
			})
		},
	})

	logging.Log("RELAY", "started", map[string]string{"peer_id": h.ID().String()})
	return &Server{h: h, cfg: cfg}, nil
}

func (s *Server) Host() host.Host {
	return s.h
}

// Addrs returns the dialable relay addresses, /p2p/ suffix included.
func (s *Server) Addrs() []ma.Multiaddr {
	out := make([]ma.Multiaddr, 0, len(s.h.Addrs()))
	for _, a := range s.h.Addrs() {
		full, err := network.WithPeerID(a, s.h.ID())
		if err != nil {
			continue
		}
		out = append(out, full)
	}
	return out
}

// RelayNodeLine is the .env line nodes need to use this relay.
func (s *Server) RelayNodeLine() string {
	if s.cfg.PublicIP != "" {
		return fmt.Sprintf("RELAY_NODE=\"/ip4/%s/tcp/%d/p2p/%s\"", s.cfg.PublicIP, s.cfg.TCPPort, s.h.ID())
	}
	for _, a := range s.Addrs() {
		if _, err := a.ValueForProtocol(ma.P_TCP); err == nil {
			return fmt.Sprintf("RELAY_NODE=%q", a.String())
		}
	}
	return fmt.Sprintf("RELAY_NODE=\"/ip4/<public-ip>/tcp/%d/p2p/%s\"", s.cfg.TCPPort, s.h.ID())
}

func (s *Server) Close() error {
	return s.h.Close()
}
