package bridge

import (
	"net/netip"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Command is a request from the UI to the network engine. Commands are fire
// and forget: no reply is correlated to them.
type Command interface {
	command()
	// Kind is a short stable name used for logs and metrics.
	Kind() string
}

type Listen struct {
	Addr multiaddr.Multiaddr
}

type Dial struct {
	Addr multiaddr.Multiaddr
}

// ReserveRelayCircuit asks the relay to hold a circuit slot for this node.
type ReserveRelayCircuit struct {
	Relay multiaddr.Multiaddr
}

type PublishChat struct {
	SenderID string
	Text     string
}

type BroadcastPresence struct {
	SenderID    string
	ListenAddrs []string
}

func (Listen) command()              {}
func (Dial) command()                {}
func (ReserveRelayCircuit) command() {}
func (PublishChat) command()         {}
func (BroadcastPresence) command()   {}

func (Listen) Kind() string              { return "listen" }
func (Dial) Kind() string                { return "dial" }
func (ReserveRelayCircuit) Kind() string { return "reserve_relay" }
func (PublishChat) Kind() string         { return "publish_chat" }
func (BroadcastPresence) Kind() string   { return "broadcast_presence" }

// Event is a notification from the network engine to the UI.
type Event interface {
	event()
	Kind() string
}

type Listening struct {
	Addr multiaddr.Multiaddr
}

type PeerConnected struct {
	PeerID peer.ID
	// RemoteIP is the zero Addr when the remote address carries no IP
	// component (a DNS address, for instance).
	RemoteIP netip.Addr
}

type PeerDisconnected struct {
	PeerID peer.ID
}

type MessageReceived struct {
	SenderID string
	Text     string
}

// PeerDiscovered is emitted once per address of a decoded presence announcement.
type PeerDiscovered struct {
	SenderID string
	Addr     string
}

// Error reports a non-fatal operational failure.
type Error struct {
	Message string
}

func (Listening) event()        {}
func (PeerConnected) event()    {}
func (PeerDisconnected) event() {}
func (MessageReceived) event()  {}
func (PeerDiscovered) event()   {}
func (Error) event()            {}

func (Listening) Kind() string        { return "listening" }
func (PeerConnected) Kind() string    { return "peer_connected" }
func (PeerDisconnected) Kind() string { return "peer_disconnected" }
func (MessageReceived) Kind() string  { return "message_received" }
func (PeerDiscovered) Kind() string   { return "peer_discovered" }
func (Error) Kind() string            { return "error" }
