package network

import (
	"context"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

// Substrate is the peer-to-peer stack the Engine drives. Only the Engine holds
// one. Dial and Reserve return once the attempt has been started; their
// outcome arrives later on Events.
type Substrate interface {
	ID() peer.ID
	Events() <-chan SubstrateEvent
	Listen(addr multiaddr.Multiaddr) error
	Dial(addr multiaddr.Multiaddr) error
	Reserve(relay multiaddr.Multiaddr) error
	Publish(ctx context.Context, data []byte) error
	Close() error
}

// SubstrateEvent is raised by a Substrate. The set is closed apart from
// Other, which carries anything the Engine only logs.
type SubstrateEvent interface {
	substrateEvent()
	Kind() string
}

type ConnectionEstablished struct {
	Peer       peer.ID
	RemoteAddr multiaddr.Multiaddr
}

// ConnectionClosed fires when the last connection to Peer goes away.
type ConnectionClosed struct {
	Peer peer.ID
}

type NewListenAddr struct {
	Addr multiaddr.Multiaddr
}

// GossipMessage is a payload delivered on the shared topic by another node.
type GossipMessage struct {
	From peer.ID
	Data []byte
}

type DialFailed struct {
	Addr multiaddr.Multiaddr
	Err  error
}

type ReservationAccepted struct {
	Relay       multiaddr.Multiaddr
	CircuitAddr multiaddr.Multiaddr
	Expiration  time.Time
}

type ReservationFailed struct {
	Relay multiaddr.Multiaddr
	Err   error
}

type HolePunchFinished struct {
	Peer    peer.ID
	Success bool
	Err     string
}

type IdentifyCompleted struct {
	Peer peer.ID
}

type Other struct {
	Name   string
	Detail string
}

func (ConnectionEstablished) substrateEvent() {}
func (ConnectionClosed) substrateEvent()      {}
func (NewListenAddr) substrateEvent()         {}
func (GossipMessage) substrateEvent()         {}
func (DialFailed) substrateEvent()            {}
func (ReservationAccepted) substrateEvent()   {}
func (ReservationFailed) substrateEvent()     {}
func (HolePunchFinished) substrateEvent()     {}
func (IdentifyCompleted) substrateEvent()     {}
func (Other) substrateEvent()                 {}

func (ConnectionEstablished) Kind() string { return "connection_established" }
func (ConnectionClosed) Kind() string      { return "connection_closed" }
func (NewListenAddr) Kind() string         { return "new_listen_addr" }
func (GossipMessage) Kind() string         { return "gossip_message" }
func (DialFailed) Kind() string            { return "dial_failed" }
func (ReservationAccepted) Kind() string   { return "reservation_accepted" }
func (ReservationFailed) Kind() string     { return "reservation_failed" }
func (HolePunchFinished) Kind() string     { return "hole_punch_finished" }
func (IdentifyCompleted) Kind() string     { return "identify_completed" }
func (Other) Kind() string                 { return "other" }
