package network

import (
	"fmt"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

var circuitSuffix = ma.StringCast("/p2p-circuit")

// IsCircuitAddr reports whether a carries a /p2p-circuit component.
func IsCircuitAddr(a ma.Multiaddr) bool {
	for _, p := range a.Protocols() {
		if p.Code == ma.P_CIRCUIT {
			return true
		}
	}
	return false
}

// CircuitAddr is the address other nodes dial to reach us through relay.
func CircuitAddr(relay ma.Multiaddr) ma.Multiaddr {
	if IsCircuitAddr(relay) {
		return relay
	}
	return relay.Encapsulate(circuitSuffix)
}

// RelayOf strips /p2p-circuit and everything after it.
func RelayOf(circuit ma.Multiaddr) ma.Multiaddr {
	return circuit.Decapsulate(circuitSuffix)
}

// HasPeerID reports whether a ends in, or contains, a /p2p/ component.
func HasPeerID(a ma.Multiaddr) bool {
	_, err := a.ValueForProtocol(ma.P_P2P)
	return err == nil
}

// WithPeerID appends /p2p/<id> unless a already names the target peer. A
// circuit address only names the relay until its own /p2p/ suffix is added.
func WithPeerID(a ma.Multiaddr, id peer.ID) (ma.Multiaddr, error) {
	_, last := peer.SplitAddr(a)
	switch {
	case last == id:
		return a, nil
	case last != "", HasPeerID(a) && !IsCircuitAddr(a):
		return nil, fmt.Errorf("address %s names a different peer than %s", a, id)
	}
	suffix, err := ma.NewMultiaddr("/p2p/" + id.String())
	if err != nil {
		return nil, err
	}
	return a.Encapsulate(suffix), nil
}
