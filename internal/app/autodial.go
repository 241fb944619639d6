package app

import (
	"strings"

	"terralink/internal/bridge"
	"terralink/internal/logging"
	"terralink/internal/network"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// AutoDial decides whether a discovered address is worth dialing. It skips
// the local node, peers already in the known set, and anything that does not
// parse. Addresses without a /p2p/ component get the announcer's ID appended.
func AutoDial(ev bridge.PeerDiscovered, localID peer.ID, known func(peer.ID) bool) (bridge.Dial, bool) {
	id, err := peer.Decode(ev.SenderID)
	if err != nil {
		logging.Debug("AUTODIAL", "sender_unparsable", map[string]string{"sender_id": ev.SenderID})
		return bridge.Dial{}, false
	}
	if id == localID || (known != nil && known(id)) {
		return bridge.Dial{}, false
	}

	raw := strings.TrimSpace(ev.Addr)
	if raw == "" {
		return bridge.Dial{}, false
	}
	addr, err := ma.NewMultiaddr(raw)
	if err != nil {
		logging.Debug("AUTODIAL", "addr_unparsable", map[string]string{
			"sender_id": ev.SenderID,
			"addr":      raw,
			"reason":    err.Error(),
		})
		return bridge.Dial{}, false
	}
	target, err := network.WithPeerID(addr, id)
	if err != nil {
		logging.Debug("AUTODIAL", "addr_rejected", map[string]string{
			"sender_id": ev.SenderID,
			"addr":      raw,
			"reason":    err.Error(),
		})
		return bridge.Dial{}, false
	}

	logging.Log("AUTODIAL", "dial", map[string]string{
		"peer_id": id.String(),
		"addr":    target.String(),
	})
	return bridge.Dial{Addr: target}, true
}
