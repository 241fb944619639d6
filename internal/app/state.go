package app

import (
	"net/netip"
	"slices"
	"strings"
	"unicode/utf8"

	"terralink/internal/bridge"
	"terralink/internal/events"
	"terralink/internal/metrics"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

const (
	ChatHistory     = 100
	MaxNicknameLen  = 8
	shortIDLen      = 8
	fallbackDisplay = "Me"
)

type ChatLine struct {
	Sender string
	Text   string
}

// State is the UI-side view of the mesh. It is mutated only by the UI loop,
// in response to drained bridge events and console input.
type State struct {
	localID  peer.ID
	nickname string

	peers   []peer.ID
	peerIPs map[peer.ID]netip.Addr

	listenAddrs []ma.Multiaddr
	chat        *ringBuffer[ChatLine]

	bus   *events.Bus
	clock clock.Clock
}

// NewState creates an empty state. bus may be nil, in which case peer
// sightings are not journaled.
func NewState(localID peer.ID, bus *events.Bus, clk clock.Clock) *State {
	if clk == nil {
		clk = clock.New()
	}
	return &State{
		localID: localID,
		peerIPs: make(map[peer.ID]netip.Addr),
		chat:    newRingBuffer[ChatLine](ChatHistory),
		bus:     bus,
		clock:   clk,
	}
}

func (s *State) LocalID() peer.ID {
	return s.localID
}

// SetNickname trims raw and keeps at most MaxNicknameLen characters. An empty
// nickname restores the peer ID based display name.
func (s *State) SetNickname(raw string) string {
	nick := strings.TrimSpace(raw)
	if utf8.RuneCountInString(nick) > MaxNicknameLen {
		nick = string([]rune(nick)[:MaxNicknameLen])
	}
	s.nickname = nick
	return nick
}

func (s *State) Nickname() string {
	return s.nickname
}

// DisplayName is the nickname when set, otherwise the tail of the local peer ID.
func (s *State) DisplayName() string {
	if s.nickname != "" {
		return s.nickname
	}
	if s.localID == "" {
		return fallbackDisplay
	}
	return ShortID(s.localID.String())
}

// ShortID keeps the last eight characters of id. Ed25519 peer IDs share a
// common prefix, so the tail is what tells them apart.
func ShortID(id string) string {
	if len(id) <= shortIDLen {
		return id
	}
	return id[len(id)-shortIDLen:]
}

func (s *State) IsKnown(id peer.ID) bool {
	return slices.Contains(s.peers, id)
}

// Peers returns the known peers in connection order.
func (s *State) Peers() []peer.ID {
	return slices.Clone(s.peers)
}

func (s *State) PeerIP(id peer.ID) (netip.Addr, bool) {
	ip, ok := s.peerIPs[id]
	return ip, ok
}

func (s *State) ListenAddrs() []ma.Multiaddr {
	return slices.Clone(s.listenAddrs)
}

func (s *State) ListenAddrStrings() []string {
	out := make([]string, 0, len(s.listenAddrs))
	for _, a := range s.listenAddrs {
		out = append(out, a.String())
	}
	return out
}

func (s *State) Chat() []ChatLine {
	return s.chat.snapshot()
}

func (s *State) AddChat(sender, text string) {
	s.chat.push(ChatLine{Sender: sender, Text: text})
}

// Apply folds a network event into the state and returns the commands the
// auto-dial policy issues in response.
func (s *State) Apply(ev bridge.Event) []bridge.Command {
	switch e := ev.(type) {
	case bridge.Listening:
		if e.Addr == nil {
			return nil
		}
		for _, a := range s.listenAddrs {
			if a.Equal(e.Addr) {
				return nil
			}
		}
		s.listenAddrs = append(s.listenAddrs, e.Addr)
	case bridge.PeerConnected:
		if s.IsKnown(e.PeerID) {
			return nil
		}
		s.peers = append(s.peers, e.PeerID)
		if e.RemoteIP.IsValid() {
			s.peerIPs[e.PeerID] = e.RemoteIP
		}
		metrics.ConnectedPeers.Set(float64(len(s.peers)))
		s.publish(events.PeerSeen{PeerID: e.PeerID.String(), RemoteIP: ipString(e.RemoteIP), At: s.clock.Now().UTC()})
	case bridge.PeerDisconnected:
		idx := slices.Index(s.peers, e.PeerID)
		if idx < 0 {
			return nil
		}
		s.peers = slices.Delete(s.peers, idx, idx+1)
		delete(s.peerIPs, e.PeerID)
		metrics.ConnectedPeers.Set(float64(len(s.peers)))
		s.publish(events.PeerGone{PeerID: e.PeerID.String(), At: s.clock.Now().UTC()})
	case bridge.MessageReceived:
		s.AddChat(e.SenderID, e.Text)
	case bridge.PeerDiscovered:
		dial, ok := AutoDial(e, s.localID, s.IsKnown)
		if e.Addr != "" {
			s.publish(events.PeerAnnounced{SenderID: e.SenderID, Addr: e.Addr, At: s.clock.Now().UTC()})
		}
		if ok {
			return []bridge.Command{dial}
		}
	}
	return nil
}

func (s *State) publish(evt any) {
	if s.bus != nil {
		s.bus.Publish(evt)
	}
}

func ipString(ip netip.Addr) string {
	if !ip.IsValid() {
		return ""
	}
	return ip.String()
}
