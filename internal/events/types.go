package events

import "time"

// PeerSeen is published when the UI learns of a new connection.
type PeerSeen struct {
	PeerID   string
	RemoteIP string
	At       time.Time
}

type PeerGone struct {
	PeerID string
	At     time.Time
}

// PeerAnnounced carries one address from a presence announcement.
type PeerAnnounced struct {
	SenderID string
	Addr     string
	At       time.Time
}

type ShutdownRequested struct {
	Reason string
	At     time.Time
}
