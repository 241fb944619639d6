package presence

import (
	"context"
	"time"

	"terralink/internal/events"
	"terralink/internal/logging"
)

// Journal is the storage the service writes sightings to.
type Journal interface {
	MarkOnline(ctx context.Context, peerID, remoteIP string, at time.Time) error
	MarkOffline(ctx context.Context, peerID string, at time.Time) error
	RecordAnnouncement(ctx context.Context, peerID, addr string, at time.Time) error
}

type Service struct {
	bus     *events.Bus
	journal Journal
	done    chan struct{}
}

func NewService(bus *events.Bus, journal Journal) *Service {
	return &Service{
		bus:     bus,
		journal: journal,
		done:    make(chan struct{}),
	}
}

// Start subscribes to the bus and writes sightings until ctx is done.
func (s *Service) Start(ctx context.Context) {
	eventCh, cancel := s.bus.Subscribe("presence", 64)
	go func() {
		defer close(s.done)
		defer cancel()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-eventCh:
				if !ok {
					return
				}
				s.handle(ctx, evt)
			}
		}
	}()
}

// Done is closed once the service goroutine has returned.
func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) handle(ctx context.Context, evt any) {
	switch e := evt.(type) {
	case events.PeerSeen:
		if err := s.journal.MarkOnline(ctx, e.PeerID, e.RemoteIP, e.At); err != nil {
			logFailure("online_failed", e.PeerID, err)
		}
	case events.PeerGone:
		if err := s.journal.MarkOffline(ctx, e.PeerID, e.At); err != nil {
			logFailure("offline_failed", e.PeerID, err)
		}
	case events.PeerAnnounced:
		if err := s.journal.RecordAnnouncement(ctx, e.SenderID, e.Addr, e.At); err != nil {
			logFailure("announce_failed", e.SenderID, err)
		}
	}
}

func logFailure(action, peerID string, err error) {
	logging.Log("PRESENCE", action, map[string]string{
		"peer_id": peerID,
		"reason":  err.Error(),
	})
}
