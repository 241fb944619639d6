package app

import (
	"terralink/internal/events"
	"terralink/internal/logging"

	"github.com/benbjohnson/clock"
)

// BusShutdownRequester turns shutdown requests from any component (signals,
// the /quit command) into a single bus event.
type BusShutdownRequester struct {
	bus   *events.Bus
	clock clock.Clock
}

func NewBusShutdownRequester(bus *events.Bus) *BusShutdownRequester {
	return &BusShutdownRequester{bus: bus, clock: clock.New()}
}

func (r *BusShutdownRequester) RequestShutdown(reason string) {
	if r == nil || r.bus == nil {
		return
	}
	logging.Log("APP", "shutdown_requested", map[string]string{"reason": reason})
	r.bus.Publish(events.ShutdownRequested{
		Reason: reason,
		At:     r.clock.Now().UTC(),
	})
}
