package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"terralink/internal/logging"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Engine metrics
	CommandsHandled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terralink_engine_commands_total",
			Help: "Commands executed by the network engine",
		},
		[]string{"kind"},
	)

	CommandFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terralink_engine_command_failures_total",
			Help: "Commands whose substrate operation failed",
		},
		[]string{"kind"},
	)

	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terralink_engine_events_total",
			Help: "Events delivered to the UI",
		},
		[]string{"kind"},
	)

	SubstrateEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terralink_substrate_events_total",
			Help: "Events raised by the networking substrate",
		},
		[]string{"kind"},
	)

	DecodeDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "terralink_gossip_decode_drops_total",
			Help: "Gossip payloads dropped because they failed to decode",
		},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "terralink_gossip_publish_failures_total",
			Help: "Gossip publishes that failed",
		},
	)

	// Bridge metrics
	CommandsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terralink_bridge_commands_dropped_total",
			Help: "Commands dropped by the UI because the queue was full",
		},
		[]string{"kind"},
	)

	// App metrics
	ConnectedPeers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "terralink_connected_peers",
			Help: "Peers currently in the UI known-peers set",
		},
	)

	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terralink_scheduler_task_runs_total",
			Help: "Scheduled task runs by outcome",
		},
		[]string{"task", "outcome"},
	)

	BusDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "terralink_bus_drops_total",
			Help: "Bus events missed by a slow subscriber",
		},
	)
)

// Serve exposes /metrics on addr until ctx is done. An empty addr does nothing.
func Serve(ctx context.Context, addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		logging.Log("METRICS", "listening", map[string]string{"addr": addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Log("METRICS", "serve_failed", map[string]string{
				"addr":   addr,
				"reason": err.Error(),
			})
		}
	}()
}
