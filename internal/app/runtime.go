package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"terralink/internal/bridge"
	"terralink/internal/config"
	"terralink/internal/database"
	"terralink/internal/events"
	"terralink/internal/logging"
	"terralink/internal/metrics"
	"terralink/internal/network"
	"terralink/internal/presence"
	"terralink/internal/relay"
	"terralink/internal/scheduler"
	"terralink/internal/tasks"

	ma "github.com/multiformats/go-multiaddr"
)

// startShutdownBridge cancels ctx once a ShutdownRequested event arrives.
// SIGINT and SIGTERM are turned into such requests.
func startShutdownBridge(ctx context.Context, cancel context.CancelFunc, bus *events.Bus, shutdown *BusShutdownRequester, out io.Writer) func() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	shutdownEvents, unsubscribe := bus.Subscribe("shutdown", 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigChan:
				shutdown.RequestShutdown(fmt.Sprintf("signal:%s", sig.String()))
			case evt, ok := <-shutdownEvents:
				if !ok {
					return
				}
				req, ok := evt.(events.ShutdownRequested)
				if !ok {
					continue
				}
				_, _ = fmt.Fprintf(out, "[APP] Shutdown requested (%s)\n", req.Reason)
				cancel()
				return
			}
		}
	}()

	return func() {
		signal.Stop(sigChan)
		unsubscribe()
	}
}

// startEngine runs the engine until the client closes or ctx ends. The
// returned channel yields the engine's exit error exactly once.
func startEngine(ctx context.Context, engine *network.Engine) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := engine.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		done <- err
	}()
	return done
}

func startRuntimeServices(ctx context.Context, bus *events.Bus, store *database.Store, metricsAddr string) {
	if store != nil {
		peerPresence := presence.NewService(bus, store)
		peerPresence.Start(ctx)
	}
	metrics.Serve(ctx, metricsAddr)
}

// startRelaySequencer reserves a circuit on the configured relay in the
// background. needListener is set when nothing else will open a listener.
func startRelaySequencer(ctx context.Context, relayAddr ma.Multiaddr, client *bridge.Client, cfg *config.Config, needListener bool) {
	if relayAddr == nil {
		return
	}
	opts := []relay.Option{relay.WithGracePeriod(cfg.RelayGrace())}
	if needListener {
		opts = append(opts, relay.WithListener(nil))
	}
	seq := relay.New(relayAddr, client, opts...)
	go func() {
		if err := seq.Run(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, bridge.ErrClosed) {
			logging.Log("RELAY", "sequencer_failed", map[string]string{
				"relay":  relayAddr.String(),
				"reason": err.Error(),
			})
		}
	}()
}

func registerScheduledTasks(s *scheduler.Scheduler, node *network.Host, cfg *config.Config, client *bridge.Client) error {
	if len(cfg.InitConnections) == 0 {
		return nil
	}
	resolver := network.NewConfigResolver(node.ID(), cfg.InitConnections, network.NewNetDNSResolver())
	return s.Register(tasks.NewBootstrapTask(resolver, client))
}
