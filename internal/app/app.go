package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"

	"terralink/internal/bridge"
	"terralink/internal/config"
	"terralink/internal/database"
	"terralink/internal/events"
	"terralink/internal/logger"
	"terralink/internal/logging"
	"terralink/internal/metrics"
	"terralink/internal/network"
	"terralink/internal/relay"
	"terralink/internal/scheduler"

	ma "github.com/multiformats/go-multiaddr"
)

type runMode int

const (
	modeNone runMode = iota
	modeListen
	modeDial
)

type runOptions struct {
	configPath string
	mode       runMode
	target     ma.Multiaddr
}

func parseRunArgs(args []string) (runOptions, error) {
	fs := flag.NewFlagSet("terralink", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", config.DefaultPath, "path to the JSON config file")
	if err := fs.Parse(args); err != nil {
		return runOptions{}, err
	}

	opts := runOptions{configPath: *configPath}
	rest := fs.Args()
	if len(rest) == 0 {
		return opts, nil
	}
	if len(rest) != 2 {
		return runOptions{}, fmt.Errorf("usage: terralink [-config path] [listen|dial <multiaddr>]")
	}
	switch rest[0] {
	case "listen":
		opts.mode = modeListen
	case "dial":
		opts.mode = modeDial
	default:
		return runOptions{}, fmt.Errorf("unknown mode %q, want listen or dial", rest[0])
	}
	target, err := ma.NewMultiaddr(rest[1])
	if err != nil {
		return runOptions{}, fmt.Errorf("%s address: %w", rest[0], err)
	}
	opts.target = target
	return opts, nil
}

// startupCommands are queued before the UI loop starts. Dial mode opens an
// ephemeral listener first so the dialed peer has something to connect back to.
func startupCommands(opts runOptions, cfg *config.Config) ([]bridge.Command, error) {
	var cmds []bridge.Command
	for _, raw := range cfg.Listen.Values() {
		addr, err := ma.NewMultiaddr(raw)
		if err != nil {
			return nil, fmt.Errorf("listen %q: %w", raw, err)
		}
		cmds = append(cmds, bridge.Listen{Addr: addr})
	}
	switch opts.mode {
	case modeListen:
		cmds = append(cmds, bridge.Listen{Addr: opts.target})
	case modeDial:
		cmds = append(cmds, bridge.Listen{Addr: relay.EphemeralListenAddr}, bridge.Dial{Addr: opts.target})
	}
	return cmds, nil
}

func parseRelayNode(raw string) (ma.Multiaddr, error) {
	if raw == "" {
		return nil, nil
	}
	addr, _, err := network.ParseP2PAddr(raw)
	if err != nil {
		return nil, fmt.Errorf("relay node: %w", err)
	}
	return addr, nil
}

func setupLogging(cfg *config.Config) error {
	logger.Init(cfg.Log.Path, 10)
	logger.QuietLibp2p()
	if cfg.Log.Level == "" {
		return nil
	}
	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger.SetLevel(level)
	return nil
}

func Run(args []string) error {
	opts, err := parseRunArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load(opts.configPath)
	missingConfig := errors.Is(err, fs.ErrNotExist)
	if err != nil && !missingConfig {
		return err
	}
	cfg.ApplyEnv()
	if err := setupLogging(cfg); err != nil {
		return err
	}

	logging.Log("APP", "version", map[string]string{"version": config.AppVersion})
	if missingConfig {
		logging.Log("APP", "config_missing", map[string]string{"path": opts.configPath})
	}

	relayAddr, err := parseRelayNode(cfg.RelayNode)
	if err != nil {
		return err
	}
	startup, err := startupCommands(opts, cfg)
	if err != nil {
		return err
	}

	var store *database.Store
	if path := cfg.DatabasePath(); path != "" {
		store, err = database.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
	}
	var keys network.KeyStore
	if cfg.Identity.Persist && store != nil {
		keys = store
	}
	privKey, err := network.LoadOrCreatePrivateKey(cfg.Identity.PrivateKey, keys)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	node, err := network.NewHost(ctx, network.HostConfig{
		PrivateKey:     privKey,
		Topic:          cfg.Topic,
		ProtocolPrefix: cfg.ProtocolPrefix,
		IdleTimeout:    cfg.IdleTimeout(),
	})
	if err != nil {
		return fmt.Errorf("network init: %w", err)
	}

	client, endpoint := bridge.New(cfg.QueueCapacity)
	engineDone := startEngine(ctx, network.NewEngine(node, endpoint))

	eventBus := events.NewBus()
	eventBus.OnDrop(func(subscriber string, evt any) {
		metrics.BusDrops.Inc()
		logging.Debug("BUS", "dropped", map[string]string{
			"subscriber": subscriber,
			"event":      fmt.Sprintf("%T", evt),
		})
	})
	shutdownNotifier := NewBusShutdownRequester(eventBus)
	stopShutdownBridge := startShutdownBridge(ctx, cancel, eventBus, shutdownNotifier, os.Stdout)
	defer stopShutdownBridge()

	startRuntimeServices(ctx, eventBus, store, cfg.MetricsAddr)

	for _, cmd := range startup {
		if err := client.Send(ctx, cmd); err != nil {
			client.Close()
			<-engineDone
			return fmt.Errorf("queue startup %s: %w", cmd.Kind(), err)
		}
	}
	needListener := opts.mode == modeNone && len(cfg.Listen.Values()) == 0
	startRelaySequencer(ctx, relayAddr, client, cfg, needListener)

	jobScheduler := scheduler.New()
	if err := registerScheduledTasks(jobScheduler, node, cfg, client); err != nil {
		client.Close()
		<-engineDone
		return err
	}
	jobScheduler.Start(ctx)

	fmt.Printf("[NODE] Peer ID: %s\n", node.ID())
	fmt.Println("[APP] Type a message and press enter. Commands: /nick <name>, /peers, /addrs, /quit")

	console := NewConsole(NewState(node.ID(), eventBus, nil), client, ConsoleConfig{
		Tick:             cfg.Tick(),
		PresenceInterval: cfg.PresenceInterval(),
		Out:              os.Stdout,
		Input:            ReadLines(ctx, os.Stdin),
		Shutdown:         shutdownNotifier,
	})
	uiErr := console.Run(ctx)

	client.Close()
	engineErr := <-engineDone
	cancel()
	jobScheduler.Wait()

	logging.Log("APP", "shutdown", map[string]string{"reason": "ui_stopped"})
	return errors.Join(uiErr, engineErr)
}
