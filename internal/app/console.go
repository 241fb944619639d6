package app

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"terralink/internal/bridge"
	"terralink/internal/logging"
	"terralink/internal/metrics"

	"github.com/benbjohnson/clock"
)

// ErrNetworkStopped is returned by Console.Run when the engine closed its end
// of the bridge while the UI was still running.
var ErrNetworkStopped = errors.New("network engine stopped")

type ShutdownRequester interface {
	RequestShutdown(reason string)
}

type ConsoleConfig struct {
	Tick             time.Duration
	PresenceInterval time.Duration
	Clock            clock.Clock
	Out              io.Writer
	// Input delivers console lines; a closed channel means the input ended.
	Input    <-chan string
	Shutdown ShutdownRequester
}

// Console is the presentation loop. Each tick it drains the event queue,
// prints what changed, and hands out commands without ever waiting on the
// network.
type Console struct {
	state  *State
	client *bridge.Client
	cfg    ConsoleConfig

	lastPresence time.Time
}

func NewConsole(state *State, client *bridge.Client, cfg ConsoleConfig) *Console {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 100 * time.Millisecond
	}
	if cfg.PresenceInterval <= 0 {
		cfg.PresenceInterval = 15 * time.Second
	}
	if cfg.Out == nil {
		cfg.Out = io.Discard
	}
	return &Console{state: state, client: client, cfg: cfg}
}

// Run loops until ctx is done, /quit is entered, or the engine goes away.
func (c *Console) Run(ctx context.Context) error {
	ticker := c.cfg.Clock.Ticker(c.cfg.Tick)
	defer ticker.Stop()
	c.lastPresence = c.cfg.Clock.Now()

	input := c.cfg.Input
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-input:
			if !ok {
				input = nil
				continue
			}
			if quit := c.HandleLine(line); quit {
				return nil
			}
		case <-ticker.C:
			if err := c.Frame(); err != nil {
				return err
			}
		}
	}
}

// Frame runs one tick: presence broadcast when due, then every queued event.
func (c *Console) Frame() error {
	now := c.cfg.Clock.Now()
	if now.Sub(c.lastPresence) >= c.cfg.PresenceInterval {
		c.broadcastPresence()
		c.lastPresence = now
	}

	err := c.client.Drain(c.handleEvent)
	if errors.Is(err, bridge.ErrClosed) {
		logging.Log("UI", "engine_gone", nil)
		return ErrNetworkStopped
	}
	return err
}

func (c *Console) broadcastPresence() {
	addrs := c.state.ListenAddrStrings()
	if len(addrs) == 0 || c.state.LocalID() == "" {
		return
	}
	c.send(bridge.BroadcastPresence{SenderID: c.state.LocalID().String(), ListenAddrs: addrs})
}

func (c *Console) handleEvent(ev bridge.Event) {
	switch e := ev.(type) {
	case bridge.PeerConnected:
		ip := "unknown"
		if e.RemoteIP.IsValid() {
			ip = e.RemoteIP.String()
		}
		c.printf("[CONNECTED] Peer: %s | IP: %s\n", e.PeerID, ip)
	case bridge.PeerDisconnected:
		c.printf("[DISCONNECTED] Peer: %s\n", e.PeerID)
	case bridge.Listening:
		c.printf("[LISTENING] %s\n", e.Addr)
	case bridge.MessageReceived:
		c.printf("%s: %s\n", ShortID(e.SenderID), e.Text)
	case bridge.Error:
		c.printf("[ERROR] %s\n", e.Message)
	}

	for _, cmd := range c.state.Apply(ev) {
		c.send(cmd)
	}
}

// HandleLine interprets one line of console input and reports whether the
// user asked to quit.
func (c *Console) HandleLine(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		c.send(bridge.PublishChat{SenderID: c.state.DisplayName(), Text: line})
		c.state.AddChat(c.state.DisplayName(), line)
		return false
	}

	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/nick":
		if nick := c.state.SetNickname(arg); nick != "" {
			c.printf("[NICK] %s\n", nick)
		} else {
			c.printf("[NICK] cleared, using %s\n", c.state.DisplayName())
		}
	case "/peers":
		peers := c.state.Peers()
		c.printf("[PEERS] %d connected\n", len(peers))
		for _, id := range peers {
			ip := "unknown"
			if addr, ok := c.state.PeerIP(id); ok {
				ip = addr.String()
			}
			c.printf("  %s | IP: %s\n", id, ip)
		}
	case "/addrs":
		addrs := c.state.ListenAddrStrings()
		if len(addrs) == 0 {
			c.printf("[ADDRS] not listening yet\n")
		}
		for _, a := range addrs {
			c.printf("[ADDRS] %s\n", a)
		}
	case "/quit":
		if c.cfg.Shutdown != nil {
			c.cfg.Shutdown.RequestShutdown("console:quit")
		}
		return true
	default:
		c.printf("[ERROR] unknown command %s (try /nick, /peers, /addrs, /quit)\n", name)
	}
	return false
}

// send never blocks; a full queue drops the command.
func (c *Console) send(cmd bridge.Command) {
	if c.client.TrySend(cmd) {
		return
	}
	metrics.CommandsDropped.WithLabelValues(cmd.Kind()).Inc()
	logging.Log("UI", "command_dropped", map[string]string{"kind": cmd.Kind()})
}

func (c *Console) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.cfg.Out, format, args...)
}

// ReadLines feeds lines from r until EOF or ctx is done.
func ReadLines(ctx context.Context, r io.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case out <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
