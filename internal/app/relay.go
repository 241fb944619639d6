package app

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"terralink/internal/config"
	"terralink/internal/logging"
	"terralink/internal/network"
	"terralink/internal/relayserver"
)

// RunRelay starts a dedicated relay node and blocks until SIGINT or SIGTERM.
func RunRelay(args []string) error {
	fs := flag.NewFlagSet("relay", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	key := fs.String("key", "", "relay private key (base64, see keygen); random when empty")
	listenHost := fs.String("listen-host", "0.0.0.0", "interface to bind")
	tcpPort := fs.Int("tcp-port", relayserver.DefaultTCPPort, "TCP listen port")
	quicPort := fs.Int("quic-port", relayserver.DefaultQUICPort, "QUIC listen port")
	publicIP := fs.String("public-ip", "", "public IPv4 advertised in the RELAY_NODE line")
	logPath := fs.String("log", "", "log file (stderr when empty)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg := config.Default()
	cfg.Log.Path = *logPath
	cfg.ApplyEnv()
	if err := setupLogging(cfg); err != nil {
		return err
	}

	privKey, err := network.LoadOrCreatePrivateKey(*key, nil)
	if err != nil {
		return err
	}

	srv, err := relayserver.Start(relayserver.Config{
		PrivateKey: privKey,
		ListenHost: *listenHost,
		TCPPort:    *tcpPort,
		QUICPort:   *quicPort,
		PublicIP:   *publicIP,
	})
	if err != nil {
		return err
	}
	defer srv.Close()

	fmt.Printf("[RELAY] Peer ID: %s\n", srv.Host().ID())
	for _, a := range srv.Addrs() {
		fmt.Printf("[RELAY] Listening on %s\n", a)
	}
	fmt.Println("[RELAY] Add this to the .env of every node:")
	fmt.Println(srv.RelayNodeLine())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	sig := <-sigChan

	logging.Log("RELAY", "shutdown", map[string]string{"reason": "signal:" + sig.String()})
	return nil
}
