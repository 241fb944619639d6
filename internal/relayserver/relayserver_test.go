package relayserver

import (
	"context"
	"strings"
	"testing"
	"time"

	"terralink/internal/network"

	"github.com/libp2p/go-libp2p/core/crypto"
	rcmgr "github.com/libp2p/go-libp2p/p2p/host/resource-manager"
	"github.com/libp2p/go-libp2p/p2p/protocol/circuitv2/relay"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) crypto.PrivKey {
	t.Helper()
	key, _, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	return key
}

func TestResources(t *testing.T) {
	res := Resources()
	assert.Equal(t, 128, res.MaxReservations)
	assert.Equal(t, time.Hour, res.ReservationTTL)
	require.NotNil(t, res.Limit)
	assert.Equal(t, 2*time.Minute, res.Limit.Duration)
	assert.Equal(t, int64(10<<20), res.Limit.Data)
}

func TestRelayServiceCircuitCap(t *testing.T) {
	svc := limitConfig().ToPartialLimitConfig().Service[relay.ServiceName]
	assert.Equal(t, rcmgr.LimitVal(MaxCircuits), svc.StreamsOutbound)
	assert.Equal(t, rcmgr.LimitVal(256), svc.StreamsInbound)
	assert.Equal(t, 16, MaxCircuits)
}

func TestStartRequiresKey(t *testing.T) {
	_, err := Start(Config{})
	assert.Error(t, err)
}

func TestRelayNodeLine(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a libp2p host")
	}
	srv, err := Start(Config{PrivateKey: newKey(t), ListenHost: "127.0.0.1"})
	require.NoError(t, err)
	defer srv.Close()

	line := srv.RelayNodeLine()
	assert.True(t, strings.HasPrefix(line, "RELAY_NODE="), line)
	assert.Contains(t, line, "/p2p/"+srv.Host().ID().String())
	assert.Contains(t, line, "/tcp/")

	srv.cfg.PublicIP = "46.62.175.35"
	srv.cfg.TCPPort = DefaultTCPPort
	assert.Equal(t, `RELAY_NODE="/ip4/46.62.175.35/tcp/4001/p2p/`+srv.Host().ID().String()+`"`, srv.RelayNodeLine())
}

func TestClientReservesThroughRelay(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two libp2p hosts")
	}
	srv, err := Start(Config{PrivateKey: newKey(t), ListenHost: "127.0.0.1"})
	require.NoError(t, err)
	defer srv.Close()

	var relayAddr ma.Multiaddr
	for _, a := range srv.Addrs() {
		if _, err := a.ValueForProtocol(ma.P_TCP); err == nil {
			relayAddr = a
		}
	}
	require.NotNil(t, relayAddr)

	client, err := network.NewHost(context.Background(), network.HostConfig{
		PrivateKey:     newKey(t),
		Topic:          "/world-test",
		ProtocolPrefix: "/terra-link-test",
	})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Listen(network.CircuitAddr(relayAddr)))

	deadline := time.After(15 * time.Second)
	for {
		select {
		case ev := <-client.Events():
			switch ev := ev.(type) {
			case network.ReservationAccepted:
				assert.Equal(t, network.CircuitAddr(relayAddr).String(), ev.CircuitAddr.String())
				assert.True(t, ev.Expiration.After(time.Now()))
				return
			case network.ReservationFailed:
				t.Fatalf("reservation failed: %v", ev.Err)
			}
		case <-deadline:
			t.Fatal("no reservation outcome")
		}
	}
}
