package config

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"terralink/internal/logger"

	"github.com/libp2p/go-libp2p/core/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestIsValidPeerMultiAddr(t *testing.T) {
	peerID := test.RandPeerIDFatal(t)
	validAddr := "/ip4/127.0.0.1/tcp/4001/p2p/" + peerID.String()
	invalidAddr := "/ip4/127.0.0.1/tcp/4001"
	invalidPeerAddr := "/ip4/127.0.0.1/tcp/4001/p2p/invalidpeerid"

	tests := []struct {
		name string
		addr string
		want bool
	}{
		{"ValidPeerMultiAddr", validAddr, true},
		{"NoP2P", invalidAddr, false},
		{"InvalidPeerID", invalidPeerAddr, false},
		{"Garbage", "not a multiaddr", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Logf("Testing address: %s", tt.addr)
			got := isValidPeerMultiAddr(tt.addr)
			if got != tt.want {
				t.Errorf("isValidPeerMultiAddr(%q) = %v, want %v", tt.addr, got, tt.want)
			}
		})
	}
}

func TestIsValidDNS(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"init.terra-link.dev", true},
		{"init.terra-link.dev.", true},
		{"localhost", false},
		{"-bad.example.com", false},
		{"under_score.example.com", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isValidDNS(tt.addr); got != tt.want {
			t.Errorf("isValidDNS(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.ErrorIs(t, err, fs.ErrNotExist)
	require.NotNil(t, cfg)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 2*time.Second, cfg.RelayGrace())
	assert.Equal(t, DefaultDatabasePath, cfg.DatabasePath())
}

func TestLoad(t *testing.T) {
	relay := "/ip4/46.62.175.35/tcp/4001/p2p/" + test.RandPeerIDFatal(t).String()
	path := writeConfig(t, `{
		"listen": "/ip4/0.0.0.0/tcp/4001",
		"init_connections": [{"type": "dns", "address": "init.terra-link.dev"}],
		"relay_node": "`+relay+`",
		"relay_grace_ms": 500,
		"database": "",
		"log": {"level": "debug"}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001"}, cfg.Listen.Values())
	assert.Equal(t, relay, cfg.RelayNode)
	assert.Equal(t, 500*time.Millisecond, cfg.RelayGrace())
	assert.Equal(t, 15*time.Second, cfg.PresenceInterval())
	assert.Equal(t, 100*time.Millisecond, cfg.Tick())
	assert.Equal(t, DefaultTopic, cfg.Topic)
	assert.Equal(t, "", cfg.DatabasePath(), "explicit empty database disables the journal")
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadListenArray(t *testing.T) {
	path := writeConfig(t, `{"listen": ["/ip4/0.0.0.0/tcp/4001", " ", "/ip4/0.0.0.0/udp/4002/quic-v1"]}`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/ip4/0.0.0.0/tcp/4001", "/ip4/0.0.0.0/udp/4002/quic-v1"}, cfg.Listen.Values())
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"ListenNumber", `{"listen": 4001}`},
		{"ListenNotMultiaddr", `{"listen": "0.0.0.0:4001"}`},
		{"RelayWithoutPeer", `{"relay_node": "/ip4/1.2.3.4/tcp/4001"}`},
		{"UnknownConnectionType", `{"init_connections": [{"type": "mdns", "address": "x"}]}`},
		{"BadJSON", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	relay := "/ip4/10.0.0.1/tcp/4001/p2p/" + test.RandPeerIDFatal(t).String()
	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RELAY_NODE="+relay+"\n"), 0o600))
	t.Setenv(EnvRelayNode, "")
	require.NoError(t, os.Unsetenv(EnvRelayNode))
	t.Setenv(EnvLogLevel, "warn")

	cfg := Default()
	cfg.RelayNode = "/ip4/1.1.1.1/tcp/1/p2p/" + test.RandPeerIDFatal(t).String()
	cfg.ApplyEnv(envFile)

	assert.Equal(t, relay, cfg.RelayNode)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestApplyEnvReportsMalformedDotenv(t *testing.T) {
	var buf bytes.Buffer
	logger.InitWithWriter(&buf)
	t.Cleanup(func() { logger.InitWithWriter(os.Stderr) })

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("RELAY_NODE=\"/ip4/10.0.0.1/tcp/4001\n"), 0o600))
	t.Setenv(EnvRelayNode, "")
	require.NoError(t, os.Unsetenv(EnvRelayNode))

	cfg := Default()
	cfg.ApplyEnv(envFile)

	assert.Empty(t, cfg.RelayNode)
	assert.Contains(t, buf.String(), "[CONFIG] action=dotenv_failed")
	assert.Contains(t, buf.String(), "file="+envFile)
}
