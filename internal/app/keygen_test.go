package app

import (
	"bytes"
	"strings"
	"testing"

	"terralink/internal/network"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseKeygenOutput(t *testing.T, out string) map[string]string {
	t.Helper()
	values := make(map[string]string)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		k, v, ok := strings.Cut(line, "=")
		require.True(t, ok, line)
		values[k] = v
	}
	return values
}

func TestKeygenGeneratesMatchingPair(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, runKeygen(nil, &out))

	values := parseKeygenOutput(t, out.String())
	priv, err := network.DecodePrivateKey(values["NODE_PRIV_B64"])
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	assert.Equal(t, id.String(), values["NODE_PEER_ID"])
}

func TestKeygenReusesExistingKey(t *testing.T) {
	priv, _, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	encoded, err := network.EncodePrivateKey(priv)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runKeygen([]string{"-node-priv", encoded}, &out))
	values := parseKeygenOutput(t, out.String())
	assert.Equal(t, encoded, values["NODE_PRIV_B64"])
	assert.Equal(t, id.String(), values["NODE_PEER_ID"])
}

func TestKeygenRejectsBadKey(t *testing.T) {
	assert.Error(t, runKeygen([]string{"-node-priv", "%%%"}, &bytes.Buffer{}))
}
