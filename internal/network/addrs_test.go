package network

import (
	"testing"

	"github.com/libp2p/go-libp2p/core/test"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitAddrs(t *testing.T) {
	relayID := test.RandPeerIDFatal(t)
	relay := ma.StringCast("/ip4/46.62.175.35/tcp/4001/p2p/" + relayID.String())

	circuit := CircuitAddr(relay)
	assert.Equal(t, relay.String()+"/p2p-circuit", circuit.String())
	assert.True(t, IsCircuitAddr(circuit))
	assert.False(t, IsCircuitAddr(relay))
	assert.Equal(t, circuit, CircuitAddr(circuit), "already a circuit")
	assert.Equal(t, relay.String(), RelayOf(circuit).String())
}

func TestWithPeerID(t *testing.T) {
	id := test.RandPeerIDFatal(t)
	other := test.RandPeerIDFatal(t)
	relay := "/ip4/46.62.175.35/tcp/4001/p2p/" + other.String() + "/p2p-circuit"

	tests := []struct {
		name    string
		addr    string
		want    string
		wantErr bool
	}{
		{"Appends", "/ip4/1.2.3.4/tcp/4001", "/ip4/1.2.3.4/tcp/4001/p2p/" + id.String(), false},
		{"AlreadyPresent", "/ip4/1.2.3.4/tcp/4001/p2p/" + id.String(), "/ip4/1.2.3.4/tcp/4001/p2p/" + id.String(), false},
		{"Circuit", relay, relay + "/p2p/" + id.String(), false},
		{"DifferentPeer", "/ip4/1.2.3.4/tcp/4001/p2p/" + other.String(), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := WithPeerID(ma.StringCast(tt.addr), id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
			assert.True(t, HasPeerID(got))
		})
	}
}
