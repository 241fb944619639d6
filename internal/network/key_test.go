package network

import (
	"errors"
	"testing"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memKeyStore struct {
	value   string
	saves   int
	loadErr error
}

func (m *memKeyStore) LoadNodePrivateKey() (string, error) { return m.value, m.loadErr }

func (m *memKeyStore) SaveNodePrivateKey(v string) error {
	m.value = v
	m.saves++
	return nil
}

func TestLoadOrCreatePrivateKeyPersists(t *testing.T) {
	store := &memKeyStore{}
	first, err := LoadOrCreatePrivateKey("", store)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)

	second, err := LoadOrCreatePrivateKey("", store)
	require.NoError(t, err)
	assert.True(t, first.Equals(second))
	assert.Equal(t, 1, store.saves)
}

func TestLoadOrCreatePrivateKeyExplicitWins(t *testing.T) {
	key, _, err := crypto.GenerateEd25519Key(nil)
	require.NoError(t, err)
	encoded, err := EncodePrivateKey(key)
	require.NoError(t, err)

	store := &memKeyStore{value: "ignored"}
	got, err := LoadOrCreatePrivateKey(encoded, store)
	require.NoError(t, err)
	assert.True(t, key.Equals(got))
	assert.Equal(t, 0, store.saves)

	_, err = LoadOrCreatePrivateKey("!!!", store)
	assert.Error(t, err)
}

func TestLoadOrCreatePrivateKeyRegeneratesCorrupt(t *testing.T) {
	store := &memKeyStore{value: "bm90IGEga2V5"}
	_, err := LoadOrCreatePrivateKey("", store)
	require.NoError(t, err)
	assert.Equal(t, 1, store.saves)
	assert.NotEqual(t, "bm90IGEga2V5", store.value)
}

func TestLoadOrCreatePrivateKeyEphemeral(t *testing.T) {
	a, err := LoadOrCreatePrivateKey("", nil)
	require.NoError(t, err)
	b, err := LoadOrCreatePrivateKey("", nil)
	require.NoError(t, err)
	assert.False(t, a.Equals(b))
}

func TestLoadOrCreatePrivateKeyStoreError(t *testing.T) {
	_, err := LoadOrCreatePrivateKey("", &memKeyStore{loadErr: errors.New("locked")})
	assert.Error(t, err)
}
