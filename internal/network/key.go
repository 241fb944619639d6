package network

import (
	"encoding/base64"
	"fmt"
	"strings"

	"terralink/internal/logging"

	"github.com/libp2p/go-libp2p/core/crypto"
)

// KeyStore persists the node identity between runs.
type KeyStore interface {
	LoadNodePrivateKey() (string, error)
	SaveNodePrivateKey(nodePriv string) error
}

// LoadOrCreatePrivateKey returns the explicit key when one is configured,
// then the stored key, and otherwise a fresh Ed25519 key, which is saved when
// store is not nil.
func LoadOrCreatePrivateKey(explicit string, store KeyStore) (crypto.PrivKey, error) {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		key, err := DecodePrivateKey(explicit)
		if err != nil {
			return nil, fmt.Errorf("configured private key: %w", err)
		}
		logging.Log("NODE", "key_loaded", map[string]string{"source": "config"})
		return key, nil
	}

	if store == nil {
		key, _, err := crypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, err
		}
		logging.Log("NODE", "key_generated", map[string]string{"persisted": "false"})
		return key, nil
	}

	storedPrivKey, err := store.LoadNodePrivateKey()
	if err != nil {
		return nil, err
	}

	generateAndPersistNodeKey := func() (crypto.PrivKey, error) {
		generatedKey, _, err := crypto.GenerateEd25519Key(nil)
		if err != nil {
			return nil, err
		}
		encodedPrivKey, err := EncodePrivateKey(generatedKey)
		if err != nil {
			return nil, err
		}
		if err := store.SaveNodePrivateKey(encodedPrivKey); err != nil {
			return nil, err
		}
		logging.Log("NODE", "key_generated", map[string]string{"persisted": "true"})
		return generatedKey, nil
	}

	if storedPrivKey == "" {
		return generateAndPersistNodeKey()
	}

	loadedKey, err := DecodePrivateKey(storedPrivKey)
	if err != nil {
		logging.Log("NODE", "stored_key_invalid", map[string]string{"reason": err.Error()})
		return generateAndPersistNodeKey()
	}

	logging.Log("NODE", "key_loaded", map[string]string{"source": "database"})
	return loadedKey, nil
}

func EncodePrivateKey(key crypto.PrivKey) (string, error) {
	raw, err := crypto.MarshalPrivateKey(key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

func DecodePrivateKey(encoded string) (crypto.PrivKey, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %w", err)
	}
	return crypto.UnmarshalPrivateKey(raw)
}
