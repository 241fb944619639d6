package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"terralink/internal/logging"

	"github.com/joho/godotenv"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"
)

const AppVersion = "0.1.0"

// Environment variables that override the file.
const (
	EnvRelayNode = "RELAY_NODE"
	EnvLogLevel  = "TERRALINK_LOG_LEVEL"
)

const (
	DefaultPath               = "config.json"
	DefaultTopic              = "/world"
	DefaultProtocolPrefix     = "/terra-link"
	DefaultDatabasePath       = "terralink.db"
	DefaultLogPath            = "terralink.log"
	DefaultRelayGraceMillis   = 2000
	DefaultPresenceSeconds    = 15
	DefaultTickMillis         = 100
	DefaultQueueCapacity      = 32
	DefaultIdleTimeoutSeconds = 60
)

type Config struct {
	InitConnections []Connection `json:"init_connections"`
	Listen          ListenConfig `json:"listen"`
	RelayNode       string       `json:"relay_node"`

	RelayGraceMillis        int `json:"relay_grace_ms"`
	PresenceIntervalSeconds int `json:"presence_interval_seconds"`
	TickMillis              int `json:"tick_ms"`
	QueueCapacity           int `json:"queue_capacity"`
	IdleTimeoutSeconds      int `json:"idle_timeout_seconds"`

	Topic          string `json:"topic"`
	ProtocolPrefix string `json:"protocol_prefix"`

	Identity IdentityConfig `json:"identity"`
	// Database is a pointer so an explicit "" (journal disabled) can be told
	// apart from an absent key.
	Database    *string   `json:"database"`
	Log         LogConfig `json:"log"`
	MetricsAddr string    `json:"metrics_addr"`
}

type Connection struct {
	Type    string `json:"type"`
	Address string `json:"address"`
}

type IdentityConfig struct {
	PrivateKey string `json:"private_key"`
	Persist    bool   `json:"persist"`
}

type LogConfig struct {
	Path  string `json:"path"`
	Level string `json:"level"`
}

type ListenConfig []string

func (l *ListenConfig) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		if strings.TrimSpace(one) == "" {
			*l = nil
		} else {
			*l = []string{one}
		}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err == nil {
		*l = many
		return nil
	}

	return fmt.Errorf("listen must be a string or string array")
}

func (l ListenConfig) Values() []string {
	out := make([]string, 0, len(l))
	for _, raw := range l {
		if v := strings.TrimSpace(raw); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	db := DefaultDatabasePath
	return &Config{
		RelayGraceMillis:        DefaultRelayGraceMillis,
		PresenceIntervalSeconds: DefaultPresenceSeconds,
		TickMillis:              DefaultTickMillis,
		QueueCapacity:           DefaultQueueCapacity,
		IdleTimeoutSeconds:      DefaultIdleTimeoutSeconds,
		Topic:                   DefaultTopic,
		ProtocolPrefix:          DefaultProtocolPrefix,
		Database:                &db,
		Log:                     LogConfig{Path: DefaultLogPath},
	}
}

// Load reads the JSON file at path over the defaults. A missing file is not
// an error; the defaults are returned together with fs.ErrNotExist wrapped so
// callers can warn about it.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv loads .env files (missing ones are ignored) and lets the process
// environment override file values.
func (c *Config) ApplyEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			logging.Log("CONFIG", "dotenv_failed", map[string]string{
				"file":   f,
				"reason": err.Error(),
			})
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvRelayNode)); v != "" {
		c.RelayNode = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.RelayGraceMillis <= 0 {
		c.RelayGraceMillis = d.RelayGraceMillis
	}
	if c.PresenceIntervalSeconds <= 0 {
		c.PresenceIntervalSeconds = d.PresenceIntervalSeconds
	}
	if c.TickMillis <= 0 {
		c.TickMillis = d.TickMillis
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = d.QueueCapacity
	}
	if c.IdleTimeoutSeconds <= 0 {
		c.IdleTimeoutSeconds = d.IdleTimeoutSeconds
	}
	if strings.TrimSpace(c.Topic) == "" {
		c.Topic = d.Topic
	}
	if strings.TrimSpace(c.ProtocolPrefix) == "" {
		c.ProtocolPrefix = d.ProtocolPrefix
	}
	if c.Database == nil {
		c.Database = d.Database
	}
}

// Validate checks addresses that would otherwise only fail once the node is up.
func (c *Config) Validate() error {
	var errs []error
	for _, addr := range c.Listen.Values() {
		if _, err := multiaddr.NewMultiaddr(addr); err != nil {
			errs = append(errs, fmt.Errorf("listen %q: %w", addr, err))
		}
	}
	for _, conn := range c.InitConnections {
		switch conn.Type {
		case "multiaddr":
			if !isValidPeerMultiAddr(conn.Address) {
				errs = append(errs, fmt.Errorf("init connection %q is not a /p2p/ multiaddr", conn.Address))
			}
		case "dns":
			if !isValidDNS(conn.Address) {
				errs = append(errs, fmt.Errorf("init connection %q is not a domain name", conn.Address))
			}
		default:
			errs = append(errs, fmt.Errorf("init connection type %q is unknown", conn.Type))
		}
	}
	if c.RelayNode != "" && !isValidPeerMultiAddr(c.RelayNode) {
		errs = append(errs, fmt.Errorf("relay_node %q is not a /p2p/ multiaddr", c.RelayNode))
	}
	return errors.Join(errs...)
}

func (c *Config) RelayGrace() time.Duration {
	return time.Duration(c.RelayGraceMillis) * time.Millisecond
}

func (c *Config) PresenceInterval() time.Duration {
	return time.Duration(c.PresenceIntervalSeconds) * time.Second
}

func (c *Config) Tick() time.Duration {
	return time.Duration(c.TickMillis) * time.Millisecond
}

func (c *Config) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSeconds) * time.Second
}

// DatabasePath is empty when the journal is disabled.
func (c *Config) DatabasePath() string {
	if c.Database == nil {
		return ""
	}
	return strings.TrimSpace(*c.Database)
}

func isValidPeerMultiAddr(raw string) bool {
	addr, err := multiaddr.NewMultiaddr(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	_, err = peer.AddrInfoFromP2pAddr(addr)
	return err == nil
}

func isValidDNS(raw string) bool {
	name := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	if name == "" || len(name) > 253 || !strings.Contains(name, ".") {
		return false
	}
	for _, label := range strings.Split(name, ".") {
		if label == "" || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, r := range label {
			if !(r == '-' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
				return false
			}
		}
	}
	return true
}
