package node

import (
	"encoding/json"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/skycoin/skyarena/pkg/carrier"
	"github.com/skycoin/skyarena/pkg/transport"
	"github.com/skycoin/skyarena/pkg/userinfo"
	"github.com/skycoin/skyarena/pkg/util/pathutil"
)

// Store types.
const (
	MemoryStore = "memory"
	FileStore   = "file"
	BoltDBStore = "boltdb"
)

// ConfigVersion is the version written by DefaultConfig.
const ConfigVersion = "1.0"

// StoreConfig selects a storage backend.
type StoreConfig struct {
	Type     string `json:"type"`
	Location string `json:"location"`
}

// Config defines configuration parameters for Node.
type Config struct {
	Version string `json:"version"`

	// Carrier is either "udp" or "websocket".
	Carrier string `json:"carrier"`

	// Address is the bind address of a host or the server address of a client.
	Address string `json:"address"`

	Username string   `json:"username"`
	TickRate Duration `json:"tick_rate"` // time between ticks, examples: 50ms, 1s

	// ConnectTimeout bounds the retries of a client failing to reach its server.
	ConnectTimeout Duration `json:"connect_timeout"`

	Transport struct {
		MaxPayloadSize          int         `json:"max_payload_size"`
		MaxPacketsPerTick       int         `json:"max_packets_per_tick"`
		PingInterval            Duration    `json:"ping_interval"`
		Timeout                 Duration    `json:"timeout"`
		RetryInterval           Duration    `json:"retry_interval"`
		HandshakeTimeout        Duration    `json:"handshake_timeout"`
		UserInfoMaxAge          Duration    `json:"user_info_max_age"`
		UserInfoRequestInterval Duration    `json:"user_info_request_interval"`
		LogStore                StoreConfig `json:"log_store"`
	} `json:"transport"`

	UserInfoStore StoreConfig `json:"user_info_store"`

	Metrics struct {
		// Address serves /metrics if set. A websocket host also serves
		// /metrics next to its websocket endpoint.
		Address string `json:"address"`
	} `json:"metrics"`

	LogLevel string `json:"log_level"`
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() *Config {
	def := transport.DefaultConfig()

	c := new(Config)
	c.Version = ConfigVersion
	c.Carrier = carrier.UDPType
	c.Address = "127.0.0.1:7777"
	c.Username = "player"
	c.TickRate = Duration(50 * time.Millisecond)
	c.ConnectTimeout = Duration(5 * time.Second)
	c.Transport.MaxPayloadSize = def.MaxPayloadSize
	c.Transport.MaxPacketsPerTick = def.MaxPacketsPerTick
	c.Transport.PingInterval = Duration(def.PingInterval)
	c.Transport.Timeout = Duration(def.Timeout)
	c.Transport.RetryInterval = Duration(def.RetryInterval)
	c.Transport.HandshakeTimeout = Duration(def.HandshakeTimeout)
	c.Transport.UserInfoMaxAge = Duration(def.UserInfoMaxAge)
	c.Transport.UserInfoRequestInterval = Duration(def.UserInfoRequestInterval)
	c.Transport.LogStore.Type = MemoryStore
	c.UserInfoStore.Type = MemoryStore
	c.LogLevel = "info"
	return c
}

// ReadConfig decodes the JSON config at path.
func ReadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open config")
	}
	defer f.Close() //nolint:errcheck

	conf := DefaultConfig()
	if err := json.NewDecoder(f).Decode(conf); err != nil {
		return nil, errors.Wrap(err, "failed to decode config")
	}
	return conf, nil
}

// TransportConfig returns the engine configuration.
func (c *Config) TransportConfig() (transport.Config, error) {
	ls, err := c.TransportLogStore()
	if err != nil {
		return transport.Config{}, err
	}

	conf := transport.DefaultConfig()
	conf.MaxPayloadSize = c.Transport.MaxPayloadSize
	conf.MaxPacketsPerTick = c.Transport.MaxPacketsPerTick
	conf.PingInterval = time.Duration(c.Transport.PingInterval)
	conf.Timeout = time.Duration(c.Transport.Timeout)
	conf.RetryInterval = time.Duration(c.Transport.RetryInterval)
	conf.HandshakeTimeout = time.Duration(c.Transport.HandshakeTimeout)
	conf.UserInfoMaxAge = time.Duration(c.Transport.UserInfoMaxAge)
	conf.UserInfoRequestInterval = time.Duration(c.Transport.UserInfoRequestInterval)
	conf.LogStore = ls
	return conf, nil
}

// TransportLogStore returns the configured session log store.
func (c *Config) TransportLogStore() (transport.LogStore, error) {
	if c.Transport.LogStore.Type == FileStore {
		dir, err := pathutil.Expand(c.Transport.LogStore.Location)
		if err != nil {
			return nil, err
		}
		return transport.FileLogStore(dir)
	}

	return transport.InMemoryLogStore(), nil
}

// UserInfoStorage returns the configured user info store.
func (c *Config) UserInfoStorage() (userinfo.Store, error) {
	if c.UserInfoStore.Type == BoltDBStore {
		path, err := pathutil.Expand(c.UserInfoStore.Location)
		if err != nil {
			return nil, err
		}
		return userinfo.BoltDBStore(path)
	}

	return userinfo.InMemoryStore(), nil
}

// NewCarrier returns a new carrier of the configured type.
func (c *Config) NewCarrier() (carrier.Carrier, error) {
	return carrier.New(c.Carrier)
}

// Duration wraps around time.Duration to allow parsing it from JSON
type Duration time.Duration

// MarshalJSON implements json marshaling
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements unmarshal from json
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		tmp, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		*d = Duration(tmp)
		return nil
	default:
		return errors.New("invalid duration")
	}
}
