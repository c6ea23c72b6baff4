package transport

import (
	"time"
)

// Default transport settings.
const (
	DefaultMaxPayloadSize          = 64
	DefaultMaxPacketsPerTick       = 500
	DefaultInboxSize               = 4096
	DefaultPingInterval            = 5 * time.Second
	DefaultTimeout                 = 10 * time.Second
	DefaultRetryInterval           = time.Second
	DefaultHandshakeTimeout        = 10 * time.Second
	DefaultHandshakeRetryInterval  = time.Second
	DefaultUserInfoMaxAge          = 30 * time.Second
	DefaultUserInfoRequestInterval = 5 * time.Second
)

// Config configures an Engine.
type Config struct {
	// MaxPayloadSize is the coalescing limit for one carrier payload.
	MaxPayloadSize int

	// MaxPacketsPerTick bounds the payloads drained by one Tick.
	MaxPacketsPerTick int

	// InboxSize is the capacity of the queue between the listener and Tick.
	InboxSize int

	PingInterval  time.Duration
	Timeout       time.Duration
	RetryInterval time.Duration

	// HandshakeTimeout bounds how long a client stays Connecting.
	HandshakeTimeout       time.Duration
	HandshakeRetryInterval time.Duration

	// UserInfoMaxAge is the age after which a user info record is stale.
	UserInfoMaxAge time.Duration

	// UserInfoRequestInterval rate limits requests for the same record.
	UserInfoRequestInterval time.Duration

	// LogStore receives the byte log of every session when it ends.
	LogStore LogStore

	// Clock returns the current time. It defaults to time.Now.
	Clock func() time.Time
}

// DefaultConfig returns the default Config.
func DefaultConfig() Config {
	return Config{
		MaxPayloadSize:          DefaultMaxPayloadSize,
		MaxPacketsPerTick:       DefaultMaxPacketsPerTick,
		InboxSize:               DefaultInboxSize,
		PingInterval:            DefaultPingInterval,
		Timeout:                 DefaultTimeout,
		RetryInterval:           DefaultRetryInterval,
		HandshakeTimeout:        DefaultHandshakeTimeout,
		HandshakeRetryInterval:  DefaultHandshakeRetryInterval,
		UserInfoMaxAge:          DefaultUserInfoMaxAge,
		UserInfoRequestInterval: DefaultUserInfoRequestInterval,
		LogStore:                InMemoryLogStore(),
		Clock:                   time.Now,
	}
}

// withDefaults replaces unset fields of c with the defaults.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxPayloadSize <= 0 {
		c.MaxPayloadSize = def.MaxPayloadSize
	}
	if c.MaxPacketsPerTick <= 0 {
		c.MaxPacketsPerTick = def.MaxPacketsPerTick
	}
	if c.InboxSize <= 0 {
		c.InboxSize = def.InboxSize
	}
	if c.PingInterval <= 0 {
		c.PingInterval = def.PingInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = def.RetryInterval
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = def.HandshakeTimeout
	}
	if c.HandshakeRetryInterval <= 0 {
		c.HandshakeRetryInterval = def.HandshakeRetryInterval
	}
	if c.UserInfoMaxAge <= 0 {
		c.UserInfoMaxAge = def.UserInfoMaxAge
	}
	if c.UserInfoRequestInterval <= 0 {
		c.UserInfoRequestInterval = def.UserInfoRequestInterval
	}
	if c.LogStore == nil {
		c.LogStore = def.LogStore
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	return c
}
