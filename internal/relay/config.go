package relay

import "time"

const (
	DefaultSendBuffer      = 16
	DefaultMaxMessageBytes = 50 << 20 // inline fonts and images travel in the document
	DefaultPingInterval    = 30 * time.Second
	DefaultWriteTimeout    = 10 * time.Second
)

type Config struct {
	// NoEcho stops a publish from being sent back to the connection it
	// came from. By default every connection, the sender included,
	// receives every accepted update.
	NoEcho bool

	// AllowCORS enables permissive CORS headers and accepts WebSocket
	// upgrades from any origin.
	AllowCORS bool

	// SendBuffer is the per-connection outbound queue length. Updates
	// for a connection whose queue is full are dropped.
	SendBuffer int

	// MaxMessageBytes bounds one inbound frame or POST body.
	MaxMessageBytes int64

	// PingInterval is how often idle connections are pinged.
	PingInterval time.Duration

	// WriteTimeout bounds one frame write.
	WriteTimeout time.Duration

	// StaticDir, if set, is served at / for the setup and output pages.
	StaticDir string

	// Metrics mounts the Prometheus handler at /metrics.
	Metrics bool
}

func (c *Config) sendBuffer() int {
	if c != nil && c.SendBuffer > 0 {
		return c.SendBuffer
	}
	return DefaultSendBuffer
}

func (c *Config) maxMessageBytes() int64 {
	if c != nil && c.MaxMessageBytes > 0 {
		return c.MaxMessageBytes
	}
	return DefaultMaxMessageBytes
}

func (c *Config) pingInterval() time.Duration {
	if c != nil && c.PingInterval > 0 {
		return c.PingInterval
	}
	return DefaultPingInterval
}

func (c *Config) writeTimeout() time.Duration {
	if c != nil && c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	return DefaultWriteTimeout
}

func (c *Config) echo() bool {
	return c == nil || !c.NoEcho
}
