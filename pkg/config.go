package protocol

import (
	"time"

	"github.com/pkg/errors"
)

const (
	// MaxPacketSize is the largest payload a UDP datagram over IPv4 can carry.
	MaxPacketSize = 65507

	DefaultReceiveTimeout = 500 * time.Millisecond
	DefaultIdleTimeout    = 10 * time.Second
	DefaultTickInterval   = 10 * time.Millisecond
)

// Config holds the knobs fixed at engine construction.
type Config struct {
	PacketSize     int           // bytes per datagram, header included
	WindowSize     uint32        // receive window advertised to the peer, in bytes
	ReceiveTimeout time.Duration // wait for an ACK before retransmitting
	IdleTimeout    time.Duration // wait for progress before abandoning the connection
	TickInterval   time.Duration // how often Serve polls the timers
}

// DefaultWindowSize is ten full payloads, as in the reference hosts.
func DefaultWindowSize(packetSize int) uint32 {
	return uint32(PayloadCapacity(packetSize) * 10)
}

func DefaultConfig() Config {
	return Config{
		PacketSize:     DefaultPacketSize,
		WindowSize:     DefaultWindowSize(DefaultPacketSize),
		ReceiveTimeout: DefaultReceiveTimeout,
		IdleTimeout:    DefaultIdleTimeout,
		TickInterval:   DefaultTickInterval,
	}
}

// Validate rejects a configuration the engine cannot run with. Zero fields are filled from
// DefaultConfig first.
func (c Config) Validate() error {
	c = c.withDefaults()
	switch {
	case c.PacketSize <= HeaderSize || c.PacketSize > MaxPacketSize:
		return errors.Wrapf(ErrPacketSize, "packet size %d must be in (%d, %d]", c.PacketSize, HeaderSize, MaxPacketSize)
	case c.ReceiveTimeout < 0 || c.IdleTimeout < 0 || c.TickInterval < 0:
		return errors.New("timeouts must not be negative")
	}
	return nil
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PacketSize == 0 {
		c.PacketSize = d.PacketSize
	}
	if c.WindowSize == 0 {
		c.WindowSize = DefaultWindowSize(c.PacketSize)
	}
	if c.ReceiveTimeout == 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	return c
}
