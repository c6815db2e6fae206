// Package kgpconfig loads the TOML file shared by the kgp host and the network emulator.
//
// Example:
//
//	port = 8000
//	packet_size = 1500
//	receive_timeout_ms = 500
//	idle_timeout_ms = 10000
//	log_file = "kgp.log"
//
//	[emulator]
//	port = 8000
//	hosts = ["192.168.0.12:8000", "192.168.0.233:8000"]
//	loss_rate = 0.1
//	delay_ms = 20
package kgpconfig

import (
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	protocol "kgp/pkg"
)

const (
	DefaultLogFile  = "kgp.log"
	DefaultLogLevel = "info"
)

type Config struct {
	Port             int    `toml:"port"`
	PacketSize       int    `toml:"packet_size"`
	WindowSize       uint32 `toml:"window_size"`
	ReceiveTimeoutMs int64  `toml:"receive_timeout_ms"`
	IdleTimeoutMs    int64  `toml:"idle_timeout_ms"`
	TickIntervalMs   int64  `toml:"tick_interval_ms"`
	TOS              int    `toml:"tos"`
	LogFile          string `toml:"log_file"`
	LogLevel         string `toml:"log_level"`
	ReceiveDir       string `toml:"receive_dir"`

	Emulator EmulatorConfig `toml:"emulator"`
}

// EmulatorConfig configures the lossy forwarder placed between two hosts.
type EmulatorConfig struct {
	Port     int      `toml:"port"`
	Hosts    []string `toml:"hosts"`
	LossRate float64  `toml:"loss_rate"`
	DelayMs  int64    `toml:"delay_ms"`
	Seed     int64    `toml:"seed"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// ParseConfig reads a TOML file. Keys left out keep their defaults.
func ParseConfig(path string) (*Config, error) {
	tree, err := toml.LoadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s", path)
	}
	return fromTree(tree)
}

// ParseString is ParseConfig for an in-memory document.
func ParseString(doc string) (*Config, error) {
	tree, err := toml.Load(doc)
	if err != nil {
		return nil, errors.Wrap(err, "parsing config")
	}
	return fromTree(tree)
}

func fromTree(tree *toml.Tree) (*Config, error) {
	cfg := &Config{}
	if err := tree.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := protocol.DefaultConfig()
	if c.Port == 0 {
		c.Port = protocol.DefaultPort
	}
	if c.PacketSize == 0 {
		c.PacketSize = d.PacketSize
	}
	if c.WindowSize == 0 {
		c.WindowSize = protocol.DefaultWindowSize(c.PacketSize)
	}
	if c.ReceiveTimeoutMs == 0 {
		c.ReceiveTimeoutMs = d.ReceiveTimeout.Milliseconds()
	}
	if c.IdleTimeoutMs == 0 {
		c.IdleTimeoutMs = d.IdleTimeout.Milliseconds()
	}
	if c.TickIntervalMs == 0 {
		c.TickIntervalMs = d.TickInterval.Milliseconds()
	}
	if c.LogFile == "" {
		c.LogFile = DefaultLogFile
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.ReceiveDir == "" {
		c.ReceiveDir = "."
	}
	if c.Emulator.Port == 0 {
		c.Emulator.Port = protocol.DefaultPort
	}
}

// Validate rejects settings the protocol cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Port < 0 || c.Port > 65535:
		return errors.Errorf("port %d out of range", c.Port)
	case c.PacketSize <= protocol.HeaderSize || c.PacketSize > protocol.MaxPacketSize:
		return errors.Errorf("packet_size %d must be in (%d, %d]", c.PacketSize, protocol.HeaderSize, protocol.MaxPacketSize)
	case c.ReceiveTimeoutMs < 0 || c.IdleTimeoutMs < 0 || c.TickIntervalMs < 0:
		return errors.New("timeouts must be positive")
	case c.ReceiveTimeoutMs >= c.IdleTimeoutMs:
		return errors.Errorf("receive_timeout_ms %d must be shorter than idle_timeout_ms %d",
			c.ReceiveTimeoutMs, c.IdleTimeoutMs)
	case c.TOS < 0 || c.TOS > 255:
		return errors.Errorf("tos %d out of range", c.TOS)
	case c.Emulator.LossRate < 0 || c.Emulator.LossRate > 1:
		return errors.Errorf("emulator loss_rate %v must be within [0, 1]", c.Emulator.LossRate)
	case c.Emulator.DelayMs < 0:
		return errors.New("emulator delay_ms must not be negative")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return nil
}

// ToEngineConfig maps the file settings onto the protocol engine.
func (c *Config) ToEngineConfig() protocol.Config {
	return protocol.Config{
		PacketSize:     c.PacketSize,
		WindowSize:     c.WindowSize,
		ReceiveTimeout: time.Duration(c.ReceiveTimeoutMs) * time.Millisecond,
		IdleTimeout:    time.Duration(c.IdleTimeoutMs) * time.Millisecond,
		TickInterval:   time.Duration(c.TickIntervalMs) * time.Millisecond,
	}
}

// BuildLogger returns a console logger writing to stderr and the configured log file.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "log_level")
	}
	zc := zap.NewProductionConfig()
	zc.Encoding = "console"
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.OutputPaths = []string{"stderr", c.LogFile}
	zc.ErrorOutputPaths = []string{"stderr"}
	log, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(err, "building logger")
	}
	return log.Named("kgp"), nil
}
