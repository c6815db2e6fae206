package kgpconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	protocol "kgp/pkg"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 1500, cfg.PacketSize)
	assert.Equal(t, uint32(14830), cfg.WindowSize)
	assert.Equal(t, DefaultLogFile, cfg.LogFile)
	assert.Equal(t, ".", cfg.ReceiveDir)
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, protocol.DefaultConfig(), cfg.ToEngineConfig())
}

func TestParseString(t *testing.T) {
	cfg, err := ParseString(`
port = 9000
packet_size = 1024
receive_timeout_ms = 200
idle_timeout_ms = 4000
tos = 16
log_level = "debug"

[emulator]
port = 9001
hosts = ["10.0.0.1:9000", "10.0.0.2:9000"]
loss_rate = 0.25
delay_ms = 30
seed = 99
`)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 1024, cfg.PacketSize)
	assert.Equal(t, protocol.DefaultWindowSize(1024), cfg.WindowSize)
	assert.Equal(t, 16, cfg.TOS)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DefaultLogFile, cfg.LogFile)

	assert.Equal(t, EmulatorConfig{
		Port:     9001,
		Hosts:    []string{"10.0.0.1:9000", "10.0.0.2:9000"},
		LossRate: 0.25,
		DelayMs:  30,
		Seed:     99,
	}, cfg.Emulator)

	engine := cfg.ToEngineConfig()
	assert.Equal(t, 200*time.Millisecond, engine.ReceiveTimeout)
	assert.Equal(t, 4*time.Second, engine.IdleTimeout)
	assert.Equal(t, protocol.DefaultTickInterval, engine.TickInterval)
}

func TestParseStringInvalid(t *testing.T) {
	tests := map[string]string{
		"syntax":            `port = `,
		"packet too small":  `packet_size = 17`,
		"timeouts inverted": "receive_timeout_ms = 5000\nidle_timeout_ms = 1000",
		"port":              `port = 70000`,
		"tos":               `tos = 300`,
		"loss rate":         "[emulator]\nloss_rate = 1.5",
		"negative delay":    "[emulator]\ndelay_ms = -1",
		"log level":         `log_level = "loud"`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseString(doc)
			assert.Error(t, err)
		})
	}
}

func TestParseConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kgp.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 8123\nreceive_dir = \"/tmp/in\"\n"), 0o644))

	cfg, err := ParseConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Port)
	assert.Equal(t, "/tmp/in", cfg.ReceiveDir)

	_, err = ParseConfig(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestBuildLogger(t *testing.T) {
	cfg := Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "kgp.log")
	log, err := cfg.BuildLogger()
	require.NoError(t, err)
	log.Info("hello from the test")
	_ = log.Sync()

	b, err := os.ReadFile(cfg.LogFile)
	require.NoError(t, err)
	assert.Contains(t, string(b), "hello from the test")
	assert.Contains(t, string(b), "kgp")
}
