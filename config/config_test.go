package config

import (
	"io/ioutil"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "nodeacq.toml")
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[acquire]
node_id = "node42"
serial_port = "/dev/ttyACM0"
rotation_interval = "10m"

[storage]
endpoint = "http://localhost:9000"
bucket = "captures"
final_drain = true
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "node42", cfg.Acquire.NodeID)
	require.Equal(t, "/dev/ttyACM0", cfg.Acquire.SerialPort)
	require.Equal(t, 115200, cfg.Acquire.BaudRate)
	require.Equal(t, 20000.0, cfg.Acquire.SampleRate)
	require.Equal(t, 2*time.Second, cfg.Acquire.ReadTimeout)
	require.Equal(t, 10*time.Minute, cfg.Acquire.RotationInterval)
	require.Equal(t, 5*time.Second, cfg.Storage.PollInterval)
	require.True(t, cfg.Storage.FinalDrain)
	require.Equal(t, 30*time.Second, cfg.Storage.DrainTimeout)
	require.True(t, cfg.Storage.Compress)
	require.Empty(t, cfg.Status.LEDPins)
	require.Equal(t, "gpiochip0", cfg.Status.LEDChip)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, `
[acquire]
serial_port = "/dev/ttyACM0"
baudrate = 9600

[storage]
endpoint = "localhost:9000"
bucket = "captures"
`)
	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "acquire.baudrate")
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, `
[acquire]
serial_port = "/dev/ttyACM0"
read_timeout = "soon"
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Acquire.SerialPort = "/dev/ttyACM0"
		c.Storage.Endpoint = "localhost:9000"
		c.Storage.Bucket = "captures"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no serial port", func(c *Config) { c.Acquire.SerialPort = "" }},
		{"no baud", func(c *Config) { c.Acquire.BaudRate = 0 }},
		{"no rotation", func(c *Config) { c.Acquire.RotationInterval = 0 }},
		{"negative lines", func(c *Config) { c.Acquire.RotationLines = -1 }},
		{"node id with separator", func(c *Config) { c.Acquire.NodeID = "a/b" }},
		{"no bucket", func(c *Config) { c.Storage.Bucket = "" }},
		{"no poll", func(c *Config) { c.Storage.PollInterval = 0 }},
		{"drain without timeout", func(c *Config) { c.Storage.FinalDrain = true; c.Storage.DrainTimeout = 0 }},
		{"two led pins", func(c *Config) { c.Status.LEDPins = []int{17, 27} }},
		{"led pins without chip", func(c *Config) { c.Status.LEDPins = []int{17, 27, 22}; c.Status.LEDChip = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			require.Error(t, c.Validate())
		})
	}

	c := valid()
	c.Acquire.RotationInterval = 0
	c.Acquire.RotationLines = 3600
	require.NoError(t, c.Validate())
}
