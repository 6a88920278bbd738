// Package config loads the node TOML configuration.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Acquire Acquire `toml:"acquire"`
	Storage Storage `toml:"storage"`
	Status  Status  `toml:"status"`
}

type Acquire struct {
	NodeID           string        `toml:"node_id"`
	SerialPort       string        `toml:"serial_port"`
	BaudRate         int           `toml:"baud_rate"`
	DataDir          string        `toml:"data_dir"`
	SampleRate       float64       `toml:"sample_rate"`
	ReadTimeout      time.Duration `toml:"read_timeout"`
	RotationInterval time.Duration `toml:"rotation_interval"`
	RotationLines    int           `toml:"rotation_lines"`
}

type Storage struct {
	Endpoint     string        `toml:"endpoint"`
	Key          string        `toml:"key"`
	Secret       string        `toml:"secret"`
	Bucket       string        `toml:"bucket"`
	PollInterval time.Duration `toml:"poll_interval"`
	FinalDrain   bool          `toml:"final_drain"`
	DrainTimeout time.Duration `toml:"drain_timeout"`
	Compress     bool          `toml:"compress"`
	JournalDir   string        `toml:"journal_dir"`
}

type Status struct {
	// gpio character device holding the LED lines
	LEDChip string `toml:"led_chip"`

	// red, green and blue line offsets, empty for no LED
	LEDPins []int `toml:"led_pins"`
}

// Default returns the configuration used for every key missing from the file.
func Default() Config {
	return Config{
		Acquire: Acquire{
			BaudRate:         115200,
			DataDir:          "captures",
			SampleRate:       20000,
			ReadTimeout:      2 * time.Second,
			RotationInterval: time.Hour,
		},
		Storage: Storage{
			PollInterval: 5 * time.Second,
			DrainTimeout: 30 * time.Second,
			Compress:     true,
		},
		Status: Status{
			LEDChip: "gpiochip0",
		},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		sort.Strings(keys)
		return Config{}, fmt.Errorf("load config: unknown keys %s", strings.Join(keys, ", "))
	}

	cfg.Acquire.NodeID = strings.TrimSpace(cfg.Acquire.NodeID)
	cfg.Storage.Endpoint = strings.TrimSpace(cfg.Storage.Endpoint)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	a := c.Acquire
	switch {
	case a.SerialPort == "":
		return errors.New("acquire.serial_port is required")
	case a.BaudRate <= 0:
		return fmt.Errorf("invalid acquire.baud_rate %d", a.BaudRate)
	case a.DataDir == "":
		return errors.New("acquire.data_dir is required")
	case a.SampleRate <= 0:
		return fmt.Errorf("invalid acquire.sample_rate %v", a.SampleRate)
	case a.ReadTimeout <= 0:
		return fmt.Errorf("invalid acquire.read_timeout %s", a.ReadTimeout)
	case a.RotationInterval < 0 || a.RotationLines < 0:
		return errors.New("rotation settings can't be negative")
	case a.RotationInterval == 0 && a.RotationLines == 0:
		return errors.New("one of acquire.rotation_interval or acquire.rotation_lines is required")
	case strings.ContainsAny(a.NodeID, "/ \t"):
		return fmt.Errorf("acquire.node_id %q can't contain '/' or spaces", a.NodeID)
	}

	s := c.Storage
	switch {
	case s.Endpoint == "":
		return errors.New("storage.endpoint is required")
	case s.Bucket == "":
		return errors.New("storage.bucket is required")
	case s.PollInterval <= 0:
		return fmt.Errorf("invalid storage.poll_interval %s", s.PollInterval)
	case s.FinalDrain && s.DrainTimeout <= 0:
		return fmt.Errorf("invalid storage.drain_timeout %s", s.DrainTimeout)
	}

	if n := len(c.Status.LEDPins); n != 0 && n != 3 {
		return fmt.Errorf("status.led_pins needs 3 pins, got %d", n)
	}
	if len(c.Status.LEDPins) == 3 && c.Status.LEDChip == "" {
		return errors.New("status.led_chip is required with status.led_pins")
	}
	return nil
}
