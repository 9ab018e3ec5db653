package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Enabled bool `yaml:"enabled"`
	Debug   bool `yaml:"debug"`

	RemoteAddr string `yaml:"remote_addr"`
	LocalAddr  string `yaml:"local_addr"` // empty: ephemeral port
	NoDelay    bool   `yaml:"no_delay"`

	DialTimeout time.Duration `yaml:"dial_timeout"`
	// Zero means block until the agent answers.
	RecvTimeout     time.Duration `yaml:"recv_timeout"`
	SendTimeout     time.Duration `yaml:"send_timeout"`
	ReadBufferBytes int           `yaml:"read_buffer_bytes"`

	Target           Target `yaml:"target"`
	ValidateMessages bool   `yaml:"validate_messages"`

	Recorder Recorder `yaml:"recorder"`
	Index    Index    `yaml:"index"`
	Observer Observer `yaml:"observer"`
	Mirror   Mirror   `yaml:"mirror"`
}

// Target is the scenario goal reported in every observation.
type Target struct {
	X float64 `yaml:"x"`
	Y float64 `yaml:"y"`
}

type Recorder struct {
	Dir           string `yaml:"dir"` // empty disables recording
	Codec         string `yaml:"codec"`
	IncludePixels bool   `yaml:"include_pixels"`
}

type Index struct {
	Path string `yaml:"path"` // empty disables the sqlite index
}

type Observer struct {
	Listen string `yaml:"listen"` // empty disables the spectator stream
}

// Mirror uploads finished trajectory files to an S3-compatible bucket.
// Credentials come from the environment, never from this file.
type Mirror struct {
	Endpoint string `yaml:"endpoint"` // empty disables mirroring
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Prefix   string `yaml:"prefix"`
	Workers  int    `yaml:"workers"`
}

func Defaults() Config {
	return Config{
		Enabled:          true,
		RemoteAddr:       "127.0.0.1:5000",
		LocalAddr:        "127.0.0.1:5001",
		NoDelay:          true,
		DialTimeout:      5 * time.Second,
		ReadBufferBytes:  64 * 1024,
		Target:           Target{X: 2000, Y: 60},
		ValidateMessages: true,
		Recorder:         Recorder{Codec: "zstd"},
		Mirror:           Mirror{Workers: 2},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Config, error) {
	c := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.RemoteAddr); err != nil {
		return fmt.Errorf("remote_addr: %w", err)
	}
	if c.LocalAddr != "" {
		if _, _, err := net.SplitHostPort(c.LocalAddr); err != nil {
			return fmt.Errorf("local_addr: %w", err)
		}
	}
	if c.ReadBufferBytes < 64 {
		return fmt.Errorf("read_buffer_bytes must be >= 64, got %d", c.ReadBufferBytes)
	}
	if c.DialTimeout < 0 || c.RecvTimeout < 0 || c.SendTimeout < 0 {
		return fmt.Errorf("timeouts must not be negative")
	}
	switch c.Recorder.Codec {
	case "", "zstd", "lz4", "none":
	default:
		return fmt.Errorf("recorder.codec: unknown codec %q", c.Recorder.Codec)
	}
	if c.Mirror.Endpoint != "" {
		if c.Mirror.Bucket == "" {
			return fmt.Errorf("mirror.bucket is required with mirror.endpoint")
		}
		if c.Recorder.Dir == "" {
			return fmt.Errorf("mirror needs recorder.dir")
		}
	}
	return nil
}
