package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Schema   SchemaConfig   `yaml:"schema"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
	Control  ControlConfig  `yaml:"control"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	URL              string        `yaml:"url"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	SendQueue        int           `yaml:"send_queue"`
	DialRetry        RetryConfig   `yaml:"dial_retry"`
}

// RetryConfig controls how many times the initial dial is attempted.
// Established sessions are never reconnected.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Multiplier   float64       `yaml:"multiplier"`
}

type SchemaConfig struct {
	// Path to a binary FileDescriptorSet. Empty uses the built-in frames schema.
	Path      string `yaml:"path"`
	FrameType string `yaml:"frame_type"`
}

type CaptureConfig struct {
	Device           string `yaml:"device"`
	FilePath         string `yaml:"file_path"`
	Loop             bool   `yaml:"loop"`
	SampleRate       int    `yaml:"sample_rate"`
	Channels         int    `yaml:"channels"`
	BlockSize        int    `yaml:"block_size"`
	EchoCancellation *bool  `yaml:"echo_cancellation"`
	NoiseSuppression *bool  `yaml:"noise_suppression"`
	AutoGainControl  *bool  `yaml:"auto_gain_control"`
}

type PlaybackConfig struct {
	Output     string `yaml:"output"`
	SampleRate int    `yaml:"sample_rate"`
	BufferSize int    `yaml:"buffer_size"`
	// ResetThreshold of zero takes the default; a negative value disables
	// the gap check.
	ResetThreshold time.Duration `yaml:"reset_threshold"`
	DecodeQueue    int           `yaml:"decode_queue"`
}

type ControlConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	AuthToken string `yaml:"auth_token"`
	RateLimit int    `yaml:"rate_limit"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse expands ${VAR} references, decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.URL == "" {
		c.Server.URL = "ws://localhost:8765"
	}
	if c.Server.DialTimeout == 0 {
		c.Server.DialTimeout = 10 * time.Second
	}
	if c.Server.HandshakeTimeout == 0 {
		c.Server.HandshakeTimeout = 5 * time.Second
	}
	if c.Server.SendQueue == 0 {
		c.Server.SendQueue = 100
	}
	if c.Server.DialRetry.MaxAttempts == 0 {
		c.Server.DialRetry.MaxAttempts = 1
	}
	if c.Server.DialRetry.InitialDelay == 0 {
		c.Server.DialRetry.InitialDelay = 250 * time.Millisecond
	}
	if c.Server.DialRetry.MaxDelay == 0 {
		c.Server.DialRetry.MaxDelay = 5 * time.Second
	}
	if c.Server.DialRetry.Multiplier == 0 {
		c.Server.DialRetry.Multiplier = 2.0
	}
	if c.Schema.FrameType == "" {
		c.Schema.FrameType = "pipecat.Frame"
	}
	if c.Capture.Device == "" {
		c.Capture.Device = "microphone"
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = 16000
	}
	if c.Capture.Channels == 0 {
		c.Capture.Channels = 1
	}
	if c.Capture.BlockSize == 0 {
		c.Capture.BlockSize = 512
	}
	if c.Capture.EchoCancellation == nil {
		c.Capture.EchoCancellation = boolPtr(true)
	}
	if c.Capture.NoiseSuppression == nil {
		c.Capture.NoiseSuppression = boolPtr(true)
	}
	if c.Capture.AutoGainControl == nil {
		c.Capture.AutoGainControl = boolPtr(true)
	}
	if c.Playback.Output == "" {
		c.Playback.Output = "speaker"
	}
	if c.Playback.SampleRate == 0 {
		c.Playback.SampleRate = 48000
	}
	if c.Playback.BufferSize == 0 {
		c.Playback.BufferSize = 1024
	}
	if c.Playback.ResetThreshold == 0 {
		c.Playback.ResetThreshold = time.Second
	}
	if c.Playback.DecodeQueue == 0 {
		c.Playback.DecodeQueue = 64
	}
	if c.Control.Addr == "" {
		c.Control.Addr = ":8080"
	}
	if c.Control.RateLimit == 0 {
		c.Control.RateLimit = 30
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.Server.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("server.url: %w", err))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("server.url: missing host in %q", c.Server.URL))
	case u.Scheme != "ws" && u.Scheme != "wss" && u.Scheme != "http" && u.Scheme != "https":
		errs = append(errs, fmt.Errorf("server.url: unsupported scheme %q", u.Scheme))
	}
	if c.Server.SendQueue < 0 {
		errs = append(errs, errors.New("server.send_queue must not be negative"))
	}
	if c.Server.DialRetry.MaxAttempts < 0 {
		errs = append(errs, errors.New("server.dial_retry.max_attempts must not be negative"))
	}

	switch c.Capture.Device {
	case "microphone":
	case "file":
		if c.Capture.FilePath == "" {
			errs = append(errs, errors.New("capture.file_path is required for the file device"))
		}
	default:
		errs = append(errs, fmt.Errorf("capture.device: unknown device %q", c.Capture.Device))
	}
	if c.Capture.SampleRate < 0 {
		errs = append(errs, errors.New("capture.sample_rate must be positive"))
	}
	if c.Capture.Channels < 0 || c.Capture.Channels > 2 {
		errs = append(errs, fmt.Errorf("capture.channels: %d not supported", c.Capture.Channels))
	}
	if c.Capture.BlockSize < 0 {
		errs = append(errs, errors.New("capture.block_size must be positive"))
	}

	switch c.Playback.Output {
	case "speaker", "discard":
	default:
		errs = append(errs, fmt.Errorf("playback.output: unknown output %q", c.Playback.Output))
	}
	if c.Playback.SampleRate < 0 {
		errs = append(errs, errors.New("playback.sample_rate must be positive"))
	}
	if c.Playback.DecodeQueue < 0 {
		errs = append(errs, errors.New("playback.decode_queue must not be negative"))
	}

	if c.Control.RateLimit < 0 {
		errs = append(errs, errors.New("control.rate_limit must not be negative"))
	}

	return errors.Join(errs...)
}

func boolPtr(b bool) *bool {
	return &b
}
