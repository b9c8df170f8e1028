package dispatch

import (
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config carries queue routing for the dispatcher plus worker settings
// consumed by queue implementations. Values load from a YAML document, may be
// overlaid with RECORD_DISPATCH_* environment variables, and fall back to
// Defaults for anything left unset.
type Config struct {
	// DefaultQueue receives jobs whose command declares no preference.
	DefaultQueue string `env:"RECORD_DISPATCH_DEFAULT_QUEUE"`

	// Queues overrides the destination per registered command name.
	Queues map[string]string `env:"RECORD_DISPATCH_QUEUES" envSeparator:"," envKeyValSeparator:":"`

	// Workers is the number of concurrent deliveries per queue.
	Workers int `env:"RECORD_DISPATCH_WORKERS"`

	// BufferSize is how many jobs a queue buffers before Enqueue blocks.
	BufferSize int `env:"RECORD_DISPATCH_BUFFER_SIZE"`

	// MaxAttempts bounds deliveries of a failing job.
	MaxAttempts int `env:"RECORD_DISPATCH_MAX_ATTEMPTS"`

	// RetryDelay is the fixed pause between delivery attempts.
	RetryDelay time.Duration `env:"RECORD_DISPATCH_RETRY_DELAY"`
}

// configFile is the raw YAML shape; durations arrive as Go duration strings.
type configFile struct {
	DefaultQueue string            `yaml:"default_queue"`
	Queues       map[string]string `yaml:"queues"`
	Workers      int               `yaml:"workers"`
	BufferSize   int               `yaml:"buffer_size"`
	MaxAttempts  int               `yaml:"max_attempts"`
	RetryDelay   string            `yaml:"retry_delay"`
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("dispatch: read config %s: %w", path, err)
	}
	return parseConfig(data, path)
}

// LoadConfigFS reads and parses a YAML configuration file from the provided
// filesystem, so configs can ship embedded.
func LoadConfigFS(fsys fs.FS, path string) (Config, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return Config{}, fmt.Errorf("dispatch: read config %s: %w", path, err)
	}
	return parseConfig(data, path)
}

func parseConfig(data []byte, source string) (Config, error) {
	var raw configFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Config{}, fmt.Errorf("dispatch: parse config %s: %w", source, err)
	}

	cfg := Config{
		DefaultQueue: raw.DefaultQueue,
		Queues:       raw.Queues,
		Workers:      raw.Workers,
		BufferSize:   raw.BufferSize,
		MaxAttempts:  raw.MaxAttempts,
	}
	if raw.RetryDelay != "" {
		delay, err := time.ParseDuration(raw.RetryDelay)
		if err != nil {
			return Config{}, fmt.Errorf("dispatch: config %s: retry_delay: %w", source, err)
		}
		cfg.RetryDelay = delay
	}
	return cfg, nil
}

// ApplyEnv overlays RECORD_DISPATCH_* environment variables onto the config.
// Variables that are not set leave the current values untouched.
func (c *Config) ApplyEnv() error {
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("dispatch: parse env: %w", err)
	}
	return nil
}

// Defaults returns a copy with every unset field filled in.
func (c Config) Defaults() Config {
	cfg := c
	if cfg.DefaultQueue == "" {
		cfg.DefaultQueue = DefaultQueueName
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 200 * time.Millisecond
	}
	return cfg
}
