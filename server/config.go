// Package server provides a TCP listener glue layer around package
// fastcgi: configuration loading, multi-acceptor accept loops, and
// per-connection correlation logging.
package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so it can be written as a human string
// ("30s", "2m") in a YAML config file instead of a raw nanosecond count.
type Duration time.Duration

// UnmarshalYAML accepts either a duration string ("30s") or a bare integer
// number of seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var seconds int64
	if err := value.Decode(&seconds); err == nil {
		*d = Duration(time.Duration(seconds) * time.Second)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("server: duration must be a string or integer seconds: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("server: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds the settings for a Server. It is typically loaded from a
// YAML file via LoadConfig, but can be constructed directly for tests or
// embedding.
type Config struct {
	// Listen is the TCP address to accept connections on, e.g. "127.0.0.1:9000".
	Listen string `yaml:"listen"`

	// Acceptors is the number of goroutines independently calling Accept on
	// the shared listener. Each accepted connection still runs its own
	// fastcgi.Conn single-threaded; this only bounds how many Accept calls
	// are in flight at once.
	Acceptors int `yaml:"acceptors"`

	// RequestTimeout, if positive, is applied as a context deadline around
	// each handler invocation. Zero means no deadline.
	RequestTimeout Duration `yaml:"request_timeout"`

	// LogLevel is the minimum zap level name ("debug", "info", "warn",
	// "error") for the server's structured logger.
	LogLevel string `yaml:"log_level"`

	// CounterInterval controls how often aggregate connection/request
	// counters are logged. Zero disables periodic counter logging.
	CounterInterval Duration `yaml:"counter_interval"`
}

// DefaultConfig returns the settings used when no config file is supplied.
func DefaultConfig() Config {
	return Config{
		Listen:          "127.0.0.1:9000",
		Acceptors:       1,
		RequestTimeout:  Duration(30 * time.Second),
		LogLevel:        "info",
		CounterInterval: Duration(time.Minute),
	}
}

// LoadConfig reads and parses a YAML config file at path, starting from
// DefaultConfig so any field the file omits keeps its default.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("server: read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("server: parse config %s: %w", path, err)
	}
	if cfg.Acceptors < 1 {
		cfg.Acceptors = 1
	}
	return cfg, nil
}
