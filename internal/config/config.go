// Package config holds the tagger command's settings. Values come from
// defaults, then an optional YAML file, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-tagger/internal/progress"
	"github.com/23skdu/longbow-tagger/internal/tags"
)

// Config is the full command configuration.
type Config struct {
	Model    ModelConfig   `yaml:"model"`
	Server   ServerConfig  `yaml:"server"`
	Forward  ForwardConfig `yaml:"forward"`
	Cache    CacheConfig   `yaml:"cache"`
	LogLevel string        `yaml:"log_level"`
	OTel     bool          `yaml:"otel"`
	Bench    BenchConfig   `yaml:"bench"`
}

// ModelConfig describes the tag set and the CRF.
type ModelConfig struct {
	// Labels is a file with one tag label per line, start and end included.
	Labels     string `yaml:"labels"`
	Scheme     string `yaml:"scheme"`
	StartLabel string `yaml:"start_label"`
	EndLabel   string `yaml:"end_label"`
	// PadLabel is optional.
	PadLabel    string `yaml:"pad_label"`
	Constrain   bool   `yaml:"constrain"`
	BatchFirst  bool   `yaml:"batch_first"`
	Transitions string `yaml:"transitions"`
}

// ServerConfig configures the HTTP and Flight listeners.
type ServerConfig struct {
	Listen        string `yaml:"listen"`
	Flight        string `yaml:"flight"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	BatchSize     int    `yaml:"batch_size"`
}

// ForwardConfig configures forwarding of decoded records to a Flight sink.
type ForwardConfig struct {
	Addr        string        `yaml:"addr"`
	Dataset     string        `yaml:"dataset"`
	MaxFailures int           `yaml:"max_failures"`
	Cooldown    time.Duration `yaml:"cooldown"`
	Timeout     time.Duration `yaml:"timeout"`
}

// CacheConfig configures the decoded path cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	MaxEntries int  `yaml:"max_entries"`
}

// BenchConfig configures benchmark mode.
type BenchConfig struct {
	Batches  int    `yaml:"batches"`
	Size     int    `yaml:"size"`
	MaxLen   int    `yaml:"max_len"`
	Progress string `yaml:"progress"`
	Seed     uint64 `yaml:"seed"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Labels:     "labels.txt",
			Scheme:     "iobes",
			StartLabel: "<GO>",
			EndLabel:   "<EOS>",
			Constrain:  true,
		},
		Server: ServerConfig{
			MaxConcurrent: 16384,
			BatchSize:     64,
		},
		Forward: ForwardConfig{
			Dataset:     "tagger_dataset",
			MaxFailures: 5,
			Cooldown:    30 * time.Second,
			Timeout:     10 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 100000,
		},
		LogLevel: "info",
		Bench: BenchConfig{
			Size:     32,
			MaxLen:   64,
			Progress: "default",
			Seed:     1,
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
// An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	if c.Model.Labels == "" {
		errs = append(errs, errors.New("model.labels is required"))
	}
	if _, err := tags.ParseScheme(c.Model.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("model.scheme: %w", err))
	}
	if c.Model.StartLabel == "" || c.Model.EndLabel == "" {
		errs = append(errs, errors.New("model.start_label and model.end_label are required"))
	}
	if c.Model.StartLabel == c.Model.EndLabel {
		errs = append(errs, errors.New("model.start_label and model.end_label must differ"))
	}
	if c.Server.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("server.max_concurrent must be positive, got %d", c.Server.MaxConcurrent))
	}
	if c.Server.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("server.batch_size must be positive, got %d", c.Server.BatchSize))
	}
	if c.Forward.Addr != "" && c.Forward.Dataset == "" {
		errs = append(errs, errors.New("forward.dataset is required when forwarding"))
	}
	if c.Forward.MaxFailures < 1 {
		errs = append(errs, fmt.Errorf("forward.max_failures must be positive, got %d", c.Forward.MaxFailures))
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entries must not be negative, got %d", c.Cache.MaxEntries))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if _, ok := progress.Registry[c.Bench.Progress]; !ok {
		errs = append(errs, fmt.Errorf("bench.progress: unknown reporter %q", c.Bench.Progress))
	}
	if c.Bench.Batches < 0 || c.Bench.Size < 1 || c.Bench.MaxLen < 1 {
		errs = append(errs, errors.New("bench.batches must not be negative, bench.size and bench.max_len must be positive"))
	}
	return errors.Join(errs...)
}
