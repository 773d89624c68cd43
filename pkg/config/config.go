// Package config reads declarative container configuration from YAML.
//
//	key: cart
//	distinct: true
//	debounce: 300ms
//	history:
//	  size: 50
//	  persist: true
//	retry:
//	  attempts: 3
//	  backoff: 20ms
//	validators:
//	  - expr: "len(items) <= 100"
//	  - cel: "value.total >= 0"
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the YAML form of a container's type-agnostic options plus its
// expression validators.
type Config struct {
	Key            string        `yaml:"key,omitempty"`
	Distinct       bool          `yaml:"distinct,omitempty"`
	Debounce       time.Duration `yaml:"debounce,omitempty"`
	History        HistoryConfig `yaml:"history,omitempty"`
	Production     bool          `yaml:"production,omitempty"`
	StorageTimeout time.Duration `yaml:"storage_timeout,omitempty"`
	Retry          RetryConfig   `yaml:"retry,omitempty"`
	Validators     []RuleConfig  `yaml:"validators,omitempty"`
}

// HistoryConfig controls undo/redo. A positive Size implies Enabled.
type HistoryConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`
	Size    int  `yaml:"size,omitempty"`
	Persist bool `yaml:"persist,omitempty"`
}

// RetryConfig controls storage write retries.
type RetryConfig struct {
	Attempts   int           `yaml:"attempts,omitempty"`
	Backoff    time.Duration `yaml:"backoff,omitempty"`
	Multiplier float64       `yaml:"multiplier,omitempty"`
	MaxBackoff time.Duration `yaml:"max_backoff,omitempty"`
}

// RuleConfig is one validator. Exactly one of Expr and CEL is set.
type RuleConfig struct {
	Expr string `yaml:"expr,omitempty"`
	CEL  string `yaml:"cel,omitempty"`
}

// Load reads and validates the file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is like Load but returns an empty Config when the file does
// not exist.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return &Config{}, nil
	}
	return cfg, err
}

// Parse decodes and validates YAML. Unknown fields are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports invalid values.
func (c *Config) Validate() error {
	var errs []error
	if c.Debounce < 0 {
		errs = append(errs, errors.New("debounce must not be negative"))
	}
	if c.History.Size < 0 {
		errs = append(errs, errors.New("history.size must not be negative"))
	}
	if c.History.Persist && !c.HistoryEnabled() {
		errs = append(errs, errors.New("history.persist requires history"))
	}
	if c.History.Persist && c.Key == "" {
		errs = append(errs, errors.New("history.persist requires a key"))
	}
	if c.StorageTimeout < 0 {
		errs = append(errs, errors.New("storage_timeout must not be negative"))
	}
	if c.Retry.Attempts < 0 {
		errs = append(errs, errors.New("retry.attempts must not be negative"))
	}
	for i, r := range c.Validators {
		switch {
		case r.Expr == "" && r.CEL == "":
			errs = append(errs, fmt.Errorf("validators[%d]: one of expr or cel is required", i))
		case r.Expr != "" && r.CEL != "":
			errs = append(errs, fmt.Errorf("validators[%d]: expr and cel are mutually exclusive", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// HistoryEnabled reports whether undo/redo is configured.
func (c *Config) HistoryEnabled() bool {
	return c.History.Enabled || c.History.Size > 0
}
