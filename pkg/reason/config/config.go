package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cognicore/reason/pkg/reason/internalerr"
)

// Config holds the tunables of the knowledge base and inference engine.
type Config struct {
	// Workers bounds the number of concurrent proof evaluations per
	// inference round, and the number of background rule rechecks in
	// flight after a tell.
	Workers int `yaml:"workers"`

	// XORDisjunction keeps the historical disjunction truth table, where
	// both children true evaluates to false. Inclusive-or is used when
	// disabled.
	XORDisjunction bool `yaml:"xor_disjunction"`

	// StrictVars rejects at compile time any declared variable that no
	// antecedent predicate constrains. When disabled such variables are
	// accepted and simply never bound.
	StrictVars bool `yaml:"strict_vars"`

	// QueryCacheSize is the number of compiled ask-mode parses kept in
	// the LRU cache. Zero disables the cache.
	QueryCacheSize int `yaml:"query_cache_size"`

	// Debug lowers the log level to debug.
	Debug bool `yaml:"debug"`
}

// Default returns the configuration used when no file is provided.
func Default() Config {
	return Config{
		Workers:        4,
		XORDisjunction: true,
		StrictVars:     true,
		QueryCacheSize: 256,
	}
}

// Load reads a YAML configuration file. Fields absent from the file keep
// their default values.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration invariants.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1, got %d", internalerr.ErrInvalidConfig, c.Workers)
	}
	if c.QueryCacheSize < 0 {
		return fmt.Errorf("%w: query_cache_size must be >= 0, got %d", internalerr.ErrInvalidConfig, c.QueryCacheSize)
	}
	return nil
}
