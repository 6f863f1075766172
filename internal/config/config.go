// Package config loads the indexer configuration.
//
// Configuration is a YAML file decoded with unknown fields rejected, laid over
// Default(), then validated against an embedded CUE schema. Command-line flags
// override individual fields after loading.
package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaCUE string

// Store backends.
const (
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config is the full indexer configuration.
type Config struct {
	Policy  Policy        `yaml:"policy" json:"policy"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Redis   RedisConfig   `yaml:"redis" json:"redis"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
}

// StoreConfig selects the record store backend.
type StoreConfig struct {
	Backend string `yaml:"backend" json:"backend"`
	Path    string `yaml:"path" json:"path"`
}

// RedisConfig locates the block stream.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Stream   string `yaml:"stream" json:"stream"`
	Group    string `yaml:"group" json:"group"`
	Consumer string `yaml:"consumer" json:"consumer"`
}

// MetricsConfig controls the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Policy: DefaultPolicy(),
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "commenthistory.db",
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Stream:   "blocks",
			Group:    "commenthistory",
			Consumer: "indexer",
		},
	}
}

// Load reads path and returns the validated configuration.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses YAML from r over Default() and validates the result.
// Keys absent from the document keep their default values.
func Decode(r io.Reader) (Config, error) {
	cfg := Default()

	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cfg against the embedded CUE schema.
func (c Config) Validate() error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	value := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return buf.Bytes(), nil
}
