// Package config loads and validates crsync configuration.
//
// Configuration is read from a YAML file (crsync.yaml by default),
// merged over built-in defaults and validated before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	crerrors "github.com/contentgraph/crsync/internal/errors"
)

// DefaultConfigName is the default configuration file name.
const DefaultConfigName = "crsync.yaml"

// Config represents the complete crsync configuration.
type Config struct {
	Version   int                       `yaml:"version"`
	Engine    EngineConfig              `yaml:"engine"`
	Index     IndexConfig               `yaml:"index"`
	Batch     BatchConfig               `yaml:"batch"`
	Graph     GraphConfig               `yaml:"graph"`
	NodeTypes map[string]NodeTypeConfig `yaml:"node_types"`
	Logging   LoggingConfig             `yaml:"logging"`
}

// EngineConfig selects and configures the search engine backend.
type EngineConfig struct {
	// Backend selects the driver set: "embedded" (in-process, bleve) or
	// "elastic" (HTTP bulk protocol against a remote engine).
	Backend string `yaml:"backend"`

	// Endpoint is the base URL of the remote engine (elastic backend only).
	Endpoint string `yaml:"endpoint"`

	// DataDir is the directory holding embedded indices, diagnostics and
	// the rebuild lock.
	DataDir string `yaml:"data_dir"`
}

// IndexConfig configures logical index naming and workspace policy.
type IndexConfig struct {
	// Prefix is the logical index name prefix shared by all physical
	// indices and aliases managed by crsync. Hyphens are not allowed;
	// physical names append -hash-postfix to it.
	Prefix string `yaml:"prefix"`

	// LiveOnly restricts indexing to the "live" workspace. Mutations
	// targeting any other workspace are silently skipped.
	LiveOnly bool `yaml:"live_only"`
}

// BatchConfig bounds the size of accumulated bulk requests.
// A flush is triggered as soon as either threshold is reached.
type BatchConfig struct {
	// Elements is the maximum number of operations per bulk request.
	Elements int `yaml:"elements"`

	// Octets is the maximum payload size in bytes per bulk request.
	Octets int `yaml:"octets"`
}

// GraphConfig configures the content-graph store.
type GraphConfig struct {
	// Path is the SQLite database file holding the content graph.
	Path string `yaml:"path"`
}

// NodeTypeConfig describes how nodes of one type are indexed.
type NodeTypeConfig struct {
	// Fulltext enables fulltext extraction for this node type.
	Fulltext bool `yaml:"fulltext"`

	// Properties maps property names to their indexing rule.
	Properties map[string]PropertyConfig `yaml:"properties"`
}

// PropertyConfig is the indexing rule for one node property.
type PropertyConfig struct {
	// Indexing is the rule name: "keyword", "text", "date" or "skip".
	// Properties without a rule are reported as unclassified.
	Indexing string `yaml:"indexing"`

	// Fulltext marks the property as a fulltext source. The Weight
	// field selects the fulltext bucket (h1, h2, text).
	Fulltext bool   `yaml:"fulltext"`
	Weight   string `yaml:"weight"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// NewConfig creates a new Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Engine: EngineConfig{
			Backend: "embedded",
			DataDir: ".crsync",
		},
		Index: IndexConfig{
			Prefix:   "crsync",
			LiveOnly: true,
		},
		Batch: BatchConfig{
			Elements: 500,
			Octets:   1 << 20, // 1 MiB
		},
		Graph: GraphConfig{
			Path: filepath.Join(".crsync", "graph.db"),
		},
		NodeTypes: map[string]NodeTypeConfig{},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the given path, merged over defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := NewConfig()

	if path == "" {
		path = DefaultConfigName
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case "embedded", "elastic":
	default:
		return crerrors.ConfigError(
			fmt.Sprintf("engine.backend must be \"embedded\" or \"elastic\", got %q", c.Engine.Backend), nil)
	}
	if c.Engine.Backend == "elastic" && c.Engine.Endpoint == "" {
		return crerrors.ConfigError("engine.endpoint is required for the elastic backend", nil)
	}
	if c.Index.Prefix == "" {
		return crerrors.ConfigError("index.prefix must not be empty", nil)
	}
	if strings.Contains(c.Index.Prefix, "-") {
		// Physical names are prefix-hash-postfix; a hyphen inside the
		// prefix would corrupt that segmentation.
		return crerrors.ConfigError(
			fmt.Sprintf("index.prefix must not contain hyphens, got %q", c.Index.Prefix), nil)
	}
	if c.Batch.Elements <= 0 {
		return crerrors.ConfigError(
			fmt.Sprintf("batch.elements must be positive, got %d", c.Batch.Elements), nil)
	}
	if c.Batch.Octets <= 0 {
		return crerrors.ConfigError(
			fmt.Sprintf("batch.octets must be positive, got %d", c.Batch.Octets), nil)
	}
	for name, nt := range c.NodeTypes {
		for prop, rule := range nt.Properties {
			switch rule.Indexing {
			case "", "keyword", "text", "date", "skip":
			default:
				return crerrors.ConfigError(
					fmt.Sprintf("node type %s: property %s has unknown indexing rule %q", name, prop, rule.Indexing), nil)
			}
		}
	}
	return nil
}

// Save writes the configuration to the given path as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
