package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	crerrors "github.com/contentgraph/crsync/internal/errors"
)

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "embedded", cfg.Engine.Backend)
	assert.Equal(t, "crsync", cfg.Index.Prefix)
	assert.True(t, cfg.Index.LiveOnly)
	assert.Equal(t, 500, cfg.Batch.Elements)
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "crsync.yaml")
	data := `
index:
  prefix: content
  live_only: false
batch:
  elements: 25
node_types:
  document.page:
    fulltext: true
    properties:
      title:
        indexing: text
        fulltext: true
        weight: h1
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "content", cfg.Index.Prefix)
	assert.False(t, cfg.Index.LiveOnly)
	assert.Equal(t, 25, cfg.Batch.Elements)
	// Untouched keys keep their defaults.
	assert.Equal(t, 1<<20, cfg.Batch.Octets)
	assert.Equal(t, "embedded", cfg.Engine.Backend)

	page, ok := cfg.NodeTypes["document.page"]
	require.True(t, ok)
	assert.True(t, page.Fulltext)
	assert.Equal(t, "h1", page.Properties["title"].Weight)
}

func TestValidateRejectsBrokenConfigs(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown backend", func(c *Config) { c.Engine.Backend = "solr" }},
		{"elastic without endpoint", func(c *Config) { c.Engine.Backend = "elastic" }},
		{"empty prefix", func(c *Config) { c.Index.Prefix = "" }},
		{"hyphenated prefix", func(c *Config) { c.Index.Prefix = "my-site" }},
		{"zero batch elements", func(c *Config) { c.Batch.Elements = 0 }},
		{"negative batch octets", func(c *Config) { c.Batch.Octets = -1 }},
		{"unknown indexing rule", func(c *Config) {
			c.NodeTypes["broken"] = NodeTypeConfig{
				Properties: map[string]PropertyConfig{"p": {Indexing: "geo"}},
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			tc.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, crerrors.ErrCodeConfigInvalid, crerrors.GetCode(err))
		})
	}
}

func TestSaveLoadRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "crsync.yaml")

	cfg := NewConfig()
	cfg.Index.Prefix = "roundtrip"
	cfg.Engine.Backend = "elastic"
	cfg.Engine.Endpoint = "http://localhost:9200"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}
