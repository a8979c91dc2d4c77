package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contentgraph/crsync/internal/config"
	"github.com/contentgraph/crsync/internal/driver/embedded"
	"github.com/contentgraph/crsync/internal/graph"
	"github.com/contentgraph/crsync/internal/graph/sqlitegraph"
	"github.com/contentgraph/crsync/pkg/version"
)

// writeTestConfig writes a config using the embedded backend with all
// state below dir, and returns its path.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Engine.DataDir = filepath.Join(dir, "engine")
	cfg.Graph.Path = filepath.Join(dir, "graph.db")
	cfg.NodeTypes = map[string]config.NodeTypeConfig{
		"acme:page": {
			Fulltext: true,
			Properties: map[string]config.PropertyConfig{
				"title": {Indexing: "text", Fulltext: true, Weight: "h1"},
			},
		},
	}
	path := filepath.Join(dir, "crsync.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

// seedGraph populates the content graph with the live workspace and a
// few pages.
func seedGraph(t *testing.T, cfgPath string, nodes ...*graph.Node) {
	t.Helper()
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)

	store, err := sqlitegraph.Open(cfg.Graph.Path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	ctx := context.Background()
	require.NoError(t, store.AddWorkspace(ctx, graph.LiveWorkspaceName, ""))
	for _, node := range nodes {
		require.NoError(t, store.SaveNode(ctx, node))
	}
}

func testPage(identifier, path string) *graph.Node {
	return &graph.Node{
		Identifier: identifier,
		Workspace:  graph.LiveWorkspaceName,
		Path:       path,
		Type:       "acme:page",
		Properties: map[string]any{"title": "Hello"},
	}
}

// runCLI executes the root command with the given args and captures
// its combined output.
func runCLI(t *testing.T, cfgPath string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())

	cmd := NewRootCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"--config", cfgPath}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestVersionCmd_DefaultOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "crsync")
	assert.Contains(t, buf.String(), version.Version)
	assert.Contains(t, buf.String(), "commit")
}

func TestVersionCmd_ShortOutput(t *testing.T) {
	cmd := newVersionCmd()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--short"})

	require.NoError(t, cmd.Execute())
	assert.Equal(t, version.Version, strings.TrimSpace(buf.String()))
}

func TestMappingCmd_PrintsConfiguredFields(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	out, err := runCLI(t, cfgPath, "mapping")
	require.NoError(t, err)
	assert.Contains(t, out, "properties")
	assert.Contains(t, out, "title")
}

func TestBuildCmd_UnknownWorkspaceFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath)

	_, err := runCLI(t, cfgPath, "build", "--workspace", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost")
}

func TestBuildCmd_FullRebuildSwapsAlias(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath, testPage("n1", "/sites/home"), testPage("n2", "/sites/about"))

	// When running a full rebuild with an explicit generation tag
	out, err := runCLI(t, cfgPath, "build", "--postfix", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 2 node(s)")

	// Then the partition alias points at the new generation and both
	// documents are searchable through it
	emb, err := embedded.New(filepath.Join(dir, "engine"))
	require.NoError(t, err)
	defer func() { _ = emb.Close() }()

	ctx := context.Background()
	indices, err := emb.IndicesByAlias(ctx, "crsync-default")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-default-100"}, indices)

	main, err := emb.IndicesByAlias(ctx, "crsync")
	require.NoError(t, err)
	assert.Equal(t, []string{"crsync-default-100"}, main)

	count, err := emb.DocCount("crsync-default")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestBuildCmd_LimitBoundsNodeCount(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath, testPage("n1", "/sites/a"), testPage("n2", "/sites/b"), testPage("n3", "/sites/c"))

	out, err := runCLI(t, cfgPath, "build", "--postfix", "100", "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed 1 node(s)")
}

func TestCleanupCmd_RemovesSupersededGeneration(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath, testPage("n1", "/sites/home"))

	_, err := runCLI(t, cfgPath, "build", "--postfix", "100")
	require.NoError(t, err)
	_, err = runCLI(t, cfgPath, "build", "--postfix", "200")
	require.NoError(t, err)

	out, err := runCLI(t, cfgPath, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "removed crsync-default-100")

	// The live generation survives
	emb, err := embedded.New(filepath.Join(dir, "engine"))
	require.NoError(t, err)
	defer func() { _ = emb.Close() }()

	exists, err := emb.IndexExists(context.Background(), "crsync-default-200")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = emb.IndexExists(context.Background(), "crsync-default-100")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestCleanupCmd_NothingToDo(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath)

	out, err := runCLI(t, cfgPath, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, "nothing to clean up")
}

func TestNodeCmd_IndexAndRemove(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	node := testPage("n1", "/sites/home")
	seedGraph(t, cfgPath, node)

	// A rebuild creates the aliased index the node command writes into
	_, err := runCLI(t, cfgPath, "build", "--postfix", "100")
	require.NoError(t, err)

	out, err := runCLI(t, cfgPath, "node", "n1")
	require.NoError(t, err)
	assert.Contains(t, out, "indexed node n1")

	out, err = runCLI(t, cfgPath, "node", "n1", "--remove")
	require.NoError(t, err)
	assert.Contains(t, out, "removed node n1")

	emb, err := embedded.New(filepath.Join(dir, "engine"))
	require.NoError(t, err)
	defer func() { _ = emb.Close() }()

	docID := graph.DocumentID(node.ContextPath())
	_, found, err := emb.DocumentByID("crsync-default", docID)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestNodeCmd_UnknownNodeFails(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath)

	_, err := runCLI(t, cfgPath, "node", "ghost")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestConfigInitCmd_WritesExampleAndRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "crsync.yaml")

	out, err := runCLI(t, cfgPath, "config", "init")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote")

	// The example parses and validates through the normal loader
	cfg, err := config.Load(cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "embedded", cfg.Engine.Backend)
	assert.Contains(t, cfg.NodeTypes, "document.page")

	_, err = runCLI(t, cfgPath, "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = runCLI(t, cfgPath, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigShowCmd_PrintsEffectiveConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)

	out, err := runCLI(t, cfgPath, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: embedded")
	assert.Contains(t, out, "prefix: crsync")
}

func TestStatusCmd_ReportsBackendAndWorkspaces(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath)

	out, err := runCLI(t, cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: embedded")
	assert.Contains(t, out, "workspaces (1)")
	assert.Contains(t, out, graph.LiveWorkspaceName)
}

func TestStatusCmd_ShowsLastRunAfterBuild(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeTestConfig(t, dir)
	seedGraph(t, cfgPath, testPage("n1", "/sites/home"))

	_, err := runCLI(t, cfgPath, "build", "--postfix", "100")
	require.NoError(t, err)

	out, err := runCLI(t, cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "last run: 1 node(s)")
	assert.Contains(t, out, "crsync-default-100")
}
