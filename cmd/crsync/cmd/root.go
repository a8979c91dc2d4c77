// Package cmd provides the CLI commands for crsync.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/contentgraph/crsync/internal/bulk"
	"github.com/contentgraph/crsync/internal/config"
	"github.com/contentgraph/crsync/internal/dimension"
	"github.com/contentgraph/crsync/internal/driver"
	"github.com/contentgraph/crsync/internal/driver/elastic"
	"github.com/contentgraph/crsync/internal/driver/embedded"
	crerrors "github.com/contentgraph/crsync/internal/errors"
	"github.com/contentgraph/crsync/internal/extract"
	"github.com/contentgraph/crsync/internal/graph/sqlitegraph"
	"github.com/contentgraph/crsync/internal/indexer"
	"github.com/contentgraph/crsync/internal/logging"
	"github.com/contentgraph/crsync/internal/output"
	"github.com/contentgraph/crsync/pkg/version"
)

var (
	configPath     string
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the crsync CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crsync",
		Short: "Content-tree to search-index synchronizer",
		Long: `crsync keeps a denormalized search index in sync with a
dimensionally-variant, multi-workspace content graph.

It expands node mutations into per-dimension documents, writes them in
size-bounded bulk batches and rotates physical indices behind stable
aliases during full rebuilds.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("crsync version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to crsync.yaml")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRunE = teardownLogging

	cmd.AddCommand(newBuildCmd())
	cmd.AddCommand(newNodeCmd())
	cmd.AddCommand(newMappingCmd())
	cmd.AddCommand(newCleanupCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	level := "info"
	if debugMode {
		level = "debug"
	}
	cleanup, err := logging.SetupDefault(level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

func teardownLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// env bundles the collaborators a command needs: configuration, the
// content graph store and the search engine backend.
type env struct {
	cfg     *config.Config
	store   *sqlitegraph.Store
	backend driver.Backend
	log     *slog.Logger
	closers []func() error
}

// openEnv loads the configuration and opens graph store and backend.
func openEnv(_ context.Context) (*env, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, log: slog.Default()}

	store, err := sqlitegraph.Open(cfg.Graph.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open content graph: %w", err)
	}
	e.store = store
	e.closers = append(e.closers, store.Close)

	switch cfg.Engine.Backend {
	case "elastic":
		e.backend = elastic.New(cfg.Engine.Endpoint)
	default:
		emb, err := embedded.New(cfg.Engine.DataDir)
		if err != nil {
			e.close()
			return nil, fmt.Errorf("failed to open embedded engine: %w", err)
		}
		e.backend = emb
		e.closers = append(e.closers, emb.Close)
	}

	return e, nil
}

func (e *env) close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			e.log.Warn("close failed", "error", err)
		}
	}
}

// newIndexer wires an indexing engine over this environment.
func (e *env) newIndexer(postfix string) (*indexer.Indexer, *bulk.Sink) {
	sink := bulk.NewSink(e.log)
	ix := indexer.New(indexer.Config{
		Graph:         e.store,
		Backend:       e.backend,
		Dimensions:    dimension.NewService(),
		Extractor:     extract.New(e.cfg.NodeTypes, e.log),
		Sink:          sink,
		Diagnostics:   bulk.NewDiagnosticWriter(filepath.Join(e.cfg.Engine.DataDir, "diagnostics")),
		Prefix:        e.cfg.Index.Prefix,
		Postfix:       postfix,
		LiveOnly:      e.cfg.Index.LiveOnly,
		BatchElements: e.cfg.Batch.Elements,
		BatchOctets:   e.cfg.Batch.Octets,
		Log:           e.log,
	})
	return ix, sink
}

// requireWorkspace fails with a command error when the workspace is
// not present in the graph. The CLI exits with code 1 in that case.
func (e *env) requireWorkspace(ctx context.Context, name string) error {
	exists, err := e.store.WorkspaceExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return crerrors.Newf(crerrors.ErrCodeUnknownWorkspace,
			"workspace %q does not exist", name)
	}
	return nil
}

// reportSink prints the degraded-run summary after a command that
// indexes. Item-level errors never fail the run; the operator is
// pointed at the logs instead.
func reportSink(cmd *cobra.Command, sink *bulk.Sink) {
	if !sink.HasErrors() {
		return
	}
	output.NewAuto(cmd.ErrOrStderr()).Warnf(
		"completed with %d item error(s), see %s for details",
		sink.Count(), logging.DefaultLogPath())
}
