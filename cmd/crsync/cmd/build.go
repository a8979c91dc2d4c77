package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentgraph/crsync/internal/graph"
	"github.com/contentgraph/crsync/internal/indexer"
	"github.com/contentgraph/crsync/internal/output"
	"github.com/contentgraph/crsync/internal/telemetry"
)

func newBuildCmd() *cobra.Command {
	var (
		workspace string
		limit     int
		update    bool
		postfix   string
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Rebuild the search index from the content graph",
		Long: `Rebuild the search index for one workspace.

By default a fresh index generation is created per dimension
partition, filled, and atomically swapped in behind the partition
aliases once complete. Superseded generations stay until 'crsync
cleanup' reclaims them.

Use --update to write into the currently aliased indices in place,
without creating a new generation. Use --postfix to tag the new
generation explicitly instead of the default timestamp.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if update && postfix != "" {
				return fmt.Errorf("--update and --postfix are mutually exclusive")
			}
			return runBuild(ctx, cmd, workspace, limit, update, postfix)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", graph.LiveWorkspaceName, "Workspace to index")
	cmd.Flags().IntVar(&limit, "limit", 0, "Index at most this many nodes (0 = all)")
	cmd.Flags().BoolVar(&update, "update", false, "Update the aliased indices in place")
	cmd.Flags().StringVar(&postfix, "postfix", "", "Explicit generation postfix (default: timestamp)")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, workspace string, limit int, update bool, postfix string) error {
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.requireWorkspace(ctx, workspace); err != nil {
		return err
	}

	lock := indexer.NewRebuildLock(env.cfg.Engine.DataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("another rebuild is already running (lock: %s)", lock.Path())
	}
	defer func() { _ = lock.Unlock() }()

	if !update && postfix == "" {
		postfix = time.Now().UTC().Format("20060102150405")
	}
	started := time.Now()
	ix, sink := env.newIndexer(postfix)

	partitions, err := ix.PartitionNames(ctx)
	if err != nil {
		return err
	}
	if !update {
		for hash := range partitions {
			if err := ix.CreateIndex(ctx, hash); err != nil {
				return err
			}
		}
	}

	nodes, err := env.store.NodesInWorkspace(ctx, workspace, limit)
	if err != nil {
		return err
	}
	env.log.Info("starting rebuild",
		"workspace", workspace,
		"nodes", len(nodes),
		"partitions", len(partitions),
		"update", update)

	out := output.NewAuto(cmd.OutOrStdout())
	indexAll := func() error {
		for i, node := range nodes {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := ix.IndexNode(ctx, node, ""); err != nil {
				return err
			}
			if (i+1)%100 == 0 {
				out.Progressf("indexed %d/%d nodes", i+1, len(nodes))
			}
		}
		return ix.Flush(ctx)
	}

	// A fresh generation starts empty, so the stale-type safety check
	// can be skipped for the whole run. In-place updates keep it.
	if update {
		err = indexAll()
	} else {
		err = ix.WithBulkProcessing(indexAll)
	}
	if err != nil {
		return err
	}

	if !update {
		for hash := range partitions {
			if err := ix.UpdateIndexAlias(ctx, hash); err != nil {
				return err
			}
		}
		if err := ix.UpdateMainAlias(ctx); err != nil {
			return err
		}
	}

	recordRun(ctx, env, telemetry.Run{
		Workspace:  workspace,
		Postfix:    postfix,
		Nodes:      len(nodes),
		Partitions: len(partitions),
		ItemErrors: sink.Count(),
		Update:     update,
		StartedAt:  started,
		Duration:   time.Since(started),
	})

	out.Successf("indexed %d node(s) across %d partition(s)", len(nodes), len(partitions))
	reportSink(cmd, sink)
	return nil
}

// recordRun appends the run to the local history. Best effort: a
// telemetry failure never fails the build.
func recordRun(ctx context.Context, env *env, run telemetry.Run) {
	store, err := telemetry.Open(filepath.Join(env.cfg.Engine.DataDir, "metrics.db"))
	if err != nil {
		env.log.Warn("failed to open run history", "error", err)
		return
	}
	defer func() { _ = store.Close() }()
	if err := store.RecordRun(ctx, run); err != nil {
		env.log.Warn("failed to record run", "error", err)
	}
}
