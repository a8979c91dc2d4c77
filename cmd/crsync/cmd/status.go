package cmd

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/contentgraph/crsync/internal/output"
	"github.com/contentgraph/crsync/internal/telemetry"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show engine connectivity, indices and workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runStatus(ctx, cmd)
		},
	}
}

func runStatus(ctx context.Context, cmd *cobra.Command) error {
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	out := output.NewAuto(cmd.OutOrStdout())

	if err := env.backend.Ping(ctx); err != nil {
		out.Warnf("backend: %s unreachable: %v", env.cfg.Engine.Backend, err)
		return err
	}
	out.Successf("backend: %s", env.cfg.Engine.Backend)
	out.Printf("batch thresholds: %d elements, %d octets",
		env.cfg.Batch.Elements, env.cfg.Batch.Octets)

	indices, err := env.backend.IndicesByPrefix(ctx, env.cfg.Index.Prefix+"-")
	if err != nil {
		return err
	}
	out.Printf("indices (%d):", len(indices))
	for _, name := range indices {
		out.Printf("  %s", name)
	}

	main, err := env.backend.IndicesByAlias(ctx, env.cfg.Index.Prefix)
	if err != nil {
		return err
	}
	out.Printf("main alias %s -> %d index/indices", env.cfg.Index.Prefix, len(main))

	workspaces, err := env.store.Workspaces(ctx)
	if err != nil {
		return err
	}
	out.Printf("workspaces (%d):", len(workspaces))
	for _, ws := range workspaces {
		if ws.Base != "" {
			out.Printf("  %s (base: %s)", ws.Name, ws.Base)
			continue
		}
		out.Printf("  %s", ws.Name)
	}

	printLastRun(ctx, env, out)
	return nil
}

// printLastRun shows the most recent indexing run, when any was
// recorded. Best effort.
func printLastRun(ctx context.Context, env *env, out *output.Writer) {
	store, err := telemetry.Open(filepath.Join(env.cfg.Engine.DataDir, "metrics.db"))
	if err != nil {
		return
	}
	defer func() { _ = store.Close() }()

	run, err := store.LastRun(ctx)
	if err != nil || run == nil {
		return
	}
	out.Printf("last run: %d node(s), workspace %s, %s, %d item error(s)",
		run.Nodes, run.Workspace, run.Duration.Round(time.Millisecond), run.ItemErrors)
}
