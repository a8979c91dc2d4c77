package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	crerrors "github.com/contentgraph/crsync/internal/errors"
	"github.com/contentgraph/crsync/internal/graph"
)

func newNodeCmd() *cobra.Command {
	var (
		workspace string
		target    string
		remove    bool
	)

	cmd := &cobra.Command{
		Use:   "node <identifier>",
		Short: "Index or remove a single node",
		Long: `Index one node into the currently aliased indices, across all
allowed dimension combinations.

Use --remove to delete the node's documents instead. Use --target to
index the node under another workspace's document identity.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cmd, args[0], workspace, target, remove)
		},
	}

	cmd.Flags().StringVar(&workspace, "workspace", graph.LiveWorkspaceName, "Workspace to resolve the node in")
	cmd.Flags().StringVar(&target, "target", "", "Target workspace for the document identity")
	cmd.Flags().BoolVar(&remove, "remove", false, "Remove the node's documents")

	return cmd
}

func runNode(ctx context.Context, cmd *cobra.Command, identifier, workspace, target string, remove bool) error {
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	if err := env.requireWorkspace(ctx, workspace); err != nil {
		return err
	}
	if target != "" {
		if err := env.requireWorkspace(ctx, target); err != nil {
			return err
		}
	}

	node, err := env.store.ResolveNode(ctx, identifier, workspace, nil)
	if err != nil {
		return err
	}
	if node == nil {
		// The live variant may be gone while a tombstone still holds
		// the identity needed to address its documents.
		node, err = env.store.TombstonedNode(ctx, identifier, workspace)
		if err != nil {
			return err
		}
		if node == nil {
			return crerrors.Newf(crerrors.ErrCodeUnknownNode,
				"node %q not found in workspace %q", identifier, workspace)
		}
	}

	ix, sink := env.newIndexer("")

	if remove || node.Removed {
		err = ix.RemoveNode(ctx, node, target)
	} else {
		err = ix.IndexNode(ctx, node, target)
	}
	if err != nil {
		return err
	}
	if err := ix.Flush(ctx); err != nil {
		return err
	}

	verb := "indexed"
	if remove || node.Removed {
		verb = "removed"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s node %s (workspace %s)\n", verb, identifier, workspace)
	reportSink(cmd, sink)
	return nil
}
