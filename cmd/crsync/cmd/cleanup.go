package cmd

import (
	"context"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/contentgraph/crsync/internal/output"
)

func newCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete superseded index generations",
		Long: `Delete, per dimension partition, every physical index the
partition alias no longer references. Indices still behind a live
alias are never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runCleanup(ctx, cmd)
		},
	}
}

func runCleanup(ctx context.Context, cmd *cobra.Command) error {
	env, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer env.close()

	ix, _ := env.newIndexer("")
	partitions, err := ix.PartitionNames(ctx)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		removed []string
	)
	g, gctx := errgroup.WithContext(ctx)
	for hash := range partitions {
		g.Go(func() error {
			names, err := ix.RemoveOldIndices(gctx, hash)
			if err != nil {
				return err
			}
			mu.Lock()
			removed = append(removed, names...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := output.NewAuto(cmd.OutOrStdout())
	if len(removed) == 0 {
		out.Printf("nothing to clean up")
		return nil
	}
	sort.Strings(removed)
	for _, name := range removed {
		out.Printf("removed %s", name)
	}
	return nil
}
