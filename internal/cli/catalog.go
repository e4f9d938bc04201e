package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorops/pkgmirror/internal/catalog"
	"github.com/mirrorops/pkgmirror/internal/checkpoint"
)

// CatalogOptions holds flags for the catalog command.
type CatalogOptions struct {
	*RootOptions
	Limit       int
	Concurrency int
}

// NewCatalogCommand creates the catalog command.
func NewCatalogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CatalogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "catalog <directory>",
		Short: "Reconcile the full package catalog into per-package records",
		Long: `Diff the remote catalog snapshot against the checkpoints stored in
<directory>/serials.json, then fetch and merge the stale packages with
bounded concurrency. Each package lands in a sharded path derived from
its name; checkpoints advance only for fully-synced packages.

Example:
  pkgmirror catalog ./mirror/packages
  pkgmirror catalog ./mirror/packages --limit 1000 --concurrency 8`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCatalog(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", catalog.DefaultLimit, "maximum packages to process this run")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "worker pool size (default: number of CPUs)")

	return cmd
}

func runCatalog(opts *CatalogOptions, dir string, cmd *cobra.Command) error {
	client, cleanup, err := newClient(opts.RootOptions)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(runContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	concurrency := opts.Concurrency
	if concurrency == 0 {
		concurrency = opts.config.Concurrency
	}

	errOut := cmd.ErrOrStderr()
	progressed := false
	eng := catalog.New(client, catalog.Config{
		Dir:         dir,
		Limit:       opts.Limit,
		Concurrency: concurrency,
		OnProgress: func(p catalog.Progress) {
			progressed = true
			fmt.Fprintf(errOut, "\r%d/%d  not_found=%d releases=%d modified=%d new=%d skipped=%d",
				p.Done, p.Total,
				p.Stats.NotFound, p.Stats.Releases, p.Stats.Modified, p.Stats.New, p.Stats.Skipped)
		},
	})

	stats, err := eng.Run(ctx)
	if progressed {
		fmt.Fprintln(errOut)
	}
	if err != nil {
		if checkpoint.IsCorruptState(err) {
			return WrapExitError(ExitFailure, "refusing to run with corrupt checkpoint state", err)
		}
		return WrapExitError(ExitFailure, "catalog sync failed", err)
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(stats)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "not_found=%d releases=%d modified=%d new=%d skipped=%d\n",
		stats.NotFound, stats.Releases, stats.Modified, stats.New, stats.Skipped)
	return nil
}
