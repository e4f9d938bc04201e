package cli

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mirrorops/pkgmirror/internal/changelog"
	"github.com/mirrorops/pkgmirror/internal/checkpoint"
)

// ChangelogOptions holds flags for the changelog command.
type ChangelogOptions struct {
	*RootOptions
	Limit     int
	MinEvents int
}

// NewChangelogCommand creates the changelog command.
func NewChangelogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ChangelogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "changelog <directory>",
		Short: "Sync the registry changelog feed into batch artifacts",
		Long: `Advance the changelog cursor stored in <directory>/serials.json and
write one gzip-compressed JSON artifact covering the fetched serial
range. Already caught up is a clean no-op.

Example:
  pkgmirror changelog ./mirror/changelog
  pkgmirror changelog ./mirror/changelog --limit 100000 --min-events 1000`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChangelog(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", changelog.DefaultLimit, "stop after accumulating this many events")
	cmd.Flags().IntVar(&opts.MinEvents, "min-events", 0, "fail unless at least this many events were fetched")

	return cmd
}

func runChangelog(opts *ChangelogOptions, dir string, cmd *cobra.Command) error {
	client, cleanup, err := newClient(opts.RootOptions)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(runContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng := changelog.New(client, changelog.Config{
		Dir:       dir,
		Limit:     opts.Limit,
		MinEvents: opts.MinEvents,
	})

	res, err := eng.Run(ctx)
	if err != nil {
		var insufficient *changelog.InsufficientDataError
		switch {
		case errors.As(err, &insufficient):
			return WrapExitError(ExitFailure, "changelog run aborted", err)
		case checkpoint.IsCorruptState(err):
			return WrapExitError(ExitFailure, "refusing to run with corrupt checkpoint state", err)
		default:
			return WrapExitError(ExitFailure, "changelog sync failed", err)
		}
	}

	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	if opts.Format == "json" {
		return formatter.Success(res)
	}
	if res.Artifact == "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Already caught up (cursor at %d)\n", res.Cursor.Lowest)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Fetched %d events (serials %d-%d) into %s\n",
		res.Events, res.Start, res.End, res.Artifact)
	return nil
}
