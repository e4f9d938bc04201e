// Package cli wires the sync engines into the pkgmirror command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/mirrorops/pkgmirror/internal/httpcache"
	"github.com/mirrorops/pkgmirror/internal/registry"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose     bool
	Format      string // "json" | "text"
	ConfigPath  string
	RegistryURL string // overrides the config file when set
	CachePath   string // overrides the config file when set

	// Client overrides the registry client construction (for testing).
	Client registry.Client

	config Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the pkgmirror CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "pkgmirror",
		Short: "Mirror a package registry's metadata onto local storage",
		Long: `pkgmirror incrementally mirrors a package registry: the append-only
changelog feed is written as immutable batch artifacts, and the full
package/release catalog is reconciled into sharded per-package JSON
records. Checkpoint state in each mirror directory makes every run
resumable and idempotent.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return WrapExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats), nil)
			}

			level := slog.LevelInfo
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))

			cfg, err := LoadConfig(opts.ConfigPath)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load config", err)
			}
			if opts.RegistryURL != "" {
				cfg.RegistryURL = opts.RegistryURL
			}
			if opts.CachePath != "" {
				cfg.CachePath = opts.CachePath
			}
			opts.config = cfg
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigPath, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.RegistryURL, "registry-url", "", "base URL of the remote registry")
	cmd.PersistentFlags().StringVar(&opts.CachePath, "cache", "", "path to the sqlite response cache")

	cmd.AddCommand(NewChangelogCommand(opts))
	cmd.AddCommand(NewCatalogCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newClient builds a registry client from the resolved options.
// The returned cleanup func closes the response cache, if any.
func newClient(opts *RootOptions) (registry.Client, func(), error) {
	if opts.Client != nil {
		return opts.Client, func() {}, nil
	}

	clientOpts := []registry.ClientOption{
		registry.WithUserAgent(opts.config.UserAgent),
	}
	if opts.config.RetryAttempts > 0 {
		clientOpts = append(clientOpts, registry.WithMaxAttempts(opts.config.RetryAttempts))
	}

	cleanup := func() {}
	if opts.config.CachePath != "" {
		cache, err := httpcache.Open(opts.config.CachePath)
		if err != nil {
			return nil, nil, WrapExitError(ExitCommandError, "failed to open response cache", err)
		}
		clientOpts = append(clientOpts, registry.WithCache(cache))
		cleanup = func() {
			if err := cache.Close(); err != nil {
				slog.Error("error closing response cache", "error", err)
			}
		}
	}

	return registry.NewHTTPClient(opts.config.RegistryURL, clientOpts...), cleanup, nil
}

// runContext returns the command's context, falling back to a fresh
// background context outside tests.
func runContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// Main executes the root command and returns the process exit code.
func Main() int {
	cmd := NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return GetExitCode(err)
	}
	return ExitSuccess
}
