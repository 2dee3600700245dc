// Package cli implements starctl, the operator command line for the rating
// ledger.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/Clark-Hu/stars/internal/app"
	"github.com/Clark-Hu/stars/internal/config"
	"github.com/Clark-Hu/stars/internal/logger"
)

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// Opener builds the application for one command invocation.
type Opener func(ctx context.Context, cfg config.Config, log *logger.Logger, opts app.Options) (*app.App, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Driver  string
	Lang    string

	load func() (config.Config, error)
	open Opener
}

// NewRootCommand creates the root command reading configuration from the
// environment.
func NewRootCommand() *cobra.Command {
	return newRootCommand(config.Load, app.Open)
}

func newRootCommand(load func() (config.Config, error), open Opener) *cobra.Command {
	opts := &RootOptions{load: load, open: open}

	cmd := &cobra.Command{
		Use:   "starctl",
		Short: "Inspect and maintain the ratings ledger",
		Long: `starctl reads the same configuration as the stars server
(STARS_CONFIG_FILE plus environment variables) and operates on its ledger directly.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Driver, "driver", "", "override STORAGE_DRIVER (postgres|sqlite|memory)")
	cmd.PersistentFlags().StringVar(&opts.Lang, "lang", os.Getenv("LANG"), "language for error messages")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewLatestCommand(opts))
	cmd.AddCommand(NewForgetCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

func (o *RootOptions) config() (config.Config, error) {
	cfg, err := o.load()
	if err != nil {
		return config.Config{}, err
	}
	if o.Driver != "" {
		cfg.StorageDriver = o.Driver
	}
	return cfg, nil
}

func (o *RootOptions) logger(cfg config.Config) *logger.Logger {
	if !o.Verbose {
		return logger.Nop()
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return logger.Nop()
	}
	return log
}

// withApp opens the application, runs fn and releases it.
func (o *RootOptions) withApp(cmd *cobra.Command, appOpts app.Options, fn func(*app.App) error) error {
	cfg, err := o.config()
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := o.open(ctx, cfg, o.logger(cfg), appOpts)
	if err != nil {
		return WrapExitError(ExitCommandError, "open ledger", err)
	}
	defer a.Close(context.Background())
	return fn(a)
}
