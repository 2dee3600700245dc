package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Clark-Hu/stars/internal/app"
	"github.com/Clark-Hu/stars/internal/cache"
	"github.com/Clark-Hu/stars/internal/config"
	"github.com/Clark-Hu/stars/internal/domain"
	"github.com/Clark-Hu/stars/internal/events"
	"github.com/Clark-Hu/stars/internal/i18n"
	"github.com/Clark-Hu/stars/internal/ledger"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Long: `Apply pending schema migrations for the configured storage driver.
SQLite schemas are brought up to date on open; the memory driver has no schema.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			err := rootOpts.withApp(cmd, app.Options{Migrate: true}, func(a *app.App) error {
				result := map[string]string{"driver": a.Config.StorageDriver, "status": "up to date"}
				return f.Success(result, func(w io.Writer) {
					fmt.Fprintf(w, "%s schema is up to date\n", a.Config.StorageDriver)
				})
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}

type statsResult struct {
	Scope string `json:"scope"`
	domain.Stats
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var sf scopeFlags
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show count, average and per-rate summary for a scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			scope, err := sf.scope()
			if err != nil {
				return f.Fail(err)
			}
			err = rootOpts.withApp(cmd, app.Options{}, func(a *app.App) error {
				stats, err := a.Ledger.Stats(cmd.Context(), scope)
				if err != nil {
					return err
				}
				res := statsResult{Scope: scope.Key(), Stats: stats}
				return f.Success(res, func(w io.Writer) { writeStats(w, res) })
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
	sf.bind(cmd)
	return cmd
}

func writeStats(w io.Writer, res statsResult) {
	fmt.Fprintf(w, "scope:   %s\n", res.Scope)
	fmt.Fprintf(w, "count:   %d\n", res.Count)
	fmt.Fprintf(w, "average: %.2f\n", res.Average)
	rates := make([]int, 0, len(res.Summary))
	for rate := range res.Summary {
		rates = append(rates, rate)
	}
	slices.Sort(rates)
	for _, rate := range rates {
		fmt.Fprintf(w, "  %d: %d\n", rate, res.Summary[rate])
	}
}

// NewLatestCommand creates the latest command.
func NewLatestCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		sf    scopeFlags
		limit int
	)
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "List the most recent ratings in a scope",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			scope, err := sf.scope()
			if err != nil {
				return f.Fail(err)
			}
			err = rootOpts.withApp(cmd, app.Options{}, func(a *app.App) error {
				rows, err := a.Ledger.Latest(cmd.Context(), scope, limit)
				if err != nil {
					return err
				}
				return f.Success(rows, func(w io.Writer) {
					if len(rows) == 0 {
						fmt.Fprintln(w, "no ratings")
						return
					}
					for _, r := range rows {
						fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", r.UpdatedAt.Format(time.RFC3339), r.Target, r.Rate, r.Identity())
					}
				})
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
	sf.bind(cmd)
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "maximum rows to show")
	return cmd
}

// NewForgetCommand creates the forget command.
func NewForgetCommand(rootOpts *RootOptions) *cobra.Command {
	var sf scopeFlags
	cmd := &cobra.Command{
		Use:   "forget",
		Short: "Remove every rating in a scope",
		Long: `Remove every rating in a scope, one row at a time. Each removal emits
its events to the configured sinks. Rows removed before a failure stay removed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			scope, err := sf.scope()
			if err != nil {
				return f.Fail(err)
			}
			err = rootOpts.withApp(cmd, app.Options{Publish: true}, func(a *app.App) error {
				n, err := a.Ledger.RemoveAll(cmd.Context(), scope)
				f.VerboseLog("removed %d rating(s) from %s", n, scope.Key())
				if err != nil {
					return err
				}
				return f.Success(map[string]interface{}{"scope": scope.Key(), "removed": n}, func(w io.Writer) {
					fmt.Fprintf(w, "removed %d rating(s) from %s\n", n, scope.Key())
				})
			})
			if err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
	sf.bind(cmd)
	return cmd
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream rating events from the Redis channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := newFormatter(rootOpts, cmd)
			cfg, err := rootOpts.config()
			if err != nil {
				return f.Fail(WrapExitError(ExitCommandError, "load config", err))
			}
			if err := watch(cmd.Context(), rootOpts, cfg, f); err != nil {
				return f.Fail(err)
			}
			return nil
		},
	}
}

func watch(parent context.Context, rootOpts *RootOptions, cfg config.Config, f *OutputFormatter) error {
	if cfg.RedisAddr == "" {
		return NewExitError(ExitCommandError, "REDIS_ADDR is not configured")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.DialRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer rdb.Close()

	pub, err := events.NewRedisPublisher(rdb, cfg.RedisChannel, rootOpts.logger(cfg))
	if err != nil {
		return err
	}
	f.VerboseLog("watching %s on %s", cfg.RedisChannel, cfg.RedisAddr)
	err = pub.Forward(ctx, func(ev ledger.Event) {
		_ = f.Success(ev, func(w io.Writer) {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\trate=%d\n",
				ev.OccurredAt.Format(time.RFC3339), i18n.EventTitle(ev.Name), ev.Rating.Target, ev.Rating.Identity(), ev.Rating.Rate)
		})
	})
	if err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}
