/*
main.go - counterload entry point

PURPOSE:
  Loads COUNTER usage reports (R4 JR1, R5 Title Master) from a directory
  into the usage database, and serves read-only queries over it.

COMMANDS:
  load <dir> [year]        Load every *.xlsx in dir (optionally one year)
  rename <dir>             Give every report its canonical file name
  platform add <name> [alias]
  platform list
  serve                    Query API

EXIT STATUS:
  0  every file loaded or was skipped as already loaded
  1  bad usage, configuration or database error, or any file failed

CONFIGURATION:
  --config points to a YAML file; COUNTER_* environment variables
  override it (see config/).

EXAMPLES:
  counterload platform add "Ebook Central" "ProQuest Ebook Central"
  counterload rename ./reports
  counterload load ./reports 2020
  counterload load --bulk ./reports
  COUNTER_DB_DRIVER=postgres counterload serve
*/
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cubl/counter-loader/batch"
	"github.com/cubl/counter-loader/config"
	"github.com/cubl/counter-loader/factory"
	"github.com/cubl/counter-loader/logging"
	"github.com/cubl/counter-loader/store/sqlstore"
)

const serviceName = "counterload"

// app carries what every command needs once flags are parsed.
type app struct {
	configPath string
	logLevel   string
	cfg        config.Config
	logger     *zap.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           serviceName,
		Short:         "Load COUNTER usage reports into the usage database",
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Arguments are valid by now; later errors are not usage errors.
			cmd.SilenceUsage = true
			return a.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("COUNTER_CONFIG"), "YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	root.AddCommand(newLoadCmd(a), newRenameCmd(a), newPlatformCmd(a), newServeCmd(a))
	return root
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, serviceName)
	if err != nil {
		return err
	}
	a.cfg, a.logger = cfg, logger
	return nil
}

func (a *app) openStore(ctx context.Context) (*sqlstore.Store, error) {
	store, err := factory.OpenStore(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", a.cfg.Database.Driver, err)
	}
	return store, nil
}

// =============================================================================
// LOAD
// =============================================================================

func newLoadCmd(a *app) *cobra.Command {
	var bulk bool
	cmd := &cobra.Command{
		Use:   "load <report directory> [year]",
		Short: "Load every report workbook in a directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			year := 0
			if len(args) == 2 {
				y, err := strconv.Atoi(args[1])
				if err != nil || y < 1900 {
					return fmt.Errorf("invalid year %q", args[1])
				}
				year = y
			}
			if bulk {
				a.cfg.Load.Strategy = config.StrategyBulk
			}

			ctx := cmd.Context()
			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			runner, errLog, err := factory.NewRunner(a.cfg, store, a.logger)
			if err != nil {
				return err
			}
			defer errLog.Close()

			sum, err := runner.RunDir(ctx, args[0], year)
			if err != nil {
				return err
			}
			cmd.Printf("%d loaded, %d already loaded, %d outside year, %d failed (%s)\n",
				len(sum.Loaded), len(sum.Skipped), len(sum.Filtered), len(sum.Failed), sum.Elapsed.Round(time.Millisecond))
			if err := sum.Err(); err != nil {
				return fmt.Errorf("%w; see %s", err, a.cfg.Load.ErrorLog)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&bulk, "bulk", false, "Use the bulk staging path for this run")
	return cmd
}

// =============================================================================
// RENAME
// =============================================================================

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <report directory>",
		Short: "Rename workbooks to <version>-<platform>-<year>-<MMMM>.xlsx",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			errLog, err := logging.NewErrorLog(a.cfg.Load.ErrorLog)
			if err != nil {
				return err
			}
			defer errLog.Close()

			runner := batch.NewRunner(nil, errLog, a.logger)
			sum, err := runner.RenameDir(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for from, to := range sum.Renamed {
				cmd.Printf("%s -> %s\n", from, to)
			}
			if err := sum.Err(); err != nil {
				return fmt.Errorf("%w; see %s", err, a.cfg.Load.ErrorLog)
			}
			return nil
		},
	}
}

// =============================================================================
// PLATFORMS
// =============================================================================

func newPlatformCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platform",
		Short: "Maintain the platform reference",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> [alias]",
		Short: "Add a platform, or set the alias of an existing one",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			alias := ""
			if len(args) == 2 {
				alias = args[1]
			}
			id, err := store.AddPlatform(cmd.Context(), args[0], alias)
			if err != nil {
				return err
			}
			cmd.Printf("platform %d: %s\n", id, args[0])
			return nil
		},
	}, &cobra.Command{
		Use:   "list",
		Short: "List platforms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			platforms, err := store.ListPlatforms(cmd.Context())
			if err != nil {
				return err
			}
			for _, p := range platforms {
				if p.Alias != "" {
					cmd.Printf("%d\t%s\t(%s)\n", p.ID, p.Name, p.Alias)
				} else {
					cmd.Printf("%d\t%s\n", p.ID, p.Name)
				}
			}
			return nil
		},
	})
	return cmd
}
