/*
Package factory turns configuration into wired components.

PURPOSE:
  The one place that knows which concrete store, archiver and load path a
  config.Config selects. Commands call it; nothing else imports config.

USAGE:
  cfg, _ := config.Load(path)
  store, _ := factory.OpenStore(ctx, cfg.Database)
  runner, errLog, _ := factory.NewRunner(cfg, store, logger)
  defer errLog.Close()
  summary, _ := runner.RunDir(ctx, dir, year)

SEE ALSO:
  - config/: Settings
  - cmd/counterload: Commands
*/
package factory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/cubl/counter-loader/archive"
	"github.com/cubl/counter-loader/batch"
	"github.com/cubl/counter-loader/config"
	"github.com/cubl/counter-loader/logging"
	"github.com/cubl/counter-loader/store/postgres"
	"github.com/cubl/counter-loader/store/sqlite"
	"github.com/cubl/counter-loader/store/sqlstore"
	"github.com/cubl/counter-loader/usage"
)

// OpenStore opens the configured database and migrates its schema.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (*sqlstore.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		return sqlite.New(cfg.Path)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.GetDSN(), cfg.MaxConns)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// NewArchiver builds the post-load archiver: S3 upload first (when a bucket
// is set), then rename (when enabled).
func NewArchiver(cfg config.ArchiveConfig) (archive.Archiver, error) {
	var chain archive.Chain
	if cfg.S3Bucket != "" {
		up, err := archive.NewS3FromRegion(cfg.S3Region, cfg.S3Bucket, cfg.S3Prefix, cfg.StorageClass)
		if err != nil {
			return nil, err
		}
		chain = append(chain, up)
	}
	if cfg.Rename {
		chain = append(chain, archive.Rename{})
	}
	if len(chain) == 0 {
		return archive.Nop{}, nil
	}
	return chain, nil
}

// NewRunner builds the batch runner for cfg over store. The caller closes
// the returned error log.
func NewRunner(cfg config.Config, store *sqlstore.Store, logger *zap.Logger, opts ...usage.Option) (*batch.Runner, *logging.ErrorLog, error) {
	keys, err := cfg.IdentityKeys()
	if err != nil {
		return nil, nil, err
	}
	archiver, err := NewArchiver(cfg.Archive)
	if err != nil {
		return nil, nil, err
	}
	errLog, err := logging.NewErrorLog(cfg.Load.ErrorLog)
	if err != nil {
		return nil, nil, err
	}

	loader := usage.NewLoader(store, keys, cfg.Load.MatchRunDate, opts...)
	runnerOpts := []batch.Option{batch.WithArchiver(archiver)}
	if cfg.Load.Strategy == config.StrategyBulk {
		bulk := usage.NewBulkLoader(store, keys, cfg.Load.MatchRunDate, cfg.Load.StagingDir, opts...)
		runnerOpts = append(runnerOpts, batch.WithBulk(bulk))
	}
	return batch.NewRunner(loader, errLog, logger, runnerOpts...), errLog, nil
}
