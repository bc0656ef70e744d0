package factory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cubl/counter-loader/archive"
	"github.com/cubl/counter-loader/config"
	"github.com/cubl/counter-loader/factory"
)

func TestOpenStore_SQLite(t *testing.T) {
	cfg := config.Default().Database
	cfg.Path = filepath.Join(t.TempDir(), "counter.db")

	store, err := factory.OpenStore(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	assert.Equal(t, "sqlite", store.Dialect())
	assert.FileExists(t, cfg.Path)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, err := factory.OpenStore(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestNewArchiver(t *testing.T) {
	a, err := factory.NewArchiver(config.ArchiveConfig{})
	require.NoError(t, err)
	assert.Equal(t, archive.Nop{}, a)

	a, err = factory.NewArchiver(config.ArchiveConfig{Rename: true})
	require.NoError(t, err)
	assert.Equal(t, archive.Chain{archive.Rename{}}, a)
}

func TestNewRunner_EmptyDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = ":memory:"
	cfg.Load.Strategy = config.StrategyBulk
	cfg.Load.StagingDir = t.TempDir()
	cfg.Load.ErrorLog = filepath.Join(t.TempDir(), "errors.log")

	store, err := factory.OpenStore(context.Background(), cfg.Database)
	require.NoError(t, err)
	defer store.Close()

	runner, errLog, err := factory.NewRunner(cfg, store, zap.NewNop())
	require.NoError(t, err)
	defer errLog.Close()

	dir := t.TempDir()
	sum, err := runner.RunDir(context.Background(), dir, 0)
	require.NoError(t, err)
	assert.Zero(t, sum.Files)
	assert.NoError(t, sum.Err())

	_, err = os.Stat(cfg.Load.ErrorLog)
	assert.NoError(t, err, "error log is created up front")
}
