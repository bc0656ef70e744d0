/*
Package config loads loader settings.

PRECEDENCE:
  1. Defaults (Default())
  2. Optional YAML file
  3. COUNTER_* environment variables

EXAMPLE:
  database:
    driver: postgres
    host: db.internal
    name: counter
  load:
    strategy: bulk
    identity_key:
      current: title,publisher,platform,isbn,yop
  archive:
    rename: true
    s3_bucket: library-usage
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cubl/counter-loader/usage"
)

// Load strategies.
const (
	StrategyRowwise = "rowwise"
	StrategyBulk    = "bulk"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config is the full loader configuration.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Load     LoadConfig     `yaml:"load"`
	Archive  ArchiveConfig  `yaml:"archive"`
	HTTP     HTTPConfig     `yaml:"http"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects and addresses the database.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Path     string `yaml:"path"` // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// GetDSN returns the lib/pq connection string.
func (c DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode)
}

// IdentityKeyConfig holds comma-separated identity key fields per report generation.
type IdentityKeyConfig struct {
	Legacy  string `yaml:"legacy"`
	Current string `yaml:"current"`
}

// LoadConfig controls the load paths.
type LoadConfig struct {
	IdentityKey  IdentityKeyConfig `yaml:"identity_key"`
	MatchRunDate bool              `yaml:"match_run_date"`
	Strategy     string            `yaml:"strategy"`
	StagingDir   string            `yaml:"staging_dir"`
	ErrorLog     string            `yaml:"error_log"`
}

// ArchiveConfig controls what happens to a file after it loads.
type ArchiveConfig struct {
	Rename       bool   `yaml:"rename"`
	S3Bucket     string `yaml:"s3_bucket"`
	S3Prefix     string `yaml:"s3_prefix"`
	S3Region     string `yaml:"s3_region"`
	StorageClass string `yaml:"storage_class"`
}

// HTTPConfig configures the query API.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	keys := usage.DefaultIdentityKeys()
	return Config{
		Database: DatabaseConfig{
			Driver:   DriverSQLite,
			Path:     "counter.db",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "counter",
			SSLMode:  "disable",
			MaxConns: 4,
		},
		Load: LoadConfig{
			IdentityKey: IdentityKeyConfig{
				Legacy:  keys.Legacy.String(),
				Current: keys.Current.String(),
			},
			MatchRunDate: true,
			Strategy:     StrategyRowwise,
			StagingDir:   os.TempDir(),
			ErrorLog:     "errors.log",
		},
		Archive: ArchiveConfig{
			Rename:       true,
			S3Prefix:     "counter-reports/",
			S3Region:     "us-east-1",
			StorageClass: "ONEZONE_IA",
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads path (if not empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Database.Driver = getEnv("COUNTER_DB_DRIVER", c.Database.Driver)
	c.Database.Path = getEnv("COUNTER_DB_PATH", c.Database.Path)
	c.Database.Host = getEnv("COUNTER_DB_HOST", c.Database.Host)
	c.Database.Port = parseInt(getEnv("COUNTER_DB_PORT", ""), c.Database.Port)
	c.Database.User = getEnv("COUNTER_DB_USER", c.Database.User)
	c.Database.Password = getEnv("COUNTER_DB_PASSWORD", c.Database.Password)
	c.Database.Name = getEnv("COUNTER_DB_NAME", c.Database.Name)
	c.Database.SSLMode = getEnv("COUNTER_DB_SSLMODE", c.Database.SSLMode)

	c.Log.Level = getEnv("COUNTER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("COUNTER_LOG_FORMAT", c.Log.Format)
	c.Load.ErrorLog = getEnv("COUNTER_ERROR_LOG", c.Load.ErrorLog)
	c.Load.StagingDir = getEnv("COUNTER_STAGING_DIR", c.Load.StagingDir)
	c.Archive.S3Bucket = getEnv("COUNTER_ARCHIVE_BUCKET", c.Archive.S3Bucket)
	c.HTTP.Addr = getEnv("COUNTER_HTTP_ADDR", c.HTTP.Addr)
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case DriverPostgres:
		if c.Database.Host == "" || c.Database.Name == "" {
			errs = append(errs, errors.New("database.host and database.name are required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver))
	}
	switch c.Load.Strategy {
	case StrategyRowwise, StrategyBulk:
	default:
		errs = append(errs, fmt.Errorf("load.strategy: unknown strategy %q", c.Load.Strategy))
	}
	if _, err := c.IdentityKeys(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// IdentityKeys parses the configured identity keys.
func (c Config) IdentityKeys() (usage.IdentityKeys, error) {
	legacy, err := usage.ParseIdentityKey(c.Load.IdentityKey.Legacy)
	if err != nil {
		return usage.IdentityKeys{}, fmt.Errorf("load.identity_key.legacy: %w", err)
	}
	current, err := usage.ParseIdentityKey(c.Load.IdentityKey.Current)
	if err != nil {
		return usage.IdentityKeys{}, fmt.Errorf("load.identity_key.current: %w", err)
	}
	return usage.IdentityKeys{Legacy: legacy, Current: current}, nil
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func parseInt(s string, def int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}
