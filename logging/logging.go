// Package logging builds the zap loggers used by the loader: the process
// logger and the append-only error log.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultErrorLog is the error log path used when none is configured.
const DefaultErrorLog = "errors.log"

// New returns a logger at level ("debug", "info", "warn", "error"; default
// info). format "console" selects the development encoder, anything else
// JSON on stdout.
func New(level, format, service string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(format, "console") {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stdout"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level))

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if service != "" {
		logger = logger.With(zap.String("service_name", service))
	}
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		logger = logger.With(zap.String("hostname", hostname))
	}
	return logger, nil
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// ErrorLog appends one JSON record per failure to a file. Records are never
// rewritten; the file is opened in append mode on every run.
type ErrorLog struct {
	logger *zap.Logger
	file   *os.File
}

// NewErrorLog opens (or creates) the error log at path.
func NewErrorLog(path string) (*ErrorLog, error) {
	if path == "" {
		path = DefaultErrorLog
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create error log directory: %w", err)
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open error log: %w", err)
	}

	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "timestamp"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.AddSync(f), zapcore.ErrorLevel)

	return &ErrorLog{logger: zap.New(core), file: f}, nil
}

// Record appends a failure for file. stack is included when non-empty.
func (l *ErrorLog) Record(file string, err error, stack string) {
	fields := []zap.Field{zap.String("file", file), zap.Error(err)}
	if stack != "" {
		fields = append(fields, zap.String("stack", stack))
	}
	l.logger.Error("report failed", fields...)
}

// RecordRows appends the row numbers of a file that failed validation.
func (l *ErrorLog) RecordRows(file string, rows []int) {
	l.logger.Error("invalid rows", zap.String("file", file), zap.Ints("rows", rows))
}

// Close flushes and closes the file.
func (l *ErrorLog) Close() error {
	_ = l.logger.Sync()
	return l.file.Close()
}
