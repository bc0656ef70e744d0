package logging_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/cubl/counter-loader/logging"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, logging.ParseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, logging.ParseLevel("warn"))
	assert.Equal(t, zapcore.InfoLevel, logging.ParseLevel("verbose"))
}

func TestErrorLog_Appends(t *testing.T) {
	// GIVEN: An error log that already holds one record
	// WHEN: It is reopened and another record is written
	// THEN: Both records are in the file, oldest first
	path := filepath.Join(t.TempDir(), "logs", "errors.log")

	first, err := logging.NewErrorLog(path)
	require.NoError(t, err)
	first.Record("a.xlsx", errors.New("bad header"), "")
	require.NoError(t, first.Close())

	second, err := logging.NewErrorLog(path)
	require.NoError(t, err)
	second.Record("b.xlsx", errors.New("panic: boom"), "goroutine 1 [running]")
	second.RecordRows("c.xlsx", []int{12, 14})
	require.NoError(t, second.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "a.xlsx", rec["file"])
	assert.Equal(t, "bad header", rec["error"])
	assert.NotEmpty(t, rec["timestamp"])

	require.NoError(t, json.Unmarshal([]byte(lines[1]), &rec))
	assert.Equal(t, "goroutine 1 [running]", rec["stack"])

	rec = nil
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &rec))
	assert.Equal(t, []any{float64(12), float64(14)}, rec["rows"])
}
