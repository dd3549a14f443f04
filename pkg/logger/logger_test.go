package logger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel("")
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, l)

	l, err = ParseLevel("WARN")
	require.NoError(t, err)
	require.Equal(t, zapcore.WarnLevel, l)

	_, err = ParseLevel("loud")
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, Config{}.Validate())
	require.NoError(t, Config{Level: "debug", Format: "console"}.Validate())
	require.Error(t, Config{Level: "verbose"}.Validate())
	require.Error(t, Config{Format: "xml"}.Validate())
}

func TestNew_FileOutputAndLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "store.log")
	log, level, err := NewWithLevel(Config{Level: "warn", Format: "json", OutputFile: path})
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept", zap.String("store", "a.store"))
	level.SetLevel(zapcore.DebugLevel)
	log.Debug("now visible")
	require.NoError(t, log.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "kept", first["msg"])
	require.Equal(t, ServiceName, first["service"])
	require.Equal(t, "a.store", first["store"])
	require.Contains(t, lines[1], "now visible")
}
