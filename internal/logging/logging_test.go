package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":      zapcore.DebugLevel,
		"dev":        zapcore.DebugLevel,
		"INFO":       zapcore.InfoLevel,
		"warning":    zapcore.WarnLevel,
		"production": zapcore.ErrorLevel,
		"":           zapcore.ErrorLevel,
		"nonsense":   zapcore.ErrorLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	l := New(Options{Level: "warn"})
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestPionFactoryBridgesToZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := &PionFactory{Logger: zap.New(core)}

	l := f.NewLogger("ice")
	l.Trace("dropped")
	l.Debugf("gathering %d", 3)
	l.Warn("slow")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "gathering 3", entries[0].Message)
	assert.Equal(t, "ice", entries[0].ContextMap()["scope"])
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
}

func TestNewWritesFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "screenlink.log")
	l := New(Options{Level: "info", File: path, MaxSizeMB: 1})
	l.Info("relay listening", zap.String("addr", ":8080"))
	l.Debug("below level")
	_ = l.Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"relay listening"`)
	assert.Contains(t, string(data), `"addr":":8080"`)
	assert.NotContains(t, string(data), "below level")
}
