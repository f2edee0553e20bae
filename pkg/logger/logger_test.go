package logger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(&LogConfig{Level: "shouting"}, "production")
	assert.Error(t, err)
}

func TestInitWithFile(t *testing.T) {
	defer Set(zap.NewNop())
	cfg := &LogConfig{Level: "debug", Filename: filepath.Join(t.TempDir(), "app.log")}
	require.NoError(t, Init(cfg, "development"))
	Info("hello", zap.String("k", "v"))
	Sync()
	assert.FileExists(t, cfg.Filename)
}

func TestPackageFunctionsUseCurrentLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	Set(zap.New(core))
	defer Set(zap.NewNop())

	Warn("disk almost full", zap.Int("pct", 91))
	Error("boom")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "disk almost full", entries[0].Message)
	assert.Equal(t, int64(91), entries[0].ContextMap()["pct"])
}
