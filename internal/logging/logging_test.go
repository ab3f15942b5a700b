package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyndonlyu/releasekit/internal/config"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, log.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, log.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, log.ErrorLevel, ParseLevel("error"))
	assert.Equal(t, log.InfoLevel, ParseLevel(""))
	assert.Equal(t, log.InfoLevel, ParseLevel("verbose"))
}

func TestNewWritesToFallback(t *testing.T) {
	var buf bytes.Buffer
	logger, closeFn, err := New(config.LogConfig{Level: "info"}, &buf)
	require.NoError(t, err)
	defer closeFn()

	logger.Debug("hidden")
	logger.Info("tagged", "tag", "v1.0.1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "releasekit")
	assert.Contains(t, out, "tag=v1.0.1")
}

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "release.log")
	logger, closeFn, err := New(config.LogConfig{Level: "debug", File: path}, nil)
	require.NoError(t, err)
	logger.Debug("polling registry", "attempt", 2)
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "polling registry")
}

func TestNewBadFile(t *testing.T) {
	_, _, err := New(config.LogConfig{File: filepath.Join(t.TempDir(), "missing", "x.log")}, nil)
	assert.Error(t, err)
}

func TestOrDiscard(t *testing.T) {
	assert.NotNil(t, OrDiscard(nil))
	l := Discard()
	assert.Same(t, l, OrDiscard(l))
}
