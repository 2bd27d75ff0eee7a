package log

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "proxy.log")

	logger := New(path, "debug")
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	logger.WithField("height", 42).Info("New block template")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "New block template")
	assert.Contains(t, string(data), "height=42")
}

func TestNewUnknownLevel(t *testing.T) {
	logger := New("", "chatty")
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}
