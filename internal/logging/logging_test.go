package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/delta10/wms-server/internal/config"
)

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := New(config.Logging{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zap.DebugLevel))

	logger, err = New(config.Logging{Level: "warn", Format: "json"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zap.InfoLevel))
	assert.True(t, logger.Core().Enabled(zap.ErrorLevel))
}

func TestNewErrors(t *testing.T) {
	t.Parallel()

	_, err := New(config.Logging{Level: "loud", Format: "json"})
	assert.Error(t, err)

	_, err = New(config.Logging{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
