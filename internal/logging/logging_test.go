package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevel(t *testing.T) {
	lvl, ok, err := Level(Verbose)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, zapcore.DebugLevel, lvl)

	lvl, ok, err = Level(Normal)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, zapcore.InfoLevel, lvl)

	_, ok, err = Level(Silent)
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = Level("chatty")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	log, err := New(Silent, "json")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.ErrorLevel))

	log, err = New(Normal, "json")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))

	log, err = New(Verbose, "console")
	require.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))

	_, err = New("loud", "json")
	assert.Error(t, err)
}
