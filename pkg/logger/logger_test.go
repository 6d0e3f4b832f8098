package logger

import (
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	closer, err := Setup(Options{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.Nil(t, closer)
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.IsType(t, &log.JSONFormatter{}, log.StandardLogger().Formatter)

	closer, err = Setup(Options{Level: "info", File: filepath.Join(t.TempDir(), "app.log"), MaxSizeMB: 1})
	require.NoError(t, err)
	require.NotNil(t, closer)
	assert.NoError(t, closer.Close())
}

func TestSetupInvalidLevel(t *testing.T) {
	_, err := Setup(Options{Level: "loud"})
	assert.Error(t, err)
}
