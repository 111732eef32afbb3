package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	s := Default()

	assert.False(t, s.FlushDisable)
	assert.False(t, s.TrimDisable)
	assert.Equal(t, 5, s.WriteClaimAttempts)
	assert.Equal(t, 500*time.Millisecond, s.WriteClaimDelay)
	assert.True(t, s.AllowUnverifiedPath)
	assert.Equal(t, 256, s.CompletionQueueDepth)
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, Default(), s)
}
