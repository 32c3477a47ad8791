package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePlatformFile(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "platform.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/platform.yaml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfigNotFound)
}

func TestLoadValidPlatform(t *testing.T) {
	path := writePlatformFile(t, `
default_max_iterations: 20
default_model: claude-demo
rate_limits_enabled: true
max_iterations_per_minute: 30
`)
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20, p.DefaultMaxIterations)
	assert.Equal(t, "claude-demo", p.DefaultModel)
}

func TestLoadRejectsRateLimitWithoutRate(t *testing.T) {
	path := writePlatformFile(t, `
rate_limits_enabled: true
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidValue)
}

func TestPlatformOverlay(t *testing.T) {
	p := &Platform{DefaultMaxIterations: 25, DefaultModel: "m", RateLimitsEnabled: true, MaxIterationsPerMinute: 10}
	o := p.Overlay()
	require.NotNil(t, o.MaxIterations)
	assert.Equal(t, 25, *o.MaxIterations)
	require.NotNil(t, o.Model)
	assert.Equal(t, "m", *o.Model)
	require.NotNil(t, o.MaxIterationsPerMinute)
	assert.Equal(t, 10.0, *o.MaxIterationsPerMinute)
}

func TestPlatformOverlayMapsTimeoutAndErrorRecovery(t *testing.T) {
	disabled := false
	p := &Platform{DefaultTimeoutPerIterationMs: 5000, EnableErrorRecovery: &disabled}
	o := p.Overlay()
	require.NotNil(t, o.TimeoutPerIteration)
	assert.Equal(t, 5*time.Second, *o.TimeoutPerIteration)
	require.NotNil(t, o.EnableErrorRecovery)
	assert.False(t, *o.EnableErrorRecovery)
}

func TestPlatformOverlayLeavesErrorRecoveryUnsetWhenAbsent(t *testing.T) {
	p := &Platform{DefaultMaxIterations: 10}
	o := p.Overlay()
	assert.Nil(t, o.EnableErrorRecovery)
}

func TestVisibilityForFallsBack(t *testing.T) {
	v := VisibilityDefaults{"operator": "full"}
	assert.Equal(t, "full", v.VisibilityFor("operator", "detail"))
	assert.Equal(t, "detail", v.VisibilityFor("end_user", "detail"))
}

func TestNewIterationLimiterDisabled(t *testing.T) {
	p := &Platform{RateLimitsEnabled: false}
	assert.Nil(t, p.NewIterationLimiter())
}

func TestNewIterationLimiterEnabled(t *testing.T) {
	p := &Platform{RateLimitsEnabled: true, MaxIterationsPerMinute: 60}
	l := p.NewIterationLimiter()
	require.NotNil(t, l)
	assert.True(t, l.Allow())
}
