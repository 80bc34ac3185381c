package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9393, cfg.Port)
	assert.Equal(t, 500, cfg.Backlog)
	assert.Equal(t, 100, cfg.MaxConns)
	assert.Equal(t, 1024, cfg.BufferSize)
	assert.Equal(t, "otp.plan.request", cfg.RequestSubject)
	assert.Equal(t, "otp.plan.reply", cfg.ReplySubject)
	assert.Equal(t, float64(0), cfg.AcceptRate)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("TRIPGATE_PORT", "8080")
	t.Setenv("TRIPGATE_MAX_CONNS", "7")
	t.Setenv("TRIPGATE_NATS_URL", "nats://broker:4222")
	t.Setenv("TRIPGATE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, 7, cfg.MaxConns)
	assert.Equal(t, "nats://broker:4222", cfg.NATSUrl)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadAutoCapacity(t *testing.T) {
	t.Setenv("TRIPGATE_MAX_CONNS", "0")

	cfg, err := Load()
	require.NoError(t, err)

	// Whatever memory the host reports, the derived bound stays sane.
	assert.GreaterOrEqual(t, cfg.MaxConns, minDerivedConns)
	assert.LessOrEqual(t, cfg.MaxConns, maxDerivedConns)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	base := Config{Port: 9393, Backlog: 500, MaxConns: 100, BufferSize: 1024}
	require.NoError(t, base.Validate())

	bad := base
	bad.Port = -1
	assert.Error(t, bad.Validate())

	bad = base
	bad.Port = 70000
	assert.Error(t, bad.Validate())

	bad = base
	bad.Backlog = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.MaxConns = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.BufferSize = 8
	assert.Error(t, bad.Validate())

	bad = base
	bad.AcceptRate = 10
	bad.AcceptBurst = 0
	assert.Error(t, bad.Validate())
}

func TestDeriveMaxConnsBounds(t *testing.T) {
	assert.Equal(t, minDerivedConns, deriveMaxConns(0, 1024), "no limit detected")
	assert.Equal(t, minDerivedConns, deriveMaxConns(16*1024*1024, 1024), "tiny container")
	assert.Equal(t, maxDerivedConns, deriveMaxConns(1<<40, 1024), "huge host capped")

	// 64MiB overhead + 9KiB per connection: 128MiB leaves ~7k slots.
	mid := deriveMaxConns(128*1024*1024, 1024)
	assert.Greater(t, mid, minDerivedConns)
	assert.Less(t, mid, maxDerivedConns)
}
