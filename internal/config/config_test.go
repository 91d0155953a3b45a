package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/sched")
	t.Setenv("APP_ENV", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("ORG_TIMEZONE", "")
	t.Setenv("APPOINTMENT_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Env)
	assert.True(t, cfg.IsDev())
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.Equal(t, "127.0.0.1:6379", cfg.RedisAddr)
	assert.Equal(t, 30*time.Minute, cfg.AppointmentTTL)
	assert.Equal(t, time.UTC, cfg.Location)
	assert.False(t, cfg.MigrateOnStart)
}

func TestLoadRequiresDSN(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresSecretOutsideDev(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/sched")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.IsDev())
}

func TestLoadRedisURLAndOverrides(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/sched")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("REDIS_URL", "redis://worker:pw@cache:6380")
	t.Setenv("APPOINTMENT_TTL", "90")
	t.Setenv("LOCK_TTL", "2s")
	t.Setenv("LOCK_WAIT", "750ms")
	t.Setenv("MIGRATE_ON_START", "true")
	t.Setenv("ORG_TIMEZONE", "Europe/Madrid")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "cache:6380", cfg.RedisAddr)
	assert.Equal(t, "worker", cfg.RedisUsername)
	assert.Equal(t, "pw", cfg.RedisPassword)
	assert.Equal(t, 90*time.Second, cfg.AppointmentTTL)
	assert.Equal(t, 2*time.Second, cfg.LockTTL)
	assert.Equal(t, 750*time.Millisecond, cfg.LockWait)
	assert.True(t, cfg.MigrateOnStart)
	assert.Equal(t, "Europe/Madrid", cfg.Location.String())
}

func TestLoadRejectsUnknownTimezone(t *testing.T) {
	t.Setenv("POSTGRES_DSN", "postgres://localhost/sched")
	t.Setenv("APP_ENV", "dev")
	t.Setenv("ORG_TIMEZONE", "Mars/Olympus")
	_, err := Load()
	assert.Error(t, err)
}
