package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "jwt")
	t.Setenv("GEMA_CI_SHARED_SECRET", "ci")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, "gema:grading", cfg.ChannelBase)
	require.Equal(t, 10, cfg.LockLimit)
	require.Equal(t, 7*24*time.Hour, cfg.ComplaintWindow)
	require.Equal(t, 30*time.Second, cfg.ClaimTTL)
	require.Equal(t, 5*time.Minute, cfg.BuildTimeout)
	require.Equal(t, 2, cfg.BuildConcurrency)
	require.True(t, cfg.SchedulerEnabled)
	require.False(t, cfg.ArchiveEnabled())
	require.True(t, cfg.Development())
	require.Empty(t, cfg.CORSOrigins)
	require.Equal(t, 20, cfg.DBMaxOpenConns)
	require.Equal(t, 30*time.Minute, cfg.DBConnMaxLifetime)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "jwt")
	t.Setenv("GEMA_CI_SHARED_SECRET", "ci")
	t.Setenv("GEMA_APP_PORT", ":9000")
	t.Setenv("GEMA_ASSESSMENT_LOCK_LIMIT", "3")
	t.Setenv("GEMA_COMPLAINT_WINDOW", "48h")
	t.Setenv("GEMA_SCHEDULER_ENABLED", "false")
	t.Setenv("GEMA_APP_ENV", "production")
	t.Setenv("GEMA_CORS_ORIGINS", "https://gema.test, ,https://admin.gema.test")
	t.Setenv("GEMA_DATABASE_CONN_MAX_LIFETIME", "5m")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.HTTPAddress())
	require.Equal(t, 3, cfg.LockLimit)
	require.Equal(t, 48*time.Hour, cfg.ComplaintWindow)
	require.False(t, cfg.SchedulerEnabled)
	require.False(t, cfg.Development())
	require.Equal(t, []string{"https://gema.test", "https://admin.gema.test"}, cfg.CORSOrigins)
	require.Equal(t, 5*time.Minute, cfg.DBConnMaxLifetime)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "jwt")
	t.Setenv("GEMA_CI_SHARED_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("GEMA_CI_SHARED_SECRET", "ci")
	t.Setenv("GEMA_COMPLAINT_WINDOW", "soon")
	_, err = Load()
	require.Error(t, err)
}
