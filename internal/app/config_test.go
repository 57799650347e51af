package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join("testdata")
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)

	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)
	require.Equal(t, 5433, cfg.Database.Postgres.Port)

	require.Equal(t, "jwt-secret", cfg.Auth.JWT.Secret)
	require.Equal(t, "grochain-test", cfg.Auth.JWT.Issuer)
	require.Equal(t, 30*time.Minute, cfg.Auth.JWT.TTL)

	require.True(t, cfg.Email.SMTP.Enabled)
	require.Equal(t, "smtp.example.com", cfg.Email.SMTP.Host)
	require.Equal(t, 2525, cfg.Email.SMTP.Port)
	require.False(t, cfg.Email.SMTP.UseTLS)
	require.Equal(t, 5*time.Second, cfg.Email.SMTP.Timeout)

	require.True(t, cfg.Gateways.SMS.Enabled)
	require.Equal(t, "https://sms.example.com/send", cfg.Gateways.SMS.URL)
	require.Equal(t, 3*time.Second, cfg.Gateways.SMS.Timeout)
	require.False(t, cfg.Gateways.Push.Enabled)

	require.True(t, cfg.Alerts.Enabled)
	require.Equal(t, 10*time.Minute, cfg.Alerts.Interval)
	require.Equal(t, 100, cfg.Alerts.PageSize)
	require.Equal(t, 4, cfg.Alerts.FanOut)
	require.Equal(t, 5*time.Minute, cfg.Alerts.TickTimeout)

	require.True(t, cfg.Maintenance.Enabled)
	require.Equal(t, "@hourly", cfg.Maintenance.AlertSchedule)
	require.Equal(t, 14, cfg.Maintenance.StaleAlertDays)
	require.Equal(t, 30, cfg.Maintenance.NotificationRetention)

	require.False(t, cfg.Monitoring.Prometheus.Enabled)
	require.True(t, cfg.Monitoring.Health.Enabled)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "info", cfg.Server.LogLevel)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, "grochain", cfg.Auth.JWT.Issuer)
	require.Equal(t, 15*time.Minute, cfg.Auth.JWT.TTL)
	require.Equal(t, 30*time.Minute, cfg.Alerts.Interval)
	require.Equal(t, 200, cfg.Alerts.PageSize)
	require.Equal(t, 8, cfg.Alerts.FanOut)
	require.Equal(t, "@daily", cfg.Maintenance.AlertSchedule)
	require.Equal(t, 90, cfg.Maintenance.NotificationRetention)
	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("GROCHAIN_SERVER_PORT", "9191")
	t.Setenv("GROCHAIN_ALERTS_INTERVAL", "90s")
	t.Setenv("GROCHAIN_AUTH_JWT_SECRET", "env-secret")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 90*time.Second, cfg.Alerts.Interval)
	require.Equal(t, "env-secret", cfg.Auth.JWT.Secret)
}
