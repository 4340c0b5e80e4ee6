package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("MENLO_TEST_DB", "https://menlo-test.firebaseio.com")
	t.Setenv("MENLO_TEST_TOKEN", "secret")

	path := writeConfig(t, `
store:
  base_url: ${MENLO_TEST_DB}
  auth_token: ${MENLO_TEST_TOKEN}
  status_path: system_status
smtp:
  host: smtp.gmail.com
  port: 587
reminders:
  enabled: true
  daily_hour: 9
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://menlo-test.firebaseio.com", cfg.Store.BaseURL)
	assert.Equal(t, "secret", cfg.Store.AuthToken)
	assert.Equal(t, "bookings", cfg.Store.BookingsPath)
	assert.Equal(t, "system_status", cfg.Store.StatusPath)
	assert.Equal(t, "menlo", cfg.Engine.Resource)
	assert.Equal(t, "local", cfg.Lock.Driver)
	assert.Equal(t, "memory", cfg.Reminders.Ledger)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 8090, cfg.Monitoring.HealthCheckPort)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing base url", "http:\n  port: 1\n", "store.base_url is required"},
		{"redis lock without address", "store:\n  base_url: http://x\nlock:\n  driver: redis\n", "lock.driver redis needs redis.address"},
		{"unknown ledger", "store:\n  base_url: http://x\nreminders:\n  ledger: etcd\n", `unknown reminders.ledger "etcd"`},
		{"bad hour", "store:\n  base_url: http://x\nreminders:\n  daily_hour: 24\n", "out of range"},
		{"telemetry without token", "store:\n  base_url: http://x\ntelemetry:\n  enabled: true\n", "telemetry.device_token"},
		{"sheets without id", "store:\n  base_url: http://x\ngoogle:\n  sheets_enabled: true\n", "google.spreadsheet_id"},
		{"malformed yaml", "store: [", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			require.Error(t, err)
			if tt.want != "" {
				assert.Contains(t, err.Error(), tt.want)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDurationsAndLocation(t *testing.T) {
	var cfg Config
	assert.Equal(t, 8*time.Second, cfg.StoreTimeout())
	assert.Equal(t, time.Duration(0), cfg.StatusCacheTTL())
	assert.Equal(t, 30*time.Second, cfg.LockTTL())
	assert.Equal(t, 10*time.Second, cfg.LockWait())
	assert.Equal(t, time.Minute, cfg.StatusInterval())
	assert.Equal(t, 24*time.Hour, cfg.ReportInterval())
	assert.Equal(t, 5*time.Minute, cfg.ReminderRetryInterval())
	assert.Equal(t, time.Duration(0), cfg.ReminderCleanupRetention())

	_, offset := time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 8*3600, offset)

	zero := 0
	cfg.Engine.UTCOffsetHours = &zero
	_, offset = time.Date(2024, 1, 1, 0, 0, 0, 0, cfg.Location()).Zone()
	assert.Equal(t, 0, offset)

	cfg.Store.TimeoutSeconds = 3
	cfg.Store.CacheTTLSeconds = 15
	assert.Equal(t, 3*time.Second, cfg.StoreTimeout())
	assert.Equal(t, 15*time.Second, cfg.StatusCacheTTL())

	cfg.Reminders.CleanupEnabled = true
	assert.Equal(t, 30*24*time.Hour, cfg.ReminderCleanupRetention())
	cfg.Reminders.CleanupRetentionDays = 7
	cfg.Reminders.RetryIntervalMinutes = 2
	assert.Equal(t, 7*24*time.Hour, cfg.ReminderCleanupRetention())
	assert.Equal(t, 2*time.Minute, cfg.ReminderRetryInterval())
}
