// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store struct {
		BaseURL         string `yaml:"base_url"`
		AuthToken       string `yaml:"auth_token"`
		BookingsPath    string `yaml:"bookings_path"`
		StatusPath      string `yaml:"status_path"`
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
		CacheTTLSeconds int    `yaml:"cache_ttl_seconds"`
	} `yaml:"store"`

	Engine struct {
		Resource       string `yaml:"resource"`
		UTCOffsetHours *int   `yaml:"utc_offset_hours"`
		MaxHorizonDays int    `yaml:"max_horizon_days"`
	} `yaml:"engine"`

	Lock struct {
		Driver      string `yaml:"driver"`
		TTLSeconds  int    `yaml:"ttl_seconds"`
		WaitSeconds int    `yaml:"wait_seconds"`
	} `yaml:"lock"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	SMTP struct {
		Host          string  `yaml:"host"`
		Port          int     `yaml:"port"`
		Username      string  `yaml:"username"`
		Password      string  `yaml:"password"`
		From          string  `yaml:"from"`
		RatePerSecond float64 `yaml:"rate_per_second"`
	} `yaml:"smtp"`

	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Telemetry struct {
		Enabled               bool   `yaml:"enabled"`
		BaseURL               string `yaml:"base_url"`
		DeviceToken           string `yaml:"device_token"`
		QueueSize             int    `yaml:"queue_size"`
		StatusIntervalSeconds int    `yaml:"status_interval_seconds"`
	} `yaml:"telemetry"`

	Reminders struct {
		Enabled              bool   `yaml:"enabled"`
		DailyHour            int    `yaml:"daily_hour"`
		DailyMinute          int    `yaml:"daily_minute"`
		Ledger               string `yaml:"ledger"`
		SQLitePath           string `yaml:"sqlite_path"`
		MaxRetries           int    `yaml:"max_retries"`
		// RetryIntervalMinutes spaces repeats of a daily run that did not finish.
		RetryIntervalMinutes int    `yaml:"retry_interval_minutes"`
		CleanupEnabled       bool   `yaml:"cleanup_enabled"`
		CleanupRetentionDays int    `yaml:"cleanup_retention_days"`
	} `yaml:"reminders"`

	Google struct {
		SheetsEnabled   bool   `yaml:"sheets_enabled"`
		CredentialsFile string `yaml:"credentials_file"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		SheetName       string `yaml:"sheet_name"`
	} `yaml:"google"`

	Report struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"report"`

	HTTP struct {
		Port int `yaml:"port"`
	} `yaml:"http"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// Load reads path (default configs/config.yaml). A .env file next to the
// working directory is loaded first, so ${VAR} placeholders can refer to it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.BookingsPath == "" {
		c.Store.BookingsPath = "bookings"
	}
	if c.Store.StatusPath == "" {
		c.Store.StatusPath = "menlo_status"
	}
	if c.Engine.Resource == "" {
		c.Engine.Resource = "menlo"
	}
	if c.Lock.Driver == "" {
		c.Lock.Driver = "local"
	}
	if c.Reminders.Ledger == "" {
		c.Reminders.Ledger = "memory"
	}
	if c.Reminders.SQLitePath == "" {
		c.Reminders.SQLitePath = "data/reminders.db"
	}
	if c.Report.Path == "" {
		c.Report.Path = "data/snapshots"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 8080
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	var problems []string
	if c.Store.BaseURL == "" {
		problems = append(problems, "store.base_url is required")
	}
	switch c.Lock.Driver {
	case "local", "none":
	case "redis":
		if c.Redis.Address == "" {
			problems = append(problems, "lock.driver redis needs redis.address")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown lock.driver %q", c.Lock.Driver))
	}
	switch c.Reminders.Ledger {
	case "memory", "sqlite":
	case "redis":
		if c.Redis.Address == "" {
			problems = append(problems, "reminders.ledger redis needs redis.address")
		}
	default:
		problems = append(problems, fmt.Sprintf("unknown reminders.ledger %q", c.Reminders.Ledger))
	}
	if c.Reminders.DailyHour < 0 || c.Reminders.DailyHour > 23 || c.Reminders.DailyMinute < 0 || c.Reminders.DailyMinute > 59 {
		problems = append(problems, "reminders.daily_hour/daily_minute out of range")
	}
	if c.Telemetry.Enabled && c.Telemetry.DeviceToken == "" {
		problems = append(problems, "telemetry.device_token is required when telemetry is enabled")
	}
	if c.Google.SheetsEnabled && c.Google.SpreadsheetID == "" {
		problems = append(problems, "google.spreadsheet_id is required when sheets are enabled")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Location is the fixed zone the lab runs in, UTC+8 unless configured.
func (c *Config) Location() *time.Location {
	hours := 8
	if c.Engine.UTCOffsetHours != nil {
		hours = *c.Engine.UTCOffsetHours
	}
	return time.FixedZone(fmt.Sprintf("UTC%+d", hours), hours*3600)
}

func (c *Config) StoreTimeout() time.Duration {
	if c.Store.TimeoutSeconds <= 0 {
		return 8 * time.Second
	}
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

func (c *Config) StatusCacheTTL() time.Duration {
	return time.Duration(c.Store.CacheTTLSeconds) * time.Second
}

func (c *Config) LockTTL() time.Duration {
	if c.Lock.TTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}

func (c *Config) LockWait() time.Duration {
	if c.Lock.WaitSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Lock.WaitSeconds) * time.Second
}

func (c *Config) StatusInterval() time.Duration {
	if c.Telemetry.StatusIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Telemetry.StatusIntervalSeconds) * time.Second
}

func (c *Config) ReportInterval() time.Duration {
	if c.Report.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Report.IntervalHours) * time.Hour
}

func (c *Config) ReminderRetryInterval() time.Duration {
	if c.Reminders.RetryIntervalMinutes <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Reminders.RetryIntervalMinutes) * time.Minute
}

// ReminderCleanupRetention is zero when ledger cleanup is disabled.
func (c *Config) ReminderCleanupRetention() time.Duration {
	if !c.Reminders.CleanupEnabled {
		return 0
	}
	days := c.Reminders.CleanupRetentionDays
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
