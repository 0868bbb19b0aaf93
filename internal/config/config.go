package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// BackupConfig controls periodic sqlite file backups.
type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	IntervalHours int    `yaml:"interval_hours"`
	StoragePath   string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

type Config struct {
	Server struct {
		Port                int `yaml:"port"`
		ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int `yaml:"write_timeout_seconds"`
	} `yaml:"server"`

	Auth struct {
		JWTSecret      string `yaml:"jwt_secret"`
		CallbackAPIKey string `yaml:"callback_api_key"`
	} `yaml:"auth"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup BackupConfig `yaml:"backup"`

	Redis struct {
		Address             string `yaml:"address"`
		Password            string `yaml:"password"`
		DB                  int    `yaml:"db"`
		SlotCacheTTLSeconds int    `yaml:"slot_cache_ttl_seconds"`
	} `yaml:"redis"`

	AMQP struct {
		URL         string `yaml:"url"`
		RefundQueue string `yaml:"refund_queue"`
		EventsQueue string `yaml:"events_queue"`
	} `yaml:"amqp"`

	Inventory struct {
		Path                 string `yaml:"path"`
		WatchIntervalSeconds int    `yaml:"watch_interval_seconds"`
	} `yaml:"inventory"`

	Scheduling struct {
		Timezone                    string `yaml:"timezone"`
		ReconcileIntervalSeconds    int    `yaml:"reconcile_interval_seconds"`
		CancelGraceMinutes          int    `yaml:"cancel_grace_minutes"`
		PermanentCancelAfterMinutes int    `yaml:"permanent_cancel_after_minutes"`
	} `yaml:"scheduling"`

	RateLimit struct {
		Enabled           bool    `yaml:"enabled"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limit"`

	Reminders struct {
		Enabled              bool   `yaml:"enabled"`
		TelegramBotToken     string `yaml:"telegram_bot_token"`
		MinutesBefore        int    `yaml:"minutes_before"`
		CheckIntervalSeconds int    `yaml:"check_interval_seconds"`
	} `yaml:"reminders"`

	Audit struct {
		Enabled       bool   `yaml:"enabled"`
		ExportDir     string `yaml:"export_dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"audit"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
		GRPCHealthPort    int  `yaml:"grpc_health_port"`
	} `yaml:"monitoring"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if _, err = time.LoadLocation(cfg.Scheduling.Timezone); err != nil {
		return nil, fmt.Errorf("scheduling.timezone: %w", err)
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/stationbook.db"
	}
	if c.Backup.StoragePath == "" {
		c.Backup.StoragePath = "data/backups"
	}
	if c.Inventory.Path == "" {
		c.Inventory.Path = "configs/venues.yaml"
	}
	if c.AMQP.RefundQueue == "" {
		c.AMQP.RefundQueue = "reservation.refund"
	}
	if c.AMQP.EventsQueue == "" {
		c.AMQP.EventsQueue = "reservation.events"
	}
	if c.Scheduling.Timezone == "" {
		c.Scheduling.Timezone = "Local"
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 10
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 20
	}
	if c.Reminders.MinutesBefore <= 0 {
		c.Reminders.MinutesBefore = 10
	}
	if c.Audit.ExportDir == "" {
		c.Audit.ExportDir = "data/audit"
	}
	if c.Monitoring.HealthCheckPort == 0 {
		c.Monitoring.HealthCheckPort = 8090
	}
	if c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}

// Location returns the service timezone. Load has already validated it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduling.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) ReconcileInterval() time.Duration {
	if c.Scheduling.ReconcileIntervalSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Scheduling.ReconcileIntervalSeconds) * time.Second
}

func (c *Config) CancelGrace() time.Duration {
	if c.Scheduling.CancelGraceMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.Scheduling.CancelGraceMinutes) * time.Minute
}

func (c *Config) PermanentCancelAfter() time.Duration {
	if c.Scheduling.PermanentCancelAfterMinutes <= 0 {
		return 10 * time.Minute
	}
	return time.Duration(c.Scheduling.PermanentCancelAfterMinutes) * time.Minute
}

func (c *Config) SlotCacheTTL() time.Duration {
	if c.Redis.SlotCacheTTLSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Redis.SlotCacheTTLSeconds) * time.Second
}

func (c *Config) InventoryWatchInterval() time.Duration {
	if c.Inventory.WatchIntervalSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Inventory.WatchIntervalSeconds) * time.Second
}

func (c *Config) ReminderCheckInterval() time.Duration {
	if c.Reminders.CheckIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.Reminders.CheckIntervalSeconds) * time.Second
}
