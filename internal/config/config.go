package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"studyroom/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Booking    BookingConfig    `yaml:"booking"`
	Backup     BackupConfig     `yaml:"backup"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	API        APIConfig        `yaml:"api"`
	Events     EventsConfig     `yaml:"events"`
}

// BookingConfig holds the check-in window and sweep cadence.
type BookingConfig struct {
	Timezone              string        `yaml:"timezone"`
	CheckInEarlyMinutes   int           `yaml:"check_in_early_minutes"`
	CheckInGraceMinutes   int           `yaml:"check_in_grace_minutes"`
	TimeoutMinutes        int           `yaml:"timeout_minutes"`
	TimeoutSweepInterval  time.Duration `yaml:"timeout_sweep_interval"`
	CompleteSweepInterval time.Duration `yaml:"complete_sweep_interval"`
	LockWait              time.Duration `yaml:"lock_wait"`
	LockTTL               time.Duration `yaml:"lock_ttl"`
}

// Location resolves Timezone; empty means the process local zone.
func (b BookingConfig) Location() (*time.Location, error) {
	if b.Timezone == "" || b.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(b.Timezone)
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	HeaderUserID string         `yaml:"header_user_id"`
	// JWTSecret switches caller identity from HeaderUserID to the subject
	// of an HS256 bearer token.
	JWTSecret string         `yaml:"jwt_secret"`
	APIKeys   []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type DatabaseConfig struct {
	Path        string        `yaml:"path"`
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RedisConfig enables the shared lock backend when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// EventsConfig controls forwarding of lifecycle events to a broker.
type EventsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	AMQPURL  string `yaml:"amqp_url"`
	Exchange string `yaml:"exchange"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if _, err := c.Booking.Location(); err != nil {
		return fmt.Errorf("booking.timezone: %w", err)
	}
	if c.Booking.CheckInEarlyMinutes < 0 || c.Booking.CheckInGraceMinutes < 0 || c.Booking.TimeoutMinutes < 0 {
		return errors.New("booking minutes must not be negative")
	}
	if c.Events.Enabled && c.Events.AMQPURL == "" {
		return errors.New("events.amqp_url is required when events are enabled")
	}
	return ValidateAPIKeys(c.API.Auth.APIKeys)
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key '%s' is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client '%s'", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.Auth.HeaderUserID == "" {
		c.API.Auth.HeaderUserID = "X-User-ID"
	}
	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}

	// Booking policy defaults
	if c.Booking.CheckInEarlyMinutes == 0 {
		c.Booking.CheckInEarlyMinutes = models.DefaultCheckInEarlyMinutes
	}
	if c.Booking.CheckInGraceMinutes == 0 {
		c.Booking.CheckInGraceMinutes = models.DefaultCheckInGraceMinutes
	}
	if c.Booking.TimeoutMinutes == 0 {
		c.Booking.TimeoutMinutes = models.DefaultTimeoutMinutes
	}
	if c.Booking.TimeoutSweepInterval == 0 {
		c.Booking.TimeoutSweepInterval = models.DefaultTimeoutSweepInterval * time.Second
	}
	if c.Booking.CompleteSweepInterval == 0 {
		c.Booking.CompleteSweepInterval = models.DefaultCompleteSweepInterval * time.Second
	}
	if c.Booking.LockWait == 0 {
		c.Booking.LockWait = models.DefaultLockWait * time.Second
	}
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = models.DefaultLockTTL * time.Second
	}

	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Events.Exchange == "" {
		c.Events.Exchange = "studyroom.events"
	}
}
