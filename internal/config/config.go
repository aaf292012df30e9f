package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Timezone string         `yaml:"timezone"`           // IANA name, e.g. "Europe/Zurich"
	Schedule string         `yaml:"schedule"`           // Cron spec for the daily trigger
	Database DatabaseConfig `yaml:"database"`
	Meter    MeterConfig    `yaml:"meter"`
	Logging  LoggingConfig  `yaml:"logging"`
	MQTT     MQTTConfig     `yaml:"mqtt,omitempty"`
	InfluxDB InfluxDBConfig `yaml:"influxdb,omitempty"`
}

// DatabaseConfig holds the SQLite registry settings
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout,omitempty"` // Seconds
}

// MeterConfig holds the device energy endpoint settings
type MeterConfig struct {
	Scheme   string `yaml:"scheme,omitempty"`   // "http" or "https"
	Path     string `yaml:"path"`               // e.g., "/api/energy/month"
	Field    string `yaml:"field"`              // JSON field holding month-to-date kWh
	Username string `yaml:"username,omitempty"` // Usually supplied via environment
	Password string `yaml:"password,omitempty"`
	Timeout  int    `yaml:"timeout,omitempty"` // Seconds per request
}

// LoggingConfig holds structured logging settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text, auto
	Output string `yaml:"output"` // stdout, stderr
}

// MQTTConfig holds settlement publishing settings
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	ClientID    string `yaml:"client_id,omitempty"`
}

// InfluxDBConfig holds settlement time-series settings
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		Timezone: "Europe/Zurich",
		Schedule: "55 23 * * *",
		Database: DatabaseConfig{
			Path:        "data.db",
			BusyTimeout: 5,
		},
		Meter: MeterConfig{
			Scheme:  "http",
			Path:    "/api/energy/month",
			Field:   "month_energy",
			Timeout: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Output: "stdout",
		},
		MQTT: MQTTConfig{
			TopicPrefix: "monthclose",
			ClientID:    "monthclose",
		},
	}
}

// Load reads the config file, applies MONTHCLOSE_* environment overrides
// and validates the result. A missing file yields the defaults.
func Load(configPath string) (*Config, error) {
	cfg, err := Read(configPath)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Read is Load without validation, for commands that only touch the database
func Read(configPath string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(configPath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern MONTHCLOSE_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MONTHCLOSE_TIMEZONE"); v != "" {
		cfg.Timezone = v
	}
	if v := os.Getenv("MONTHCLOSE_SCHEDULE"); v != "" {
		cfg.Schedule = v
	}
	if v := os.Getenv("MONTHCLOSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Meter credentials are normally only supplied this way
	if v := os.Getenv("MONTHCLOSE_METER_USERNAME"); v != "" {
		cfg.Meter.Username = v
	}
	if v := os.Getenv("MONTHCLOSE_METER_PASSWORD"); v != "" {
		cfg.Meter.Password = v
	}
	if v := os.Getenv("MONTHCLOSE_METER_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Meter.Timeout = n
		}
	}

	if v := os.Getenv("MONTHCLOSE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MONTHCLOSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MONTHCLOSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}
	if v := os.Getenv("MONTHCLOSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs []string

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Sprintf("timezone %q is not a valid IANA name", c.Timezone))
	}
	if sched, err := cron.ParseStandard(c.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("schedule %q is not a valid cron spec", c.Schedule))
	} else if !armsWindow(sched, c.Location()) {
		errs = append(errs, fmt.Sprintf("schedule %q does not fire between 23:01 and 23:55 on the last day of every month", c.Schedule))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Meter.Username == "" || c.Meter.Password == "" {
		errs = append(errs, "meter credentials are required (set MONTHCLOSE_METER_USERNAME and MONTHCLOSE_METER_PASSWORD)")
	}
	if c.Meter.Field == "" {
		errs = append(errs, "meter.field is required")
	}
	switch c.Meter.Scheme {
	case "http", "https":
	default:
		errs = append(errs, "meter.scheme must be http or https")
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, "mqtt.broker is required when mqtt is enabled")
	}
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Location returns the configured timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// GetMeterTimeout returns the per-request meter timeout with a default of 10s
func (c *Config) GetMeterTimeout() time.Duration {
	if c.Meter.Timeout <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Meter.Timeout) * time.Second
}

// armsWindow reports whether sched triggers on the last day of every month
// late enough to survive the minute-zero exit and early enough to see 23:55.
// A leap year is used so February 29 is covered.
func armsWindow(sched cron.Schedule, loc *time.Location) bool {
	const year = 2028
	for m := time.January; m <= time.December; m++ {
		lastDay := time.Date(year, m+1, 0, 0, 0, 0, 0, loc).Day()
		from := time.Date(year, m, lastDay, 23, 0, 0, 0, loc)
		next := sched.Next(from)
		if next.IsZero() || next.Day() != lastDay || next.Hour() != 23 || next.Minute() > 55 {
			return false
		}
	}
	return true
}
