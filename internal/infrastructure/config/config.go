package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for droidpilot.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device   DeviceConfig   `yaml:"device"`
	Bot      BotConfig      `yaml:"bot"`
	Matcher  MatcherConfig  `yaml:"matcher"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Queue    QueueConfig    `yaml:"queue"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DeviceConfig contains adb transport settings.
type DeviceConfig struct {
	// ADBPath is the adb executable. Default: "adb" (resolved via PATH).
	ADBPath string `yaml:"adb_path"`

	// Serial selects the target device ("emulator-5554", "127.0.0.1:5555").
	// If empty, the first attached device in state "device" is used.
	Serial string `yaml:"serial"`

	// CommandTimeout is the per-command transport deadline in seconds.
	// Default: 30
	CommandTimeout int `yaml:"command_timeout"`

	// SwipeDuration is the default swipe gesture duration in milliseconds.
	// Default: 500
	SwipeDuration int `yaml:"swipe_duration"`

	// RebootTimeout bounds "adb reboot" + "wait-for-device" in seconds.
	// Default: 180
	RebootTimeout int `yaml:"reboot_timeout"`
}

// BotConfig contains settings for a single bot run.
type BotConfig struct {
	// Name identifies the bot in logs, MQTT topics and run history.
	// If empty, the script's own name is used.
	Name string `yaml:"name"`

	// Script is the path to the module descriptor file.
	Script string `yaml:"script"`

	// ImagesDir holds the bot's template images.
	// If empty, "images" next to the script file is used.
	ImagesDir string `yaml:"images_dir"`

	// MaxCycles limits the number of cycles. 0 means unlimited.
	MaxCycles int `yaml:"max_cycles"`

	// MaxTime limits the run duration in minutes. 0 means unlimited.
	MaxTime int `yaml:"max_time"`
}

// MatcherConfig contains template matching settings.
type MatcherConfig struct {
	Threshold float64   `yaml:"threshold"`
	CacheSize int       `yaml:"cache_size"`
	Stride    int       `yaml:"stride"`
	Refine    bool      `yaml:"refine"`
	UseRGB    bool      `yaml:"use_rgb"`
	Scales    []float64 `yaml:"scales"`
}

// MonitorConfig contains crash monitor timing, all in seconds.
type MonitorConfig struct {
	CheckInterval float64 `yaml:"check_interval"`
	JoinTimeout   float64 `yaml:"join_timeout"`
}

// QueueConfig describes the bot queue run by "droidpilot queue".
type QueueConfig struct {
	Jobs          []QueueJobConfig `yaml:"jobs"`
	Repeat        bool             `yaml:"repeat"`
	StopOnFailure bool             `yaml:"stop_on_failure"`

	// GracefulTimeout is how long a worker gets after SIGTERM (seconds).
	GracefulTimeout int `yaml:"graceful_timeout"`

	// HealthCheckInterval is how often device presence is verified
	// while a worker runs (seconds). 0 disables the watchdog.
	HealthCheckInterval int `yaml:"health_check_interval"`

	// RepeatDelay is the pause between passes of a repeating queue (seconds).
	RepeatDelay int `yaml:"repeat_delay"`

	// Retries restarts a failed worker up to this many consecutive times
	// before the job counts as failed. 0 disables restarts.
	Retries int `yaml:"retries"`

	// RetryDelay is the base backoff before a restart (seconds).
	RetryDelay int `yaml:"retry_delay"`

	// StatusInterval is how often a running worker's uptime and restart
	// count are republished (seconds).
	StatusInterval int `yaml:"status_interval"`
}

// QueueJobConfig is a single queued bot.
type QueueJobConfig struct {
	Name      string `yaml:"name"`
	Script    string `yaml:"script"`
	MaxCycles int    `yaml:"max_cycles"`
	MaxTime   int    `yaml:"max_time"`
}

// DatabaseConfig contains SQLite run-history settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string            `yaml:"level"`
	Format string            `yaml:"format"`
	Output string            `yaml:"output"`
	File   FileLoggingConfig `yaml:"file"`
}

// FileLoggingConfig contains file-based logging settings.
// When Path is set, log lines are written to the file in addition to Output.
type FileLoggingConfig struct {
	Path string `yaml:"path"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: DROIDPILOT_SECTION_KEY
// For example: DROIDPILOT_DEVICE_SERIAL, DROIDPILOT_BOT_SCRIPT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. It is used when no config file exists.
func Default() *Config {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	return cfg
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ADBPath:        "adb",
			CommandTimeout: 30,
			SwipeDuration:  500,
			RebootTimeout:  180,
		},
		Matcher: MatcherConfig{
			Threshold: 0.8,
			CacheSize: 1024,
			Stride:    1,
		},
		Monitor: MonitorConfig{
			CheckInterval: 5,
			JoinTimeout:   10,
		},
		Queue: QueueConfig{
			GracefulTimeout:     10,
			HealthCheckInterval: 30,
			RepeatDelay:         5,
			RetryDelay:          5,
			StatusInterval:      30,
		},
		Database: DatabaseConfig{
			Path:        "./data/droidpilot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "droidpilot",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: DROIDPILOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Device
	if v := os.Getenv("DROIDPILOT_ADB_PATH"); v != "" {
		cfg.Device.ADBPath = v
	}
	if v := os.Getenv("DROIDPILOT_DEVICE_SERIAL"); v != "" {
		cfg.Device.Serial = v
	}

	// Bot
	if v := os.Getenv("DROIDPILOT_BOT_SCRIPT"); v != "" {
		cfg.Bot.Script = v
	}
	if v := os.Getenv("DROIDPILOT_BOT_IMAGES_DIR"); v != "" {
		cfg.Bot.ImagesDir = v
	}
	if v := os.Getenv("DROIDPILOT_BOT_MAX_CYCLES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Bot.MaxCycles = n
		}
	}

	// Database
	if v := os.Getenv("DROIDPILOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("DROIDPILOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("DROIDPILOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("DROIDPILOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("DROIDPILOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("DROIDPILOT_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Device validation
	if c.Device.ADBPath == "" {
		errs = append(errs, "device.adb_path is required")
	}
	if c.Device.CommandTimeout <= 0 {
		errs = append(errs, "device.command_timeout must be positive")
	}
	if c.Device.SwipeDuration < 0 {
		errs = append(errs, "device.swipe_duration cannot be negative")
	}

	// Bot validation
	if c.Bot.MaxCycles < 0 {
		errs = append(errs, "bot.max_cycles cannot be negative")
	}
	if c.Bot.MaxTime < 0 {
		errs = append(errs, "bot.max_time cannot be negative")
	}

	// Matcher validation
	if c.Matcher.Threshold <= 0 || c.Matcher.Threshold > 1 {
		errs = append(errs, "matcher.threshold must be in (0, 1]")
	}
	if c.Matcher.CacheSize < 0 {
		errs = append(errs, "matcher.cache_size cannot be negative")
	}
	for _, s := range c.Matcher.Scales {
		if s <= 0 {
			errs = append(errs, "matcher.scales entries must be positive")
			break
		}
	}

	// Monitor validation
	if c.Monitor.CheckInterval <= 0 {
		errs = append(errs, "monitor.check_interval must be positive")
	}
	if c.Monitor.JoinTimeout <= 0 {
		errs = append(errs, "monitor.join_timeout must be positive")
	}

	// Queue validation
	for i, job := range c.Queue.Jobs {
		if job.Script == "" {
			errs = append(errs, fmt.Sprintf("queue.jobs[%d].script is required", i))
		}
		if job.MaxCycles < 0 || job.MaxTime < 0 {
			errs = append(errs, fmt.Sprintf("queue.jobs[%d] limits cannot be negative", i))
		}
	}

	if c.Queue.GracefulTimeout < 0 || c.Queue.HealthCheckInterval < 0 || c.Queue.RepeatDelay < 0 ||
		c.Queue.Retries < 0 || c.Queue.RetryDelay < 0 || c.Queue.StatusInterval < 0 {
		errs = append(errs, "queue timings cannot be negative")
	}

	// Database validation
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when database is enabled")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetCommandTimeout returns the device command timeout as a Duration.
func (c *Config) GetCommandTimeout() time.Duration {
	return time.Duration(c.Device.CommandTimeout) * time.Second
}

// GetSwipeDuration returns the default swipe duration as a Duration.
func (c *Config) GetSwipeDuration() time.Duration {
	return time.Duration(c.Device.SwipeDuration) * time.Millisecond
}

// GetRebootTimeout returns the device reboot timeout as a Duration.
func (c *Config) GetRebootTimeout() time.Duration {
	return time.Duration(c.Device.RebootTimeout) * time.Second
}

// GetCheckInterval returns the crash monitor check interval as a Duration.
func (c *Config) GetCheckInterval() time.Duration {
	return seconds(c.Monitor.CheckInterval)
}

// GetJoinTimeout returns the crash monitor join timeout as a Duration.
func (c *Config) GetJoinTimeout() time.Duration {
	return seconds(c.Monitor.JoinTimeout)
}

// GetMaxTime returns the bot run time limit as a Duration (0 = unlimited).
func (c *Config) GetMaxTime() time.Duration {
	return time.Duration(c.Bot.MaxTime) * time.Minute
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
