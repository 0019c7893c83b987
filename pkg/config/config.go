package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"election_ledger/pkg/utils"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config holds all configuration settings for the application
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Log         LogConfig      `mapstructure:"log"`
	Election    ElectionConfig `mapstructure:"election"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Database    DatabaseConfig `mapstructure:"database"`
	Scheduler   SchedConfig    `mapstructure:"scheduler"`
	Security    SecurityConfig `mapstructure:"security"`
	Metrics     MetricsConfig  `mapstructure:"metrics"`
}

// LogConfig holds log sink settings
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxAge     int    `mapstructure:"max_age"`
	MaxBackups int    `mapstructure:"max_backups"`
	Compress   bool   `mapstructure:"compress"`
	Console    bool   `mapstructure:"console"`
}

// ElectionConfig holds the initial authority and ledger funding
type ElectionConfig struct {
	Administrator  string `mapstructure:"administrator"`
	InitialFunding uint64 `mapstructure:"initial_funding"`
}

// StorageConfig selects the persistence driver
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxConns        int           `mapstructure:"max_conns"`
	MinConns        int           `mapstructure:"min_conns"`
	Timeout         time.Duration `mapstructure:"timeout"`
	Embedded        bool          `mapstructure:"embedded"`
	EmbeddedPort    int           `mapstructure:"embedded_port"`
	EmbeddedDataDir string        `mapstructure:"embedded_data_dir"`
}

// SchedConfig holds scheduler related configuration
type SchedConfig struct {
	PersistSchedule string        `mapstructure:"persist_schedule"`
	MaxConcurrent   int           `mapstructure:"max_concurrent"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
}

// SecurityConfig holds event signing configuration
type SecurityConfig struct {
	KeyFile       string `mapstructure:"key_file"`
	KeyPassphrase string `mapstructure:"key_passphrase"`
	SignEvents    bool   `mapstructure:"sign_events"`
}

// MetricsConfig holds the metrics endpoint settings. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads the configuration file and environment variables.
// A missing file is not an error; defaults and environment apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	v.SetEnvPrefix("ELECTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
// Every key needs a default so that environment overrides are picked up.
func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("log.output_path", "logs/election.log")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_age", 30)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.compress", true)
	v.SetDefault("log.console", true)

	v.SetDefault("election.administrator", "admin")
	v.SetDefault("election.initial_funding", 0)

	v.SetDefault("storage.driver", DriverMemory)
	v.SetDefault("storage.path", "data/election.db")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.embedded", false)
	v.SetDefault("database.embedded_port", 5433)
	v.SetDefault("database.embedded_data_dir", "data/postgres")

	v.SetDefault("scheduler.persist_schedule", "*/30 * * * * *")
	v.SetDefault("scheduler.max_concurrent", 2)
	v.SetDefault("scheduler.retry_attempts", 3)
	v.SetDefault("scheduler.retry_delay", "1s")

	v.SetDefault("security.key_file", "")
	v.SetDefault("security.key_passphrase", "")
	v.SetDefault("security.sign_events", false)

	v.SetDefault("metrics.listen_addr", ":9102")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateLog(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := c.validateElection(); err != nil {
		return fmt.Errorf("election config: %w", err)
	}

	if err := c.validateStorage(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if c.Storage.Driver == DriverPostgres {
		if err := c.validateDatabase(); err != nil {
			return fmt.Errorf("database config: %w", err)
		}
	}

	if err := c.validateScheduler(); err != nil {
		return fmt.Errorf("scheduler config: %w", err)
	}

	if err := c.validateSecurity(); err != nil {
		return fmt.Errorf("security config: %w", err)
	}

	return nil
}

func (c *Config) validateLog() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if c.Log.MaxSize < 0 || c.Log.MaxAge < 0 || c.Log.MaxBackups < 0 {
		return fmt.Errorf("rotation limits cannot be negative")
	}
	return nil
}

func (c *Config) validateElection() error {
	if strings.TrimSpace(c.Election.Administrator) == "" {
		return fmt.Errorf("administrator cannot be empty")
	}
	return nil
}

func (c *Config) validateStorage() error {
	switch c.Storage.Driver {
	case DriverMemory, DriverPostgres:
	case DriverBolt:
		if c.Storage.Path == "" {
			return fmt.Errorf("path is required for the bolt driver")
		}
		c.Storage.Path = filepath.Clean(c.Storage.Path)
	default:
		return fmt.Errorf("unknown driver %q", c.Storage.Driver)
	}
	return nil
}

func (c *Config) validateDatabase() error {
	if c.Database.URL == "" && !c.Database.Embedded {
		return fmt.Errorf("database URL cannot be empty")
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("max_conns must be positive")
	}
	if c.Database.MinConns < 0 || c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("min_conns must be between 0 and max_conns")
	}
	if c.Database.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.Database.Embedded && (c.Database.EmbeddedPort <= 0 || c.Database.EmbeddedPort > 65535) {
		return fmt.Errorf("invalid embedded_port: %d", c.Database.EmbeddedPort)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if strings.TrimSpace(c.Scheduler.PersistSchedule) == "" {
		return fmt.Errorf("persist_schedule cannot be empty")
	}

	if c.Scheduler.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive")
	}

	if c.Scheduler.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts cannot be negative")
	}

	return nil
}

func (c *Config) validateSecurity() error {
	if !c.Security.SignEvents {
		return nil
	}
	if c.Security.KeyFile == "" {
		return fmt.Errorf("key_file is required when sign_events is enabled")
	}
	if c.Security.KeyPassphrase == "" {
		return fmt.Errorf("key_passphrase is required when sign_events is enabled")
	}
	c.Security.KeyFile = filepath.Clean(c.Security.KeyFile)
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// LoggerConfig maps the log settings onto the logger constructor
func (c *Config) LoggerConfig() *utils.LogConfig {
	return &utils.LogConfig{
		Level:      c.GetLogLevel().Level().String(),
		OutputPath: c.Log.OutputPath,
		MaxSize:    c.Log.MaxSize,
		MaxAge:     c.Log.MaxAge,
		MaxBackups: c.Log.MaxBackups,
		Compress:   c.Log.Compress,
		Console:    c.Log.Console,
		Debug:      c.IsDevelopment(),
	}
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
