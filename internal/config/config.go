package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
)

type Config struct {
	Environment string `toml:"environment"`
	Host        string `toml:"host"`
	Port        int    `toml:"port"`
	MetricsPort int    `toml:"metrics_port"`

	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	LogFormatJSON bool   `toml:"log_format_json"`
	SentryEnabled bool   `toml:"sentry_enabled"`

	// workout
	TargetMinutes     int     `toml:"target_minutes"`
	ThresholdFraction float64 `toml:"threshold_fraction"`
	WeeklyGoal        int     `toml:"weekly_goal"`
	FirstDayOfWeek    string  `toml:"first_day_of_week"`
	TimeZone          string  `toml:"time_zone"`
	StreakPolicy      string  `toml:"streak_policy"`

	// sessions
	ServerTicks        bool          `toml:"server_ticks"`
	SessionIdleTimeout time.Duration `toml:"session_idle_timeout"`

	// storage
	StorageBackend string `toml:"storage_backend"`
	Profile        string `toml:"profile"`
	ProgressFile   string `toml:"progress_file"`
	SQLitePath     string `toml:"sqlite_path"`
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	RedisHost      string `toml:"redis_host"`
	RedisPort      string `toml:"redis_port"`

	// stats cache, in megabytes
	StatsCacheSizeMB int `toml:"stats_cache_size_mb"`

	// rate limit of progress imports, per client IP
	ImportsPerMinute int `toml:"imports_per_minute"`

	// drive backup
	BackupEnabled        bool          `toml:"backup_enabled"`
	BackupInterval       time.Duration `toml:"backup_interval"`
	DriveFolderID        string        `toml:"drive_folder_id"`
	DriveCredentialsFile string        `toml:"drive_credentials_file"`
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	switch strings.ToLower(env) {
	case "dev", "development":
		return t.Development, nil
	case "prod", "production":
		return t.Production, nil
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
}

// Load reads the TOML file at path and returns the section for env,
// with defaults applied and validated.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return FromToml(&t, env)
}

// Parse is Load for an in-memory TOML document.
func Parse(env, data string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(data, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return FromToml(&t, env)
}

func FromToml(t *Toml, env string) (*Config, error) {
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config section for env [%s] missing", env)
	}

	cfg.ApplyDefaults()
	if cfg.Environment == "" {
		cfg.Environment = strings.ToLower(env)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config for env [%s]: %w", env, err)
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 9000
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 2112
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.TargetMinutes == 0 {
		c.TargetMinutes = 45
	}
	if c.ThresholdFraction == 0 {
		c.ThresholdFraction = 0.8
	}
	if c.WeeklyGoal == 0 {
		c.WeeklyGoal = 5
	}
	if c.FirstDayOfWeek == "" {
		c.FirstDayOfWeek = "sunday"
	}
	if c.StreakPolicy == "" {
		c.StreakPolicy = "today_or_yesterday"
	}
	if c.SessionIdleTimeout == 0 {
		c.SessionIdleTimeout = 3 * time.Hour
	}
	if c.StorageBackend == "" {
		c.StorageBackend = StorageFile
	}
	if c.Profile == "" {
		c.Profile = "default"
	}
	if c.ProgressFile == "" {
		c.ProgressFile = "./data/progress.json"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "./data/progress.db"
	}
	if c.RedisHost == "" {
		c.RedisHost = "localhost"
	}
	if c.RedisPort == "" {
		c.RedisPort = "6379"
	}
	if c.StatsCacheSizeMB == 0 {
		c.StatsCacheSizeMB = 1
	}
	if c.ImportsPerMinute == 0 {
		c.ImportsPerMinute = 5
	}
	if c.BackupInterval == 0 {
		c.BackupInterval = 24 * time.Hour
	}
}

// Validate checks value ranges only. Workout values are re-validated
// by the packages that consume them.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.MetricsPort <= 0 || c.MetricsPort > 65535 || c.MetricsPort == c.Port {
		errs = append(errs, fmt.Errorf("metrics port %d invalid", c.MetricsPort))
	}
	if c.TargetMinutes <= 0 {
		errs = append(errs, fmt.Errorf("target minutes must be positive, got %d", c.TargetMinutes))
	}
	if c.ThresholdFraction <= 0 || c.ThresholdFraction > 1 {
		errs = append(errs, fmt.Errorf("threshold fraction must be in (0, 1], got %v", c.ThresholdFraction))
	}
	if c.WeeklyGoal <= 0 || c.WeeklyGoal > 7 {
		errs = append(errs, fmt.Errorf("weekly goal must be in [1, 7], got %d", c.WeeklyGoal))
	}
	if c.TimeZone != "" {
		if _, err := time.LoadLocation(c.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("time zone: %w", err))
		}
	}
	switch c.StorageBackend {
	case StorageMemory, StorageFile, StorageSQLite, StorageRedis:
	case StoragePostgres:
		if c.PostgresHost == "" || c.PostgresPort == "" || c.PostgresDBName == "" {
			errs = append(errs, errors.New("postgres storage needs host, port and db name"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend [%s]", c.StorageBackend))
	}
	if c.BackupEnabled && (c.DriveFolderID == "" || c.DriveCredentialsFile == "") {
		errs = append(errs, errors.New("backup needs drive folder id and credentials file"))
	}
	return errors.Join(errs...)
}

// Location returns the configured time zone, Local when empty.
func (c *Config) Location() *time.Location {
	if c.TimeZone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.Local
	}
	return loc
}
