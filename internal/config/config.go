package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the reconciler's full runtime configuration.
type Config struct {
	// Deployment profile selects the checkpoint-store backend.
	// Values: "lite" (embedded SQLite, single-node) or "standard" (Postgres, HA).
	Profile DeploymentProfile `mapstructure:"profile"`

	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	BAM        BAMConfig        `mapstructure:"bam"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Log        LogConfig        `mapstructure:"log"`
	Resolver   ResolverConfig   `mapstructure:"resolver"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Executor   ExecutorConfig   `mapstructure:"executor"`
	App        AppConfig        `mapstructure:"app"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// DeploymentProfile selects which checkpoint-store backend is active.
type DeploymentProfile string

const (
	// ProfileLite is a single-node deployment backed by embedded SQLite.
	// No external dependencies. Suitable for ad-hoc imports and CI.
	ProfileLite DeploymentProfile = "lite"

	// ProfileStandard is HA-ready: checkpoints live in PostgreSQL, with an
	// optional Redis layer fronting the path resolver's view-context cache.
	ProfileStandard DeploymentProfile = "standard"
)

// CheckpointConfig holds checkpoint-store backend configuration.
type CheckpointConfig struct {
	// Backend determines the storage implementation.
	// Values: "sqlite" (Lite), "postgres" (Standard).
	Backend          StorageBackend `mapstructure:"backend"`
	SQLitePath       string         `mapstructure:"sqlite_path"`
	CheckpointEvery  int            `mapstructure:"checkpoint_every"`
	ChangelogDir     string         `mapstructure:"changelog_dir"`
}

// BAMConfig holds connection settings for the remote Address-Management API.
type BAMConfig struct {
	URL                    string        `mapstructure:"url"`
	Username               string        `mapstructure:"username"`
	Password               string        `mapstructure:"password"`
	APIVersion             string        `mapstructure:"api_version"`
	VerifySSL              bool          `mapstructure:"verify_ssl"`
	MaxConnections         int           `mapstructure:"max_connections"`
	MaxKeepalive           int           `mapstructure:"max_keepalive"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	AllowDangerousOps      bool          `mapstructure:"allow_dangerous_operations"`
	PageSize               int           `mapstructure:"page_size"`
}

// DatabaseConfig holds PostgreSQL connection settings used by the Standard
// checkpoint-store backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MinConnections  int           `mapstructure:"min_connections"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	URL             string        `mapstructure:"url"`
}

// RedisConfig holds the optional distributed cache layer for the path
// resolver's view-context cache. Unused unless Redis.Addr is set.
type RedisConfig struct {
	Addr            string        `mapstructure:"addr"`
	Password        string        `mapstructure:"password"`
	DB              int           `mapstructure:"db"`
	PoolSize        int           `mapstructure:"pool_size"`
	MinIdleConns    int           `mapstructure:"min_idle_conns"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MinRetryBackoff time.Duration `mapstructure:"min_retry_backoff"`
	MaxRetryBackoff time.Duration `mapstructure:"max_retry_backoff"`
}

// LogConfig holds logging-related configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// ResolverConfig holds path-resolver cache tuning.
type ResolverConfig struct {
	ViewContextTTL   time.Duration `mapstructure:"view_context_ttl"`
	PositiveTTL      time.Duration `mapstructure:"positive_ttl"`
	NegativeTTL      time.Duration `mapstructure:"negative_ttl"`
	InMemorySize     int           `mapstructure:"in_memory_size"`
	OnDiskPath       string        `mapstructure:"on_disk_path"`
}

// ThrottleConfig holds adaptive-throttle tuning.
type ThrottleConfig struct {
	InitialLimit int     `mapstructure:"initial_limit"`
	MinLimit     int     `mapstructure:"min_limit"`
	MaxLimit     int     `mapstructure:"max_limit"`
	ErrorRateHigh float64 `mapstructure:"error_rate_high"`
	ErrorRateLow  float64 `mapstructure:"error_rate_low"`
}

// ExecutorConfig holds executor tuning and failure-policy defaults.
type ExecutorConfig struct {
	FailurePolicy    string        `mapstructure:"failure_policy"`
	ConflictPolicy   string        `mapstructure:"conflict_policy"`
	DryRun           bool          `mapstructure:"dry_run"`
	CheckpointPeriod time.Duration `mapstructure:"checkpoint_period"`
}

// AppConfig holds application-specific configuration.
type AppConfig struct {
	Name          string        `mapstructure:"name"`
	Version       string        `mapstructure:"version"`
	Environment   string        `mapstructure:"environment"`
	Debug         bool          `mapstructure:"debug"`
	Timezone      string        `mapstructure:"timezone"`
	MaxWorkers    int           `mapstructure:"max_workers"`
	WorkerTimeout time.Duration `mapstructure:"worker_timeout"`
}

// MetricsConfig holds metrics-related configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

// StorageBackend represents the checkpoint-store implementation.
type StorageBackend string

const (
	// StorageBackendSQLite uses embedded storage (modernc.org/sqlite).
	// Used by the Lite profile.
	StorageBackendSQLite StorageBackend = "sqlite"

	// StorageBackendPostgres uses PostgreSQL external storage.
	// Used by the Standard profile.
	StorageBackendPostgres StorageBackend = "postgres"
)

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	setDefaults()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if configPath != "" {
		viper.SetConfigFile(configPath)
		viper.SetConfigType("yaml")

		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadConfigFromEnv loads configuration from environment variables only.
func LoadConfigFromEnv() (*Config, error) {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("profile", "lite")
	viper.SetDefault("checkpoint.backend", "sqlite")
	viper.SetDefault("checkpoint.sqlite_path", ".checkpoints/reconciler.db")
	viper.SetDefault("checkpoint.checkpoint_every", 25)
	viper.SetDefault("checkpoint.changelog_dir", ".changelogs")

	viper.SetDefault("bam.url", "")
	viper.SetDefault("bam.username", "")
	viper.SetDefault("bam.password", "")
	viper.SetDefault("bam.api_version", "v2")
	viper.SetDefault("bam.verify_ssl", true)
	viper.SetDefault("bam.max_connections", 50)
	viper.SetDefault("bam.max_keepalive", 20)
	viper.SetDefault("bam.request_timeout", "30s")
	viper.SetDefault("bam.allow_dangerous_operations", false)
	viper.SetDefault("bam.page_size", 500)

	viper.SetDefault("database.driver", "postgres")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.database", "bam_reconciler")
	viper.SetDefault("database.username", "dev")
	viper.SetDefault("database.password", "dev")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 25)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", "1h")
	viper.SetDefault("database.max_conn_idle_time", "30m")
	viper.SetDefault("database.connect_timeout", "10s")
	viper.SetDefault("database.query_timeout", "30s")

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.min_idle_conns", 5)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.min_retry_backoff", "100ms")
	viper.SetDefault("redis.max_retry_backoff", "500ms")

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.filename", "")
	viper.SetDefault("log.max_size", 100)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age", 28)
	viper.SetDefault("log.compress", true)

	viper.SetDefault("resolver.view_context_ttl", "5m")
	viper.SetDefault("resolver.positive_ttl", "1h")
	viper.SetDefault("resolver.negative_ttl", "1m")
	viper.SetDefault("resolver.in_memory_size", 4096)
	viper.SetDefault("resolver.on_disk_path", ".resolver_cache/resolver.db")

	viper.SetDefault("throttle.initial_limit", 8)
	viper.SetDefault("throttle.min_limit", 1)
	viper.SetDefault("throttle.max_limit", 64)
	viper.SetDefault("throttle.error_rate_high", 0.2)
	viper.SetDefault("throttle.error_rate_low", 0.02)

	viper.SetDefault("executor.failure_policy", "fail_group")
	viper.SetDefault("executor.conflict_policy", "fail")
	viper.SetDefault("executor.dry_run", false)
	viper.SetDefault("executor.checkpoint_period", "5s")

	viper.SetDefault("app.name", "bam-reconciler")
	viper.SetDefault("app.version", "1.0.0")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.timezone", "UTC")
	viper.SetDefault("app.max_workers", 10)
	viper.SetDefault("app.worker_timeout", "5m")

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")
	viper.SetDefault("metrics.port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.validateProfile(); err != nil {
		return fmt.Errorf("profile validation failed: %w", err)
	}

	if err := c.validateBAM(); err != nil {
		return fmt.Errorf("bam validation failed: %w", err)
	}

	if c.Profile == ProfileStandard {
		if c.Database.Driver == "" {
			return fmt.Errorf("database driver cannot be empty (required for standard profile)")
		}
		if c.Database.Host == "" {
			return fmt.Errorf("database host cannot be empty (required for standard profile)")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name cannot be empty (required for standard profile)")
		}
	}

	if c.Log.Level == "" {
		return fmt.Errorf("log level cannot be empty")
	}

	if c.App.Name == "" {
		return fmt.Errorf("app name cannot be empty")
	}

	return nil
}

// validateBAM enforces that a configured BAM_URL always carries credentials.
func (c *Config) validateBAM() error {
	if c.BAM.URL == "" {
		return nil
	}
	if c.BAM.Username == "" || c.BAM.Password == "" {
		return fmt.Errorf("bam.url is set but bam.username/bam.password are not both provided")
	}
	return nil
}

func (c *Config) validateProfile() error {
	if c.Profile != ProfileLite && c.Profile != ProfileStandard {
		return fmt.Errorf("invalid deployment profile: %s (must be 'lite' or 'standard')", c.Profile)
	}

	if c.Checkpoint.Backend != StorageBackendSQLite && c.Checkpoint.Backend != StorageBackendPostgres {
		return fmt.Errorf("invalid checkpoint backend: %s (must be 'sqlite' or 'postgres')", c.Checkpoint.Backend)
	}

	switch c.Profile {
	case ProfileLite:
		if c.Checkpoint.Backend != StorageBackendSQLite {
			return fmt.Errorf("lite profile requires checkpoint.backend='sqlite' (got '%s')", c.Checkpoint.Backend)
		}
		if c.Checkpoint.SQLitePath == "" {
			return fmt.Errorf("lite profile requires checkpoint.sqlite_path")
		}
	case ProfileStandard:
		if c.Checkpoint.Backend != StorageBackendPostgres {
			return fmt.Errorf("standard profile requires checkpoint.backend='postgres' (got '%s')", c.Checkpoint.Backend)
		}
	}

	return nil
}

// GetDatabaseURL constructs the Postgres database URL from configuration.
func (c *Config) GetDatabaseURL() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}

	sslMode := c.Database.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	return fmt.Sprintf("%s://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.Driver,
		c.Database.Username,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
		sslMode,
	)
}

// IsDevelopment returns true if the application is running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if the application is running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDebug returns true if debug mode is enabled.
func (c *Config) IsDebug() bool {
	return c.App.Debug || c.IsDevelopment()
}

// IsLiteProfile returns true if running in Lite deployment profile.
func (c *Config) IsLiteProfile() bool {
	return c.Profile == ProfileLite
}

// IsStandardProfile returns true if running in Standard deployment profile.
func (c *Config) IsStandardProfile() bool {
	return c.Profile == ProfileStandard
}

// RequiresPostgres returns true if Postgres is required for this profile.
func (c *Config) RequiresPostgres() bool {
	return c.Profile == ProfileStandard
}

// UsesRedis returns true if the optional Redis resolver cache layer is configured.
func (c *Config) UsesRedis() bool {
	return c.Redis.Addr != ""
}
