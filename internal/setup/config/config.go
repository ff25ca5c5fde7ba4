package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidConfig         = errors.New("invalid config value")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.1.0"

// CurrentCommonVersion is the current version of common.toml.
const CurrentCommonVersion = 1

// Vote backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Vote lockers.
const (
	LockerLocal = "local"
	LockerRedis = "redis"
)

// Config represents the entire application configuration.
type Config struct {
	Common CommonConfig
}

// CommonConfig contains configuration shared by every binary.
type CommonConfig struct {
	// Version of the common config.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	API        API        `koanf:"api"`
	Vote       Vote       `koanf:"vote"`
	Reconcile  Reconcile  `koanf:"reconcile"`
	Telemetry  Telemetry  `koanf:"telemetry"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log session directories to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Log to stdout only, without session log files.
	ConsoleOnly bool `koanf:"console_only"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Require TLS for the connection.
	TLS bool `koanf:"tls"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
	// Queries slower than this many milliseconds are logged as warnings.
	SlowQueryMS int `koanf:"slow_query_ms"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// API contains REST API configuration.
type API struct {
	Server Server `koanf:"server"`
}

// Server contains HTTP server configuration.
type Server struct {
	// Host address to listen on.
	Host string `koanf:"host"`
	// Port to listen on.
	Port int `koanf:"port"`
	// Read timeout in milliseconds.
	ReadTimeoutMS int `koanf:"read_timeout_ms"`
	// Write timeout in milliseconds.
	WriteTimeoutMS int `koanf:"write_timeout_ms"`
	// Maximum request body size in bytes.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
	// Header carrying the authenticated username.
	UserHeader string `koanf:"user_header"`
}

// Vote contains vote aggregation configuration.
type Vote struct {
	// Storage backend (postgres, memory).
	Backend string `koanf:"backend"`
	// Per-key serialization (local, redis).
	Locker string `koanf:"locker"`
	// Redis lock lease in milliseconds.
	LockTTLMS int `koanf:"lock_ttl_ms"`
	// Maximum wait for a busy lock in milliseconds.
	LockWaitMS int `koanf:"lock_wait_ms"`
	// Ledger commit timeout in milliseconds.
	CommitTimeoutMS int `koanf:"commit_timeout_ms"`
}

// Reconcile contains counter reconciliation configuration.
type Reconcile struct {
	// Interval between runs in seconds, zero disables the background run.
	IntervalSeconds int `koanf:"interval_seconds"`
	// Number of answers checked concurrently.
	Workers int `koanf:"workers"`
	// Overwrite drifted counters instead of only reporting them.
	Repair bool `koanf:"repair"`
}

// Telemetry contains tracing configuration.
type Telemetry struct {
	// Uptrace DSN, empty disables trace export.
	UptraceDSN string `koanf:"uptrace_dsn"`
	// Service name reported with traces.
	ServiceName string `koanf:"service_name"`
	// Deployment environment reported with traces.
	Environment string `koanf:"environment"`
}

// LockTTL returns the Redis lock lease.
func (v *Vote) LockTTL() time.Duration {
	return time.Duration(v.LockTTLMS) * time.Millisecond
}

// LockWait returns the maximum wait for a busy lock.
func (v *Vote) LockWait() time.Duration {
	return time.Duration(v.LockWaitMS) * time.Millisecond
}

// CommitTimeout returns the ledger commit timeout.
func (v *Vote) CommitTimeout() time.Duration {
	return time.Duration(v.CommitTimeoutMS) * time.Millisecond
}

// Interval returns the time between background reconciliation runs.
func (r *Reconcile) Interval() time.Duration {
	return time.Duration(r.IntervalSeconds) * time.Second
}

// SearchPaths lists the directories searched for config files.
func SearchPaths() ([]string, error) {
	// Get user's home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return []string{
		".answervote",
		homeDir + "/.answervote/config",
		"/etc/answervote/config",
		"/app/config",
		"config",
		".",
	}, nil
}

// LoadConfig loads the configuration from the first directory that holds
// common.toml. Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	configPaths, err := SearchPaths()
	if err != nil {
		return nil, "", err
	}
	return LoadConfigFrom(configPaths...)
}

// LoadConfigFrom loads the configuration from the given search paths.
func LoadConfigFrom(configPaths ...string) (*Config, string, error) {
	k := koanf.New(".")

	var usedConfigPath string
	for _, path := range configPaths {
		configPath := filepath.Join(path, "common.toml")
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: common.toml", ErrConfigFileNotFound)
	}

	var config Config
	if err := k.Unmarshal("", &config.Common); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Check versions for each config file
	if err := checkConfigVersion("common", config.Common.Version, CurrentCommonVersion); err != nil {
		return nil, "", err
	}

	config.Common.applyDefaults()

	if err := config.Common.validate(); err != nil {
		return nil, "", err
	}

	return &config, usedConfigPath, nil
}

// applyDefaults fills zero values with working defaults.
func (c *CommonConfig) applyDefaults() {
	setDefault(&c.Debug.LogLevel, "info")
	setDefault(&c.Debug.MaxLogsToKeep, 10)

	setDefault(&c.PostgreSQL.Host, "localhost")
	setDefault(&c.PostgreSQL.Port, 5432)
	setDefault(&c.PostgreSQL.MaxOpenConns, 20)
	setDefault(&c.PostgreSQL.MaxIdleConns, 10)
	setDefault(&c.PostgreSQL.MaxLifetime, 30)
	setDefault(&c.PostgreSQL.MaxIdleTime, 5)
	setDefault(&c.PostgreSQL.SlowQueryMS, 250)

	setDefault(&c.Redis.Host, "localhost")
	setDefault(&c.Redis.Port, 6379)

	setDefault(&c.API.Server.Host, "0.0.0.0")
	setDefault(&c.API.Server.Port, 8080)
	setDefault(&c.API.Server.ReadTimeoutMS, 5000)
	setDefault(&c.API.Server.WriteTimeoutMS, 10000)
	setDefault(&c.API.Server.MaxBodyBytes, int64(4096))
	setDefault(&c.API.Server.UserHeader, "X-Username")

	setDefault(&c.Vote.Backend, BackendPostgres)
	setDefault(&c.Vote.Locker, LockerLocal)
	setDefault(&c.Vote.LockTTLMS, 10000)
	setDefault(&c.Vote.LockWaitMS, 5000)
	setDefault(&c.Vote.CommitTimeoutMS, 5000)

	setDefault(&c.Reconcile.Workers, 4)

	setDefault(&c.Telemetry.ServiceName, "answervote")
	setDefault(&c.Telemetry.Environment, "production")
}

// validate rejects values the binaries cannot run with.
func (c *CommonConfig) validate() error {
	switch c.Vote.Backend {
	case BackendPostgres, BackendMemory:
	default:
		return fmt.Errorf("%w: vote.backend %q", ErrInvalidConfig, c.Vote.Backend)
	}

	switch c.Vote.Locker {
	case LockerLocal, LockerRedis:
	default:
		return fmt.Errorf("%w: vote.locker %q", ErrInvalidConfig, c.Vote.Locker)
	}

	if c.Vote.Locker == LockerRedis && c.Vote.LockTTLMS <= c.Vote.CommitTimeoutMS {
		return fmt.Errorf("%w: vote.lock_ttl_ms must exceed vote.commit_timeout_ms", ErrInvalidConfig)
	}

	return nil
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(name string, current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s.toml", ErrConfigVersionMissing, name)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s.toml (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/answervote/tree/%s/config/%s.toml",
			ErrConfigVersionMismatch,
			name,
			current,
			expected,
			RepositoryVersion,
			name,
		)
	}

	return nil
}
