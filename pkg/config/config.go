package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/quorum/pkg/database"
	"github.com/platinummonkey/quorum/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database database.Config

	// Graph store configuration
	Graph GraphConfig

	// Authorization configuration
	Authz AuthzConfig

	// Mirror configuration
	Mirror MirrorConfig

	// Audit configuration
	Audit AuditConfig

	// Seed configuration
	Seed SeedConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds the ops HTTP server configuration (health and metrics)
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return s.Host + ":" + s.Port
}

// GraphConfig holds graph store settings
type GraphConfig struct {
	RelationTypeCacheSize int
}

// AuthzConfig holds authorization settings
type AuthzConfig struct {
	// BypassPermission skips resource capability checks for its holders.
	BypassPermission string
}

// MirrorConfig holds secondary graph mirror settings
type MirrorConfig struct {
	Enabled bool
	// Backend is "redis" or "nats".
	Backend        string
	SubjectPrefix  string
	Workers        int
	QueueSize      int
	PublishTimeout time.Duration

	// ResyncSchedule is a cron spec; empty disables scheduled resyncs.
	ResyncSchedule string
	ResyncTimeout  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL string
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	// Database stores audit events in the main database.
	Database bool
	// FilePath, when set, also writes audit events to rotating files there.
	FilePath        string
	RetentionDays   int
	CleanupSchedule string
}

// SeedConfig holds ontology seed file settings
type SeedConfig struct {
	Path     string
	Watch    bool
	Debounce time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string

	// Metrics
	MetricsEnabled bool

	// OpenTelemetry
	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool // Use insecure gRPC connection
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Graph:         loadGraphConfig(),
		Authz:         loadAuthzConfig(),
		Mirror:        loadMirrorConfig(),
		Audit:         loadAuditConfig(),
		Seed:          loadSeedConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("QUORUM_HOST", "0.0.0.0"),
		Port:            getEnv("QUORUM_PORT", "9090"),
		ReadTimeout:     getEnvDuration("QUORUM_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("QUORUM_WRITE_TIMEOUT", 15*time.Second),
		ShutdownTimeout: getEnvDuration("QUORUM_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

// loadDatabaseConfig loads database configuration from environment
func loadDatabaseConfig() database.Config {
	cfg := database.DefaultConfig(
		database.Dialect(getEnv("QUORUM_DB_DRIVER", string(database.SQLite))),
		getEnv("QUORUM_DATABASE_URL", "file:quorum.db"),
	)

	if maxConns := getEnvInt("QUORUM_DB_MAX_CONNS", 0); maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns := getEnvInt("QUORUM_DB_MIN_CONNS", 0); minConns > 0 {
		cfg.MinConns = minConns
	}
	if timeout := getEnvDuration("QUORUM_DB_TIMEOUT", 0); timeout > 0 {
		cfg.Timeout = timeout
	}
	if lifetime := getEnvDuration("QUORUM_DB_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.MaxLifetime = lifetime
	}

	return cfg
}

func loadGraphConfig() GraphConfig {
	return GraphConfig{
		RelationTypeCacheSize: getEnvInt("QUORUM_RELATION_TYPE_CACHE_SIZE", 256),
	}
}

func loadAuthzConfig() AuthzConfig {
	return AuthzConfig{
		BypassPermission: getEnv("QUORUM_AUTHZ_BYPASS_PERMISSION", "tor.edit"),
	}
}

// loadMirrorConfig loads mirror configuration from environment
func loadMirrorConfig() MirrorConfig {
	return MirrorConfig{
		Enabled:        getEnvBool("QUORUM_MIRROR_ENABLED", false),
		Backend:        strings.ToLower(getEnv("QUORUM_MIRROR_BACKEND", "redis")),
		SubjectPrefix:  getEnv("QUORUM_MIRROR_SUBJECT_PREFIX", "quorum.graph"),
		Workers:        getEnvInt("QUORUM_MIRROR_WORKERS", 4),
		QueueSize:      getEnvInt("QUORUM_MIRROR_QUEUE_SIZE", 1024),
		PublishTimeout: getEnvDuration("QUORUM_MIRROR_PUBLISH_TIMEOUT", 5*time.Second),
		ResyncSchedule: getEnv("QUORUM_MIRROR_RESYNC_SCHEDULE", "@every 1h"),
		ResyncTimeout:  getEnvDuration("QUORUM_MIRROR_RESYNC_TIMEOUT", 10*time.Minute),
		RedisAddr:      getEnv("QUORUM_REDIS_ADDR", "localhost:6379"),
		RedisPassword:  getEnv("QUORUM_REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("QUORUM_REDIS_DB", 0),
		NATSURL:        getEnv("QUORUM_NATS_URL", "nats://localhost:4222"),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Database:        getEnvBool("QUORUM_AUDIT_DATABASE", true),
		FilePath:        getEnv("QUORUM_AUDIT_FILE_PATH", ""),
		RetentionDays:   getEnvInt("QUORUM_AUDIT_RETENTION_DAYS", 90),
		CleanupSchedule: getEnv("QUORUM_AUDIT_CLEANUP_SCHEDULE", "@daily"),
	}
}

func loadSeedConfig() SeedConfig {
	return SeedConfig{
		Path:     getEnv("QUORUM_SEED_PATH", ""),
		Watch:    getEnvBool("QUORUM_SEED_WATCH", false),
		Debounce: getEnvDuration("QUORUM_SEED_DEBOUNCE", 500*time.Millisecond),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           strings.ToLower(getEnv("QUORUM_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("QUORUM_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("QUORUM_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("QUORUM_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("QUORUM_OTEL_SERVICE_NAME", "quorum"),
		OTelServiceVersion: getEnv("QUORUM_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("QUORUM_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	// Validate database config
	switch c.Database.Driver {
	case database.Postgres, database.SQLite:
	default:
		return fmt.Errorf("invalid database driver: %s (must be %s or %s)", c.Database.Driver, database.Postgres, database.SQLite)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.Database.MinConns > c.Database.MaxConns {
		return fmt.Errorf("database min connections (%d) exceeds max connections (%d)", c.Database.MinConns, c.Database.MaxConns)
	}

	if c.Graph.RelationTypeCacheSize <= 0 {
		return fmt.Errorf("relation type cache size must be positive")
	}

	// Validate mirror config
	if c.Mirror.Enabled {
		switch c.Mirror.Backend {
		case "redis":
			if c.Mirror.RedisAddr == "" {
				return fmt.Errorf("redis address is required for the redis mirror")
			}
		case "nats":
			if c.Mirror.NATSURL == "" {
				return fmt.Errorf("NATS URL is required for the nats mirror")
			}
		default:
			return fmt.Errorf("invalid mirror backend: %s (must be redis or nats)", c.Mirror.Backend)
		}
		if c.Mirror.Workers <= 0 || c.Mirror.QueueSize <= 0 {
			return fmt.Errorf("mirror workers and queue size must be positive")
		}
		if err := validateSchedule("mirror resync", c.Mirror.ResyncSchedule); err != nil {
			return err
		}
	}

	// Validate audit config
	if c.Audit.Database && c.Audit.RetentionDays > 0 {
		if err := validateSchedule("audit cleanup", c.Audit.CleanupSchedule); err != nil {
			return err
		}
	}

	// Validate seed config
	if c.Seed.Watch && c.Seed.Path == "" {
		return fmt.Errorf("seed path is required when seed watching is enabled")
	}

	// Validate OpenTelemetry config
	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// validateSchedule accepts an empty spec (disabled) or a valid cron spec.
func validateSchedule(name, spec string) error {
	if spec == "" {
		return nil
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid %s schedule %q: %w", name, spec, err)
	}
	return nil
}

// OTel returns the OpenTelemetry settings in the form InitOTel takes.
func (o ObservabilityConfig) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        o.OTelEnabled,
		Endpoint:       o.OTelEndpoint,
		ServiceName:    o.OTelServiceName,
		ServiceVersion: o.OTelServiceVersion,
		Insecure:       o.OTelInsecure,
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
