package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/locafleet/locafleet/pkg/access"
	"github.com/locafleet/locafleet/pkg/async"
	"github.com/locafleet/locafleet/pkg/audit"
	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/policy"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration (optional L2 decision cache)
	Redis RedisConfig

	// Access resolution configuration
	Access AccessConfig

	// Policy engine configuration
	Policy PolicyConfig

	// Identity provider configuration
	Identity IdentityConfig

	// Audit trail configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	URL         string
	ReplicaURLs string
	MaxConns    int
	MinConns    int
	ConnTimeout time.Duration
}

// RedisConfig holds Redis configuration for the shared decision cache
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
}

// AccessConfig holds access resolver cache settings
type AccessConfig struct {
	CacheTTL    time.Duration
	L1CacheSize int
}

// PolicyConfig holds policy engine client settings
type PolicyConfig struct {
	EngineURL string
	Timeout   time.Duration
}

// IdentityConfig holds OIDC issuer settings
type IdentityConfig struct {
	IssuerURL string
	ClientID  string
}

// AuditConfig holds audit trail settings
type AuditConfig struct {
	Enabled       bool
	RetentionDays int
	PurgeSchedule string
	Pool          async.Config
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

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
		Redis:         loadRedisConfig(),
		Access:        loadAccessConfig(),
		Policy:        loadPolicyConfig(),
		Identity:      loadIdentityConfig(),
		Audit:         loadAuditConfig(),
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
		Host:            getEnv("LOCAFLEET_HOST", "0.0.0.0"),
		Port:            getEnv("LOCAFLEET_PORT", "8080"),
		ReadTimeout:     getEnvDuration("LOCAFLEET_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("LOCAFLEET_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("LOCAFLEET_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("LOCAFLEET_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("LOCAFLEET_HEALTH_PORT", "9090"),
	}
}

// loadDatabaseConfig loads PostgreSQL configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:         getEnv("LOCAFLEET_POSTGRES_URL", ""),
		ReplicaURLs: getEnv("LOCAFLEET_POSTGRES_REPLICA_URLS", ""),
		MaxConns:    getEnvInt("LOCAFLEET_POSTGRES_MAX_CONNS", 25),
		MinConns:    getEnvInt("LOCAFLEET_POSTGRES_MIN_CONNS", 5),
		ConnTimeout: getEnvDuration("LOCAFLEET_POSTGRES_TIMEOUT", 30*time.Second),
	}
}

// loadRedisConfig loads Redis configuration from environment
func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:        getEnv("LOCAFLEET_REDIS_URL", ""),
		Password:   getEnv("LOCAFLEET_REDIS_PASSWORD", ""),
		DB:         getEnvInt("LOCAFLEET_REDIS_DB", 0),
		MaxRetries: getEnvInt("LOCAFLEET_REDIS_MAX_RETRIES", 3),
		PoolSize:   getEnvInt("LOCAFLEET_REDIS_POOL_SIZE", 10),
	}
}

// loadAccessConfig loads access resolver cache settings from environment
func loadAccessConfig() AccessConfig {
	return AccessConfig{
		CacheTTL:    getEnvDuration("LOCAFLEET_ACCESS_CACHE_TTL", access.DefaultCacheTTL),
		L1CacheSize: getEnvInt("LOCAFLEET_ACCESS_L1_CACHE_SIZE", 4096),
	}
}

// loadPolicyConfig loads policy engine client settings from environment
func loadPolicyConfig() PolicyConfig {
	return PolicyConfig{
		EngineURL: getEnv("LOCAFLEET_POLICY_ENGINE_URL", ""),
		Timeout:   getEnvDuration("LOCAFLEET_POLICY_TIMEOUT", policy.DefaultTimeout),
	}
}

// loadIdentityConfig loads OIDC issuer settings from environment
func loadIdentityConfig() IdentityConfig {
	return IdentityConfig{
		IssuerURL: getEnv("LOCAFLEET_OIDC_ISSUER_URL", ""),
		ClientID:  getEnv("LOCAFLEET_OIDC_CLIENT_ID", ""),
	}
}

// loadAuditConfig loads audit trail settings from environment
func loadAuditConfig() AuditConfig {
	pool := async.DefaultConfig()
	pool.Core = getEnvInt("LOCAFLEET_AUDIT_POOL_CORE", pool.Core)
	pool.Max = getEnvInt("LOCAFLEET_AUDIT_POOL_MAX", pool.Max)
	pool.Backlog = getEnvInt("LOCAFLEET_AUDIT_POOL_BACKLOG", pool.Backlog)

	retention := audit.DefaultRetentionPolicy()
	return AuditConfig{
		Enabled:       getEnvBool("LOCAFLEET_AUDIT_ENABLED", true),
		RetentionDays: getEnvInt("LOCAFLEET_AUDIT_RETENTION_DAYS", retention.RetentionDays),
		PurgeSchedule: getEnv("LOCAFLEET_AUDIT_PURGE_SCHEDULE", retention.Schedule),
		Pool:          pool,
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("LOCAFLEET_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("LOCAFLEET_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("LOCAFLEET_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("LOCAFLEET_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("LOCAFLEET_OTEL_SERVICE_NAME", "locafleet-authz"),
		OTelServiceVersion: getEnv("LOCAFLEET_OTEL_SERVICE_VERSION", "1.0.0"),
		OTelInsecure:       getEnvBool("LOCAFLEET_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if c.Policy.EngineURL == "" {
		return fmt.Errorf("policy engine URL is required")
	}
	if c.Policy.Timeout <= 0 {
		return fmt.Errorf("policy timeout must be positive")
	}

	if c.Identity.IssuerURL == "" {
		return fmt.Errorf("OIDC issuer URL is required")
	}

	if c.Access.CacheTTL <= 0 {
		return fmt.Errorf("access cache TTL must be positive")
	}
	if c.Access.L1CacheSize <= 0 {
		return fmt.Errorf("access L1 cache size must be positive")
	}

	if c.Audit.Enabled {
		if c.Audit.RetentionDays <= 0 {
			return fmt.Errorf("audit retention days must be positive")
		}
		if c.Audit.PurgeSchedule == "" {
			return fmt.Errorf("audit purge schedule is required when audit is enabled")
		}
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
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
