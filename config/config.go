package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/tiered-gateway/services/routing"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Gateway       GatewayConfig
	Recorder      RecorderConfig
	Providers     ProvidersConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
	Environment   string
	Version       string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	TLS                struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
// The database is optional; with neither DATABASE_URL nor DB_HOST set the ledger is disabled.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	InitSchema       bool
}

// GatewayConfig holds the dispatch layer configuration
type GatewayConfig struct {
	// Backends maps backend identifiers to the primary-provider model they invoke
	Backends map[string]string
	// Tiers overrides the chain of individual tiers. Tiers not listed keep the default chain.
	Tiers          map[string][]string
	Breaker        BreakerConfig
	MaxCostUSD     float64
	MaxDepth       int
	BackendTimeout time.Duration
	TiersFile      string
}

// BreakerConfig holds circuit breaker thresholds
type BreakerConfig struct {
	FailureThreshold int
	SuccessThreshold int
	Cooldown         time.Duration
}

// RecorderConfig holds the asynchronous dispatch ledger writer configuration
type RecorderConfig struct {
	BufferSize   int
	WorkerCount  int
	StopTimeout  time.Duration
	WriteTimeout time.Duration
}

// ProvidersConfig holds model provider configurations
type ProvidersConfig struct {
	Gemini     GeminiConfig
	OpenRouter OpenRouterConfig
}

// GeminiConfig holds the primary provider configuration
type GeminiConfig struct {
	APIKey  string
	BaseURL string
}

// OpenRouterConfig holds the secondary aggregator configuration
type OpenRouterConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Referer string
	Title   string
}

// AuthConfig holds bearer token validation settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	Audience  string
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or text
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Version:     getEnv("APP_VERSION", "dev"),
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getPort(),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 5*time.Minute),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Gateway: GatewayConfig{
			Backends: map[string]string{
				string(routing.BackendPrimaryDeep):           getEnv("GATEWAY_MODEL_PRIMARY_DEEP", "gemini-2.5-pro"),
				string(routing.BackendPrimaryFast):           getEnv("GATEWAY_MODEL_PRIMARY_FAST", "gemini-2.5-flash"),
				string(routing.BackendSecondarySameProvider): getEnv("GATEWAY_MODEL_SECONDARY_SAME_PROVIDER", "gemini-2.5-flash-lite"),
			},
			Tiers: map[string][]string{},
			Breaker: BreakerConfig{
				FailureThreshold: getEnvAsInt("BREAKER_FAILURE_THRESHOLD", 5),
				SuccessThreshold: getEnvAsInt("BREAKER_SUCCESS_THRESHOLD", 2),
				Cooldown:         getEnvAsDuration("BREAKER_COOLDOWN", 60*time.Second),
			},
			MaxCostUSD:     getEnvAsFloat("GATEWAY_MAX_COST_USD", 0.50),
			MaxDepth:       getEnvAsInt("GATEWAY_MAX_DEPTH", 3),
			BackendTimeout: getEnvAsDuration("GATEWAY_BACKEND_TIMEOUT", 60*time.Second),
			TiersFile:      getEnv("GATEWAY_TIERS_FILE", ""),
		},
		Recorder: RecorderConfig{
			BufferSize:   getEnvAsInt("RECORDER_BUFFER_SIZE", 1000),
			WorkerCount:  getEnvAsInt("RECORDER_WORKER_COUNT", 2),
			StopTimeout:  getEnvAsDuration("RECORDER_STOP_TIMEOUT", 5*time.Second),
			WriteTimeout: getEnvAsDuration("RECORDER_WRITE_TIMEOUT", 5*time.Second),
		},
		Providers: ProvidersConfig{
			Gemini: GeminiConfig{
				APIKey:  getEnv("GEMINI_API_KEY", getEnv("GOOGLE_API_KEY", "")),
				BaseURL: getEnv("GEMINI_BASE_URL", ""),
			},
			OpenRouter: OpenRouterConfig{
				APIKey:  getEnv("OPENROUTER_API_KEY", ""),
				BaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
				Model:   getEnv("OPENROUTER_MODEL", "openai/gpt-4o-mini"),
				Timeout: getEnvAsDuration("OPENROUTER_TIMEOUT", 60*time.Second),
				Referer: getEnv("OPENROUTER_REFERER", ""),
				Title:   getEnv("OPENROUTER_TITLE", "tiered-gateway"),
			},
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
			Issuer:    getEnv("AUTH_JWT_ISSUER", ""),
			Audience:  getEnv("AUTH_JWT_AUDIENCE", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	if cfg.Gateway.TiersFile != "" {
		tiers, err := LoadTiersFile(cfg.Gateway.TiersFile)
		if err != nil {
			return nil, err
		}
		tiers.Apply(&cfg.Gateway)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	// Database is optional, but a partial DB_* configuration is an error
	if c.Database.Enabled() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if err := c.Gateway.Validate(); err != nil {
		return err
	}

	if c.Recorder.BufferSize < 1 || c.Recorder.WorkerCount < 1 {
		return fmt.Errorf("recorder buffer size and worker count must be positive")
	}

	if c.IsProduction() {
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth JWT secret is required in production")
		}
		if c.Providers.Gemini.APIKey == "" && c.Providers.OpenRouter.APIKey == "" {
			return fmt.Errorf("at least one model provider must be configured in production")
		}
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "error":
	case "":
		return fmt.Errorf("log level is required")
	default:
		return fmt.Errorf("unsupported log level %q", c.Observability.LogLevel)
	}

	return nil
}

// Validate checks breaker, budget and chain settings
func (g *GatewayConfig) Validate() error {
	if g.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure threshold must be at least 1")
	}
	if g.Breaker.SuccessThreshold < 1 {
		return fmt.Errorf("breaker success threshold must be at least 1")
	}
	if g.Breaker.Cooldown <= 0 {
		return fmt.Errorf("breaker cooldown must be positive")
	}
	if g.MaxCostUSD < 0 {
		return fmt.Errorf("max cost must not be negative")
	}
	if g.MaxDepth < 0 {
		return fmt.Errorf("max depth must not be negative")
	}
	if g.BackendTimeout <= 0 {
		return fmt.Errorf("backend timeout must be positive")
	}

	for id, model := range g.Backends {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("backend identifier must not be empty")
		}
		if strings.TrimSpace(model) == "" {
			return fmt.Errorf("backend %q has no model", id)
		}
	}

	for name, chain := range g.Tiers {
		if _, err := routing.ParseTier(name); err != nil {
			return fmt.Errorf("tiers: %w", err)
		}
		for _, id := range chain {
			if _, ok := g.Backends[id]; !ok {
				return fmt.Errorf("tier %q references unknown backend %q", name, id)
			}
		}
	}

	return nil
}

// Chains returns the per-tier chains: the default layout with tier overrides applied
func (g *GatewayConfig) Chains() map[routing.Tier]routing.FallbackChain {
	chains := routing.DefaultChainConfig().Chains()
	for name, ids := range g.Tiers {
		tier, err := routing.ParseTier(name)
		if err != nil {
			continue
		}
		chain := make(routing.FallbackChain, len(ids))
		for i, id := range ids {
			chain[i] = routing.BackendID(id)
		}
		chains[tier] = chain
	}
	return chains
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether a database is configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, strings.TrimPrefix(u.Path, "/"))
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		InitSchema:      getEnvAsBool("DB_INIT_SCHEMA", true),
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}

	cfg.Host = getEnv("DB_HOST", "")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma-separated variable, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
