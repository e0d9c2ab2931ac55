// Package config holds the full runtime configuration: structs with YAML
// tags, defaults, a file-plus-environment loader and validation.
//
// Precedence: defaults, then the YAML file, then HYPATIA_* environment
// variables.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete runtime configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" env:"SERVER"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Agents    AgentsConfig    `yaml:"agents" env:"AGENTS"`
	Sandbox   SandboxConfig   `yaml:"sandbox" env:"SANDBOX"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`

	// RateLimitRPS/Burst bound the whole API; zero RPS disables limiting.
	RateLimitRPS   float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	RateLimitBurst int     `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`

	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`

	// APIKey and JWTSecret are the two local auth modes; both empty means
	// an open server (development).
	APIKey    string `yaml:"api_key" env:"API_KEY"`
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// LLMConfig configures the provider and the gateway's retry policy.
type LLMConfig struct {
	Provider string        `yaml:"provider" env:"PROVIDER"`
	APIKey   string        `yaml:"api_key" env:"API_KEY"`
	Model    string        `yaml:"model" env:"MODEL"`
	BaseURL  string        `yaml:"base_url" env:"BASE_URL"`
	Timeout  time.Duration `yaml:"timeout" env:"TIMEOUT"`
	Retry    RetryConfig   `yaml:"retry" env:"RETRY"`
}

// RetryConfig mirrors the retry policy knobs.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" env:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" env:"MAX_DELAY"`
	Multiplier  float64       `yaml:"multiplier" env:"MULTIPLIER"`
	Jitter      bool          `yaml:"jitter" env:"JITTER"`
}

// StoreConfig selects and configures the experiment store backend.
type StoreConfig struct {
	// Type: memory, file, sql, redis or mongo.
	Type string `yaml:"type" env:"TYPE"`

	// Dir is the file backend's directory.
	Dir string `yaml:"dir" env:"DIR"`

	Database DatabaseConfig `yaml:"database" env:"DATABASE"`
	Redis    RedisConfig    `yaml:"redis" env:"REDIS"`
	Mongo    MongoConfig    `yaml:"mongo" env:"MONGO"`
}

// DatabaseConfig configures the SQL backend.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// RedisConfig configures the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// MongoConfig configures the Mongo backend.
type MongoConfig struct {
	URI      string `yaml:"uri" env:"URI"`
	Database string `yaml:"database" env:"DATABASE"`
}

// AgentsConfig bounds the agent loops.
type AgentsConfig struct {
	SimulationMaxIterations int           `yaml:"simulation_max_iterations" env:"SIMULATION_MAX_ITERATIONS"`
	SimulationDelay         time.Duration `yaml:"simulation_delay" env:"SIMULATION_DELAY"`
	UseSimplifier           bool          `yaml:"use_simplifier" env:"USE_SIMPLIFIER"`

	PerChartAttempts int `yaml:"per_chart_attempts" env:"PER_CHART_ATTEMPTS"`
	MaxCharts        int `yaml:"max_charts" env:"MAX_CHARTS"`

	DraftMaxIterations int `yaml:"draft_max_iterations" env:"DRAFT_MAX_ITERATIONS"`

	StepsPerSecond float64 `yaml:"steps_per_second" env:"STEPS_PER_SECOND"`
}

// SandboxConfig bounds script execution.
type SandboxConfig struct {
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT"`
	MaxSteps    uint64        `yaml:"max_steps" env:"MAX_STEPS"`
	MaxLogLines int           `yaml:"max_log_lines" env:"MAX_LOG_LINES"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	// Level: debug, info, warn or error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json or console.
	Format      string `yaml:"format" env:"FORMAT"`
	Development bool   `yaml:"development" env:"DEVELOPMENT"`
}

// TelemetryConfig configures OTLP export.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" env:"ENABLED"`
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"`
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
	Insecure    bool    `yaml:"insecure" env:"INSECURE"`
}

// DSN returns the SQL connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// Validate checks the configuration for values that would fail at runtime,
// collecting every problem instead of stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, fmt.Sprintf("server.http_port %d is outside 1-65535", c.Server.HTTPPort))
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "server.rate_limit_rps must not be negative")
	}

	switch c.LLM.Provider {
	case "gemini", "mock":
	default:
		errs = append(errs, fmt.Sprintf("llm.provider %q is not supported (gemini, mock)", c.LLM.Provider))
	}
	if c.LLM.Provider == "gemini" && c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key is required for the gemini provider (set HYPATIA_LLM_API_KEY)")
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		errs = append(errs, "llm.retry.max_attempts must be at least 1")
	}
	if c.LLM.Retry.Multiplier < 1 {
		errs = append(errs, "llm.retry.multiplier must be at least 1")
	}

	switch c.Store.Type {
	case "memory", "file", "sql", "redis", "mongo":
	default:
		errs = append(errs, fmt.Sprintf("store.type %q is not supported (memory, file, sql, redis, mongo)", c.Store.Type))
	}
	if c.Store.Type == "file" && c.Store.Dir == "" {
		errs = append(errs, "store.dir is required for the file store")
	}
	if c.Store.Type == "sql" && c.Store.Database.DSN() == "" {
		errs = append(errs, fmt.Sprintf("store.database.driver %q is not supported (postgres, mysql, sqlite)", c.Store.Database.Driver))
	}
	if c.Store.Type == "mongo" && c.Store.Mongo.URI == "" {
		errs = append(errs, "store.mongo.uri is required for the mongo store")
	}

	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, "sandbox.timeout must be positive")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is not supported (debug, info, warn, error)", c.Log.Level))
	}

	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		errs = append(errs, "telemetry.endpoint is required when telemetry is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}
