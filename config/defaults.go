package config

import "time"

// DefaultConfig returns the full default configuration: a development
// server on 8080, the gemini provider, the in-memory store.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		LLM:       DefaultLLMConfig(),
		Store:     DefaultStoreConfig(),
		Agents:    DefaultAgentsConfig(),
		Sandbox:   DefaultSandboxConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the development server defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute, // agent runs stream for a while
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    50,
		RateLimitBurst:  100,
		AllowedOrigins:  []string{"*"},
	}
}

// DefaultLLMConfig returns the gemini provider with the standard retry
// policy.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: "gemini",
		Model:    "gemini-2.5-flash",
		Timeout:  2 * time.Minute,
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
			Multiplier:  2.0,
			Jitter:      true,
		},
	}
}

// DefaultStoreConfig returns the in-memory store.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "memory",
		Database: DatabaseConfig{
			Driver:          "sqlite",
			Name:            "hypatia.db",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Mongo: MongoConfig{
			Database: "hypatia",
		},
	}
}

// DefaultAgentsConfig returns the standard loop bounds.
func DefaultAgentsConfig() AgentsConfig {
	return AgentsConfig{
		SimulationMaxIterations: 8,
		SimulationDelay:         time.Second,
		UseSimplifier:           true,
		PerChartAttempts:        3,
		MaxCharts:               4,
		DraftMaxIterations:      6,
		StepsPerSecond:          1,
	}
}

// DefaultSandboxConfig returns the standard execution bounds.
func DefaultSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Timeout:     10 * time.Second,
		MaxSteps:    100_000_000,
		MaxLogLines: 1000,
	}
}

// DefaultLogConfig returns JSON logging at info.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:  "info",
		Format: "json",
	}
}

// DefaultTelemetryConfig returns telemetry disabled.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		ServiceName: "hypatia",
		SampleRatio: 1.0,
	}
}
