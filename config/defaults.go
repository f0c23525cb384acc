package config

import "time"

// DefaultConfig returns the configuration used when no file and no
// environment overrides are present. The defaults favor local development:
// in-memory persistence, no authentication, telemetry off.
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Ask:       DefaultAskConfig(),
		Providers: DefaultProvidersConfig(),
		Retrieval: DefaultRetrievalConfig(),
		Memory:    DefaultMemoryConfig(),
		Store:     DefaultStoreConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig returns the default HTTP server configuration.
// WriteTimeout stays zero so streaming responses are never cut off
// mid-answer.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		HTTPPort:        8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    0,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    10,
		RateLimitBurst:  20,
	}
}

// DefaultAskConfig returns the default pipeline configuration.
func DefaultAskConfig() AskConfig {
	return AskConfig{
		DefaultProvider: "openai",
		Feature:         "ask",
		HistoryLimit:    30,
		Temperature:     0.7,
		MaxTokens:       2048,
	}
}

// DefaultProvidersConfig returns the default backend configuration.
func DefaultProvidersConfig() ProvidersConfig {
	return ProvidersConfig{
		STTFallback: "openai",
		Timeout:     2 * time.Minute,
	}
}

// DefaultRetrievalConfig returns the default knowledge-store configuration.
// Retrieval stays disabled until a knowledge base id is configured.
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		Timeout: 15 * time.Second,
	}
}

// DefaultMemoryConfig returns the default conversation window configuration.
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Capacity: 10,
		MaxAge:   5 * time.Minute,
	}
}

// DefaultStoreConfig returns the default persistence configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "memory",
		DSN:  "./data/askflow.db",
		Redis: RedisConfig{
			Host:      "localhost",
			Port:      6379,
			PoolSize:  10,
			KeyPrefix: "askflow:",
			TTL:       24 * time.Hour,
		},
		Mongo: MongoConfig{
			URI:      "mongodb://localhost:27017",
			Database: "askflow",
		},
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "askflow",
		SampleRate:   0.1,
	}
}
