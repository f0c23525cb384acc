package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete gateway configuration.
type Config struct {
	// Server configures the HTTP surface.
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Ask configures the request pipeline defaults.
	Ask AskConfig `yaml:"ask" env:"ASK"`

	// Providers configures backend selection and endpoints.
	Providers ProvidersConfig `yaml:"providers" env:"PROVIDERS"`

	// Retrieval configures the knowledge-store client.
	Retrieval RetrievalConfig `yaml:"retrieval" env:"RETRIEVAL"`

	// Memory configures the per-session conversation window.
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Store configures exchange persistence.
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Log configures logging.
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry configures OpenTelemetry export.
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	// Host to bind. Empty binds all interfaces.
	Host string `yaml:"host" env:"HOST"`
	// HTTPPort serves the API and /metrics.
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// ReadTimeout bounds request header and body reads.
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// WriteTimeout bounds response writes. Zero keeps streaming responses
	// open indefinitely; set it only on deployments without SSE clients.
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// RateLimitRPS is the per-client sustained request rate. Zero disables
	// rate limiting.
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// RateLimitBurst is the per-client burst allowance.
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWTSecret verifies bearer tokens. Empty disables authentication.
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
}

// AskConfig configures the orchestration defaults.
type AskConfig struct {
	// DefaultProvider serves requests that name no provider.
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// SystemPrompt overrides the built-in system message. Empty keeps the
	// built-in.
	SystemPrompt string `yaml:"system_prompt" env:"SYSTEM_PROMPT"`
	// Feature scopes session persistence.
	Feature string `yaml:"feature" env:"FEATURE"`
	// HistoryLimit caps the turns loaded into the prompt.
	HistoryLimit int `yaml:"history_limit" env:"HISTORY_LIMIT"`
	// Model names the default model. Empty lets each adapter pick.
	Model string `yaml:"model" env:"MODEL"`
	// Temperature is the default sampling temperature.
	Temperature float32 `yaml:"temperature" env:"TEMPERATURE"`
	// MaxTokens is the default completion budget.
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
}

// ProvidersConfig configures backend construction.
type ProvidersConfig struct {
	// Endpoints overrides the base URL per provider name. A name outside
	// the built-in set becomes a generic OpenAI-compatible provider.
	Endpoints map[string]string `yaml:"endpoints" env:"-"`
	// OpenAIOrganization optionally scopes OpenAI requests.
	OpenAIOrganization string `yaml:"openai_organization" env:"OPENAI_ORGANIZATION"`
	// STTFallback serves transcription for chat-only providers.
	STTFallback string `yaml:"stt_fallback" env:"STT_FALLBACK"`
	// Timeout bounds one synchronous provider exchange.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RetrievalConfig configures the knowledge-store client. An empty
// KnowledgeBaseID disables retrieval entirely.
type RetrievalConfig struct {
	// Endpoint is the knowledge store base URL.
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// KnowledgeBaseID selects the store partition.
	KnowledgeBaseID string `yaml:"knowledge_base_id" env:"KNOWLEDGE_BASE_ID"`
	// ModelID is passed through to the store's generation step.
	ModelID string `yaml:"model_id" env:"MODEL_ID"`
	// RequestPrefix is stripped from query text before preprocessing.
	RequestPrefix string `yaml:"request_prefix" env:"REQUEST_PREFIX"`
	// APIKey authenticates against the store. Empty sends no credentials.
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// Timeout bounds one store query.
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// MemoryConfig configures the conversation window.
type MemoryConfig struct {
	// Capacity is the maximum retained turns.
	Capacity int `yaml:"capacity" env:"CAPACITY"`
	// MaxAge expires turns older than this.
	MaxAge time.Duration `yaml:"max_age" env:"MAX_AGE"`
}

// StoreConfig configures exchange persistence.
type StoreConfig struct {
	// Type selects the backend: memory, sqlite, mysql, postgres, redis,
	// mongo.
	Type string `yaml:"type" env:"TYPE"`
	// DSN is the connection string for the SQL backends.
	DSN string `yaml:"dsn" env:"DSN"`
	// Redis configures the redis backend.
	Redis RedisConfig `yaml:"redis" env:"REDIS"`
	// Mongo configures the mongo backend.
	Mongo MongoConfig `yaml:"mongo" env:"MONGO"`
}

// RedisConfig configures the redis session backend.
type RedisConfig struct {
	Host      string        `yaml:"host" env:"HOST"`
	Port      int           `yaml:"port" env:"PORT"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	PoolSize  int           `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL"`
}

// MongoConfig configures the mongo session backend.
type MongoConfig struct {
	URI      string `yaml:"uri" env:"URI"`
	Database string `yaml:"database" env:"DATABASE"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level: debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format: json, console.
	Format string `yaml:"format" env:"FORMAT"`
	// OutputPaths lists sinks, e.g. stdout or file paths.
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// EnableCaller annotates entries with the call site.
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// EnableStacktrace attaches stack traces to error entries.
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	// Enabled turns tracing and metric export on.
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLPEndpoint is the collector's gRPC address.
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// ServiceName identifies this deployment.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// SampleRate is the trace sampling ratio in [0, 1].
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Loader loads configuration with the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a configuration loader.
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "ASKFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file path.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load resolves the configuration. Precedence: defaults, then the YAML
// file, then environment variables.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile applies the YAML file. A missing file keeps the defaults.
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv walks the struct tree, applying <PREFIX>_<TAG> variables.
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads configuration or panics.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

var validStoreTypes = map[string]bool{
	"": true, "memory": true, "sqlite": true,
	"mysql": true, "postgres": true, "redis": true, "mongo": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration for internally consistent values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.RateLimitRPS < 0 {
		errs = append(errs, "rate_limit_rps must not be negative")
	}

	if c.Ask.HistoryLimit < 0 {
		errs = append(errs, "history_limit must not be negative")
	}
	if c.Ask.Temperature < 0 || c.Ask.Temperature > 2 {
		errs = append(errs, "temperature must be between 0 and 2")
	}

	if !validStoreTypes[c.Store.Type] {
		errs = append(errs, fmt.Sprintf("unknown store type %q", c.Store.Type))
	}
	if !validLogLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("unknown log level %q", c.Log.Level))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "sample_rate must be between 0 and 1")
	}
	if c.Retrieval.KnowledgeBaseID != "" && c.Retrieval.Endpoint == "" {
		errs = append(errs, "retrieval endpoint required when a knowledge base is configured")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// RedisAddr returns the host:port address for the redis backend.
func (r RedisConfig) RedisAddr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}
