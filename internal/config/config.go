// Package config provides configuration for the gateway. Values come from
// built-in defaults, then an optional YAML file named by CONFIG_FILE, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/finchat/assistant/internal/llm"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string        `yaml:"port"`
	ServerReadTimeout  time.Duration `yaml:"server_read_timeout"`
	ServerWriteTimeout time.Duration `yaml:"server_write_timeout"`
	ShutdownTimeout    time.Duration `yaml:"shutdown_timeout"`

	// Model settings
	ModelBackend     string        `yaml:"model_backend"`
	ModelName        string        `yaml:"model_name"`
	OpenAIAPIKey     string        `yaml:"openai_api_key"`
	OpenAIBaseURL    string        `yaml:"openai_base_url"`
	AnthropicAPIKey  string        `yaml:"anthropic_api_key"`
	ModelTimeout     time.Duration `yaml:"model_timeout"`
	ModelMaxTokens   int           `yaml:"model_max_tokens"`
	ModelTemperature float64       `yaml:"model_temperature"`

	// Conversation settings
	MaxToolIterations  int    `yaml:"max_tool_iterations"`
	HistoryLimit       int    `yaml:"history_limit"`
	HistoryMaxSessions int    `yaml:"history_max_sessions"`
	SystemPrompt       string `yaml:"system_prompt"`
	FinanceDataFile    string `yaml:"finance_data_file"`

	// NATS settings; an empty URL disables the event relay
	NATSURL           string `yaml:"nats_url"`
	NATSCAFile        string `yaml:"nats_ca_file"`
	NATSCertFile      string `yaml:"nats_cert_file"`
	NATSKeyFile       string `yaml:"nats_key_file"`
	NATSToken         string `yaml:"nats_token"`
	NATSSubjectPrefix string `yaml:"nats_subject_prefix"`

	// Rate limiting
	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	// CORS
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`

	// Logging
	LogLevel    string `yaml:"log_level"`
	Environment string `yaml:"environment"`

	// Tracing
	TracingEndpoint string `yaml:"tracing_endpoint"`
	TracingEnabled  bool   `yaml:"tracing_enabled"`
	TracingInsecure bool   `yaml:"tracing_insecure"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerPort:         "8080",
		ServerReadTimeout:  30 * time.Second,
		ServerWriteTimeout: 120 * time.Second,
		ShutdownTimeout:    30 * time.Second,

		ModelBackend:     string(llm.ProviderOffline),
		ModelTimeout:     30 * time.Second,
		ModelMaxTokens:   1024,
		ModelTemperature: 0.2,

		MaxToolIterations:  5,
		HistoryLimit:       10,
		HistoryMaxSessions: 10000,

		NATSSubjectPrefix: "finchat.events",

		RateLimitRequests: 60,
		RateLimitWindow:   time.Minute,

		LogLevel:    "info",
		Environment: "production",

		TracingEndpoint: "localhost:4318",
		TracingInsecure: true,
	}
}

// Load reads configuration from CONFIG_FILE (if set) and environment
// variables. Unparseable environment values keep the previous value.
func Load() (Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return cfg, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	// Server
	c.ServerPort = getEnv("PORT", c.ServerPort)
	c.ServerReadTimeout = getDurationEnv("SERVER_READ_TIMEOUT", c.ServerReadTimeout)
	c.ServerWriteTimeout = getDurationEnv("SERVER_WRITE_TIMEOUT", c.ServerWriteTimeout)
	c.ShutdownTimeout = getDurationEnv("SHUTDOWN_TIMEOUT", c.ShutdownTimeout)

	// Model
	c.ModelBackend = strings.ToLower(getEnv("MODEL_BACKEND", c.ModelBackend))
	c.ModelName = getEnv("MODEL_NAME", c.ModelName)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.ModelTimeout = getDurationEnv("MODEL_TIMEOUT", c.ModelTimeout)
	c.ModelMaxTokens = getIntEnv("MODEL_MAX_TOKENS", c.ModelMaxTokens)
	c.ModelTemperature = getFloatEnv("MODEL_TEMPERATURE", c.ModelTemperature)

	// Conversation
	c.MaxToolIterations = getIntEnv("MAX_TOOL_ITERATIONS", c.MaxToolIterations)
	c.HistoryLimit = getIntEnv("HISTORY_LIMIT", c.HistoryLimit)
	c.HistoryMaxSessions = getIntEnv("HISTORY_MAX_SESSIONS", c.HistoryMaxSessions)
	c.SystemPrompt = getEnv("SYSTEM_PROMPT", c.SystemPrompt)
	c.FinanceDataFile = getEnv("FINANCE_DATA_FILE", c.FinanceDataFile)

	// NATS
	c.NATSURL = getEnv("NATS_URL", c.NATSURL)
	c.NATSCAFile = getEnv("NATS_CA_FILE", c.NATSCAFile)
	c.NATSCertFile = getEnv("NATS_CERT_FILE", c.NATSCertFile)
	c.NATSKeyFile = getEnv("NATS_KEY_FILE", c.NATSKeyFile)
	c.NATSToken = getEnv("NATS_TOKEN", c.NATSToken)
	c.NATSSubjectPrefix = getEnv("NATS_SUBJECT_PREFIX", c.NATSSubjectPrefix)

	// Rate limiting
	c.RateLimitRequests = getIntEnv("RATE_LIMIT_REQUESTS", c.RateLimitRequests)
	c.RateLimitWindow = getDurationEnv("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	// CORS
	c.CORSAllowedOrigins = getListEnv("CORS_ALLOWED_ORIGINS", c.CORSAllowedOrigins)

	// Logging
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.Environment = getEnv("ENV", c.Environment)

	// Tracing
	c.TracingEndpoint = getEnv("TRACING_ENDPOINT", c.TracingEndpoint)
	c.TracingEnabled = getBoolEnv("TRACING_ENABLED", c.TracingEnabled)
	c.TracingInsecure = getBoolEnv("TRACING_INSECURE", c.TracingInsecure)
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error

	if port, err := strconv.Atoi(c.ServerPort); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Errorf("PORT must be between 1 and 65535, got %q", c.ServerPort))
	}

	switch llm.Provider(c.ModelBackend) {
	case llm.ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai backend"))
		}
	case llm.ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic backend"))
		}
	case llm.ProviderOffline:
	default:
		errs = append(errs, fmt.Errorf("MODEL_BACKEND must be openai, anthropic or offline, got %q", c.ModelBackend))
	}

	if c.ModelTimeout <= 0 {
		errs = append(errs, errors.New("MODEL_TIMEOUT must be positive"))
	}
	if c.MaxToolIterations < 1 || c.MaxToolIterations > 20 {
		errs = append(errs, fmt.Errorf("MAX_TOOL_ITERATIONS must be between 1 and 20, got %d", c.MaxToolIterations))
	}
	if c.HistoryLimit < 0 {
		errs = append(errs, errors.New("HISTORY_LIMIT cannot be negative"))
	}
	if c.HistoryMaxSessions < 1 {
		errs = append(errs, errors.New("HISTORY_MAX_SESSIONS must be positive"))
	}
	if c.RateLimitRequests < 1 || c.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be positive"))
	}
	if c.ServerReadTimeout <= 0 || c.ServerWriteTimeout <= 0 {
		errs = append(errs, errors.New("server timeouts must be positive"))
	}

	return errors.Join(errs...)
}

// LLMConfig returns the Model Gateway settings.
func (c Config) LLMConfig() llm.Config {
	cfg := llm.Config{
		Provider:    llm.Provider(c.ModelBackend),
		Model:       c.ModelName,
		MaxTokens:   c.ModelMaxTokens,
		Temperature: c.ModelTemperature,
	}
	switch cfg.Provider {
	case llm.ProviderOpenAI:
		cfg.APIKey = c.OpenAIAPIKey
		cfg.BaseURL = c.OpenAIBaseURL
	case llm.ProviderAnthropic:
		cfg.APIKey = c.AnthropicAPIKey
	}
	return cfg
}

// RelayEnabled reports whether chat events are mirrored to NATS.
func (c Config) RelayEnabled() bool {
	return c.NATSURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
