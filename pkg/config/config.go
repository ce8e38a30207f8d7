package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for scribe-engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, API keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (job queue)
	Redis RedisConfig `yaml:"redis"`

	// Audio upload storage
	Storage StorageConfig `yaml:"storage"`

	// Transcription provider
	Transcription TranscriptionConfig `yaml:"transcription"`

	// Note-generation LLM
	LLM LLMConfig `yaml:"llm"`

	// Pipeline retry/worker tuning
	Pipeline PipelineConfig `yaml:"pipeline"`

	// Auth token verification
	Auth AuthConfig `yaml:"auth"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"scribe"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"scribe_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"PGMIGRATIONS_PATH" env-default:"migrations"`
}

// URL builds a postgres connection URL from the config.
func (c *DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig holds Redis configuration for the job queue.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// StorageConfig holds audio upload storage configuration.
type StorageConfig struct {
	// AudioDir is the local directory uploads are written to.
	AudioDir string `yaml:"audio_dir" env:"AUDIO_DIR" env-default:"data/audio"`
	// MaxUploadBytes caps the accepted audio file size.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"MAX_UPLOAD_BYTES" env-default:"26214400"`
}

// TranscriptionConfig holds the speech-to-text provider configuration.
type TranscriptionConfig struct {
	BaseURL string `yaml:"base_url" env:"TRANSCRIPTION_BASE_URL" env-default:"https://api.assemblyai.com"`
	APIKey  string `yaml:"-" env:"TRANSCRIPTION_API_KEY"` // Secret - not in YAML
	// PollInterval is how often transcript status is polled.
	PollInterval time.Duration `yaml:"poll_interval" env:"TRANSCRIPTION_POLL_INTERVAL" env-default:"3s"`
	// Timeout bounds a single transcription job end to end.
	Timeout time.Duration `yaml:"timeout" env:"TRANSCRIPTION_TIMEOUT" env-default:"10m"`
}

// LLMConfig holds the note-generation model configuration.
// Provider is either "openai" (any OpenAI-compatible endpoint, including
// Groq and vLLM) or "anthropic".
type LLMConfig struct {
	Provider    string  `yaml:"provider" env:"LLM_PROVIDER" env-default:"openai"`
	Endpoint    string  `yaml:"endpoint" env:"LLM_ENDPOINT" env-default:"https://api.groq.com/openai/v1"`
	Model       string  `yaml:"model" env:"LLM_MODEL" env-default:"llama-3.3-70b-versatile"`
	APIKey      string  `yaml:"-" env:"LLM_API_KEY"` // Secret - not in YAML
	Temperature float64 `yaml:"temperature" env:"LLM_TEMPERATURE" env-default:"0.2"`
	MaxTokens   int     `yaml:"max_tokens" env:"LLM_MAX_TOKENS" env-default:"1500"`
}

// PipelineConfig holds orchestration tuning.
type PipelineConfig struct {
	// MaxRetries is the number of redeliveries after a failed invocation.
	MaxRetries int `yaml:"max_retries" env:"PIPELINE_MAX_RETRIES" env-default:"2"`
	// RetryDelay is the fixed delay before a failed job is redelivered.
	RetryDelay time.Duration `yaml:"retry_delay" env:"PIPELINE_RETRY_DELAY" env-default:"60s"`
	// Workers is the number of concurrent pipeline workers.
	Workers int `yaml:"workers" env:"PIPELINE_WORKERS" env-default:"2"`
}

// AuthConfig holds authentication-related configuration.
type AuthConfig struct {
	// EnableVerification controls whether bearer tokens are validated.
	// Set to false for local development without an auth server.
	EnableVerification bool `yaml:"enable_verification" env:"AUTH_ENABLE_VERIFICATION" env-default:"true"`
	// Secret is the HS256 signing secret shared with the token issuer.
	Secret string `yaml:"-" env:"AUTH_SECRET"` // Secret - not in YAML
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{Version: version}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that cleanenv cannot express.
func (c *Config) Validate() error {
	if c.Auth.EnableVerification && c.Auth.Secret == "" {
		return fmt.Errorf("AUTH_SECRET is required when auth verification is enabled")
	}
	if c.Pipeline.MaxRetries < 0 {
		return fmt.Errorf("pipeline max_retries must not be negative")
	}
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline workers must be at least 1")
	}
	if c.Storage.MaxUploadBytes <= 0 {
		return fmt.Errorf("storage max_upload_bytes must be positive")
	}
	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm provider must be openai or anthropic, got %q", c.LLM.Provider)
	}
	return nil
}
