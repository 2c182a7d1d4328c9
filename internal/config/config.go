package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        int    `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	LogLevel    string `yaml:"log_level"`

	LLMProvider     string        `yaml:"llm_provider"` // anthropic | openai
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	AnthropicModel  string        `yaml:"model"`
	OpenAIAPIKey    string        `yaml:"openai_api_key"`
	OpenAIModel     string        `yaml:"openai_model"`
	EmbeddingModel  string        `yaml:"openai_embedding_model"`
	LLMCallTimeout  time.Duration `yaml:"llm_call_timeout"`
	LLMRetryBackoff time.Duration `yaml:"llm_retry_backoff"`

	IndexBackend   string `yaml:"index_backend"` // pgvector | local
	IndexLocalPath string `yaml:"index_local_path"`
	JournalsDir    string `yaml:"journals_dir"`

	NatsURL   string `yaml:"nats_url"`
	NatsToken string `yaml:"nats_token"`

	DeepgramAPIKey string `yaml:"deepgram_api_key"`
	DeepgramModel  string `yaml:"deepgram_model"`

	SessionRetentionDays int           `yaml:"session_retention_days"`
	SessionStaleAfter    time.Duration `yaml:"session_stale_after"`
}

func Defaults() Config {
	return Config{
		Port:                 8760,
		LogLevel:             "info",
		LLMProvider:          "anthropic",
		AnthropicModel:       "claude-sonnet-4-20250514",
		OpenAIModel:          "gpt-4o-mini",
		EmbeddingModel:       "text-embedding-3-small",
		LLMCallTimeout:       60 * time.Second,
		LLMRetryBackoff:      2 * time.Second,
		IndexBackend:         "pgvector",
		IndexLocalPath:       "journal_index.db",
		JournalsDir:          "journals",
		NatsURL:              "nats://hermes:4222",
		DeepgramModel:        "nova-2-phonecall",
		SessionRetentionDays: 90,
		SessionStaleAfter:    2 * time.Hour,
	}
}

// Load reads configuration from the environment over the defaults.
func Load() Config {
	return applyEnv(Defaults())
}

// LoadFile overlays a YAML file on the defaults, then the environment on
// top. An empty path behaves like Load.
func LoadFile(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config: %w", err)
		}
	}
	cfg = applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(c Config) Config {
	c.Port = envInt("JOURNAL_PORT", c.Port)
	c.DatabaseURL = envStr("DATABASE_URL", c.DatabaseURL)
	c.LogLevel = envStr("LOG_LEVEL", c.LogLevel)
	c.LLMProvider = envStr("LLM_PROVIDER", c.LLMProvider)
	c.AnthropicAPIKey = envStr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = envStr("JOURNAL_MODEL", c.AnthropicModel)
	c.OpenAIAPIKey = envStr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIModel = envStr("OPENAI_MODEL", c.OpenAIModel)
	c.EmbeddingModel = envStr("OPENAI_EMBEDDING_MODEL", c.EmbeddingModel)
	c.LLMCallTimeout = envDuration("LLM_CALL_TIMEOUT", c.LLMCallTimeout)
	c.LLMRetryBackoff = envDuration("LLM_RETRY_BACKOFF", c.LLMRetryBackoff)
	c.IndexBackend = envStr("INDEX_BACKEND", c.IndexBackend)
	c.IndexLocalPath = envStr("INDEX_LOCAL_PATH", c.IndexLocalPath)
	c.JournalsDir = envStr("JOURNALS_DIR", c.JournalsDir)
	c.NatsURL = envStr("NATS_URL", c.NatsURL)
	c.NatsToken = envStr("NATS_TOKEN", c.NatsToken)
	c.DeepgramAPIKey = envStr("DEEPGRAM_API_KEY", c.DeepgramAPIKey)
	c.DeepgramModel = envStr("DEEPGRAM_MODEL", c.DeepgramModel)
	c.SessionRetentionDays = envInt("SESSION_RETENTION_DAYS", c.SessionRetentionDays)
	c.SessionStaleAfter = envDuration("SESSION_STALE_AFTER", c.SessionStaleAfter)
	return c
}

func (c Config) Validate() error {
	switch c.LLMProvider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("LLM_PROVIDER must be anthropic or openai, got %q", c.LLMProvider)
	}
	switch c.IndexBackend {
	case "pgvector", "local":
	default:
		return fmt.Errorf("INDEX_BACKEND must be pgvector or local, got %q", c.IndexBackend)
	}
	if c.SessionRetentionDays <= 0 {
		return fmt.Errorf("SESSION_RETENTION_DAYS must be positive, got %d", c.SessionRetentionDays)
	}
	return nil
}

// Retention is the session retention window.
func (c Config) Retention() time.Duration {
	return time.Duration(c.SessionRetentionDays) * 24 * time.Hour
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
