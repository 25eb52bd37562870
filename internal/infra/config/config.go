package config

import (
	"os"
	"strconv"
	"strings"
)

// ProviderConfig configures one slot of the fallback chain.
type ProviderConfig struct {
	Enabled    bool
	URL        string
	Model      string
	ChatModel  string
	Timeout    int // seconds
	MaxRetries int
}

// OpenAIConfig configures the OpenAI-compatible alternative provider.
// Disabled by default.
type OpenAIConfig struct {
	Enabled bool
	URL     string
	Model   string
	APIKey  string
	Timeout int // seconds
}

// EvaluationConfig carries the loop weights and timeout.
type EvaluationConfig struct {
	TimeoutSeconds int
	WRelevancy     float64
	WFaithfulness  float64
	WPrecision     float64
	WRecall        float64
}

// StoreConfig carries performance store persistence settings.
type StoreConfig struct {
	VersionsToKeep      int
	AutoSave            bool
	SavePath            string
	SaveIntervalSeconds int
}

// EmbeddingConfig carries shared embedding parameters.
type EmbeddingConfig struct {
	Dimension int
	BatchSize int
}

// DBConfig enables the optional Postgres archive.
type DBConfig struct {
	Enabled  bool
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type Config struct {
	Env  string
	Port string

	Primary   ProviderConfig
	Secondary ProviderConfig
	Tertiary  ProviderConfig
	OpenAI    OpenAIConfig

	Evaluation EvaluationConfig
	Store      StoreConfig
	Embedding  EmbeddingConfig
	DB         DBConfig

	ProbeTimeoutMS int
	OTelEnabled    bool
}

func Load() *Config {
	return &Config{
		Env:  getEnv("ENV", "development"),
		Port: getEnv("PORT", "9020"),

		Primary: ProviderConfig{
			Enabled:    getEnvBool("PROVIDER_PRIMARY_ENABLED", true),
			URL:        getEnv("PROVIDER_PRIMARY_URL", "http://ollama-primary:11434"),
			Model:      getEnv("PROVIDER_PRIMARY_MODEL", "embeddinggemma"),
			ChatModel:  getEnv("PROVIDER_PRIMARY_CHAT_MODEL", "gemma3:4b"),
			Timeout:    getEnvInt("PROVIDER_PRIMARY_TIMEOUT", 30),
			MaxRetries: getEnvInt("PROVIDER_PRIMARY_MAX_RETRIES", 3),
		},
		Secondary: ProviderConfig{
			Enabled:    getEnvBool("PROVIDER_SECONDARY_ENABLED", false),
			URL:        getEnv("PROVIDER_SECONDARY_URL", "http://ollama-secondary:11434"),
			Model:      getEnv("PROVIDER_SECONDARY_MODEL", "embeddinggemma"),
			ChatModel:  getEnv("PROVIDER_SECONDARY_CHAT_MODEL", "gemma3:4b"),
			Timeout:    getEnvInt("PROVIDER_SECONDARY_TIMEOUT", 30),
			MaxRetries: getEnvInt("PROVIDER_SECONDARY_MAX_RETRIES", 2),
		},
		Tertiary: ProviderConfig{
			Enabled:    getEnvBool("PROVIDER_TERTIARY_ENABLED", false),
			URL:        getEnv("PROVIDER_TERTIARY_URL", "http://ollama-tertiary:11434"),
			Model:      getEnv("PROVIDER_TERTIARY_MODEL", "embeddinggemma"),
			ChatModel:  getEnv("PROVIDER_TERTIARY_CHAT_MODEL", "gemma3:4b"),
			Timeout:    getEnvInt("PROVIDER_TERTIARY_TIMEOUT", 30),
			MaxRetries: getEnvInt("PROVIDER_TERTIARY_MAX_RETRIES", 2),
		},
		OpenAI: OpenAIConfig{
			Enabled: getEnvBool("PROVIDER_OPENAI_ENABLED", false),
			URL:     getEnv("PROVIDER_OPENAI_URL", "https://api.openai.com"),
			Model:   getEnv("PROVIDER_OPENAI_MODEL", "text-embedding-3-small"),
			APIKey:  getSecret("PROVIDER_OPENAI_API_KEY", "PROVIDER_OPENAI_API_KEY_FILE", ""),
			Timeout: getEnvInt("PROVIDER_OPENAI_TIMEOUT", 30),
		},

		Evaluation: EvaluationConfig{
			TimeoutSeconds: getEnvInt("EVAL_TIMEOUT", 30),
			WRelevancy:     getEnvFloat("EVAL_WEIGHT_RELEVANCY", 0.3),
			WFaithfulness:  getEnvFloat("EVAL_WEIGHT_FAITHFULNESS", 0.3),
			WPrecision:     getEnvFloat("EVAL_WEIGHT_PRECISION", 0.2),
			WRecall:        getEnvFloat("EVAL_WEIGHT_RECALL", 0.2),
		},
		Store: StoreConfig{
			VersionsToKeep:      getEnvInt("STORE_VERSIONS_TO_KEEP", 10),
			AutoSave:            getEnvBool("STORE_AUTOSAVE", true),
			SavePath:            getEnv("STORE_SAVE_PATH", "performance_store.json"),
			SaveIntervalSeconds: getEnvInt("STORE_SAVE_INTERVAL", 60),
		},
		Embedding: EmbeddingConfig{
			Dimension: getEnvInt("EMBEDDING_DIMENSION", 768),
			BatchSize: getEnvInt("EMBEDDING_BATCH_SIZE", 32),
		},
		DB: DBConfig{
			Enabled:  getEnvBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "eval-db"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "eval_user"),
			Password: getSecret("DB_PASSWORD", "DB_PASSWORD_FILE", "eval_password"),
			Name:     getEnv("DB_NAME", "eval_db"),
		},

		ProbeTimeoutMS: getEnvInt("PROBE_TIMEOUT_MS", 2000),
		OTelEnabled:    getEnvBool("OTEL_ENABLED", false),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getSecret(envKey, fileEnvKey, fallback string) string {
	if value, ok := os.LookupEnv(envKey); ok {
		return value
	}
	if filePath, ok := os.LookupEnv(fileEnvKey); ok {
		content, err := os.ReadFile(filePath)
		if err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}
