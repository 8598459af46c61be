// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".companion/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
	// EnvPrefix prefixes every environment override, e.g. COMPANION_DATABASE_TYPE
	EnvPrefix = "COMPANION"
)

// Load reads configuration from ~/.companion/configs/config.json.
// A missing file is not an error; defaults and environment overrides apply.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(homeDir, DefaultConfigDir))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path. The format is
// inferred from the extension (json, yaml, toml).
func LoadFromPath(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// newViper builds a viper instance with defaults and environment binding.
// A .env file in the working directory is loaded first when present.
func newViper() *viper.Viper {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	homeDir, _ := os.UserHomeDir()

	// Database defaults
	v.SetDefault("database.type", DatabaseSQLite)
	v.SetDefault("database.sqlite_path", filepath.Join(homeDir, ".companion/db/companion.db"))
	v.SetDefault("database.postgres_dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.log_level", "silent")

	// Vector index defaults
	v.SetDefault("vector.backend", VectorBackendGorm)
	v.SetDefault("vector.collection", "user_memories")
	v.SetDefault("vector.similarity_threshold", 0.7)
	v.SetDefault("vector.search_limit", 10)
	v.SetDefault("vector.qdrant.host", "localhost")
	v.SetDefault("vector.qdrant.port", 6334)
	v.SetDefault("vector.qdrant.api_key", "")
	v.SetDefault("vector.qdrant.use_tls", false)

	// Embedding defaults
	v.SetDefault("embeddings.provider", EmbeddingProviderLocal)
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("embeddings.dimensions", 384)

	// Short-term cache defaults
	v.SetDefault("cache.backend", CacheBackendMemory)
	v.SetDefault("cache.redis_url", "redis://localhost:6379/0")
	v.SetDefault("cache.history_limit", 50)
	v.SetDefault("cache.ttl_seconds", 86400)
	v.SetDefault("cache.session_timeout_seconds", 300)

	// LLM defaults
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.api_key_env", "LLM_API_KEY")
	v.SetDefault("llm.model", "openai/gpt-3.5-turbo")
	v.SetDefault("llm.max_tokens", 1000)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.timeout_seconds", 30)

	// Prompt assembly defaults
	v.SetDefault("prompt.semantic_limit", 8)
	v.SetDefault("prompt.important_limit", 5)
	v.SetDefault("prompt.emotion_days", 3)
	v.SetDefault("prompt.emotion_limit", 5)
	v.SetDefault("prompt.max_prompt_chars", 24000)
	v.SetDefault("prompt.max_history_turns", 50)

	// Queue defaults
	v.SetDefault("queue.url", "nats://127.0.0.1:4222")
	v.SetDefault("queue.request_subject", "companion.requests")
	v.SetDefault("queue.reply_subject", "companion.replies")
	v.SetDefault("queue.queue_group", "companion-workers")
	v.SetDefault("queue.embedded", false)

	v.SetDefault("personas.file", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("reindex.interval_minutes", 15)
	v.SetDefault("reindex.batch_size", 100)
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	// Validate database type
	if cfg.Database.Type != DatabaseSQLite && cfg.Database.Type != DatabasePostgres {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}

	// Validate database connection info
	if cfg.Database.Type == DatabaseSQLite && cfg.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required when type is 'sqlite'")
	}
	if cfg.Database.Type == DatabasePostgres && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when type is 'postgres'")
	}

	if !isValidType(cfg.Vector.Backend, ValidVectorBackends()) {
		return fmt.Errorf("vector.backend must be one of %v, got '%s'", ValidVectorBackends(), cfg.Vector.Backend)
	}
	if cfg.Vector.Backend == VectorBackendPgvector && cfg.Database.Type != DatabasePostgres {
		return fmt.Errorf("vector.backend 'pgvector' requires database.type 'postgres'")
	}
	if cfg.Vector.SimilarityThreshold <= 0 || cfg.Vector.SimilarityThreshold > 1 {
		return fmt.Errorf("vector.similarity_threshold must be within (0,1], got %v", cfg.Vector.SimilarityThreshold)
	}

	if !isValidType(cfg.Embeddings.Provider, ValidEmbeddingProviders()) {
		return fmt.Errorf("embeddings.provider must be one of %v, got '%s'", ValidEmbeddingProviders(), cfg.Embeddings.Provider)
	}
	if cfg.Embeddings.Dimensions < 1 {
		return fmt.Errorf("embeddings.dimensions must be at least 1, got %d", cfg.Embeddings.Dimensions)
	}

	if !isValidType(cfg.Cache.Backend, ValidCacheBackends()) {
		return fmt.Errorf("cache.backend must be one of %v, got '%s'", ValidCacheBackends(), cfg.Cache.Backend)
	}
	if cfg.Cache.HistoryLimit < 1 {
		return fmt.Errorf("cache.history_limit must be at least 1, got %d", cfg.Cache.HistoryLimit)
	}

	if cfg.LLM.TimeoutSeconds < 1 {
		return fmt.Errorf("llm.timeout_seconds must be at least 1, got %d", cfg.LLM.TimeoutSeconds)
	}

	return nil
}

// EnsureConfigDir creates the configuration directory if it doesn't exist
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return nil
}
