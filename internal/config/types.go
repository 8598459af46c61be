// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import "time"

// Config represents the complete application configuration
type Config struct {
	Database   DatabaseConfig  `mapstructure:"database"`
	Vector     VectorConfig    `mapstructure:"vector"`
	Embeddings EmbeddingConfig `mapstructure:"embeddings"`
	Cache      CacheConfig     `mapstructure:"cache"`
	LLM        LLMConfig       `mapstructure:"llm"`
	Prompt     PromptConfig    `mapstructure:"prompt"`
	Queue      QueueConfig     `mapstructure:"queue"`
	Personas   PersonaConfig   `mapstructure:"personas"`
	Log        LogConfig       `mapstructure:"log"`
	Metrics    MetricsConfig   `mapstructure:"metrics"`
	Reindex    ReindexConfig   `mapstructure:"reindex"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type         string `mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath   string `mapstructure:"sqlite_path"`
	PostgresDSN  string `mapstructure:"postgres_dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"` // silent, error, warn, info
}

// VectorConfig selects and tunes the semantic index
type VectorConfig struct {
	Backend             string       `mapstructure:"backend"` // "gorm", "qdrant", "pgvector"
	Collection          string       `mapstructure:"collection"`
	SimilarityThreshold float64      `mapstructure:"similarity_threshold"`
	SearchLimit         int          `mapstructure:"search_limit"`
	Qdrant              QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig holds the gRPC endpoint of a Qdrant deployment
type QdrantConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	APIKey string `mapstructure:"api_key"`
	UseTLS bool   `mapstructure:"use_tls"`
}

// EmbeddingConfig holds configuration for semantic search embeddings
type EmbeddingConfig struct {
	Provider   string `mapstructure:"provider"`    // "openai" or "local"
	BaseURL    string `mapstructure:"base_url"`    // API base URL
	Model      string `mapstructure:"model"`       // Model name (e.g., "text-embedding-3-small")
	APIKeyEnv  string `mapstructure:"api_key_env"` // Environment variable name for API key
	Dimensions int    `mapstructure:"dimensions"`  // Vector dimensions (e.g., 1536)
}

// CacheConfig configures the short-term conversation cache
type CacheConfig struct {
	Backend               string `mapstructure:"backend"` // "redis" or "memory"
	RedisURL              string `mapstructure:"redis_url"`
	HistoryLimit          int    `mapstructure:"history_limit"`
	TTLSeconds            int    `mapstructure:"ttl_seconds"`
	SessionTimeoutSeconds int    `mapstructure:"session_timeout_seconds"`
}

// TTL returns the history expiry as a duration
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// SessionTimeout returns the chat-session expiry as a duration
func (c CacheConfig) SessionTimeout() time.Duration {
	return time.Duration(c.SessionTimeoutSeconds) * time.Second
}

// LLMConfig describes the chat-completion endpoint
type LLMConfig struct {
	BaseURL        string  `mapstructure:"base_url"`
	APIKeyEnv      string  `mapstructure:"api_key_env"`
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// Timeout returns the per-call deadline
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// PromptConfig bounds the assembled prompt
type PromptConfig struct {
	SemanticLimit   int `mapstructure:"semantic_limit"`
	ImportantLimit  int `mapstructure:"important_limit"`
	EmotionDays     int `mapstructure:"emotion_days"`
	EmotionLimit    int `mapstructure:"emotion_limit"`
	MaxPromptChars  int `mapstructure:"max_prompt_chars"`
	MaxHistoryTurns int `mapstructure:"max_history_turns"`
}

// QueueConfig holds the NATS subjects the worker listens and replies on
type QueueConfig struct {
	URL            string `mapstructure:"url"`
	RequestSubject string `mapstructure:"request_subject"`
	ReplySubject   string `mapstructure:"reply_subject"`
	QueueGroup     string `mapstructure:"queue_group"`

	// Embedded starts an in-process NATS server instead of dialing URL
	Embedded bool `mapstructure:"embedded"`
}

// PersonaConfig points at the persona catalog
type PersonaConfig struct {
	File string `mapstructure:"file"`
}

// LogConfig configures the root logger
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "text" or "json"
}

// MetricsConfig configures the Prometheus listener
type MetricsConfig struct {
	Listen string `mapstructure:"listen"`
}

// ReindexConfig configures the background embedding repair job
type ReindexConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
	BatchSize       int `mapstructure:"batch_size"`
}

// Valid values for enumerated settings
const (
	DatabaseSQLite   = "sqlite"
	DatabasePostgres = "postgres"

	VectorBackendGorm     = "gorm"
	VectorBackendQdrant   = "qdrant"
	VectorBackendPgvector = "pgvector"

	EmbeddingProviderOpenAI = "openai"
	EmbeddingProviderLocal  = "local"

	CacheBackendRedis  = "redis"
	CacheBackendMemory = "memory"
)

// ValidVectorBackends returns all valid vector backend values
func ValidVectorBackends() []string {
	return []string{VectorBackendGorm, VectorBackendQdrant, VectorBackendPgvector}
}

// ValidEmbeddingProviders returns all valid embedding provider values
func ValidEmbeddingProviders() []string {
	return []string{EmbeddingProviderOpenAI, EmbeddingProviderLocal}
}

// ValidCacheBackends returns all valid cache backend values
func ValidCacheBackends() []string {
	return []string{CacheBackendRedis, CacheBackendMemory}
}

// isValidType is a generic helper to check if a type is in a list of valid types
func isValidType(aType string, validTypes []string) bool {
	for _, valid := range validTypes {
		if aType == valid {
			return true
		}
	}
	return false
}
