package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// AppInfo holds basic application metadata.
type AppInfo struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"` // "development" or "production"
	Port        int    `yaml:"port"`
}

// LoggerConfig controls the structured logger.
type LoggerConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
}

// ChunkingConfig controls how documents are split before embedding.
type ChunkingConfig struct {
	Mode    string `yaml:"mode"` // "chars" or "tokens"
	MaxSize int    `yaml:"maxSize"`
	Overlap int    `yaml:"overlap"`
}

// ProviderConfig holds credentials and model selection for one provider.
type ProviderConfig struct {
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"baseURL,omitempty"`
}

// EmbeddingConfig selects the embedding provider and its batching behavior.
type EmbeddingConfig struct {
	Provider     string         `yaml:"provider"` // "openai", "ollama", "gemini"
	OpenAI       ProviderConfig `yaml:"openai"`
	Ollama       ProviderConfig `yaml:"ollama"`
	Gemini       ProviderConfig `yaml:"gemini"`
	MaxBatchSize int            `yaml:"maxBatchSize"`
	Workers      int            `yaml:"workers"`
	MaxRetries   int            `yaml:"maxRetries"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	Provider string         `yaml:"provider"` // "openai", "ollama", "gemini"
	OpenAI   ProviderConfig `yaml:"openai"`
	Ollama   ProviderConfig `yaml:"ollama"`
	Gemini   ProviderConfig `yaml:"gemini"`
}

// RetrievalConfig controls the search operation.
type RetrievalConfig struct {
	K        int     `yaml:"k"`
	MinScore float32 `yaml:"minScore"`
}

// AnswerConfig controls context assembly for answer synthesis.
type AnswerConfig struct {
	MaxContextChars int `yaml:"maxContextChars"`
}

// IndexConfig selects the vector index backend and its geometry.
type IndexConfig struct {
	Backend string `yaml:"backend"` // "memory" or "milvus"
	Metric  string `yaml:"metric"`  // "cosine" or "dot"
	Dim     int    `yaml:"dim"`
}

// MilvusConfig holds the Milvus connection and collection settings.
type MilvusConfig struct {
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
}

// MongoConfig holds the MongoDB connection settings.
type MongoConfig struct {
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// KafkaConfig holds the Kafka broker list for ingest events.
type KafkaConfig struct {
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
}

// DatabaseConfigs groups all external store configurations.
type DatabaseConfigs struct {
	Milvus  MilvusConfig `yaml:"milvus"`
	MongoDB MongoConfig  `yaml:"mongodb"`
	Kafka   KafkaConfig  `yaml:"kafka"`
}

// TokenBucketConfig configures the token-bucket rate limiter.
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // tokens per second
	Capacity int     `yaml:"capacity"`
}

// RateLimiterConfig configures request rate limiting at the HTTP boundary.
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`
}

// CircuitBreakerConfig configures the breaker wrapped around the LLM.
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // e.g. "30s"
}

// MiddlewareConfig groups protective middleware settings.
type MiddlewareConfig struct {
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"`
}

// AppConfig is the root of the YAML configuration file.
type AppConfig struct {
	App        AppInfo          `yaml:"app"`
	Logger     LoggerConfig     `yaml:"logger"`
	Chunking   ChunkingConfig   `yaml:"chunking"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	LLM        LLMConfig        `yaml:"llm"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Answer     AnswerConfig     `yaml:"answer"`
	Index      IndexConfig      `yaml:"index"`
	Databases  DatabaseConfigs  `yaml:"databases"`
	Middleware MiddlewareConfig `yaml:"middleware"`
}

// LoadConfig reads and parses the YAML configuration file at path.
func LoadConfig(path string) (*AppConfig, error) {
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return &cfg, nil
}
