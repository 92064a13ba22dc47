package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	RateLimitRPS   int
	RateLimitBurst int

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaEnabled    bool
	KafkaBrokers    []string
	KafkaGroupID    string
	KafkaNotesTopic string
	KafkaCodedTopic string
	KafkaDLQTopic   string

	// Code lookup
	CodeCacheBackend string // memory, redis, sqlite
	CodeCachePath    string
	CodeCacheTTL     time.Duration
	CodeSource       string // catalog, postgres
	LookupReadOnly   bool
	CodingSystems    []string

	// Rule tables
	CatalogPath       string
	NegationRulesPath string
	FilterRulesPath   string
	DictionarySource  string // catalog, postgres

	// Pipeline
	SimilarityThreshold  float64
	MaxResults           int
	UseContextRerank     bool
	KeepNegated          bool
	ContextWindow        int
	RerankWeight         float64
	RerankBudget         time.Duration
	SaturationCeiling    float64
	PipelineWorkers      int
	RequiredCodingSystem string

	// Embedding service
	EmbeddingURL          string
	EmbeddingModel        string
	EmbeddingTimeout      time.Duration
	EmbeddingTokenURL     string
	EmbeddingClientID     string
	EmbeddingClientSecret string
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8090"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 30*time.Second),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 1024*1024)),
		RateLimitRPS:   getIntEnv("RATE_LIMIT_RPS", 50),
		RateLimitBurst: getIntEnv("RATE_LIMIT_BURST", 100),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "coder"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresDB:       getEnv("POSTGRES_DB", "terminology"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaEnabled:    getBoolEnv("KAFKA_ENABLED", false),
		KafkaBrokers:    getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:    getEnv("KAFKA_GROUP_ID", "coding-service"),
		KafkaNotesTopic: getEnv("KAFKA_NOTES_TOPIC", "clinical-notes"),
		KafkaCodedTopic: getEnv("KAFKA_CODED_TOPIC", "coded-notes"),
		KafkaDLQTopic:   getEnv("KAFKA_DLQ_TOPIC", ""),

		CodeCacheBackend: getEnv("CODE_CACHE_BACKEND", "memory"),
		CodeCachePath:    getEnv("CODE_CACHE_PATH", "umls_lookup.db"),
		CodeCacheTTL:     getDuration("CODE_CACHE_TTL", 24*time.Hour),
		CodeSource:       getEnv("CODE_SOURCE", "catalog"),
		LookupReadOnly:   getBoolEnv("LOOKUP_READONLY", false),
		CodingSystems: getStringSliceEnv("CODING_SYSTEMS", []string{
			"ICD10CM", "SNOMEDCT_US", "ICD10PCS", "CPT", "HCPCS", "RXNORM",
		}),

		CatalogPath:       getEnv("TERMINOLOGY_CATALOG_PATH", ""),
		NegationRulesPath: getEnv("NEGATION_RULES_PATH", ""),
		FilterRulesPath:   getEnv("FILTER_RULES_PATH", ""),
		DictionarySource:  getEnv("DICTIONARY_SOURCE", "catalog"),

		SimilarityThreshold:  getFloatEnv("SIMILARITY_THRESHOLD", 0),
		MaxResults:           getIntEnv("MAX_RESULTS", 0),
		UseContextRerank:     getBoolEnv("USE_CONTEXT_RERANK", false),
		KeepNegated:          getBoolEnv("KEEP_NEGATED", false),
		ContextWindow:        getIntEnv("CONTEXT_WINDOW", 50),
		RerankWeight:         getFloatEnv("RERANK_WEIGHT", 0.3),
		RerankBudget:         getDuration("RERANK_BUDGET", 2*time.Second),
		SaturationCeiling:    getFloatEnv("SATURATION_CEILING", 0.98),
		PipelineWorkers:      getIntEnv("PIPELINE_WORKERS", 4),
		RequiredCodingSystem: getEnv("REQUIRED_CODING_SYSTEM", ""),

		EmbeddingURL:          getEnv("EMBEDDING_URL", ""),
		EmbeddingModel:        getEnv("EMBEDDING_MODEL", "all-MiniLM-L6-v2"),
		EmbeddingTimeout:      getDuration("EMBEDDING_TIMEOUT", 5*time.Second),
		EmbeddingTokenURL:     getEnv("EMBEDDING_TOKEN_URL", ""),
		EmbeddingClientID:     getEnv("EMBEDDING_CLIENT_ID", ""),
		EmbeddingClientSecret: getEnv("EMBEDDING_CLIENT_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getFloatEnv keeps unparsable values visible as NaN so that option
// validation rejects them instead of silently using the default.
func getFloatEnv(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		f, _ = strconv.ParseFloat("NaN", 64)
	}
	return f
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
