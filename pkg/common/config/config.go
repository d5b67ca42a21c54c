package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort   string
	ServerHost   string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis (per-source run locks)
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers        []string
	KafkaGroupID        string
	RunEventsTopic      string
	CommandsTopic       string
	KafkaCommandsEnable bool

	// MinIO artifact archive
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Ingestion
	ArtifactRoot      string
	SourcesFile       string
	VocabularyFile    string
	Timezone          string
	TickInterval      time.Duration
	MaxParallelRuns   int
	LockTTL           time.Duration
	SettleDelay       time.Duration
	ChunkSize         int
	UpdateExisting    bool
	RetryAfterFailure time.Duration
	RunHistoryTTL     time.Duration
	CleanupInterval   time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		ServerHost:   getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "licitaciones"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "licitaciones"),
		PostgresDB:       getEnv("POSTGRES_DB", "licitaciones"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisEnabled:  getBoolEnv("REDIS_LOCKS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", nil),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "tenders-ingestion"),
		RunEventsTopic:      getEnv("TENDERS_RUNS_TOPIC", "tenders-runs"),
		CommandsTopic:       getEnv("TENDERS_COMMANDS_TOPIC", "tenders-commands"),
		KafkaCommandsEnable: getBoolEnv("TENDERS_COMMANDS_ENABLED", false),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "tender-artifacts"),
		MinioUseSSL:    getBoolEnv("MINIO_USE_SSL", false),

		ArtifactRoot:      getEnv("TENDERS_ARTIFACT_ROOT", "./data"),
		SourcesFile:       getEnv("TENDERS_SOURCES_FILE", ""),
		VocabularyFile:    getEnv("TENDERS_VOCABULARY_FILE", ""),
		Timezone:          getEnv("TENDERS_TIMEZONE", "America/Mexico_City"),
		TickInterval:      getDuration("TENDERS_TICK_INTERVAL", time.Minute),
		MaxParallelRuns:   getIntEnv("TENDERS_MAX_PARALLEL", 2),
		LockTTL:           getDuration("TENDERS_LOCK_TTL", 2*time.Minute),
		SettleDelay:       getDuration("TENDERS_SETTLE_DELAY", 5*time.Second),
		ChunkSize:         getIntEnv("TENDERS_CHUNK_SIZE", 25),
		UpdateExisting:    getBoolEnv("TENDERS_UPDATE_EXISTING", false),
		RetryAfterFailure: getDuration("TENDERS_RETRY_AFTER_FAILURE", 30*time.Minute),
		RunHistoryTTL:     getDuration("TENDERS_RUN_HISTORY_TTL", 90*24*time.Hour),
		CleanupInterval:   getDuration("TENDERS_CLEANUP_INTERVAL", 12*time.Hour),
	}
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var out []string
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
