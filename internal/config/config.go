package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Relay
	RedisURL            string // optional; fans rooms out across relay instances
	RelayPersistUpdates bool
	RelayCompactEvery   int

	// Editor peer
	SignalingURL        string
	LocalStorePath      string
	PersistenceTrimSize int
	UndoCapacity        int
	ReconnectTimeout    time.Duration

	// Derived views
	ColumnDeadBand    float64
	AverageHourlyWage float64

	// Observability
	JaegerEndpoint   string
	TraceSampleRatio float64
	LogLevel         string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "blueprints"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		RedisURL:            getEnv("REDIS_URL", ""),
		RelayPersistUpdates: getEnvBool("RELAY_PERSIST_UPDATES", true),
		RelayCompactEvery:   getEnvInt("RELAY_COMPACT_EVERY", 500),

		SignalingURL:        getEnv("SIGNALING_URL", "ws://localhost:8080/ws/blueprints"),
		LocalStorePath:      getEnv("LOCAL_STORE_PATH", "blueprints.db"),
		PersistenceTrimSize: getEnvInt("PERSISTENCE_TRIM_SIZE", 500),
		UndoCapacity:        getEnvInt("UNDO_CAPACITY", 100),
		ReconnectTimeout:    getEnvDuration("RECONNECT_TIMEOUT", 5*time.Second),

		ColumnDeadBand:    getEnvFloat("COLUMN_DEAD_BAND", 15),
		AverageHourlyWage: getEnvFloat("AVG_HOURLY_WAGE", 35),

		JaegerEndpoint:   getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRatio: getEnvFloat("TRACE_SAMPLE_RATIO", 1),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if cfg.ColumnDeadBand < 0 {
		return nil, fmt.Errorf("COLUMN_DEAD_BAND must not be negative")
	}
	if cfg.TraceSampleRatio < 0 || cfg.TraceSampleRatio > 1 {
		return nil, fmt.Errorf("TRACE_SAMPLE_RATIO must be between 0 and 1")
	}
	if cfg.PersistenceTrimSize < 1 {
		return nil, fmt.Errorf("PERSISTENCE_TRIM_SIZE must be positive")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
