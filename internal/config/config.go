package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// CasdoorConfig holds the settings for the Casdoor identity provider.
type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// KafkaConfig holds event stream settings. Publishing is disabled when
// Brokers is empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type Config struct {
	Environment string
	Port        string
	LogLevel    slog.Level

	Database DatabaseConfig
	RedisURL string
	Kafka    KafkaConfig
	Casdoor  CasdoorConfig

	// AttemptRetries is how many times a ConcurrentModification conflict is
	// retried before being surfaced to the caller.
	AttemptRetries int
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when present.
func LoadConfig() (*Config, error) {
	// .env is optional; real deployments set env vars directly
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "quiz_attempts"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		RedisURL: getEnv("REDIS_URL", ""),
		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "quiz-attempt-events"),
		},
		Casdoor: CasdoorConfig{
			Endpoint:     getEnv("CASDOOR_ENDPOINT", ""),
			ClientID:     getEnv("CASDOOR_CLIENT_ID", ""),
			ClientSecret: getEnv("CASDOOR_CLIENT_SECRET", ""),
			Cert:         getEnv("CASDOOR_CERT", ""),
			Organization: getEnv("CASDOOR_ORGANIZATION", ""),
			Application:  getEnv("CASDOOR_APPLICATION", ""),
		},
		AttemptRetries: getEnvInt("ATTEMPT_CONFLICT_RETRIES", 2),
	}

	if cfg.Database.User == "" || cfg.Database.Name == "" {
		return nil, fmt.Errorf("database configuration incomplete: DB_USER and DB_NAME are required")
	}

	return cfg, nil
}

// DSN builds the PostgreSQL connection string for gorm.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
