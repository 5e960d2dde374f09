package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

var (
	DiscordToken string
	BotOwnerIDs  []string

	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
	MongoURI         string
	MongoDatabase    string

	RedisURL    string
	MetricsAddr string
	LogLevel    string
	DevMode     bool

	ConfigCacheSize          int
	ConfigCacheTTLSeconds    int
	HeartbeatIntervalMinutes int
	HealthFlushSeconds       int
	NotifyRatePerSecond      float64
)

// Load reads the optional env file and populates the package variables.
func Load(envFile string) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Printf("Warning: %s file not loaded: %v", envFile, err)
	}

	DiscordToken = os.Getenv("DISCORD_TOKEN")
	BotOwnerIDs = splitList(os.Getenv("BOT_OWNER_IDS"))

	DatabaseType = getEnv("DATABASE_TYPE", "sqlite")
	DatabasePath = getEnv("DATABASE_PATH", "rainbot.db")
	PostgresHost = getEnv("POSTGRES_HOST", "localhost")
	PostgresPort = getEnv("POSTGRES_PORT", "5432")
	PostgresUser = getEnv("POSTGRES_USER", "rainbot")
	PostgresPassword = os.Getenv("POSTGRES_PASSWORD")
	PostgresDB = getEnv("POSTGRES_DB", "rainbot")
	PostgresSSLMode = getEnv("POSTGRES_SSLMODE", "disable")
	MongoURI = getEnv("MONGO_URI", "mongodb://localhost:27017")
	MongoDatabase = getEnv("MONGO_DATABASE", "rainbot")

	RedisURL = os.Getenv("REDIS_URL")
	MetricsAddr = os.Getenv("METRICS_ADDR")
	LogLevel = getEnv("LOG_LEVEL", "info")
	DevMode = getEnvBool("DEV_MODE", false)

	ConfigCacheSize = getEnvInt("CONFIG_CACHE_SIZE", 1000)
	ConfigCacheTTLSeconds = getEnvInt("CONFIG_CACHE_TTL_SECONDS", 300)
	HeartbeatIntervalMinutes = getEnvInt("HEARTBEAT_INTERVAL_MINUTES", 2)
	HealthFlushSeconds = getEnvInt("HEALTH_FLUSH_SECONDS", 30)
	NotifyRatePerSecond = getEnvFloat("NOTIFY_RATE_PER_SECOND", 2)
}

// GetDatabaseConnectionString returns the DSN for the configured backend.
func GetDatabaseConnectionString() string {
	switch DatabaseType {
	case "postgres":
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
			PostgresHost, PostgresPort, PostgresUser, PostgresPassword, PostgresDB, PostgresSSLMode)
	case "mongo":
		return MongoURI
	default:
		return DatabasePath
	}
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("Invalid integer for %s (%q), using default %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		log.Printf("Invalid number for %s (%q), using default %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return b
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
