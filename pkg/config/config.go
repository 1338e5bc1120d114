package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreBadger    = "badger"
	StoreFirestore = "firestore"

	AuthJWT      = "jwt"
	AuthFirebase = "firebase"
)

type Config struct {
	ServerPort  string
	Environment string
	LogLevel    string

	StoreDriver string
	BadgerPath  string

	FirebaseProject            string
	FirebaseServiceAccountPath string
	FirebaseServiceAccountJSON string

	AuthProvider string
	JWTSecret    string
	JWTExpiry    time.Duration

	AllowedOrigins []string

	MaxMessageLength int
	WSSendBuffer     int

	MessagesPerMinute int
	TypingPerMinute   int
}

func Load() (*Config, error) {
	godotenv.Load()

	config := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", StoreBadger)),
		BadgerPath:  getEnv("BADGER_PATH", "./data/badger"),

		FirebaseProject:            getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseServiceAccountPath: getEnv("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),

		AuthProvider: strings.ToLower(getEnv("AUTH_PROVIDER", AuthJWT)),
		JWTSecret:    getEnv("JWT_SECRET", "your-secret-key"),
		JWTExpiry:    time.Duration(getEnvAsInt64("JWT_EXPIRY", 24*60*60)) * time.Second, // 24 hours

		AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS", []string{"*"}),

		MaxMessageLength: int(getEnvAsInt64("MAX_MESSAGE_LENGTH", 4000)),
		WSSendBuffer:     int(getEnvAsInt64("WS_SEND_BUFFER", 256)),

		MessagesPerMinute: int(getEnvAsInt64("RATE_LIMIT_MESSAGES_PER_MIN", 60)),
		TypingPerMinute:   int(getEnvAsInt64("RATE_LIMIT_TYPING_PER_MIN", 30)),
	}

	return config, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists || strings.TrimSpace(value) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
