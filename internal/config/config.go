package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env             string
	HTTPPort        string
	DBPath          string
	StaticDir       string
	FaceServiceURL  string
	FaceSkip        bool
	RedisAddr       string
	DirectoryTTL    time.Duration
	JWTIssuer       string
	JWTSigningKey   string
	SessionTTL      time.Duration
	MatchTolerance  float64
	RateLimitPerMin int
}

// Load returns application config populated from environment variables with sensible defaults.
func Load() App {
	return App{
		Env:             getEnv("APP_ENV", "dev"),
		HTTPPort:        getEnv("HTTP_PORT", "5001"),
		DBPath:          getEnv("DB_PATH", "./smartvision.db"),
		StaticDir:       getEnv("STATIC_DIR", "./public"),
		FaceServiceURL:  getEnv("FACE_SERVICE_URL", "http://localhost:8000"),
		FaceSkip:        boolEnv("FACE_SKIP", false),
		RedisAddr:       getEnv("REDIS_ADDR", ""),
		DirectoryTTL:    durationEnv("DIRECTORY_CACHE_TTL", 30*time.Second),
		JWTIssuer:       getEnv("JWT_ISSUER", "smartvision"),
		JWTSigningKey:   getEnv("JWT_SIGNING_KEY", "dev-signing-secret-change"),
		SessionTTL:      durationEnv("SESSION_TTL", 12*time.Hour),
		MatchTolerance:  floatEnv("MATCH_TOLERANCE", 0.5),
		RateLimitPerMin: intEnv("RATE_LIMIT_PER_MIN", 120),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Printf("invalid duration for %s: %v, using fallback %s", key, err, fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		log.Printf("invalid bool for %s, using fallback %v", key, fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Printf("invalid int for %s, using fallback %d", key, fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
		log.Printf("invalid float for %s, using fallback %g", key, fallback)
	}
	return fallback
}
