// Package config reads the server settings from the environment. A .env file in the
// working directory is loaded first when present; real environment variables win.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Port     string
	LogLevel logrus.Level
	Store    string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisAddr    string
	KafkaBrokers []string
	// KafkaGroupID must be unique per replica so every replica relays every event.
	KafkaGroupID string

	DeliveryFee decimal.Decimal
	OwnerEmails []string
	SessionTTL  time.Duration

	FirebaseProjectID string
	SupabaseURL       string
	SupabaseAnonKey   string

	CookieSecure   bool
	AllowedOrigins []string
	PublicURL      string
}

// Load reads the environment. Malformed values are reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var problems []string
	bad := func(key string, err error) {
		problems = append(problems, fmt.Sprintf("%s: %v", key, err))
	}

	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		Store:             getEnv("STORE", StoreMemory),
		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "5432"),
		DBUser:            getEnv("DB_USER", "creperie"),
		DBPassword:        getEnv("DB_PASSWORD", "creperie"),
		DBName:            getEnv("DB_NAME", "creperie"),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		KafkaBrokers:      splitList(getEnv("KAFKA_BROKERS", "")),
		KafkaGroupID:      getEnv("KAFKA_GROUP_ID", defaultGroupID()),
		OwnerEmails:       splitList(strings.ToLower(getEnv("OWNER_EMAILS", ""))),
		FirebaseProjectID: getEnv("FIREBASE_PROJECT_ID", ""),
		SupabaseURL:       strings.TrimRight(getEnv("SUPABASE_URL", ""), "/"),
		SupabaseAnonKey:   getEnv("SUPABASE_ANON_KEY", ""),
		AllowedOrigins:    splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		PublicURL:         strings.TrimRight(getEnv("PUBLIC_URL", "http://localhost:8080"), "/"),
	}

	level, err := logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		bad("LOG_LEVEL", err)
	}
	cfg.LogLevel = level

	if cfg.Store != StoreMemory && cfg.Store != StorePostgres {
		bad("STORE", fmt.Errorf("must be %q or %q, got %q", StoreMemory, StorePostgres, cfg.Store))
	}

	fee, err := decimal.NewFromString(getEnv("DELIVERY_FEE", "200"))
	if err != nil {
		bad("DELIVERY_FEE", err)
	} else if fee.IsNegative() {
		bad("DELIVERY_FEE", errors.New("must not be negative"))
	}
	cfg.DeliveryFee = fee

	ttl, err := time.ParseDuration(getEnv("SESSION_TTL", "168h"))
	if err != nil {
		bad("SESSION_TTL", err)
	} else if ttl <= 0 {
		bad("SESSION_TTL", errors.New("must be positive"))
	}
	cfg.SessionTTL = ttl

	secure, err := strconv.ParseBool(getEnv("COOKIE_SECURE", "false"))
	if err != nil {
		bad("COOKIE_SECURE", err)
	}
	cfg.CookieSecure = secure

	if len(problems) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return cfg, nil
}

// PostgresDSN is the lib/pq connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultGroupID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "local"
	}
	return "creperie-live-" + host
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
