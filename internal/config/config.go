// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds all server-related settings
type ServerConfig struct {
	Port           int
	Host           string
	MetricsEnabled bool
	RequestTimeout time.Duration
}

// DatabaseConfig holds store settings. Type is memory, postgres or mongo.
type DatabaseConfig struct {
	Type     string
	URI      string
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string

	MongoURI      string
	MongoDatabase string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
}

type EngineConfig struct {
	Shards         int
	TrendingWindow time.Duration
	NearbyRadiusKm float64
}

// Config holds the complete application configuration
type Config struct {
	Server         *ServerConfig
	Database       *DatabaseConfig
	Redis          *RedisConfig
	NATS           *NATSConfig
	Engine         *EngineConfig
	JWTSecret      string
	AllowedOrigins []string
	Debug          bool
}

// DefaultConfig provides default server settings
func DefaultConfig() *ServerConfig {
	return &ServerConfig{
		Port:           8080,
		Host:           "0.0.0.0",
		MetricsEnabled: true,
		RequestTimeout: 5 * time.Second,
	}
}

// DefaultDatabaseConfig provides default database settings
func DefaultDatabaseConfig() *DatabaseConfig {
	return &DatabaseConfig{
		Type:          "memory",
		Port:          5432,
		SSLMode:       "require",
		MongoDatabase: "gator_clubs",
	}
}

// envFiles are tried in order; the first one found wins.
var envFiles = []string{".env", "../../.env"}

// LoadConfig loads configuration from environment variables and applies defaults
func LoadConfig() (*Config, error) {
	for _, location := range envFiles {
		if err := godotenv.Load(location); err == nil {
			break
		}
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from a lookup function.
func FromEnv(getenv func(string) string) (*Config, error) {
	env := envReader{get: getenv}

	server := DefaultConfig()
	server.Port = env.int("PORT", server.Port)
	server.Host = env.string("HOST", server.Host)
	server.MetricsEnabled = env.bool("METRICS_ENABLED", server.MetricsEnabled)
	server.RequestTimeout = env.duration("REQUEST_TIMEOUT", server.RequestTimeout)

	db, err := loadDatabase(&env)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:   server,
		Database: db,
		Redis: &RedisConfig{
			Addr:     env.string("REDIS_ADDR", ""),
			Password: env.string("REDIS_PASSWORD", ""),
			DB:       env.int("REDIS_DB", 0),
			TTL:      env.duration("DISCOVERY_CACHE_TTL", 30*time.Second),
		},
		NATS: &NATSConfig{
			URL:           env.string("NATS_URL", ""),
			SubjectPrefix: env.string("NATS_SUBJECT_PREFIX", "clubs"),
		},
		Engine: &EngineConfig{
			Shards:         env.int("ENGINE_SHARDS", 16),
			TrendingWindow: env.duration("TRENDING_WINDOW", 7*24*time.Hour),
			NearbyRadiusKm: env.float("NEARBY_RADIUS_KM", 10),
		},
		JWTSecret:      env.string("JWT_SECRET", ""),
		AllowedOrigins: []string{"*"},
		Debug:          env.bool("DEBUG", false),
	}

	if origins := getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitList(origins)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if env.err != nil {
		return nil, env.err
	}
	return cfg, nil
}

func loadDatabase(env *envReader) (*DatabaseConfig, error) {
	db := DefaultDatabaseConfig()
	db.Type = strings.ToLower(env.string("STORE_TYPE", db.Type))

	switch db.Type {
	case "memory":
		return db, nil

	case "mongo":
		db.MongoURI = env.string("MONGO_URI", "")
		if db.MongoURI == "" {
			return nil, fmt.Errorf("MONGO_URI environment variable is required when STORE_TYPE is mongo")
		}
		db.MongoDatabase = env.string("MONGO_DATABASE", db.MongoDatabase)
		return db, nil

	case "postgres":
		// Prioritize DATABASE_URL if provided
		if uri := env.string("DATABASE_URL", ""); uri != "" {
			db.URI = uri
			db.SSLMode = getSSLModeFromURI(uri)
			return db, nil
		}

		db.Host = env.string("DB_HOST", "localhost")
		db.Port = env.int("DB_PORT", db.Port)
		db.User = env.string("DB_USER", "")
		if db.User == "" {
			return nil, fmt.Errorf("DB_USER environment variable is required when STORE_TYPE is postgres and DATABASE_URL is not set")
		}
		db.Password = env.string("DB_PASSWORD", "")
		if db.Password == "" {
			return nil, fmt.Errorf("DB_PASSWORD environment variable is required when STORE_TYPE is postgres and DATABASE_URL is not set")
		}
		db.Name = env.string("DB_NAME", "postgres")
		db.SSLMode = env.string("DB_SSL_MODE", db.SSLMode)

		db.URI = fmt.Sprintf(
			"postgresql://%s:%s@%s:%d/%s?sslmode=%s",
			db.User,
			db.Password,
			db.Host,
			db.Port,
			db.Name,
			db.SSLMode,
		)
		return db, nil
	}
	return nil, fmt.Errorf("unsupported STORE_TYPE %q (want memory, postgres or mongo)", db.Type)
}

// envReader records the first malformed value instead of silently keeping
// the default.
type envReader struct {
	get func(string) string
	err error
}

func (e *envReader) fail(key, value string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s=%q: %w", key, value, err)
	}
}

func (e *envReader) string(key, def string) string {
	if v := e.get(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) int(key string, def int) int {
	v := e.get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v := e.get(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return f
}

func (e *envReader) bool(key string, def bool) bool {
	v := e.get(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.get(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v, err)
		return def
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Helper function to extract sslmode from a DSN, defaults to "require"
func getSSLModeFromURI(uri string) string {
	parts := strings.SplitN(uri, "?", 2)
	if len(parts) < 2 {
		return "require"
	}
	for _, param := range strings.Split(parts[1], "&") {
		kv := strings.SplitN(param, "=", 2)
		if len(kv) == 2 && kv[0] == "sslmode" {
			return kv[1]
		}
	}
	return "require"
}
