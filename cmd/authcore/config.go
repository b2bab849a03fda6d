package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	backendRedis    = "redis"
	backendPostgres = "postgres"
)

// serverConfig is the process-level configuration. Engine settings are
// loaded separately by authcore.LoadConfigFromEnv.
type serverConfig struct {
	Environment    string
	HTTPAddr       string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	SessionBackend string
	RateLimitRPM   int
}

func loadServerConfig() (serverConfig, error) {
	_ = godotenv.Load()

	cfg := serverConfig{
		Environment:    strings.ToLower(envOr("APP_ENV", "development")),
		HTTPAddr:       envOr("HTTP_ADDR", ":8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisAddr:      envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		SessionBackend: strings.ToLower(envOr("SESSION_BACKEND", backendRedis)),
	}

	var err error
	if cfg.RedisDB, err = strconv.Atoi(envOr("REDIS_DB", "0")); err != nil {
		return serverConfig{}, fmt.Errorf("REDIS_DB: %w", err)
	}
	if cfg.RateLimitRPM, err = strconv.Atoi(envOr("RATE_LIMIT_RPM", "60")); err != nil {
		return serverConfig{}, fmt.Errorf("RATE_LIMIT_RPM: %w", err)
	}

	switch cfg.SessionBackend {
	case backendRedis:
	case backendPostgres:
		if cfg.DatabaseURL == "" {
			return serverConfig{}, fmt.Errorf("SESSION_BACKEND=postgres requires DATABASE_URL")
		}
	default:
		return serverConfig{}, fmt.Errorf("unsupported SESSION_BACKEND %q", cfg.SessionBackend)
	}
	if cfg.Production() && cfg.DatabaseURL == "" {
		return serverConfig{}, fmt.Errorf("DATABASE_URL is required in production")
	}
	return cfg, nil
}

func (c serverConfig) Production() bool {
	return c.Environment == "production"
}

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}
