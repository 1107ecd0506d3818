// Package config reads server configuration from environment variables.
// Every option has a development default so a bare `go run` starts a server.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime options.
type Config struct {
	DatabaseURL   string   // SQLite DSN (path or :memory:)
	Port          int      // HTTP listen port
	CORSOrigins   []string // Allowed browser origins
	SessionSecret string   // HMAC key for session tokens

	TickHz         int           // Economic tick rate (default 1)
	DisasterTickHz int           // Sub-tick rate during disaster impact
	BatchInterval  time.Duration // Construction progress coalescing window
	MetadataTTL    time.Duration // Structure metadata cache TTL

	Env string // "test" enables /test/* routes
}

// Load builds a Config from the environment.
func Load() Config {
	return Config{
		DatabaseURL:   envStr("DATABASE_URL", "data/haven.db"),
		Port:          envInt("PORT", 8080),
		CORSOrigins:   envList("CORS_ORIGINS"),
		SessionSecret: envStr("SESSION_SECRET", "dev-session-secret"),

		TickHz:         envInt("TICK_HZ", 1),
		DisasterTickHz: envInt("DISASTER_TICK_HZ", 6),
		BatchInterval:  time.Duration(envInt("CONSTRUCTION_BATCH_INTERVAL_MS", 1000)) * time.Millisecond,
		MetadataTTL:    time.Duration(envInt("METADATA_CACHE_TTL_S", 300)) * time.Second,

		Env: envStr("APP_ENV", "development"),
	}
}

// TestRoutesEnabled reports whether the /test/* surface is exposed.
func (c Config) TestRoutesEnabled() bool {
	return c.Env == "test"
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
