// Package config loads governord's runtime configuration from environment
// variables, following the teacher's LoadConfigFromEnv idiom
// (services/escrow-gateway/config.go), plus declarative Policy and
// IdentitySpec seed files loaded from TOML/YAML at startup.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"governor/adapters/mcp"
)

// Config captures governord's runtime configuration.
type Config struct {
	Host string
	Port string

	// DatabaseURL, when set, selects the gorm+postgres-backed durable
	// storage.IdentityStore/PolicyStore/ApprovalStore in storage/sqlstore.
	// When empty, the in-memory storage/memstore backings are used.
	DatabaseURL string

	// RedisURL is read from REDIS_URL as a documented extension point for a
	// Redis-backed GuardrailStore; left to deployment configuration since
	// a concrete Redis client is outside this module's dependency surface
	// (see DESIGN.md). No backing selection reads it.
	RedisURL string

	// BoltGuardrailPath, when set, selects the go.etcd.io/bbolt-backed
	// GuardrailStore at this file path, whatever RedisURL holds; when empty,
	// storage/memstore is used.
	BoltGuardrailPath string

	// LedgerPath, when set, selects the modernc.org/sqlite-backed
	// LedgerStore/EvidenceStore in storage/litestore over the in-memory
	// default.
	LedgerPath string

	// MCPAPIKeys is the parsed MCP_API_KEYS table (key:actorId:orgId,...).
	MCPAPIKeys map[string]mcp.KeyBinding

	WorkerConcurrency int

	JWTHMACSecret string
	JWTIssuer     string
	JWTAudience   string

	ChainVerifyInterval time.Duration

	PolicySeedPath   string
	IdentitySeedPath string
}

// LoadFromEnv builds a Config from the process environment, applying the
// same sane-default-then-override shape as
// services/escrow-gateway/config.go's LoadConfigFromEnv.
func LoadFromEnv() (Config, error) {
	cfg := Config{
		Host:                getenvDefault("HOST", "0.0.0.0"),
		Port:                getenvDefault("PORT", "8080"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		BoltGuardrailPath:   os.Getenv("GUARDRAIL_BOLT_PATH"),
		LedgerPath:          os.Getenv("LEDGER_SQLITE_PATH"),
		MCPAPIKeys:          mcp.ParseKeyTable(os.Getenv("MCP_API_KEYS")),
		WorkerConcurrency:   8,
		JWTHMACSecret:       os.Getenv("JWT_HMAC_SECRET"),
		JWTIssuer:           os.Getenv("JWT_ISSUER"),
		JWTAudience:         os.Getenv("JWT_AUDIENCE"),
		ChainVerifyInterval: 5 * time.Minute,
		PolicySeedPath:      os.Getenv("POLICY_SEED_PATH"),
		IdentitySeedPath:    os.Getenv("IDENTITY_SEED_PATH"),
	}

	if raw := strings.TrimSpace(os.Getenv("WORKER_CONCURRENCY")); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse WORKER_CONCURRENCY: %w", err)
		}
		if val <= 0 {
			return Config{}, errors.New("WORKER_CONCURRENCY must be positive")
		}
		cfg.WorkerConcurrency = val
	}

	if raw := strings.TrimSpace(os.Getenv("CHAIN_VERIFY_INTERVAL")); raw != "" {
		dur, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse CHAIN_VERIFY_INTERVAL: %w", err)
		}
		if dur <= 0 {
			return Config{}, errors.New("CHAIN_VERIFY_INTERVAL must be positive")
		}
		cfg.ChainVerifyInterval = dur
	}

	if cfg.JWTHMACSecret == "" {
		return Config{}, errors.New("JWT_HMAC_SECRET is required")
	}

	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
