// Package config loads previewd's environment-driven configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the previewd server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":8080").
	ServerAddr string

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string

	// DatabaseURL is the SQLite DSN previewd opens its store against.
	DatabaseURL string

	// JWTSecret signs bearer tokens issued at login/register.
	JWTSecret string
	// JWTExpire is how long an issued bearer token remains valid.
	JWTExpire time.Duration

	// CORSOrigins is the set of origins the HTTP API accepts
	// cross-origin requests from.
	CORSOrigins []string

	// SandboxAPIKey authenticates previewd against the sandbox provider.
	SandboxAPIKey string
	// SandboxTemplate is the provider template/image id new sandboxes boot from.
	SandboxTemplate string
	// SandboxTimeout is the provider-side idle/session timeout.
	SandboxTimeout time.Duration

	// LLMBaseURL overrides the provider's default API base URL.
	LLMBaseURL string
	// AnthropicAPIKey and OpenAIAPIKey select and authenticate the LLM provider.
	AnthropicAPIKey string
	OpenAIAPIKey    string
	// LLMModel overrides the provider's default model name.
	LLMModel string

	// HistoryLimit is the number of prior messages hydrated into a turn.
	HistoryLimit int
	// PreviewPort is the port inside the sandbox the dev server listens on.
	PreviewPort int

	// PlanReview enables the optional plan-before/review-after wrapping
	// (internal/planreview) around every turn.
	PlanReview bool
	// MaxRevisions caps review-requested revision rounds per turn.
	// Ignored when PlanReview is false.
	MaxRevisions int
}

// Load creates a Config from environment variables with sensible defaults.
func Load() (*Config, error) {
	dataDir := envOr("PREVIEWD_DATA_DIR", defaultDataDir())
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	cfg := &Config{
		ServerAddr:      envOr("PREVIEWD_ADDR", ":8080"),
		DataDir:         dataDir,
		DatabaseURL:     envOr("DATABASE_URL", filepath.Join(dataDir, "previewd.db")),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		JWTExpire:       envOrDays("JWT_EXPIRE_DAYS", 7),
		CORSOrigins:     envOrList("CORS_ORIGINS", []string{"*"}),
		SandboxAPIKey:   os.Getenv("SANDBOX_API_KEY"),
		SandboxTemplate: envOr("SANDBOX_TEMPLATE", "previewd-sandbox"),
		SandboxTimeout:  envOrSeconds("SANDBOX_TIMEOUT_SECONDS", 30*time.Minute),
		LLMBaseURL:      os.Getenv("LLM_BASE_URL"),
		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		LLMModel:        os.Getenv("LLM_MODEL"),
		HistoryLimit:    envOrInt("PREVIEWD_HISTORY_LIMIT", 6),
		PreviewPort:     envOrInt("PREVIEWD_PREVIEW_PORT", 5173),
		PlanReview:      envOrBool("PREVIEWD_PLAN_REVIEW", false),
		MaxRevisions:    envOrInt("PREVIEWD_MAX_REVISIONS", 1),
	}

	return cfg, nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if c.AnthropicAPIKey == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("at least one of ANTHROPIC_API_KEY or OPENAI_API_KEY is required")
	}
	return nil
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDays(key string, fallbackDays int) time.Duration {
	days := envOrInt(key, fallbackDays)
	return time.Duration(days) * 24 * time.Hour
}

func envOrSeconds(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envOrList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".previewd"
	}
	return filepath.Join(home, ".previewd")
}
