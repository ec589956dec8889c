// Package config loads the router's process configuration from
// environment variables, with the defaults spec.md §6 documents.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvOr returns the trimmed value of key, or def if unset/blank.
func EnvOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// EnvOrInt parses key as an int, or returns def if unset/malformed.
func EnvOrInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvOrDuration parses key via time.ParseDuration, or returns def.
func EnvOrDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// EnvOrBool parses key via strconv.ParseBool, or returns def.
func EnvOrBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// LoadBalancerMode selects the Load Manager's selection policy.
type LoadBalancerMode string

const (
	ModeAuto    LoadBalancerMode = "auto"
	ModeMetrics LoadBalancerMode = "metrics"
)

// Config is the fully-resolved process configuration for cmd/router.
type Config struct {
	HTTPAddr string

	DataDir    string
	DBDriver   string // "postgres" or "sqlite"
	DBDSN      string
	JWTSecret  string
	AdminToken string

	MaxWaiters       int
	LoadBalancerMode LoadBalancerMode

	RegisterRetrySecs  int
	RegisterMaxRetries int

	SkipHealthCheck bool

	OpenAIAPIKey    string
	GoogleAPIKey    string
	AnthropicAPIKey string

	HistoryPruneAfter time.Duration

	RedisAddr string

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	MaxBodyBytes    int64

	CORSAllowedOrigins []string
}

// Load resolves Config from the process environment, applying spec.md §6's
// documented defaults for every variable it names.
func Load() *Config {
	dataDir := EnvOr("ROUTER_DATA_DIR", "./data")

	var origins []string
	if raw := EnvOr("ROUTER_CORS_ORIGINS", "*"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	mode := LoadBalancerMode(strings.ToLower(EnvOr("LOAD_BALANCER_MODE", string(ModeAuto))))
	if mode != ModeAuto && mode != ModeMetrics {
		mode = ModeAuto
	}

	return &Config{
		HTTPAddr:           EnvOr("ROUTER_HTTP_ADDR", ":8080"),
		DataDir:            dataDir,
		DBDriver:           EnvOr("ROUTER_DB_DRIVER", "sqlite"),
		DBDSN:              EnvOr("ROUTER_DB_DSN", dataDir+"/router.db"),
		JWTSecret:          EnvOr("ROUTER_JWT_SECRET", ""),
		AdminToken:         EnvOr("ROUTER_ADMIN_BOOTSTRAP_TOKEN", ""),
		MaxWaiters:         EnvOrInt("ROUTER_MAX_WAITERS", 1024),
		LoadBalancerMode:   mode,
		RegisterRetrySecs:  EnvOrInt("COORDINATOR_REGISTER_RETRY_SECS", 5),
		RegisterMaxRetries: EnvOrInt("COORDINATOR_REGISTER_MAX_RETRIES", 10),
		SkipHealthCheck:    EnvOrBool("LLM_ROUTER_SKIP_HEALTH_CHECK", false),
		OpenAIAPIKey:       os.Getenv("OPENAI_API_KEY"),
		GoogleAPIKey:       os.Getenv("GOOGLE_API_KEY"),
		AnthropicAPIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		HistoryPruneAfter:  EnvOrDuration("ROUTER_HISTORY_PRUNE_AFTER", 7*24*time.Hour),
		RedisAddr:          EnvOr("ROUTER_REDIS_ADDR", ""),
		RequestTimeout:     EnvOrDuration("ROUTER_REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    EnvOrDuration("ROUTER_SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxBodyBytes:       int64(EnvOrInt("ROUTER_MAX_BODY_BYTES", 8<<20)),
		CORSAllowedOrigins: origins,
	}
}
