package config

import (
	"os"
	"testing"
	"time"
)

func unsetAll(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		saved, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, saved)
			}
		})
	}
}

func TestEnvOr(t *testing.T) {
	unsetAll(t, "ROUTER_TEST_STR")
	if got := EnvOr("ROUTER_TEST_STR", "fallback"); got != "fallback" {
		t.Errorf("EnvOr() = %q, want fallback", got)
	}

	os.Setenv("ROUTER_TEST_STR", "  set-value  ")
	if got := EnvOr("ROUTER_TEST_STR", "fallback"); got != "set-value" {
		t.Errorf("EnvOr() = %q, want trimmed set-value", got)
	}
}

func TestEnvOrInt(t *testing.T) {
	unsetAll(t, "ROUTER_TEST_INT")
	if got := EnvOrInt("ROUTER_TEST_INT", 7); got != 7 {
		t.Errorf("EnvOrInt() = %d, want 7", got)
	}

	os.Setenv("ROUTER_TEST_INT", "42")
	if got := EnvOrInt("ROUTER_TEST_INT", 7); got != 42 {
		t.Errorf("EnvOrInt() = %d, want 42", got)
	}

	os.Setenv("ROUTER_TEST_INT", "not-a-number")
	if got := EnvOrInt("ROUTER_TEST_INT", 7); got != 7 {
		t.Errorf("EnvOrInt() malformed = %d, want default 7", got)
	}
}

func TestEnvOrDuration(t *testing.T) {
	unsetAll(t, "ROUTER_TEST_DUR")
	if got := EnvOrDuration("ROUTER_TEST_DUR", time.Minute); got != time.Minute {
		t.Errorf("EnvOrDuration() = %v, want 1m", got)
	}

	os.Setenv("ROUTER_TEST_DUR", "90s")
	if got := EnvOrDuration("ROUTER_TEST_DUR", time.Minute); got != 90*time.Second {
		t.Errorf("EnvOrDuration() = %v, want 90s", got)
	}
}

func TestEnvOrBool(t *testing.T) {
	unsetAll(t, "ROUTER_TEST_BOOL")
	if got := EnvOrBool("ROUTER_TEST_BOOL", true); !got {
		t.Errorf("EnvOrBool() = %v, want default true", got)
	}

	os.Setenv("ROUTER_TEST_BOOL", "false")
	if got := EnvOrBool("ROUTER_TEST_BOOL", true); got {
		t.Errorf("EnvOrBool() = %v, want false", got)
	}
}

func TestLoad_Defaults(t *testing.T) {
	unsetAll(t, "ROUTER_HTTP_ADDR", "ROUTER_DATA_DIR", "ROUTER_DB_DRIVER", "ROUTER_JWT_SECRET",
		"LOAD_BALANCER_MODE", "ROUTER_CORS_ORIGINS", "ROUTER_MAX_WAITERS", "ROUTER_REDIS_ADDR")

	cfg := Load()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.DBDriver != "sqlite" {
		t.Errorf("DBDriver = %q, want sqlite", cfg.DBDriver)
	}
	if cfg.LoadBalancerMode != ModeAuto {
		t.Errorf("LoadBalancerMode = %q, want %q", cfg.LoadBalancerMode, ModeAuto)
	}
	if cfg.MaxWaiters != 1024 {
		t.Errorf("MaxWaiters = %d, want 1024", cfg.MaxWaiters)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "*" {
		t.Errorf("CORSAllowedOrigins = %v, want [*]", cfg.CORSAllowedOrigins)
	}
	if cfg.RedisAddr != "" {
		t.Errorf("RedisAddr = %q, want empty", cfg.RedisAddr)
	}
}

func TestLoad_InvalidLoadBalancerModeFallsBackToAuto(t *testing.T) {
	unsetAll(t, "LOAD_BALANCER_MODE")
	os.Setenv("LOAD_BALANCER_MODE", "bogus")
	cfg := Load()
	if cfg.LoadBalancerMode != ModeAuto {
		t.Errorf("LoadBalancerMode = %q, want fallback to %q", cfg.LoadBalancerMode, ModeAuto)
	}
}

func TestLoad_ParsesCORSOriginList(t *testing.T) {
	unsetAll(t, "ROUTER_CORS_ORIGINS")
	os.Setenv("ROUTER_CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	cfg := Load()
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Fatalf("CORSAllowedOrigins = %v, want 2 entries", cfg.CORSAllowedOrigins)
	}
	if cfg.CORSAllowedOrigins[0] != "https://a.example.com" || cfg.CORSAllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("CORSAllowedOrigins = %v, want trimmed entries", cfg.CORSAllowedOrigins)
	}
}
