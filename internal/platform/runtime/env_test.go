package runtime

import (
	"os"
	"testing"
)

func withEnv(t *testing.T, key, val string) {
	t.Helper()
	saved, had := os.LookupEnv(key)
	if val == "" {
		os.Unsetenv(key)
	} else {
		os.Setenv(key, val)
	}
	t.Cleanup(func() {
		if had {
			os.Setenv(key, saved)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestEnv(t *testing.T) {
	t.Run("development when unset", func(t *testing.T) {
		withEnv(t, "ROUTER_ENV", "")
		withEnv(t, "ENVIRONMENT", "")
		if Env() != Development {
			t.Error("Env() should default to Development")
		}
	})

	t.Run("ROUTER_ENV takes precedence", func(t *testing.T) {
		withEnv(t, "ROUTER_ENV", "production")
		withEnv(t, "ENVIRONMENT", "testing")
		if Env() != Production {
			t.Error("ROUTER_ENV should take precedence over ENVIRONMENT")
		}
	})

	t.Run("ENVIRONMENT fallback", func(t *testing.T) {
		withEnv(t, "ROUTER_ENV", "")
		withEnv(t, "ENVIRONMENT", "testing")
		if Env() != Testing {
			t.Error("ENVIRONMENT should be used as fallback")
		}
	})
}

func TestIsDevelopmentIsTestingIsProduction(t *testing.T) {
	cases := []struct {
		env  string
		dev  bool
		test bool
		prod bool
	}{
		{"development", true, false, false},
		{"testing", false, true, false},
		{"production", false, false, true},
	}
	for _, c := range cases {
		withEnv(t, "ROUTER_ENV", c.env)
		withEnv(t, "ENVIRONMENT", "")
		if IsDevelopment() != c.dev || IsTesting() != c.test || IsProduction() != c.prod {
			t.Errorf("%s: got dev=%v test=%v prod=%v", c.env, IsDevelopment(), IsTesting(), IsProduction())
		}
	}
}

func TestParseEnvironment(t *testing.T) {
	t.Run("case insensitive", func(t *testing.T) {
		env, ok := ParseEnvironment("PRODUCTION")
		if !ok || env != Production {
			t.Error("ParseEnvironment should be case insensitive")
		}
	})

	t.Run("whitespace trimmed", func(t *testing.T) {
		env, ok := ParseEnvironment("  testing  ")
		if !ok || env != Testing {
			t.Error("ParseEnvironment should trim whitespace")
		}
	})

	t.Run("unknown returns development with ok=false", func(t *testing.T) {
		env, ok := ParseEnvironment("staging")
		if ok {
			t.Error("ParseEnvironment should return ok=false for unknown")
		}
		if env != Development {
			t.Error("ParseEnvironment should return Development for unknown")
		}
	})
}

func TestParseEnvInt(t *testing.T) {
	withEnv(t, "ROUTER_TEST_INT", "42")
	v, ok := ParseEnvInt("ROUTER_TEST_INT")
	if !ok || v != 42 {
		t.Errorf("ParseEnvInt() = %d, %v, want 42, true", v, ok)
	}

	withEnv(t, "ROUTER_TEST_INT_BAD", "not-a-number")
	if _, ok := ParseEnvInt("ROUTER_TEST_INT_BAD"); ok {
		t.Error("ParseEnvInt() should return ok=false for malformed input")
	}

	if _, ok := ParseEnvInt("ROUTER_TEST_INT_UNSET"); ok {
		t.Error("ParseEnvInt() should return ok=false when unset")
	}
}

func TestParseEnvBool(t *testing.T) {
	withEnv(t, "ROUTER_TEST_BOOL", "true")
	v, ok := ParseEnvBool("ROUTER_TEST_BOOL")
	if !ok || !v {
		t.Errorf("ParseEnvBool() = %v, %v, want true, true", v, ok)
	}

	withEnv(t, "ROUTER_TEST_BOOL_BAD", "nope")
	if _, ok := ParseEnvBool("ROUTER_TEST_BOOL_BAD"); ok {
		t.Error("ParseEnvBool() should return ok=false for malformed input")
	}
}

func TestParseEnvDuration(t *testing.T) {
	withEnv(t, "ROUTER_TEST_DUR", "30s")
	v, ok := ParseEnvDuration("ROUTER_TEST_DUR")
	if !ok || v.Seconds() != 30 {
		t.Errorf("ParseEnvDuration() = %v, %v, want 30s, true", v, ok)
	}

	withEnv(t, "ROUTER_TEST_DUR_BAD", "soon")
	if _, ok := ParseEnvDuration("ROUTER_TEST_DUR_BAD"); ok {
		t.Error("ParseEnvDuration() should return ok=false for malformed input")
	}
}
