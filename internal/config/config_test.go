package config

import (
	"os"
	"testing"
	"time"
)

func clearEnv() {
	for _, key := range []string{
		"JWT_SECRET", "JWT_ISS", "JWT_AUD", "JWT_EXPIRY",
		"GEARHEALTH_API_KEY", "GEARHEALTH_BASE_URL", "GEARHEALTH_MODEL", "GEARHEALTH_TIMEOUT",
		"IMPORT_MAPPING_PATH", "LIFESPANS_PATH",
	} {
		os.Unsetenv(key)
	}
}

func TestLoad(t *testing.T) {
	clearEnv()

	cfg := Load()

	// Check defaults
	if cfg.JWTSecret != "your-secret-key-change-in-production" {
		t.Errorf("Expected default JWT_SECRET, got %s", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "gear-guardian-api" {
		t.Errorf("Expected default JWT_ISS, got %s", cfg.JWTIssuer)
	}
	if cfg.JWTAudience != "gear-guardian-api" {
		t.Errorf("Expected default JWT_AUD, got %s", cfg.JWTAudience)
	}
	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("Expected default JWT_EXPIRY, got %v", cfg.JWTExpiry)
	}
	if cfg.AITimeout != 15*time.Second {
		t.Errorf("Expected default AI timeout, got %v", cfg.AITimeout)
	}
	if cfg.AIEnabled() {
		t.Error("Expected AI to be disabled without GEARHEALTH_API_KEY")
	}
	if cfg.MappingPath != "configs/mapping/epi_registry.yaml" {
		t.Errorf("Unexpected default mapping path: %s", cfg.MappingPath)
	}
}

func TestLoadWithEnvironment(t *testing.T) {
	clearEnv()
	os.Setenv("JWT_SECRET", "test-secret-key-long-enough")
	os.Setenv("JWT_ISS", "test-issuer")
	os.Setenv("JWT_AUD", "test-audience")
	os.Setenv("JWT_EXPIRY", "2h")
	os.Setenv("GEARHEALTH_API_KEY", "sk-test")
	os.Setenv("GEARHEALTH_TIMEOUT", "30s")
	defer clearEnv()

	cfg := Load()

	if cfg.JWTSecret != "test-secret-key-long-enough" {
		t.Errorf("Expected JWT_SECRET from env, got %s", cfg.JWTSecret)
	}
	if cfg.JWTIssuer != "test-issuer" {
		t.Errorf("Expected JWT_ISS from env, got %s", cfg.JWTIssuer)
	}
	if cfg.JWTAudience != "test-audience" {
		t.Errorf("Expected JWT_AUD from env, got %s", cfg.JWTAudience)
	}
	if cfg.JWTExpiry != 2*time.Hour {
		t.Errorf("Expected JWT_EXPIRY from env, got %v", cfg.JWTExpiry)
	}
	if !cfg.AIEnabled() {
		t.Error("Expected AI to be enabled with GEARHEALTH_API_KEY set")
	}
	if cfg.AITimeout != 30*time.Second {
		t.Errorf("Expected GEARHEALTH_TIMEOUT from env, got %v", cfg.AITimeout)
	}
}

func TestLoadIgnoresInvalidDurations(t *testing.T) {
	clearEnv()
	os.Setenv("JWT_EXPIRY", "not-a-duration")
	os.Setenv("GEARHEALTH_TIMEOUT", "soon")
	defer clearEnv()

	cfg := Load()

	if cfg.JWTExpiry != 24*time.Hour {
		t.Errorf("Expected fallback JWT expiry, got %v", cfg.JWTExpiry)
	}
	if cfg.AITimeout != 15*time.Second {
		t.Errorf("Expected fallback AI timeout, got %v", cfg.AITimeout)
	}
}

func TestLoadAndValidate(t *testing.T) {
	clearEnv()

	// Default secret is long enough, so defaults validate.
	if _, err := LoadAndValidate(); err != nil {
		t.Errorf("Expected defaults to validate, got %v", err)
	}

	os.Setenv("JWT_SECRET", "short")
	defer clearEnv()
	if _, err := LoadAndValidate(); err == nil {
		t.Error("Expected validation error for short JWT_SECRET")
	}
}
