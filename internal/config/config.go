package config

import (
	"errors"
	"os"
	"time"
)

type Config struct {
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTExpiry   time.Duration

	// Gear-health analysis collaborator. Analysis endpoints return 503 when
	// the key is unset; everything else works without it.
	AIAPIKey  string
	AIBaseURL string
	AIModel   string
	AITimeout time.Duration

	// Importer configuration files.
	MappingPath   string
	LifespansPath string
}

func Load() *Config {
	config := &Config{
		JWTSecret:     getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTIssuer:     getEnv("JWT_ISS", "gear-guardian-api"),
		JWTAudience:   getEnv("JWT_AUD", "gear-guardian-api"),
		JWTExpiry:     24 * time.Hour, // Default to 24 hours
		AIAPIKey:      os.Getenv("GEARHEALTH_API_KEY"),
		AIBaseURL:     getEnv("GEARHEALTH_BASE_URL", "https://api.anthropic.com"),
		AIModel:       getEnv("GEARHEALTH_MODEL", "claude-3-haiku-20240307"),
		AITimeout:     15 * time.Second,
		MappingPath:   getEnv("IMPORT_MAPPING_PATH", "configs/mapping/epi_registry.yaml"),
		LifespansPath: getEnv("LIFESPANS_PATH", "configs/lifespans.yaml"),
	}

	// Parse JWT expiry from environment if provided
	if expiryStr := os.Getenv("JWT_EXPIRY"); expiryStr != "" {
		if expiry, err := time.ParseDuration(expiryStr); err == nil {
			config.JWTExpiry = expiry
		}
	}

	if timeoutStr := os.Getenv("GEARHEALTH_TIMEOUT"); timeoutStr != "" {
		if timeout, err := time.ParseDuration(timeoutStr); err == nil {
			config.AITimeout = timeout
		}
	}

	return config
}

// LoadAndValidate loads the configuration and rejects values that would
// produce a broken server rather than failing later mid-request.
func LoadAndValidate() (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.JWTSecret) < 16 {
		return errors.New("JWT_SECRET must be at least 16 characters")
	}
	if c.JWTIssuer == "" {
		return errors.New("JWT_ISS must not be empty")
	}
	if c.JWTAudience == "" {
		return errors.New("JWT_AUD must not be empty")
	}
	if c.JWTExpiry <= 0 {
		return errors.New("JWT_EXPIRY must be positive")
	}
	if c.AITimeout <= 0 {
		return errors.New("GEARHEALTH_TIMEOUT must be positive")
	}
	return nil
}

// AIEnabled reports whether the gear-health collaborator is configured.
func (c *Config) AIEnabled() bool {
	return c.AIAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
