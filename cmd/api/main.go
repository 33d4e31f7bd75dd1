package main

import (
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"gear-guardian-api/internal"
	"gear-guardian-api/internal/config"
	"gear-guardian-api/pkg/logger"
)

func main() {
	// Load .env if present; real deployments set the environment directly
	_ = godotenv.Load()

	// Load and validate configuration
	cfg, err := config.LoadAndValidate()
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	zl := logger.Must(logger.New())
	defer zl.Sync()

	// Validate database connection string
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		zl.Fatal("DB_DSN environment variable is required")
	}

	// Create and start server
	srv := internal.NewServer(dsn, cfg, zl)

	zl.Info("starting Gear Guardian API server",
		zap.String("jwt_issuer", cfg.JWTIssuer),
		zap.String("jwt_audience", cfg.JWTAudience),
		zap.Duration("jwt_expiry", cfg.JWTExpiry),
		zap.Bool("analysis_enabled", cfg.AIEnabled()),
		zap.String("addr", ":8080"))

	if err := http.ListenAndServe(":8080", srv.Router); err != nil {
		zl.Fatal("server stopped", zap.Error(err))
	}
}
