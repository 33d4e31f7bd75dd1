package internal

import (
	"context"
	"database/sql"
	"embed"
	"net/http"
	"os"
	"time"

	"gear-guardian-api/internal/ai"
	"gear-guardian-api/internal/auth"
	"gear-guardian-api/internal/config"
	"gear-guardian-api/internal/handlers"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed openapi
var openapiFS embed.FS

type Server struct {
	DB         *sql.DB
	Pool       *pgxpool.Pool
	Router     *chi.Mux
	JWTManager *auth.JWTManager
	Metrics    *Metrics
	Log        *zap.Logger
	AI         ai.Analyzer
	Cfg        *config.Config

	// clock is overridable in tests; all derived lifecycle fields are
	// computed against it.
	clock func() time.Time
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock()
	}
	return time.Now()
}

func NewServer(dsn string, cfg *config.Config, log *zap.Logger) *Server {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		log.Fatal("failed to open database connection", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("database ping failed", zap.Error(err))
	}

	// Also create a pgxpool for the importer
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.Fatal("failed to create pgxpool", zap.Error(err))
	}

	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		log.Fatal("JWT configuration validation failed", zap.Error(err))
	}

	var analyzer ai.Analyzer
	if cfg.AIEnabled() {
		analyzer = ai.NewClient(cfg.AIBaseURL, cfg.AIAPIKey, cfg.AIModel, cfg.AITimeout)
	} else {
		log.Warn("gear health analysis disabled: no API key configured")
		analyzer = ai.Disabled()
	}

	s := &Server{
		DB:         db,
		Pool:       pool,
		Router:     chi.NewRouter(),
		JWTManager: jwtManager,
		Metrics:    NewMetrics(),
		Log:        log,
		AI:         analyzer,
		Cfg:        cfg,
	}

	// Mount public routes FIRST (no middleware)
	s.Router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	s.Router.Get("/dbping", func(w http.ResponseWriter, r *http.Request) {
		if err := s.DB.PingContext(r.Context()); err != nil {
			http.Error(w, "db: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if _, err := w.Write([]byte("db: ok")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	// Public auth routes (no JWT required)
	s.Router.Post("/auth/login", s.loginUser)
	s.Router.Post("/auth/signup", s.signupUser)
	s.mountDocs(s.Router)

	// Mount metrics if enabled
	if os.Getenv("ENABLE_METRICS") == "true" {
		s.Router.Use(s.Metrics.Middleware())
		s.Router.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	// Create a protected route group with middleware
	s.Router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(s.JWTManager))
		r.Use(s.withRLSSession)

		s.mountProtectedRoutes(r)
	})

	return s
}

// Close properly shuts down the server and cleans up resources
func (s *Server) Close(ctx context.Context) error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// withRLSSession pins the request to a connection with the current user set,
// so row-level policies scope every equipment query.
func (s *Server) withRLSSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := auth.UserIDFromContext(r.Context())
		conn, ctx2, err := withDBConn(r.Context(), s.DB, userID)
		if err != nil {
			http.Error(w, "db acquire: "+err.Error(), http.StatusInternalServerError)
			return
		}
		if conn != nil {
			defer conn.Close()
		}
		next.ServeHTTP(w, r.WithContext(ctx2))
	})
}

// mountDocs serves the OpenAPI spec and Swagger UI
func (s *Server) mountDocs(mux *chi.Mux) {
	if os.Getenv("ENABLE_SWAGGER") != "true" {
		return
	}

	// Serve the raw YAML
	mux.HandleFunc("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		data, err := openapiFS.ReadFile("openapi/openapi.yaml")
		if err != nil {
			http.Error(w, "Failed to read OpenAPI spec", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		if _, err := w.Write(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	mux.HandleFunc("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(200)
		w.Write([]byte(`<!doctype html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>Gear Guardian API - Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css">
    <style>
        body { margin: 0; background: #f7f7f7; }
        .swagger-ui .topbar { background: #1f2937; border-bottom: 3px solid #3b82f6; }
        .swagger-ui .topbar .download-url-wrapper { display: none; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({
                url: '/openapi.yaml',
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [
                    SwaggerUIBundle.presets.apis,
                    SwaggerUIBundle.presets.standalone
                ],
                layout: "StandaloneLayout",
                tryItOutEnabled: true
            });
        };
    </script>
</body>
</html>`))
	})
}

// mountProtectedRoutes mounts all protected routes that require authentication
func (s *Server) mountProtectedRoutes(r chi.Router) {
	// Personal gear - every authenticated user manages their own inventory
	r.Get("/epi/me", s.listMyEquipment)
	r.Get("/epi/alerts", s.listAlerts)
	r.Post("/epi", s.createEquipment)
	r.Get("/epi/{id}", s.getEquipment)
	r.Put("/epi/{id}", s.updateEquipment)
	r.Delete("/epi/{id}", s.deleteEquipment)

	// Photo upload and retrieval
	photosHandler := handlers.NewPhotosHandler(s.DB, s.Log)
	r.Post("/epi/{id}/photos", photosHandler.Upload)
	r.Get("/epi/{id}/photo", photosHandler.Serve)

	// AI gear health analysis
	r.Post("/epi/{id}/analysis", s.analyzeEquipment)

	// Admin views across all users
	r.Get("/epi", auth.MustRole("admin")(http.HandlerFunc(s.adminListEquipment)).(http.HandlerFunc))

	// Excel registry import - admin only
	importsHandler := handlers.NewImportsHandler(s.Pool, s.Log, s.Cfg.MappingPath, s.Cfg.LifespansPath)
	r.Post("/imports/excel", auth.MustRole("admin")(http.HandlerFunc(importsHandler.UploadExcel)).(http.HandlerFunc))

	// User management - admin only
	r.Post("/users", auth.MustRole("admin")(http.HandlerFunc(s.createUser)).(http.HandlerFunc))
	r.Get("/users", auth.MustRole("admin")(http.HandlerFunc(s.listUsers)).(http.HandlerFunc))
	r.Get("/users/{id}", auth.MustRole("admin")(http.HandlerFunc(s.getUser)).(http.HandlerFunc))
	r.Put("/users/{id}", auth.MustRole("admin")(http.HandlerFunc(s.updateUser)).(http.HandlerFunc))
	r.Delete("/users/{id}", auth.MustRole("admin")(http.HandlerFunc(s.deleteUser)).(http.HandlerFunc))

	// Self-service routes
	r.Get("/users/me", s.getUserProfile)
	r.Put("/users/me", s.updateUserProfile)
	r.Put("/auth/change-password", s.changePassword)
}
