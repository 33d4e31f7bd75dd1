package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"
)

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const (
	// ClaimsKey is the context key for JWT claims
	ClaimsKey contextKey = "claims"
	// UserIDKey is the context key for user ID
	UserIDKey contextKey = "userID"
	// RolesKey is the context key for user roles
	RolesKey contextKey = "roles"
)

// ErrorResponse represents a standardized error response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ClaimsFromContext extracts the JWT claims from the request context
func ClaimsFromContext(ctx context.Context) *Claims {
	if claims, ok := ctx.Value(ClaimsKey).(*Claims); ok {
		return claims
	}
	return nil
}

// UserIDFromContext extracts the user ID from the request context
func UserIDFromContext(ctx context.Context) int64 {
	if v := ctx.Value(UserIDKey); v != nil {
		if id, ok := v.(int64); ok {
			return id
		}
	}
	return 0
}

// RolesFromContext extracts the user roles from the request context
func RolesFromContext(ctx context.Context) []string {
	if v := ctx.Value(RolesKey); v != nil {
		if roles, ok := v.([]string); ok {
			return roles
		}
	}
	return nil
}

// IsAdmin reports whether the authenticated caller carries the admin role.
func IsAdmin(ctx context.Context) bool {
	claims := ClaimsFromContext(ctx)
	return claims != nil && claims.HasRole("admin")
}

// sendErrorResponse sends a standardized error response
func sendErrorResponse(w http.ResponseWriter, message, code string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := ErrorResponse{
		Error: message,
		Code:  code,
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// sendTokenExpirationWarning adds a warning header when token expires soon
func sendTokenExpirationWarning(w http.ResponseWriter, expiresAt time.Time) {
	timeUntilExpiry := time.Until(expiresAt)
	if timeUntilExpiry <= time.Hour && timeUntilExpiry > 0 {
		w.Header().Set("X-Token-Expires-At", expiresAt.Format(time.RFC3339))
		w.Header().Set("X-Token-Expires-In", timeUntilExpiry.String())
	}
}

// validateTokenFormat performs basic token format validation
func validateTokenFormat(tokenString string) error {
	if len(tokenString) == 0 {
		return errors.New("token cannot be empty")
	}
	if len(tokenString) > 8192 { // 8KB limit
		return errors.New("token size exceeds maximum allowed")
	}
	// Basic JWT format validation (3 parts separated by dots)
	parts := strings.Split(tokenString, ".")
	if len(parts) != 3 {
		return errors.New("invalid JWT token format")
	}
	return nil
}

// AuthMiddleware validates bearer tokens and sets user context. Missing or
// bad credentials get a 401 with a machine-readable code; the login flow
// itself is mounted outside this middleware.
func AuthMiddleware(jwtManager *JWTManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				sendErrorResponse(w, "Authorization header required", "MISSING_AUTH_HEADER", http.StatusUnauthorized)
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				sendErrorResponse(w, "Invalid authorization header format. Expected: Bearer <token>", "INVALID_AUTH_FORMAT", http.StatusUnauthorized)
				return
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == "" {
				sendErrorResponse(w, "Token is required", "MISSING_TOKEN", http.StatusUnauthorized)
				return
			}

			if err := validateTokenFormat(tokenString); err != nil {
				sendErrorResponse(w, "Invalid token format: "+err.Error(), "INVALID_TOKEN_FORMAT", http.StatusUnauthorized)
				return
			}

			claims, err := jwtManager.ValidateToken(tokenString)
			if err != nil {
				var errorCode string
				var errorMessage string

				if strings.Contains(err.Error(), "expired") {
					errorCode = "TOKEN_EXPIRED"
					errorMessage = "Token has expired"
				} else if strings.Contains(err.Error(), "signing method") {
					errorCode = "INVALID_SIGNING_METHOD"
					errorMessage = "Invalid token signing method"
				} else if strings.Contains(err.Error(), "malformed") {
					errorCode = "MALFORMED_TOKEN"
					errorMessage = "Token is malformed"
				} else {
					errorCode = "INVALID_TOKEN"
					errorMessage = "Invalid or expired token"
				}

				sendErrorResponse(w, errorMessage, errorCode, http.StatusUnauthorized)
				return
			}

			if claims.UserID <= 0 {
				sendErrorResponse(w, "Invalid user ID in token", "INVALID_USER_ID", http.StatusUnauthorized)
				return
			}
			if len(claims.Roles) == 0 {
				sendErrorResponse(w, "No roles assigned to user", "NO_ROLES", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsKey, claims)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, RolesKey, claims.Roles)

			if claims.ExpiresAt != nil {
				sendTokenExpirationWarning(w, claims.ExpiresAt.Time)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// MustRole creates middleware that requires specific roles
func MustRole(requiredRoles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				sendErrorResponse(w, "Authentication required", "AUTHENTICATION_REQUIRED", http.StatusUnauthorized)
				return
			}

			if len(requiredRoles) == 0 {
				sendErrorResponse(w, "No roles specified for this endpoint", "NO_ROLES_SPECIFIED", http.StatusInternalServerError)
				return
			}

			if !claims.HasRole(requiredRoles...) {
				sendErrorResponse(w, "Insufficient permissions", "INSUFFICIENT_PERMISSIONS", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
