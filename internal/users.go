package internal

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"gear-guardian-api/internal/auth"
	"gear-guardian-api/internal/models"

	"github.com/go-chi/chi/v5"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const userColumns = `id, email, password_hash, name, roles, alert_threshold, is_active,
	created_at, updated_at, last_login_at`

func scanUser(sc rowScanner) (models.User, error) {
	var user models.User
	var name sql.NullString
	var lastLoginAt sql.NullTime
	var roles pq.StringArray

	err := sc.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &name, &roles,
		&user.AlertThreshold, &user.IsActive, &user.CreatedAt, &user.UpdatedAt, &lastLoginAt,
	)
	if err != nil {
		return user, err
	}
	if name.Valid {
		user.Name = &name.String
	}
	if lastLoginAt.Valid {
		user.LastLoginAt = &lastLoginAt.Time
	}
	user.Roles = roles
	return user, nil
}

// loginUser handles user authentication
func (s *Server) loginUser(w http.ResponseWriter, r *http.Request) {
	var req models.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" {
		http.Error(w, "Email and password are required", http.StatusBadRequest)
		return
	}

	user, err := scanUser(s.DB.QueryRowContext(r.Context(), `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 AND is_active = true`, req.Email))
	if err == sql.ErrNoRows {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		http.Error(w, "Invalid credentials", http.StatusUnauthorized)
		return
	}

	if _, err := s.DB.ExecContext(r.Context(), "UPDATE users SET last_login_at = now() WHERE id = $1", user.ID); err != nil {
		// Log but don't fail the login over a bookkeeping column.
		s.Log.Warn("failed to update last_login_at", zap.Int64("user_id", user.ID), zap.Error(err))
	}

	token, err := s.JWTManager.GenerateToken(user.ID, user.Roles)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	response := models.LoginResponse{
		Token: token,
		User:  user.Redacted(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// signupUser handles self-registration. New accounts get the user role and
// the default alert threshold.
func (s *Server) signupUser(w http.ResponseWriter, r *http.Request) {
	var req models.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if !strings.Contains(req.Email, "@") {
		http.Error(w, "A valid email is required", http.StatusBadRequest)
		return
	}
	if len(req.Password) < 8 {
		http.Error(w, "Password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user, err := scanUser(s.DB.QueryRowContext(r.Context(), `
		INSERT INTO users (email, password_hash, name, roles, alert_threshold)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		req.Email, string(hashedPassword), req.Name,
		pq.Array([]string{"user"}), models.DefaultAlertThreshold))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			http.Error(w, "User with this email already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	token, err := s.JWTManager.GenerateToken(user.ID, user.Roles)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(models.LoginResponse{Token: token, User: user.Redacted()})
}

// createUser handles admin user creation
func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req models.CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Email == "" || req.Password == "" || len(req.Roles) == 0 {
		http.Error(w, "Email, password, and roles are required", http.StatusBadRequest)
		return
	}
	if !models.ValidateRoles(req.Roles) {
		http.Error(w, "Invalid roles provided", http.StatusBadRequest)
		return
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	user, err := scanUser(s.DB.QueryRowContext(r.Context(), `
		INSERT INTO users (email, password_hash, name, roles, alert_threshold)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+userColumns,
		req.Email, string(hashedPassword), req.Name,
		pq.Array(req.Roles), models.DefaultAlertThreshold))
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			http.Error(w, "User with this email already exists", http.StatusConflict)
			return
		}
		http.Error(w, "Failed to create user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(user.Redacted())
}

// listUsers handles admin user listing
func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	rows, err := s.DB.QueryContext(r.Context(), `
		SELECT `+userColumns+`
		FROM users ORDER BY created_at DESC`)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			s.Log.Warn("skipping malformed user row", zap.Error(err))
			continue
		}
		users = append(users, user.Redacted())
	}
	if err := rows.Err(); err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(users)
}

// getUser handles getting a specific user
func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	user, err := scanUser(s.DB.QueryRowContext(r.Context(), `
		SELECT `+userColumns+`
		FROM users WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user.Redacted())
}

// updateUser handles admin user updates
func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var req models.UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	setParts := []string{}
	args := []interface{}{}
	argIndex := 1

	if req.Name != nil {
		setParts = append(setParts, "name = $"+strconv.Itoa(argIndex))
		args = append(args, *req.Name)
		argIndex++
	}
	if len(req.Roles) > 0 {
		if !models.ValidateRoles(req.Roles) {
			http.Error(w, "Invalid roles provided", http.StatusBadRequest)
			return
		}
		setParts = append(setParts, "roles = $"+strconv.Itoa(argIndex))
		args = append(args, pq.Array(req.Roles))
		argIndex++
	}
	if req.IsActive != nil {
		setParts = append(setParts, "is_active = $"+strconv.Itoa(argIndex))
		args = append(args, *req.IsActive)
		argIndex++
	}

	if len(setParts) == 0 {
		http.Error(w, "No fields to update", http.StatusBadRequest)
		return
	}

	setParts = append(setParts, "updated_at = now()")
	updateQuery := `
		UPDATE users
		SET ` + strings.Join(setParts, ", ") + `
		WHERE id = $` + strconv.Itoa(argIndex) + `
		RETURNING ` + userColumns
	args = append(args, id)

	user, err := scanUser(s.DB.QueryRowContext(r.Context(), updateQuery, args...))
	if err == sql.ErrNoRows {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to update user", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user.Redacted())
}

// deleteUser handles user deletion. The last active admin cannot be removed.
func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	var roles pq.StringArray
	err = s.DB.QueryRowContext(r.Context(), `SELECT roles FROM users WHERE id = $1`, id).Scan(&roles)
	if err == sql.ErrNoRows {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if containsRole(roles, "admin") {
		var adminCount int
		countQuery := `SELECT COUNT(*) FROM users WHERE roles && ARRAY['admin'] AND is_active = true AND id != $1`
		if err := s.DB.QueryRowContext(r.Context(), countQuery, id).Scan(&adminCount); err != nil {
			http.Error(w, "Database error", http.StatusInternalServerError)
			return
		}
		if adminCount == 0 {
			http.Error(w, "Cannot delete the last admin", http.StatusBadRequest)
			return
		}
	}

	result, err := s.DB.ExecContext(r.Context(), `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		http.Error(w, "Failed to delete user", http.StatusInternalServerError)
		return
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}
	if rowsAffected == 0 {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// getUserProfile handles getting the current user's profile
func (s *Server) getUserProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "User ID not found in context", http.StatusInternalServerError)
		return
	}

	user, err := scanUser(s.DB.QueryRowContext(r.Context(), `
		SELECT `+userColumns+`
		FROM users WHERE id = $1`, userID))
	if err == sql.ErrNoRows {
		http.Error(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user.Redacted())
}

// updateUserProfile handles profile updates, including the alert-threshold
// preference consumed by the expiration banner.
func (s *Server) updateUserProfile(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "User ID not found in context", http.StatusInternalServerError)
		return
	}

	var req models.UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	setParts := []string{}
	args := []interface{}{}
	argIndex := 1

	if req.Name != nil {
		setParts = append(setParts, "name = $"+strconv.Itoa(argIndex))
		args = append(args, *req.Name)
		argIndex++
	}
	if req.AlertThreshold != nil {
		if !models.ValidAlertThreshold(*req.AlertThreshold) {
			http.Error(w, "alert_threshold must be between 0 and 100", http.StatusBadRequest)
			return
		}
		setParts = append(setParts, "alert_threshold = $"+strconv.Itoa(argIndex))
		args = append(args, *req.AlertThreshold)
		argIndex++
	}

	if len(setParts) == 0 {
		http.Error(w, "No fields to update", http.StatusBadRequest)
		return
	}

	setParts = append(setParts, "updated_at = now()")
	updateQuery := `
		UPDATE users
		SET ` + strings.Join(setParts, ", ") + `
		WHERE id = $` + strconv.Itoa(argIndex) + `
		RETURNING ` + userColumns
	args = append(args, userID)

	user, err := scanUser(s.DB.QueryRowContext(r.Context(), updateQuery, args...))
	if err != nil {
		http.Error(w, "Failed to update profile", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user.Redacted())
}

// changePassword handles password changes for the current user
func (s *Server) changePassword(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserIDFromContext(r.Context())
	if userID == 0 {
		http.Error(w, "User ID not found in context", http.StatusInternalServerError)
		return
	}

	var req models.ChangePasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.CurrentPassword == "" || req.NewPassword == "" {
		http.Error(w, "Current and new passwords are required", http.StatusBadRequest)
		return
	}
	if len(req.NewPassword) < 8 {
		http.Error(w, "New password must be at least 8 characters", http.StatusBadRequest)
		return
	}

	var passwordHash string
	err := s.DB.QueryRowContext(r.Context(), `SELECT password_hash FROM users WHERE id = $1`, userID).Scan(&passwordHash)
	if err != nil {
		http.Error(w, "Database error", http.StatusInternalServerError)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.CurrentPassword)); err != nil {
		http.Error(w, "Current password is incorrect", http.StatusUnauthorized)
		return
	}

	newHash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "Failed to hash password", http.StatusInternalServerError)
		return
	}

	if _, err := s.DB.ExecContext(r.Context(),
		`UPDATE users SET password_hash = $1, updated_at = now() WHERE id = $2`, string(newHash), userID); err != nil {
		http.Error(w, "Failed to change password", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
