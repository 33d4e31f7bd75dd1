package models

import (
	"time"
)

// DefaultAlertThreshold is the percentage-used value at which the expiration
// banner starts flagging gear, unless the user has tuned it.
const DefaultAlertThreshold = 80

// User represents an account in the system.
type User struct {
	ID             int64      `json:"id"`
	Email          string     `json:"email"`
	PasswordHash   string     `json:"-"` // Never expose in JSON
	Name           *string    `json:"name,omitempty"`
	Roles          []string   `json:"roles"`
	AlertThreshold int        `json:"alert_threshold"`
	IsActive       bool       `json:"is_active"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastLoginAt    *time.Time `json:"last_login_at,omitempty"`
}

// SignupRequest represents the request body for self-registration.
type SignupRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Name     *string `json:"name,omitempty"`
}

// CreateUserRequest represents the request body for admin user creation.
type CreateUserRequest struct {
	Email    string   `json:"email"`
	Password string   `json:"password"`
	Name     *string  `json:"name,omitempty"`
	Roles    []string `json:"roles"`
}

// UpdateUserRequest represents the request body for admin user updates.
type UpdateUserRequest struct {
	Name     *string  `json:"name,omitempty"`
	Roles    []string `json:"roles,omitempty"`
	IsActive *bool    `json:"is_active,omitempty"`
}

// LoginRequest represents the request body for user login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// LoginResponse represents the response body for successful login.
type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// ChangePasswordRequest represents the request body for changing password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// UpdateProfileRequest represents the request body for profile updates.
// AlertThreshold is the user preference consumed by the expiration banner.
type UpdateProfileRequest struct {
	Name           *string `json:"name,omitempty"`
	AlertThreshold *int    `json:"alert_threshold,omitempty"`
}

// ValidRoles defines the available roles in the system.
var ValidRoles = []string{
	"user",
	"admin",
}

// IsValidRole checks if a role is valid.
func IsValidRole(role string) bool {
	for _, validRole := range ValidRoles {
		if role == validRole {
			return true
		}
	}
	return false
}

// ValidateRoles checks if all provided roles are valid.
func ValidateRoles(roles []string) bool {
	for _, role := range roles {
		if !IsValidRole(role) {
			return false
		}
	}
	return len(roles) > 0
}

// ValidAlertThreshold bounds the banner preference to a sane percentage.
func ValidAlertThreshold(v int) bool {
	return v >= 0 && v <= 100
}

// HasRole checks if the user has a specific role.
func (u *User) HasRole(role string) bool {
	for _, userRole := range u.Roles {
		if userRole == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the user carries the admin role.
func (u *User) IsAdmin() bool {
	return u.HasRole("admin")
}

// GetDisplayName returns the user's display name.
func (u *User) GetDisplayName() string {
	if u.Name != nil && *u.Name != "" {
		return *u.Name
	}
	return u.Email
}

// Redacted returns a copy of the user with sensitive fields removed.
func (u *User) Redacted() User {
	return User{
		ID:             u.ID,
		Email:          u.Email,
		Name:           u.Name,
		Roles:          u.Roles,
		AlertThreshold: u.AlertThreshold,
		IsActive:       u.IsActive,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
		LastLoginAt:    u.LastLoginAt,
	}
}
