// Package model defines the data structures used throughout the application.
package model

import (
	"slices"
	"time"
)

// Role is the authorization role carried in the session token.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// AuthProvider records how an account was originally created.
type AuthProvider string

const (
	ProviderLocal  AuthProvider = "local"
	ProviderGoogle AuthProvider = "google"
	ProviderGitHub AuthProvider = "github"
)

// Valid reports whether p is one of the known providers.
func (p AuthProvider) Valid() bool {
	switch p {
	case ProviderLocal, ProviderGoogle, ProviderGitHub:
		return true
	}
	return false
}

// External reports whether p is an OAuth provider.
func (p AuthProvider) External() bool {
	return p == ProviderGoogle || p == ProviderGitHub
}

// User is an account in the credential store.
//
// Optional external identifiers and the password hash use "" for absent;
// the repository stores them as NULL so the UNIQUE indexes only apply to
// present values. Secret material never serializes to JSON.
type User struct {
	ID             string       `json:"id"             db:"id"`
	Name           string       `json:"name"           db:"name"`
	Email          string       `json:"email"          db:"email"` // lowercase
	PasswordHash   string       `json:"-"              db:"password_hash"`
	AuthProvider   AuthProvider `json:"authProvider"   db:"auth_provider"`
	GoogleID       string       `json:"googleId,omitempty" db:"google_id"`
	GitHubID       string       `json:"githubId,omitempty" db:"github_id"`
	AvatarPublicID string       `json:"avatarPublicId,omitempty" db:"avatar_public_id"`
	AvatarURL      string       `json:"avatarUrl"      db:"avatar_url"`
	Role           Role         `json:"role"           db:"role"`
	IsVerified     bool         `json:"isVerified"     db:"is_verified"`
	Phone          string       `json:"phone,omitempty" db:"phone"`

	ResetTokenHash      string     `json:"-" db:"reset_token_hash"`
	ResetTokenExpiresAt *time.Time `json:"-" db:"reset_token_expires_at"`

	// Entitlements holds the ids of purchased courses.
	Entitlements []string `json:"subscription"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// HasPassword reports whether the account can log in with a password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// ProviderID returns the linked external id for p, or "".
func (u *User) ProviderID(p AuthProvider) string {
	switch p {
	case ProviderGoogle:
		return u.GoogleID
	case ProviderGitHub:
		return u.GitHubID
	}
	return ""
}

// IsEntitledTo reports whether the user has purchased the course.
func (u *User) IsEntitledTo(courseID string) bool {
	return slices.Contains(u.Entitlements, courseID)
}
