// Package service holds the business rules for accounts, password reset,
// OAuth identity linking and course payments.
//
//	handler (HTTP) → service (rules) → repository (storage)
//	                               ↘ auth / payment / mailer
//
// Services take and return plain values and domain errors from apperror;
// they never see an *http.Request.
package service

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
)

const (
	MaxNameLength  = 50
	MaxPhoneLength = 20
	MaxEmailLength = 254

	DefaultListLimit = 20
	MaxListLimit     = 100
)

// AuthResult bundles a user with a freshly issued session token so the
// handler can set the cookie and respond in one step.
type AuthResult struct {
	User  *model.User
	Token string
}

// normalizeEmail trims and lowercases email and checks it parses as a bare
// address.
func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", apperror.ValidationFailed("email", "email is required")
	}
	if len(email) > MaxEmailLength {
		return "", apperror.ValidationFailed("email", "email is too long")
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", apperror.ValidationFailed("email", "email is not a valid address")
	}
	return email, nil
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", apperror.ValidationFailed("name", "name is required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return "", apperror.ValidationFailed("name",
			fmt.Sprintf("name must be %d characters or less", MaxNameLength))
	}
	return name, nil
}

func validatePassword(field, password string) error {
	if password == "" {
		return apperror.ValidationFailed(field, field+" is required")
	}
	if len(password) < auth.MinPasswordLength {
		return apperror.ValidationFailed(field,
			fmt.Sprintf("password must be at least %d characters", auth.MinPasswordLength))
	}
	if len(password) > 72 {
		return apperror.ValidationFailed(field, "password must be 72 bytes or fewer")
	}
	return nil
}

func validateExternalProvider(p model.AuthProvider) error {
	if !p.External() {
		return apperror.ValidationFailed("provider", fmt.Sprintf("unsupported provider %q", p))
	}
	return nil
}

func clampList(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
