package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/repository"
)

// errBadCredentials is the only answer to a failed login, whether the email
// is unknown or the password is wrong.
var errBadCredentials = apperror.Unauthenticated("invalid email or password")

// AuthService handles local accounts: registration, login, profile and
// password changes.
type AuthService struct {
	users         repository.UserRepository
	tokens        *auth.TokenService
	passwords     *auth.PasswordService
	defaultAvatar string
	logger        *slog.Logger

	// dummyHash is compared against on unknown emails so a miss costs the
	// same bcrypt work as a wrong password.
	dummyOnce sync.Once
	dummyHash string
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	defaultAvatar string,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:         users,
		tokens:        tokens,
		passwords:     passwords,
		defaultAvatar: defaultAvatar,
		logger:        logger,
	}
}

// Register creates a local account and signs it in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*AuthResult, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	email, err = normalizeEmail(email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword("password", password); err != nil {
		return nil, err
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: hashing password: %w", err)
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		AuthProvider: model.ProviderLocal,
		AvatarURL:    s.defaultAvatar,
		Role:         model.RoleUser,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict("an account with this email already exists")
		}
		return nil, fmt.Errorf("service/auth: creating user: %w", err)
	}

	s.logger.Info("user registered", slog.String("userID", user.ID))
	return s.signIn(user)
}

// Login checks email and password. Every failure is errBadCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, apperror.ValidationFailed("email", "email and password are required")
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			_ = s.passwords.Verify(s.dummy(), password)
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("service/auth: looking up user: %w", err)
	}

	if err := s.passwords.Verify(user.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Info("login rejected", slog.String("userID", user.ID))
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("service/auth: verifying password: %w", err)
	}

	return s.signIn(user)
}

// Profile is the signed-in user together with the courses they bought.
type Profile struct {
	User    *model.User
	Courses []model.Course
}

func (s *AuthService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	courses, err := s.users.ListEntitledCourses(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: listing courses of %s: %w", userID, err)
	}
	return &Profile{User: user, Courses: courses}, nil
}

// ChangePassword replaces the password after checking the current one.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if oldPassword == "" {
		return apperror.ValidationFailed("oldPassword", "oldPassword is required")
	}
	if err := validatePassword("newPassword", newPassword); err != nil {
		return err
	}
	if oldPassword == newPassword {
		return apperror.ValidationFailed("newPassword", "new password must differ from the old one")
	}

	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	if !user.HasPassword() {
		return apperror.ValidationFailed("oldPassword",
			"this account has no password yet; use forgot password to set one")
	}
	if err := s.passwords.Verify(user.PasswordHash, oldPassword); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return apperror.ValidationFailed("oldPassword", "old password is incorrect")
		}
		return fmt.Errorf("service/auth: verifying password: %w", err)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/auth: hashing password: %w", err)
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return fmt.Errorf("service/auth: updating password: %w", err)
	}

	s.logger.Info("password changed", slog.String("userID", userID))
	return nil
}

// UpdateProfile changes display fields only. The password hash is never
// touched here.
func (s *AuthService) UpdateProfile(ctx context.Context, userID, name, phone string) (*model.User, error) {
	name, err := validateName(name)
	if err != nil {
		return nil, err
	}
	phone = strings.TrimSpace(phone)
	if len(phone) > MaxPhoneLength {
		return nil, apperror.ValidationFailed("phone",
			fmt.Sprintf("phone must be %d characters or less", MaxPhoneLength))
	}

	if err := s.users.UpdateProfile(ctx, userID, name, phone); err != nil {
		return nil, fmt.Errorf("service/auth: updating profile: %w", err)
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/auth: fetching user %s: %w", userID, err)
	}
	return user, nil
}

func (s *AuthService) signIn(user *model.User) (*AuthResult, error) {
	token, err := s.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: issuing token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func (s *AuthService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.passwords.Hash("not-a-real-password-placeholder")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
