package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/mailer"
	"github.com/sakif/lms/internal/repository"
)

// ResetRequestedMessage is returned for every forgot-password request,
// whether or not the email belongs to an account.
const ResetRequestedMessage = "if an account exists for this email, a reset link has been sent"

var errInvalidResetToken = apperror.ValidationFailed("resetToken", "reset token is invalid or has expired")

// PasswordResetService runs the forgot-password flow: issue a hashed,
// time-limited secret, mail the plaintext, later trade it for a new
// password exactly once.
type PasswordResetService struct {
	users       repository.UserRepository
	resets      *auth.ResetTokenService
	passwords   *auth.PasswordService
	mail        mailer.Sender
	frontendURL string
	logger      *slog.Logger
}

func NewPasswordResetService(
	users repository.UserRepository,
	resets *auth.ResetTokenService,
	passwords *auth.PasswordService,
	mail mailer.Sender,
	frontendURL string,
	logger *slog.Logger,
) *PasswordResetService {
	return &PasswordResetService{
		users:       users,
		resets:      resets,
		passwords:   passwords,
		mail:        mail,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// ForgotPassword stores a new reset digest for the account and mails the
// reset link. Known and unknown emails get the same answer, including
// when delivery fails: the digest is cleared again and the failure is
// only logged.
func (s *PasswordResetService) ForgotPassword(ctx context.Context, email string) error {
	email, err := normalizeEmail(email)
	if err != nil {
		return err
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			s.logger.Info("password reset requested for unknown email")
			return nil
		}
		return fmt.Errorf("service/reset: looking up user: %w", err)
	}

	token, err := s.resets.Generate()
	if err != nil {
		return fmt.Errorf("service/reset: %w", err)
	}
	if err := s.users.SetResetToken(ctx, user.ID, token.Hash, token.ExpiresAt); err != nil {
		return fmt.Errorf("service/reset: storing reset token: %w", err)
	}

	resetURL := s.frontendURL + "/reset-password/" + token.Plaintext
	if err := s.mail.SendPasswordReset(ctx, user.Email, user.Name, resetURL); err != nil {
		s.logger.Error("reset email failed, clearing token",
			slog.String("userID", user.ID),
			slog.String("error", err.Error()),
			slog.Bool("alert", true),
		)
		// The request may already be cancelled; the clear must still run.
		if clearErr := s.users.ClearResetToken(context.WithoutCancel(ctx), user.ID); clearErr != nil {
			s.logger.Error("clearing undelivered reset token failed",
				slog.String("userID", user.ID),
				slog.String("error", clearErr.Error()),
			)
		}
		return nil
	}

	s.logger.Info("password reset email sent", slog.String("userID", user.ID))
	return nil
}

// ResetPassword sets newPassword for the holder of plaintext. The token
// check and the write are one conditional update, so a token works once.
func (s *PasswordResetService) ResetPassword(ctx context.Context, plaintext, newPassword string) error {
	plaintext = strings.TrimSpace(plaintext)
	if plaintext == "" {
		return errInvalidResetToken
	}
	if err := validatePassword("password", newPassword); err != nil {
		return err
	}

	digest := s.resets.Digest(plaintext)
	user, err := s.users.GetByResetTokenHash(ctx, digest, s.resets.Now())
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return errInvalidResetToken
		}
		return fmt.Errorf("service/reset: looking up reset token: %w", err)
	}

	hash, err := s.passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("service/reset: hashing password: %w", err)
	}
	if err := s.users.ResetPassword(ctx, user.ID, digest, hash); err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return errInvalidResetToken
		}
		return fmt.Errorf("service/reset: saving password: %w", err)
	}

	s.logger.Info("password reset completed", slog.String("userID", user.ID))
	return nil
}
