// Package repository declares the storage contracts used by the service
// layer. Implementations live in subpackages (sqlite).
//
// Every mutation is a single statement keyed by id, so concurrent
// requests never interleave a read-compute-write on the same row.
package repository

import (
	"context"
	"time"

	"github.com/sakif/lms/internal/model"
)

type ListOptions struct {
	Limit  int
	Offset int
}

// UserRepository is the credential store.
//
// Lookups return apperror.ErrNotFound when nothing matches. Writes that
// would violate a uniqueness rule return apperror.ErrConflict.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, id string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByProviderOrEmail resolves an OAuth login: a row whose provider
	// id matches wins over a row whose email matches.
	FindByProviderOrEmail(ctx context.Context, provider model.AuthProvider, providerID, email string) (*model.User, error)
	// SetProviderID links providerID to the user. With onlyIfEmpty it
	// leaves an already linked id untouched (backfill).
	SetProviderID(ctx context.Context, userID string, provider model.AuthProvider, providerID string, onlyIfEmpty bool) error
	// UnsetProviderID removes the link unless that would leave the account
	// with no password and no other provider (apperror.ErrValidation).
	UnsetProviderID(ctx context.Context, userID string, provider model.AuthProvider) error

	UpdatePassword(ctx context.Context, userID, passwordHash string) error
	UpdateProfile(ctx context.Context, userID, name, phone string) error
	SetRole(ctx context.Context, email string, role model.Role) error

	SetResetToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	ClearResetToken(ctx context.Context, userID string) error
	// GetByResetTokenHash finds the user holding tokenHash with an expiry
	// after now.
	GetByResetTokenHash(ctx context.Context, tokenHash string, now time.Time) (*model.User, error)
	// ResetPassword sets the password and clears the reset token in one
	// statement, only if tokenHash is still the stored one.
	ResetPassword(ctx context.Context, userID, tokenHash, passwordHash string) error

	// AddEntitlement adds courseID to the user's set if absent. added is
	// false when it was already there.
	AddEntitlement(ctx context.Context, userID, courseID string) (added bool, err error)
	ListEntitledCourses(ctx context.Context, userID string) ([]model.Course, error)
}

type CourseRepository interface {
	CreateCourse(ctx context.Context, course *model.Course) error
	GetCourseByID(ctx context.Context, id string) (*model.Course, error)
}

// PaymentRepository stores verified payments. CreatePayment returns
// apperror.ErrConflict for a repeated (order id, payment id) pair.
type PaymentRepository interface {
	CreatePayment(ctx context.Context, p *model.Payment) error
	GetPaymentByProviderIDs(ctx context.Context, orderID, paymentID string) (*model.Payment, error)
	ListPayments(ctx context.Context, opts ListOptions) ([]model.Payment, error)
}
