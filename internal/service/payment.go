package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/rs/xid"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/payment"
	"github.com/sakif/lms/internal/repository"
)

const (
	// Currency is what every course is priced in.
	Currency = "INR"
	// minorUnits converts a course price in rupees to paise.
	minorUnits = 100
)

// PaymentService creates provider orders and turns verified payments into
// course entitlements.
type PaymentService struct {
	users    repository.UserRepository
	courses  repository.CourseRepository
	payments repository.PaymentRepository
	provider payment.Provider
	logger   *slog.Logger
}

func NewPaymentService(
	users repository.UserRepository,
	courses repository.CourseRepository,
	payments repository.PaymentRepository,
	provider payment.Provider,
	logger *slog.Logger,
) *PaymentService {
	return &PaymentService{
		users:    users,
		courses:  courses,
		payments: payments,
		provider: provider,
		logger:   logger,
	}
}

// KeyID is the provider's public key for the checkout widget.
func (s *PaymentService) KeyID() string {
	return s.provider.KeyID()
}

// CreateOrder asks the provider for an order covering the course price.
// Nothing is stored locally until the payment is verified.
func (s *PaymentService) CreateOrder(ctx context.Context, userID, courseID string) (*payment.Order, error) {
	courseID = strings.TrimSpace(courseID)
	if courseID == "" {
		return nil, apperror.ValidationFailed("courseId", "courseId is required")
	}

	course, err := s.courses.GetCourseByID(ctx, courseID)
	if err != nil {
		return nil, fmt.Errorf("service/payment: fetching course: %w", err)
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/payment: fetching user: %w", err)
	}
	if user.IsEntitledTo(course.ID) {
		return nil, apperror.Conflict("you are already subscribed to this course")
	}

	receipt := "rcpt_" + xid.New().String()
	order, err := s.provider.CreateOrder(ctx, course.Price*minorUnits, Currency, receipt)
	if err != nil {
		s.logger.Error("creating provider order failed",
			slog.String("userID", userID),
			slog.String("courseID", course.ID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("could not create payment order, please try again")
	}

	s.logger.Info("payment order created",
		slog.String("userID", userID),
		slog.String("courseID", course.ID),
		slog.String("orderID", order.ID),
	)
	return order, nil
}

// VerifyInput is what the checkout widget hands back after payment.
type VerifyInput struct {
	CourseID  string
	OrderID   string
	PaymentID string
	Signature string
}

// Verify checks the provider signature, records the payment and grants
// the course. A repeat of the same payment by the same payer for the same
// course returns the stored payment without granting twice.
func (s *PaymentService) Verify(ctx context.Context, userID string, in VerifyInput) (*model.Payment, error) {
	in.CourseID = strings.TrimSpace(in.CourseID)
	if in.CourseID == "" {
		return nil, apperror.ValidationFailed("courseId", "courseId is required")
	}

	if !s.provider.VerifySignature(in.OrderID, in.PaymentID, in.Signature) {
		s.logger.Warn("payment signature mismatch",
			slog.String("userID", userID),
			slog.String("orderID", in.OrderID),
		)
		return nil, apperror.SignatureMismatch()
	}

	course, err := s.courses.GetCourseByID(ctx, in.CourseID)
	if err != nil {
		return nil, fmt.Errorf("service/payment: fetching course: %w", err)
	}

	p := &model.Payment{
		UserID:            userID,
		CourseID:          course.ID,
		ProviderOrderID:   in.OrderID,
		ProviderPaymentID: in.PaymentID,
		ProviderSignature: in.Signature,
		Amount:            course.Price * minorUnits,
		Currency:          Currency,
		Status:            model.PaymentSuccess,
	}
	if err := s.payments.CreatePayment(ctx, p); err != nil {
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("service/payment: recording payment: %w", err)
		}
		existing, err := s.payments.GetPaymentByProviderIDs(ctx, in.OrderID, in.PaymentID)
		if err != nil {
			return nil, fmt.Errorf("service/payment: loading recorded payment: %w", err)
		}
		if existing.UserID != userID || existing.CourseID != course.ID {
			s.logger.Warn("payment replayed for a different payer or course",
				slog.String("userID", userID),
				slog.String("paymentID", existing.ID),
			)
			return nil, apperror.Conflict("this payment has already been used")
		}
		p = existing
	}

	added, err := s.users.AddEntitlement(ctx, userID, course.ID)
	if err != nil {
		s.logger.Error("payment recorded but course grant failed",
			slog.Bool("alert", true),
			slog.String("userID", userID),
			slog.String("courseID", course.ID),
			slog.String("paymentID", p.ID),
			slog.String("orderID", p.ProviderOrderID),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream("payment was received but the course could not be unlocked; please contact support")
	}

	if added {
		s.logger.Info("course granted",
			slog.String("userID", userID),
			slog.String("courseID", course.ID),
			slog.String("paymentID", p.ID),
		)
	}
	return p, nil
}

// List returns recorded payments, newest first.
func (s *PaymentService) List(ctx context.Context, limit, offset int) ([]model.Payment, error) {
	limit, offset = clampList(limit, offset)
	payments, err := s.payments.ListPayments(ctx, repository.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		return nil, fmt.Errorf("service/payment: listing payments: %w", err)
	}
	return payments, nil
}
