package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/payment"
	"github.com/sakif/lms/internal/service"
)

// Payments is what PaymentHandler needs from service.PaymentService.
type Payments interface {
	KeyID() string
	CreateOrder(ctx context.Context, userID, courseID string) (*payment.Order, error)
	Verify(ctx context.Context, userID string, in service.VerifyInput) (*model.Payment, error)
	List(ctx context.Context, limit, offset int) ([]model.Payment, error)
}

// PaymentHandler serves the /payment routes.
type PaymentHandler struct {
	payments Payments
	logger   *slog.Logger
}

func NewPaymentHandler(payments Payments, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{payments: payments, logger: logger}
}

// HandleKey returns the public key id for the checkout widget.
// GET /api/v1/payment/razorpay-key
func (h *PaymentHandler) HandleKey(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, ok("Razorpay API key", "key", h.payments.KeyID()))
}

// HandleSubscribe creates a provider order for the course.
// POST /api/v1/payment/subscribe/{courseId}
func (h *PaymentHandler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	userID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, apperror.Unauthenticated("authentication required"))
		return
	}

	order, err := h.payments.CreateOrder(r.Context(), userID, urlParam(r, "courseId"))
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Order created", "order", order))
}

type verifyRequest struct {
	CourseID  string `json:"courseId"`
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// HandleVerify checks the checkout signature and unlocks the course.
// POST /api/v1/payment/verify
func (h *PaymentHandler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	userID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, apperror.Unauthenticated("authentication required"))
		return
	}
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	p, err := h.payments.Verify(r.Context(), userID, service.VerifyInput{
		CourseID:  req.CourseID,
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Payment verified successfully", "payment", p))
}

// HandleList is admin-only; the router applies the role gate.
// GET /api/v1/payment?limit=&offset=
func (h *PaymentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	payments, err := h.payments.List(r.Context(), limit, offset)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Payments", "payments", payments, "count", len(payments)))
}
