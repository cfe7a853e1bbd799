package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/repository"
)

var _ repository.PaymentRepository = (*PaymentDB)(nil)

// PaymentDB stores verified payments. Rows are insert-only.
type PaymentDB struct {
	conn *sql.DB
}

const paymentColumns = `id, user_id, course_id, provider_order_id, provider_payment_id,
	provider_signature, amount, currency, status, created_at`

func scanPayment(row rowScanner) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(&p.ID, &p.UserID, &p.CourseID, &p.ProviderOrderID, &p.ProviderPaymentID,
		&p.ProviderSignature, &p.Amount, &p.Currency, &p.Status, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePayment inserts p. The UNIQUE(provider_order_id,
// provider_payment_id) constraint turns a replayed verification into
// apperror.ErrConflict.
func (d *PaymentDB) CreatePayment(ctx context.Context, p *model.Payment) error {
	p.ID = xid.New().String()
	p.CreatedAt = time.Now().UTC()
	if p.Status == "" {
		p.Status = model.PaymentSuccess
	}

	_, err := d.conn.ExecContext(ctx,
		`INSERT INTO payments (`+paymentColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.CourseID, p.ProviderOrderID, p.ProviderPaymentID,
		p.ProviderSignature, p.Amount, p.Currency, p.Status, p.CreatedAt,
	)
	if err != nil {
		if _, ok := uniqueViolation(err); ok {
			return apperror.Conflict("this payment has already been recorded")
		}
		return fmt.Errorf("sqlite: inserting payment %s/%s: %w", p.ProviderOrderID, p.ProviderPaymentID, err)
	}
	return nil
}

func (d *PaymentDB) GetPaymentByProviderIDs(ctx context.Context, orderID, paymentID string) (*model.Payment, error) {
	p, err := scanPayment(d.conn.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE provider_order_id = ? AND provider_payment_id = ?`,
		orderID, paymentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("payment", paymentID)
		}
		return nil, fmt.Errorf("sqlite: getting payment %s: %w", paymentID, err)
	}
	return p, nil
}

// ListPayments returns payments newest first.
func (d *PaymentDB) ListPayments(ctx context.Context, opts repository.ListOptions) ([]model.Payment, error) {
	limit, offset := clampList(opts)

	rows, err := d.conn.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing payments: %w", err)
	}
	defer rows.Close()

	payments := []model.Payment{}
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning payment: %w", err)
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}
