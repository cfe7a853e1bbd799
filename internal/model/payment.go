package model

import "time"

type PaymentStatus string

const PaymentSuccess PaymentStatus = "success"

// Payment is a verified provider payment. Rows are written once and never
// updated; (ProviderOrderID, ProviderPaymentID) is unique.
type Payment struct {
	ID                string        `json:"id"                  db:"id"`
	UserID            string        `json:"userId"              db:"user_id"`
	CourseID          string        `json:"courseId"            db:"course_id"`
	ProviderOrderID   string        `json:"razorpay_order_id"   db:"provider_order_id"`
	ProviderPaymentID string        `json:"razorpay_payment_id" db:"provider_payment_id"`
	ProviderSignature string        `json:"-"                   db:"provider_signature"`
	Amount            int64         `json:"amount"              db:"amount"` // minor currency unit
	Currency          string        `json:"currency"            db:"currency"`
	Status            PaymentStatus `json:"status"              db:"status"`
	CreatedAt         time.Time     `json:"createdAt"           db:"created_at"`
}

// Course is the slice of the course catalogue the payment flow needs.
type Course struct {
	ID        string    `json:"id"        db:"id"`
	Title     string    `json:"title"     db:"title"`
	Price     int64     `json:"price"     db:"price"` // major currency unit
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}
