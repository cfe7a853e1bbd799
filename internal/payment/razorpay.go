// Package payment talks to the payment provider (Razorpay): creating
// orders over its REST API and checking the signature the checkout widget
// returns after the user pays.
package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is Razorpay's v1 REST API.
const DefaultBaseURL = "https://api.razorpay.com/v1"

// Order is the provider's handle for an intended charge.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"` // minor currency unit
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Provider is the subset of the payment gateway the service layer needs.
type Provider interface {
	KeyID() string
	CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error)
	VerifySignature(orderID, paymentID, signature string) bool
}

// Razorpay is a Provider backed by the Razorpay Orders API.
type Razorpay struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpay creates a client. The secret signs both API calls (basic
// auth) and payment signatures; it never leaves the process.
func NewRazorpay(keyID, keySecret, baseURL string, timeout time.Duration) *Razorpay {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Razorpay{
		keyID:     keyID,
		keySecret: keySecret,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: timeout},
	}
}

var _ Provider = (*Razorpay)(nil)

// KeyID is the public key the checkout widget is initialised with.
func (r *Razorpay) KeyID() string {
	return r.keyID
}

type createOrderRequest struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
}

type apiError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder asks the provider for an order of amount (minor units).
func (r *Razorpay) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (*Order, error) {
	body, err := json.Marshal(createOrderRequest{Amount: amount, Currency: currency, Receipt: receipt})
	if err != nil {
		return nil, fmt.Errorf("payment: encoding order request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/orders", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("payment: building order request: %w", err)
	}
	req.SetBasicAuth(r.keyID, r.keySecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("payment: creating order: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("payment: reading order response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		_ = json.Unmarshal(raw, &apiErr)
		return nil, fmt.Errorf("payment: provider returned status %d: %s %s",
			resp.StatusCode, apiErr.Error.Code, apiErr.Error.Description)
	}

	var order Order
	if err := json.Unmarshal(raw, &order); err != nil {
		return nil, fmt.Errorf("payment: decoding order response: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("payment: provider returned an order without id")
	}
	return &order, nil
}

// VerifySignature recomputes HMAC-SHA256("<order>|<payment>") with the key
// secret and compares it to signature in constant time.
func (r *Razorpay) VerifySignature(orderID, paymentID, signature string) bool {
	expected := Sign(r.keySecret, orderID, paymentID)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign returns the hex HMAC-SHA256 signature the provider issues for a
// captured payment.
func Sign(secret, orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
