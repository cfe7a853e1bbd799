package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/model"
)

const testSecret = "test-secret-at-least-16-chars!!"

func newTestTokenService(t *testing.T) *TokenService {
	t.Helper()
	ts, err := NewTokenService(testSecret)
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}
	return ts
}

// fixedClock returns a settable clock truncated to whole seconds, the
// precision of JWT NumericDate.
func fixedClock(start time.Time) (func() time.Time, func(time.Time)) {
	now := start.Truncate(time.Second)
	return func() time.Time { return now }, func(t time.Time) { now = t }
}

func testUser() *model.User {
	return &model.User{ID: "user-123", Name: "Ada", Email: "ada@example.com", Role: model.RoleUser}
}

// =========================================================================
// CONSTRUCTION
// =========================================================================

func TestNewTokenService_ShortSecret(t *testing.T) {
	if _, err := NewTokenService("short"); err == nil {
		t.Fatal("NewTokenService() should reject secrets shorter than 16 chars")
	}
}

func TestNewTokenService_DefaultTTL(t *testing.T) {
	ts := newTestTokenService(t)
	if ts.TTL() != 24*time.Hour {
		t.Errorf("TTL() = %v, want 24h", ts.TTL())
	}
}

// =========================================================================
// ISSUE / VERIFY
// =========================================================================

func TestIssue_RejectsUserWithoutID(t *testing.T) {
	ts := newTestTokenService(t)
	if _, err := ts.Issue(&model.User{Email: "x@example.com"}); err == nil {
		t.Fatal("Issue() should fail without a user id")
	}
}

func TestVerify_RoundTripCarriesIdentity(t *testing.T) {
	ts := newTestTokenService(t)
	u := testUser()
	u.Role = model.RoleAdmin

	token, err := ts.Issue(u)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if strings.Count(token, ".") != 2 {
		t.Fatalf("Issue() token doesn't look like a JWT: %q", token)
	}

	c, err := ts.Verify(token)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if c.UserID != u.ID || c.Name != u.Name || c.Email != u.Email || c.Role != model.RoleAdmin {
		t.Errorf("Verify() claims = %+v, want identity of %+v", c, u)
	}
	if c.Subject != u.ID {
		t.Errorf("Subject = %q, want %q", c.Subject, u.ID)
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	ts := newTestTokenService(t)
	now, set := fixedClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ts.now = now
	issuedAt := now()

	token, err := ts.Issue(testUser())
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}

	set(issuedAt.Add(24*time.Hour - time.Second))
	if _, err := ts.Verify(token); err != nil {
		t.Fatalf("Verify() one second before expiry error = %v", err)
	}

	set(issuedAt.Add(24 * time.Hour))
	_, err = ts.Verify(token)
	if !errors.Is(err, apperror.ErrUnauthenticated) {
		t.Fatalf("Verify() at expiry error = %v, want ErrUnauthenticated", err)
	}
	if !errors.Is(err, jwt.ErrTokenExpired) {
		t.Errorf("Verify() should keep the expiry cause for logs, got %v", err)
	}
}

func TestVerify_FailuresAreIndistinguishable(t *testing.T) {
	ts := newTestTokenService(t)
	other, _ := NewTokenService("another-secret-32-chars-long!!!!")

	good, _ := ts.Issue(testUser())
	foreign, _ := other.Issue(testUser())

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		UserID: "user-123",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)

	cases := map[string]string{
		"tampered":       good[:len(good)-3] + "xxx",
		"wrong secret":   foreign,
		"alg none":       unsigned,
		"empty":          "",
		"garbage":        "not.a.jwt",
		"missing claims": mustSign(t, jwt.MapClaims{"iss": tokenIssuer, "exp": time.Now().Add(time.Hour).Unix()}),
	}

	for name, tok := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ts.Verify(tok)
			var appErr *apperror.AppError
			if !errors.As(err, &appErr) {
				t.Fatalf("Verify() error = %v, want *AppError", err)
			}
			if appErr.Message != "invalid or expired token" {
				t.Errorf("message = %q, want generic message", appErr.Message)
			}
		})
	}
}

func mustSign(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("signing: %v", err)
	}
	return s
}
