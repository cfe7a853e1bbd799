// Password hashing for local accounts.
//
// HOW BCRYPT STORES A PASSWORD
// bcrypt.GenerateFromPassword draws a random salt for every call and puts
// it inside the output, so two users with the same password end up with
// different hashes and the users table needs no salt column:
//
//	$2a$10$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (10 → 2^10 rounds)
//	 version
//
// bcrypt.CompareHashAndPassword reads the cost and salt back out of the
// stored hash, which is why Verify needs nothing but the hash.
//
// THE 72-BYTE LIMIT
// bcrypt ignores everything after the 72nd byte. Two passwords sharing
// the first 72 bytes would verify against each other, so Hash rejects
// longer input instead of truncating it quietly.
package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// defaultCost is the bcrypt work factor used for stored passwords.
//
// COST TUNING:
// Each +1 doubles the work. 10 hashes in roughly 60-100ms on a small VM,
// which keeps login and registration responsive while making offline
// guessing of a leaked hash slow. Existing hashes keep their own cost, so
// raising this later only affects new and changed passwords.
const defaultCost = 10

// MinPasswordLength is enforced on registration, reset and change.
const MinPasswordLength = 8

// ErrPasswordMismatch is returned by Verify when the plaintext does not
// match the hash.
var ErrPasswordMismatch = errors.New("auth: invalid password")

// PasswordService provides bcrypt hashing and verification.
//
// The cost is a field so tests can run at bcrypt's minimum cost.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (10).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

// NewPasswordServiceForTest creates a PasswordService with a custom cost.
// Use bcrypt.MinCost (4) in tests in other packages.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes the given plaintext with a fresh random salt.
//
// bcrypt only reads the first 72 bytes, so longer input is rejected rather
// than silently truncated.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > 72 {
		return "", fmt.Errorf("auth: password must be 72 bytes or fewer")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}

	return string(hashed), nil
}

// Verify checks whether a plaintext password matches a stored bcrypt hash.
//
// Returns nil on match and ErrPasswordMismatch on mismatch. An empty hash
// (OAuth-only account) never matches.
func (p *PasswordService) Verify(hash, plaintext string) error {
	if hash == "" {
		return ErrPasswordMismatch
	}
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return ErrPasswordMismatch
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}
