// Password-reset secrets.
//
// LIFECYCLE OF A RESET TOKEN
//
//	Generate  → 32 random bytes, hex encoded (the plaintext)
//	          → SHA-256 of the plaintext (the digest)
//	store     ← digest + expiry (15 minutes)
//	email     ← plaintext inside the reset link
//	consume   → digest the presented plaintext, match it in one UPDATE
//	            that also clears it
//
// Only the digest is at rest, so a copy of the users table cannot be used
// to reset anyone's password. A plain SHA-256 is enough here: the input is
// 256 bits of randomness, not a guessable password, so there is nothing
// for a slow hash like bcrypt to protect.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

const (
	// ResetTokenTTL is how long a password-reset secret stays usable.
	ResetTokenTTL = 15 * time.Minute

	resetTokenBytes = 32
)

// ResetToken is a freshly generated password-reset secret. Plaintext goes
// into the email only; Hash and ExpiresAt are what the store keeps.
type ResetToken struct {
	Plaintext string
	Hash      string
	ExpiresAt time.Time
}

// ResetTokenService generates single-use reset secrets and digests
// presented ones for lookup.
type ResetTokenService struct {
	now func() time.Time
}

func NewResetTokenService() *ResetTokenService {
	return &ResetTokenService{now: time.Now}
}

// Generate returns 256 bits of randomness as hex, its SHA-256 digest and
// an expiry of now + 15 minutes.
func (s *ResetTokenService) Generate() (*ResetToken, error) {
	b := make([]byte, resetTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("auth: generating reset token: %w", err)
	}
	plaintext := hex.EncodeToString(b)

	return &ResetToken{
		Plaintext: plaintext,
		Hash:      s.Digest(plaintext),
		ExpiresAt: s.now().Add(ResetTokenTTL),
	}, nil
}

// Digest is the deterministic one-way digest stored for a reset secret.
// The secret is random and single-use, so no salt is needed.
func (s *ResetTokenService) Digest(plaintext string) string {
	sum := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(sum[:])
}

// Now is the clock used for expiry comparisons at consume time.
func (s *ResetTokenService) Now() time.Time {
	return s.now()
}
