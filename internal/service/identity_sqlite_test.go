package service

import (
	"context"
	"errors"
	"testing"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/repository/sqlite"
)

// TestIdentity_SQLiteCannotPreClaimProviderID walks the pre-claim attack
// against the real store, whose lookup prefers a provider-id match over an
// email match.
func TestIdentity_SQLiteCannotPreClaimProviderID(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(ctx, ":memory:", discardLogger)
	if err != nil {
		t.Fatalf("sqlite.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mallory := &model.User{Name: "Mallory", Email: "mallory@example.com", PasswordHash: "$2a$04$x", AuthProvider: model.ProviderLocal}
	bob := &model.User{Name: "Bob", Email: "bob@example.com", PasswordHash: "$2a$04$y", AuthProvider: model.ProviderLocal}
	for _, u := range []*model.User{mallory, bob} {
		if err := db.Users().Create(ctx, u); err != nil {
			t.Fatal(err)
		}
	}

	google := issuingProvider(model.ProviderGoogle, "g-mallory")
	google.byCode["code-g-bob"] = &auth.ExternalProfile{
		Provider: model.ProviderGoogle, ProviderUserID: "g-bob", Email: "bob@example.com", Name: "Bob",
	}
	l := NewIdentityLinker(db.Users(), newTestTokens(t), testAvatar, discardLogger, google)

	// Mallory names Bob's id but can only present her own authorization.
	if _, err := l.Link(ctx, mallory.ID, model.ProviderGoogle, "g-bob", "code-g-mallory"); !errors.Is(err, apperror.ErrForbidden) {
		t.Fatalf("Link() error = %v, want ErrForbidden", err)
	}

	// Bob signs in with Google and lands on his own account.
	res, err := l.Login(ctx, model.ProviderGoogle, "code-g-bob")
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if res.User.ID != bob.ID {
		t.Fatalf("Login() signed in user %s, want %s", res.User.ID, bob.ID)
	}

	// Even with the id already on the wrong row, the email owner wins.
	other := &model.User{Name: "Eve", Email: "eve@example.com", PasswordHash: "$2a$04$z", AuthProvider: model.ProviderLocal}
	if err := db.Users().Create(ctx, other); err != nil {
		t.Fatal(err)
	}
	if err := db.Users().SetProviderID(ctx, other.ID, model.ProviderGitHub, "gh-carol", false); err != nil {
		t.Fatal(err)
	}
	carol := &model.User{Name: "Carol", Email: "carol@example.com", PasswordHash: "$2a$04$w", AuthProvider: model.ProviderLocal}
	if err := db.Users().Create(ctx, carol); err != nil {
		t.Fatal(err)
	}
	_, err = l.Resolve(ctx, &auth.ExternalProfile{
		Provider: model.ProviderGitHub, ProviderUserID: "gh-carol", Email: "carol@example.com",
	})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("Resolve() error = %v, want ErrConflict", err)
	}
}
