package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/repository"
)

// resolveAttempts bounds the find-or-create loop; a second pass only
// happens when a concurrent callback created the same account first.
const resolveAttempts = 2

// IdentityLinker maps external provider identities onto local accounts.
// Each provider is an auth.Provider strategy registered at construction.
type IdentityLinker struct {
	users         repository.UserRepository
	tokens        *auth.TokenService
	providers     map[model.AuthProvider]auth.Provider
	defaultAvatar string
	logger        *slog.Logger
}

func NewIdentityLinker(
	users repository.UserRepository,
	tokens *auth.TokenService,
	defaultAvatar string,
	logger *slog.Logger,
	providers ...auth.Provider,
) *IdentityLinker {
	byName := make(map[model.AuthProvider]auth.Provider, len(providers))
	for _, p := range providers {
		byName[p.Name()] = p
	}
	return &IdentityLinker{
		users:         users,
		tokens:        tokens,
		providers:     byName,
		defaultAvatar: defaultAvatar,
		logger:        logger,
	}
}

// Provider returns the registered strategy for name.
func (l *IdentityLinker) Provider(name model.AuthProvider) (auth.Provider, bool) {
	p, ok := l.providers[name]
	return p, ok
}

// Login exchanges an authorization code with the named provider and
// resolves the resulting profile.
func (l *IdentityLinker) Login(ctx context.Context, name model.AuthProvider, code string) (*AuthResult, error) {
	profile, err := l.exchange(ctx, name, code)
	if err != nil {
		return nil, err
	}
	return l.Resolve(ctx, profile)
}

// exchange trades code for the provider profile. Only the provider can
// vouch for a provider user id, so both sign-in and linking go through it.
func (l *IdentityLinker) exchange(ctx context.Context, name model.AuthProvider, code string) (*auth.ExternalProfile, error) {
	p, ok := l.Provider(name)
	if !ok {
		return nil, apperror.NotFound("oauth provider", string(name))
	}
	if code == "" {
		return nil, apperror.ValidationFailed("code", "authorization code is missing")
	}

	profile, err := p.Exchange(ctx, code)
	if err != nil {
		if errors.Is(err, auth.ErrNoVerifiedEmail) {
			return nil, apperror.ValidationFailed("email",
				fmt.Sprintf("your %s account has no verified email address", name))
		}
		l.logger.Error("oauth exchange failed",
			slog.String("provider", string(name)),
			slog.String("error", err.Error()),
		)
		return nil, apperror.Upstream(fmt.Sprintf("could not sign in with %s", name))
	}
	if profile == nil || profile.ProviderUserID == "" {
		return nil, apperror.Upstream(fmt.Sprintf("%s returned an incomplete profile", name))
	}
	return profile, nil
}

// Resolve finds the account matching the provider id or the email,
// backfills the provider id when missing, or creates a verified account.
// The same profile always resolves to the same user.
func (l *IdentityLinker) Resolve(ctx context.Context, profile *auth.ExternalProfile) (*AuthResult, error) {
	if profile == nil {
		return nil, errors.New("service/identity: profile must not be nil")
	}
	if err := validateExternalProvider(profile.Provider); err != nil {
		return nil, err
	}
	email := strings.ToLower(strings.TrimSpace(profile.Email))
	if profile.ProviderUserID == "" || email == "" {
		return nil, apperror.ValidationFailed("profile", "provider profile is missing an id or email")
	}

	for range resolveAttempts {
		user, err := l.users.FindByProviderOrEmail(ctx, profile.Provider, profile.ProviderUserID, email)
		switch {
		case err == nil:
			if err := l.checkEmailOwner(ctx, user, profile, email); err != nil {
				return nil, err
			}
			if err := l.backfill(ctx, user, profile); err != nil {
				return nil, err
			}
			return l.signIn(user)

		case errors.Is(err, apperror.ErrNotFound):
			user, err := l.create(ctx, profile, email)
			if errors.Is(err, apperror.ErrConflict) {
				// Lost a race with a concurrent first login: look again.
				continue
			}
			if err != nil {
				return nil, err
			}
			return l.signIn(user)

		default:
			return nil, fmt.Errorf("service/identity: finding user: %w", err)
		}
	}
	return nil, apperror.Conflict("account is being created by another request, please retry")
}

// checkEmailOwner refuses a provider-id match when the profile's verified
// email belongs to a different account: the provider says the person
// owns that mailbox, so signing them into someone else is never right.
func (l *IdentityLinker) checkEmailOwner(ctx context.Context, user *model.User, profile *auth.ExternalProfile, email string) error {
	if user.Email == email {
		return nil
	}
	owner, err := l.users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("service/identity: checking owner of %s login: %w", profile.Provider, err)
	case owner.ID != user.ID:
		l.logger.Warn("oauth profile email owned by another account",
			slog.String("provider", string(profile.Provider)),
			slog.String("linkedUserID", user.ID),
			slog.String("emailOwnerID", owner.ID),
		)
		return apperror.Conflict(fmt.Sprintf("this %s account is linked to a different user", profile.Provider))
	}
	return nil
}

func (l *IdentityLinker) backfill(ctx context.Context, user *model.User, profile *auth.ExternalProfile) error {
	switch existing := user.ProviderID(profile.Provider); existing {
	case profile.ProviderUserID:
		return nil
	case "":
		if err := l.users.SetProviderID(ctx, user.ID, profile.Provider, profile.ProviderUserID, true); err != nil {
			return fmt.Errorf("service/identity: linking %s to %s: %w", profile.Provider, user.ID, err)
		}
		setProviderID(user, profile.Provider, profile.ProviderUserID)
		l.logger.Info("provider id backfilled",
			slog.String("userID", user.ID),
			slog.String("provider", string(profile.Provider)),
		)
		return nil
	default:
		return apperror.Conflict(fmt.Sprintf("this email is already linked to a different %s account", profile.Provider))
	}
}

func (l *IdentityLinker) create(ctx context.Context, profile *auth.ExternalProfile, email string) (*model.User, error) {
	name := strings.TrimSpace(profile.Name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}
	if len([]rune(name)) > MaxNameLength {
		name = string([]rune(name)[:MaxNameLength])
	}
	avatar := profile.AvatarURL
	if avatar == "" {
		avatar = l.defaultAvatar
	}

	user := &model.User{
		Name:         name,
		Email:        email,
		AuthProvider: profile.Provider,
		AvatarURL:    avatar,
		Role:         model.RoleUser,
		IsVerified:   true,
	}
	setProviderID(user, profile.Provider, profile.ProviderUserID)

	if err := l.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("service/identity: creating user: %w", err)
	}
	l.logger.Info("user created from oauth",
		slog.String("userID", user.ID),
		slog.String("provider", string(profile.Provider)),
	)
	return user, nil
}

// Link attaches a provider account to the signed-in user. The provider
// user id comes from exchanging code, never from the caller; providerID,
// when given, must match what the provider reports.
func (l *IdentityLinker) Link(ctx context.Context, userID string, provider model.AuthProvider, providerID, code string) (*model.User, error) {
	if err := validateExternalProvider(provider); err != nil {
		return nil, err
	}
	profile, err := l.exchange(ctx, provider, code)
	if err != nil {
		return nil, err
	}
	if want := strings.TrimSpace(providerID); want != "" && want != profile.ProviderUserID {
		l.logger.Warn("link refused: authorization is for another provider account",
			slog.String("userID", userID),
			slog.String("provider", string(provider)),
		)
		return nil, apperror.Forbidden(fmt.Sprintf("the %s authorization does not belong to that account", provider))
	}
	providerID = profile.ProviderUserID

	user, err := l.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching user %s: %w", userID, err)
	}
	switch existing := user.ProviderID(provider); existing {
	case providerID:
		return user, nil
	case "":
	default:
		return nil, apperror.Conflict(fmt.Sprintf("a different %s account is already linked; unlink it first", provider))
	}

	if err := l.users.SetProviderID(ctx, userID, provider, providerID, false); err != nil {
		if errors.Is(err, apperror.ErrConflict) {
			return nil, apperror.Conflict(fmt.Sprintf("this %s account is linked to another user", provider))
		}
		return nil, fmt.Errorf("service/identity: linking %s: %w", provider, err)
	}
	l.logger.Info("provider linked", slog.String("userID", userID), slog.String("provider", string(provider)))
	return l.reload(ctx, userID)
}

// Unlink detaches provider unless it is the account's last way to sign in.
func (l *IdentityLinker) Unlink(ctx context.Context, userID string, provider model.AuthProvider) (*model.User, error) {
	if err := validateExternalProvider(provider); err != nil {
		return nil, err
	}
	if err := l.users.UnsetProviderID(ctx, userID, provider); err != nil {
		return nil, fmt.Errorf("service/identity: unlinking %s: %w", provider, err)
	}
	l.logger.Info("provider unlinked", slog.String("userID", userID), slog.String("provider", string(provider)))
	return l.reload(ctx, userID)
}

func (l *IdentityLinker) reload(ctx context.Context, userID string) (*model.User, error) {
	user, err := l.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/identity: fetching user %s: %w", userID, err)
	}
	return user, nil
}

func (l *IdentityLinker) signIn(user *model.User) (*AuthResult, error) {
	token, err := l.tokens.Issue(user)
	if err != nil {
		return nil, fmt.Errorf("service/identity: issuing token for user %s: %w", user.ID, err)
	}
	return &AuthResult{User: user, Token: token}, nil
}

func setProviderID(u *model.User, p model.AuthProvider, id string) {
	switch p {
	case model.ProviderGoogle:
		u.GoogleID = id
	case model.ProviderGitHub:
		u.GitHubID = id
	}
}
