package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/sakif/lms/internal/model"
)

// ExternalProfile is what every OAuth provider yields after a successful
// code exchange.
type ExternalProfile struct {
	Provider       model.AuthProvider
	ProviderUserID string
	Email          string // lowercase
	Name           string
	AvatarURL      string // may be empty
}

// Provider is one OAuth strategy. The identity linker only sees this
// interface, so adding a provider means adding one implementation.
type Provider interface {
	Name() model.AuthProvider
	// AuthURL is where the browser is sent to start the flow.
	AuthURL(state string) string
	// Exchange trades the callback code for the user's profile.
	Exchange(ctx context.Context, code string) (*ExternalProfile, error)
}

// ErrNoVerifiedEmail is returned when a provider cannot supply an email
// address the account can be keyed on.
var ErrNoVerifiedEmail = errors.New("auth: provider returned no verified email")

// =========================================================================
// GITHUB
// =========================================================================

// githubUser is the portion of the GitHub /user response we read.
type githubUser struct {
	ID        int64  `json:"id"`
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"` // empty if hidden in GitHub settings
	AvatarURL string `json:"avatar_url"`
}

type githubEmail struct {
	Email    string `json:"email"`
	Primary  bool   `json:"primary"`
	Verified bool   `json:"verified"`
}

// GitHubProvider runs the Authorization Code flow against GitHub and reads
// the profile from the REST API.
type GitHubProvider struct {
	config     *oauth2.Config
	apiBaseURL string
}

// NewGitHubProvider creates a GitHubProvider. callbackURL must match the
// "Authorization callback URL" of the GitHub OAuth App exactly.
func NewGitHubProvider(clientID, clientSecret, callbackURL string) *GitHubProvider {
	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  callbackURL,
			Scopes:       []string{"read:user", "user:email"},
			Endpoint:     github.Endpoint,
		},
		apiBaseURL: "https://api.github.com",
	}
}

func (p *GitHubProvider) Name() model.AuthProvider { return model.ProviderGitHub }

func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

// Exchange completes the flow: code → access token → /user (and
// /user/emails when the profile email is hidden).
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*ExternalProfile, error) {
	oauthToken, err := p.config.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("auth: exchanging GitHub code: %w", err)
	}
	client := p.config.Client(ctx, oauthToken)

	var ghUser githubUser
	if err := p.getJSON(ctx, client, "/user", &ghUser); err != nil {
		return nil, err
	}
	if ghUser.ID == 0 {
		return nil, fmt.Errorf("auth: GitHub returned an invalid user (ID = 0)")
	}

	email := ghUser.Email
	if email == "" {
		var emails []githubEmail
		if err := p.getJSON(ctx, client, "/user/emails", &emails); err != nil {
			return nil, err
		}
		for _, e := range emails {
			if e.Primary && e.Verified {
				email = e.Email
				break
			}
		}
	}
	if email == "" {
		return nil, ErrNoVerifiedEmail
	}

	name := ghUser.Name
	if name == "" {
		name = ghUser.Login
	}

	return &ExternalProfile{
		Provider:       model.ProviderGitHub,
		ProviderUserID: strconv.FormatInt(ghUser.ID, 10),
		Email:          strings.ToLower(strings.TrimSpace(email)),
		Name:           name,
		AvatarURL:      ghUser.AvatarURL,
	}, nil
}

func (p *GitHubProvider) getJSON(ctx context.Context, client *http.Client, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("auth: building GitHub %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("auth: calling GitHub %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("auth: GitHub %s returned status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("auth: decoding GitHub %s response: %w", path, err)
	}
	return nil
}
