package handler_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/handler"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/service"
)

type stubProvider struct{ name model.AuthProvider }

func (p stubProvider) Name() model.AuthProvider { return p.name }
func (p stubProvider) AuthURL(state string) string {
	return "https://github.test/login/oauth/authorize?state=" + url.QueryEscape(state)
}
func (p stubProvider) Exchange(context.Context, string) (*auth.ExternalProfile, error) {
	return nil, nil
}

type fakeOAuthLogin struct {
	result    *service.AuthResult
	err       error
	gotCode   string
	linkedFor string
}

func (f *fakeOAuthLogin) Provider(name model.AuthProvider) (auth.Provider, bool) {
	if name != model.ProviderGitHub {
		return nil, false
	}
	return stubProvider{name: name}, true
}

func (f *fakeOAuthLogin) Login(_ context.Context, _ model.AuthProvider, code string) (*service.AuthResult, error) {
	f.gotCode = code
	return f.result, f.err
}

func (f *fakeOAuthLogin) Link(_ context.Context, userID string, p model.AuthProvider, _, code string) (*model.User, error) {
	f.gotCode, f.linkedFor = code, userID
	if f.err != nil {
		return nil, f.err
	}
	return &model.User{ID: userID, GitHubID: "gh-" + code}, nil
}

// fakeSessions accepts exactly one token.
type fakeSessions struct{}

const sessionToken = "session.for.u1"

func (fakeSessions) Verify(token string) (*auth.Claims, error) {
	if token != sessionToken {
		return nil, errors.New("token is malformed")
	}
	return &auth.Claims{UserID: "u1", Role: model.RoleUser}, nil
}

const frontendOrigin = "https://learn.example.com"

func newOAuthRouter(t *testing.T, logins *fakeOAuthLogin) http.Handler {
	t.Helper()
	h, err := handler.NewOAuthHandler(logins, fakeSessions{}, testCookies, frontendOrigin, logger)
	require.NoError(t, err)

	r := chi.NewRouter()
	r.Get("/auth/{provider}", h.HandleStart)
	r.Get("/auth/{provider}/callback", h.HandleCallback)
	return r
}

func callback(t *testing.T, h http.Handler, query, state string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?"+query, nil)
	if state != "" {
		req.AddCookie(&http.Cookie{Name: "oauth_state", Value: state})
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestOAuthStart_RedirectsWithState(t *testing.T) {
	h := newOAuthRouter(t, &fakeOAuthLogin{})

	rr := do(t, h, http.MethodGet, "/auth/github", "")

	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	state := findCookie(rr, "oauth_state")
	require.NotNil(t, state)
	assert.True(t, state.HttpOnly)
	assert.Equal(t, 600, state.MaxAge)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, state.Value, loc.Query().Get("state"))
}

func TestOAuthStart_UnknownProvider(t *testing.T) {
	h := newOAuthRouter(t, &fakeOAuthLogin{})
	rr := do(t, h, http.MethodGet, "/auth/facebook", "")
	assertEnvelope(t, rr, http.StatusNotFound)
}

func TestOAuthCallback_Success(t *testing.T) {
	logins := &fakeOAuthLogin{result: &service.AuthResult{
		User:  &model.User{ID: "u1", Email: "octo@example.com"},
		Token: "signed.jwt.token",
	}}
	h := newOAuthRouter(t, logins)

	rr := callback(t, h, "code=abc&state=s1", "s1")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "abc", logins.gotCode)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")

	tok := findCookie(rr, auth.CookieName)
	require.NotNil(t, tok, "token cookie must be set before the bridge page")
	assert.Equal(t, "signed.jwt.token", tok.Value)

	page := rr.Body.String()
	assert.Contains(t, page, "OAUTH_SUCCESS")
	assert.Contains(t, page, "signed.jwt.token")
	assert.Contains(t, page, "postMessage")
	assert.Contains(t, page, "learn.example.com")
	assert.NotContains(t, page, "OAUTH_ERROR")
}

func TestOAuthCallback_StateMismatch(t *testing.T) {
	logins := &fakeOAuthLogin{}
	h := newOAuthRouter(t, logins)

	for name, rr := range map[string]*httptest.ResponseRecorder{
		"no cookie":       callback(t, h, "code=abc&state=s1", ""),
		"different state": callback(t, h, "code=abc&state=s1", "s2"),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.Contains(t, rr.Body.String(), "OAUTH_ERROR")
			assert.Nil(t, findCookie(rr, auth.CookieName))
		})
	}
	assert.Empty(t, logins.gotCode, "code must not be exchanged without a valid state")
}

func TestOAuthCallback_Denied(t *testing.T) {
	h := newOAuthRouter(t, &fakeOAuthLogin{})

	rr := callback(t, h, "error=access_denied&state=s1", "s1")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "OAUTH_ERROR")
}

func TestOAuthCallback_LoginFailure(t *testing.T) {
	logins := &fakeOAuthLogin{err: apperror.Upstream("could not sign in with github")}
	h := newOAuthRouter(t, logins)

	rr := callback(t, h, "code=abc&state=s1", "s1")

	assert.Equal(t, http.StatusBadGateway, rr.Code)
	page := rr.Body.String()
	assert.Contains(t, page, "OAUTH_ERROR")
	assert.Contains(t, page, "could not sign in with github")
}

// =============================================================================
// Link mode
// =============================================================================

func TestOAuthStart_LinkModeRequiresSession(t *testing.T) {
	h := newOAuthRouter(t, &fakeOAuthLogin{})

	rr := do(t, h, http.MethodGet, "/auth/github?mode=link", "")
	assertEnvelope(t, rr, http.StatusUnauthorized)
	assert.Nil(t, findCookie(rr, "oauth_state"))

	req := httptest.NewRequest(http.MethodGet, "/auth/github?mode=link", nil)
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: sessionToken})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	state := findCookie(rr, "oauth_state")
	require.NotNil(t, state)
	assert.True(t, strings.HasPrefix(state.Value, "link."))
}

func TestOAuthCallback_LinkModeLinksSessionUser(t *testing.T) {
	logins := &fakeOAuthLogin{}
	h := newOAuthRouter(t, logins)

	req := httptest.NewRequest(http.MethodGet, "/auth/github/callback?code=abc&state=link.s1", nil)
	req.AddCookie(&http.Cookie{Name: "oauth_state", Value: "link.s1"})
	req.AddCookie(&http.Cookie{Name: auth.CookieName, Value: sessionToken})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "u1", logins.linkedFor)
	assert.Equal(t, "abc", logins.gotCode)
	assert.Contains(t, rr.Body.String(), "OAUTH_SUCCESS")
	assert.Nil(t, findCookie(rr, auth.CookieName), "linking must not replace the session")
}

func TestOAuthCallback_LinkModeWithoutSession(t *testing.T) {
	logins := &fakeOAuthLogin{}
	h := newOAuthRouter(t, logins)

	rr := callback(t, h, "code=abc&state=link.s1", "link.s1")

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Contains(t, rr.Body.String(), "OAUTH_ERROR")
	assert.Empty(t, logins.linkedFor)
	assert.Empty(t, logins.gotCode)
}
