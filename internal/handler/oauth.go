package handler

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/xid"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/service"
)

//go:embed templates/oauth_bridge.html
var templateFS embed.FS

const (
	bridgeSuccess = "OAUTH_SUCCESS"
	bridgeError   = "OAUTH_ERROR"

	// linkStatePrefix marks a state issued by ?mode=link. The state lives
	// in an HttpOnly cookie and must round-trip through the provider, so the
	// mode cannot be switched by the callback URL.
	linkStatePrefix = "link."
)

// OAuthLogin is the provider-facing half of service.IdentityLinker.
type OAuthLogin interface {
	Provider(name model.AuthProvider) (auth.Provider, bool)
	Login(ctx context.Context, name model.AuthProvider, code string) (*service.AuthResult, error)
	Link(ctx context.Context, userID string, provider model.AuthProvider, providerID, code string) (*model.User, error)
}

// SessionVerifier checks a session token; *auth.TokenService satisfies it.
type SessionVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// OAuthHandler runs the popup sign-in flow: redirect to the provider, then
// answer the callback with a bridge page that posts the outcome to the
// opener window on the frontend origin. The same flow started with
// ?mode=link attaches the provider account to the signed-in user instead.
type OAuthHandler struct {
	logins         OAuthLogin
	sessions       SessionVerifier
	cookies        Cookies
	frontendOrigin string
	templates      *template.Template
	logger         *slog.Logger
}

func NewOAuthHandler(logins OAuthLogin, sessions SessionVerifier, cookies Cookies, frontendOrigin string, logger *slog.Logger) (*OAuthHandler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/oauth_bridge.html")
	if err != nil {
		return nil, err
	}
	return &OAuthHandler{
		logins:         logins,
		sessions:       sessions,
		cookies:        cookies,
		frontendOrigin: frontendOrigin,
		templates:      tmpl,
		logger:         logger,
	}, nil
}

// HandleStart stores a random state in a short-lived cookie and sends the
// browser to the provider's consent screen. With ?mode=link the caller
// must already hold a session; the callback then links instead of signing in.
// GET /api/v1/user/auth/{provider}
func (h *OAuthHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	name := model.AuthProvider(urlParam(r, "provider"))
	p, found := h.logins.Provider(name)
	if !found {
		writeError(w, apperror.NotFound("sign-in provider", string(name)))
		return
	}

	state := xid.New().String()
	if r.URL.Query().Get("mode") == "link" {
		if _, err := h.sessions.Verify(auth.TokenFromRequest(r)); err != nil {
			writeError(w, apperror.Unauthenticated("please log in before linking an account"))
			return
		}
		state = linkStatePrefix + state
	}
	h.cookies.setState(w, state)
	http.Redirect(w, r, p.AuthURL(state), http.StatusTemporaryRedirect)
}

type bridgeData struct {
	Success bool
	Error   string
	Message map[string]any
	Origin  string
}

// HandleCallback finishes the flow. The session cookie is set before the
// success page renders.
// GET /api/v1/user/auth/{provider}/callback
func (h *OAuthHandler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	name := model.AuthProvider(urlParam(r, "provider"))
	q := r.URL.Query()

	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil || stateCookie.Value == "" || q.Get("state") != stateCookie.Value {
		h.logger.Warn("oauth callback: state mismatch", slog.String("provider", string(name)))
		h.renderError(w, http.StatusBadRequest, "invalid OAuth state, please try again")
		return
	}
	h.cookies.clearState(w)

	if errParam := q.Get("error"); errParam != "" {
		h.logger.Info("oauth callback: authorization denied",
			slog.String("provider", string(name)),
			slog.String("error", errParam),
		)
		h.renderError(w, http.StatusUnauthorized, "sign-in was cancelled")
		return
	}

	if strings.HasPrefix(stateCookie.Value, linkStatePrefix) {
		h.link(w, r, name, q.Get("code"))
		return
	}

	res, err := h.logins.Login(r.Context(), name, q.Get("code"))
	if err != nil {
		h.renderFailure(w, name, err)
		return
	}

	h.cookies.setToken(w, res.Token)
	h.render(w, http.StatusOK, bridgeData{
		Success: true,
		Message: map[string]any{
			"type": bridgeSuccess,
			"data": map[string]any{"token": res.Token, "user": res.User},
		},
		Origin: h.frontendOrigin,
	})
}

// link attaches the provider account proven by code to the session user.
// The session cookie is left as it is.
func (h *OAuthHandler) link(w http.ResponseWriter, r *http.Request, name model.AuthProvider, code string) {
	claims, err := h.sessions.Verify(auth.TokenFromRequest(r))
	if err != nil {
		h.renderError(w, http.StatusUnauthorized, "please log in before linking an account")
		return
	}

	user, err := h.logins.Link(r.Context(), claims.UserID, name, "", code)
	if err != nil {
		h.renderFailure(w, name, err)
		return
	}

	h.render(w, http.StatusOK, bridgeData{
		Success: true,
		Message: map[string]any{
			"type": bridgeSuccess,
			"data": map[string]any{"linked": name, "user": user},
		},
		Origin: h.frontendOrigin,
	})
}

func (h *OAuthHandler) renderFailure(w http.ResponseWriter, name model.AuthProvider, err error) {
	status, message := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("oauth callback failed",
			slog.String("provider", string(name)),
			slog.String("error", err.Error()),
		)
	}
	h.renderError(w, status, message)
}

func (h *OAuthHandler) renderError(w http.ResponseWriter, status int, message string) {
	h.render(w, status, bridgeData{
		Error:   message,
		Message: map[string]any{"type": bridgeError, "error": message},
		Origin:  h.frontendOrigin,
	})
}

func (h *OAuthHandler) render(w http.ResponseWriter, status int, data bridgeData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := h.templates.ExecuteTemplate(w, "oauth_bridge", data); err != nil {
		h.logger.Error("failed to render oauth bridge", slog.String("error", err.Error()))
	}
}

func urlParam(r *http.Request, key string) string {
	return chi.URLParam(r, key)
}
