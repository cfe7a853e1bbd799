package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/sakif/lms/internal/apperror"
	"github.com/sakif/lms/internal/auth"
	"github.com/sakif/lms/internal/model"
	"github.com/sakif/lms/internal/service"
)

// AccountService is what UserHandler needs from service.AuthService.
type AccountService interface {
	Register(ctx context.Context, name, email, password string) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	Profile(ctx context.Context, userID string) (*service.Profile, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	UpdateProfile(ctx context.Context, userID, name, phone string) (*model.User, error)
}

// PasswordResetter is what UserHandler needs from service.PasswordResetService.
type PasswordResetter interface {
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, token, newPassword string) error
}

// AccountLinker is the link/unlink half of service.IdentityLinker.
type AccountLinker interface {
	Link(ctx context.Context, userID string, provider model.AuthProvider, providerID, code string) (*model.User, error)
	Unlink(ctx context.Context, userID string, provider model.AuthProvider) (*model.User, error)
}

// UserHandler serves the /user routes.
type UserHandler struct {
	accounts AccountService
	resets   PasswordResetter
	linker   AccountLinker
	cookies  Cookies
	logger   *slog.Logger
}

func NewUserHandler(accounts AccountService, resets PasswordResetter, linker AccountLinker, cookies Cookies, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		accounts: accounts,
		resets:   resets,
		linker:   linker,
		cookies:  cookies,
		logger:   logger,
	}
}

// =========================================================================
// REGISTER / LOGIN / LOGOUT
// =========================================================================

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a local account and signs it in.
// POST /api/v1/user/register
func (h *UserHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	h.cookies.setToken(w, res.Token)
	writeJSON(w, http.StatusCreated, ok("User registered successfully", "user", res.User))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin checks credentials, sets the session cookie and returns the
// token for clients that prefer the Authorization header.
// POST /api/v1/user/login
func (h *UserHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}

	h.cookies.setToken(w, res.Token)
	writeJSON(w, http.StatusOK, ok("User logged in successfully", "token", res.Token, "user", res.User))
}

// HandleLogout clears the cookie. Tokens are stateless, so a copy held
// elsewhere stays valid until it expires.
// GET /api/v1/user/logout
func (h *UserHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.cookies.clearToken(w)
	writeJSON(w, http.StatusOK, ok("User logged out successfully"))
}

// HandleMe returns the caller with their purchased courses.
// GET /api/v1/user/me
func (h *UserHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	userID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, apperror.Unauthenticated("authentication required"))
		return
	}

	p, err := h.accounts.Profile(r.Context(), userID)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("User details", "user", p.User, "courses", p.Courses))
}

// =========================================================================
// PROFILE AND PASSWORD
// =========================================================================

type updateProfileRequest struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// PUT /api/v1/user/update-profile
func (h *UserHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, apperror.Unauthenticated("authentication required"))
		return
	}
	var req updateProfileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.accounts.UpdateProfile(r.Context(), userID, req.Name, req.Phone)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Profile updated successfully", "user", user))
}

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

// POST /api/v1/user/change-password
func (h *UserHandler) HandleChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, apperror.Unauthenticated("authentication required"))
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.accounts.ChangePassword(r.Context(), userID, req.OldPassword, req.NewPassword); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Password changed successfully"))
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// HandleForgotPassword answers the same way whether or not the email has
// an account.
// POST /api/v1/user/forgotpassword
func (h *UserHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := h.resets.ForgotPassword(r.Context(), req.Email); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(service.ResetRequestedMessage))
}

type resetPasswordRequest struct {
	Password string `json:"password"`
}

// POST /api/v1/user/forgotpassword/{resetToken}
func (h *UserHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	token := urlParam(r, "resetToken")
	if err := h.resets.ResetPassword(r.Context(), token, req.Password); err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok("Password changed successfully"))
}

// =========================================================================
// OAUTH LINKING
// =========================================================================

type linkRequest struct {
	Provider   model.AuthProvider `json:"provider"`
	ProviderID string             `json:"providerId"`
	Code       string             `json:"code"` // authorization code proving ownership of ProviderID
}

// HandleLinkOAuth links a provider account to the caller. A bare
// providerId is never enough: the request must carry an authorization code
// from the provider, and the id the provider reports is the one linked.
// POST /api/v1/user/link-oauth
func (h *UserHandler) HandleLinkOAuth(w http.ResponseWriter, r *http.Request) {
	userID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, apperror.Unauthenticated("authentication required"))
		return
	}
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.linker.Link(r.Context(), userID, req.Provider, req.ProviderID, req.Code)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(string(req.Provider)+" account linked successfully", "user", user))
}

// POST /api/v1/user/unlink-oauth
func (h *UserHandler) HandleUnlinkOAuth(w http.ResponseWriter, r *http.Request) {
	userID, found := auth.UserIDFromContext(r.Context())
	if !found {
		writeError(w, apperror.Unauthenticated("authentication required"))
		return
	}
	var req linkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.linker.Unlink(r.Context(), userID, req.Provider)
	if err != nil {
		respondError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, ok(string(req.Provider)+" account unlinked successfully", "user", user))
}
