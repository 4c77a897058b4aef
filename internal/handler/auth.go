package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/ecoloop/internal/apperror"
	"github.com/sakif/ecoloop/internal/auth"
	"github.com/sakif/ecoloop/internal/geo"
	"github.com/sakif/ecoloop/internal/service"
)

const stateCookie = "oauth_state"

// GitHubAuth is the OAuth half of sign-in with GitHub. *auth.GitHubProvider
// implements it.
type GitHubAuth interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

// AuthHandler serves the account endpoints.
//
// Every successful sign-in answers with {token, user} and also sets the
// token as an HttpOnly cookie; the SPA may use either. Logout only clears
// the cookie, since tokens are stateless and expire on their own.
type AuthHandler struct {
	svc         *service.AuthService
	github      GitHubAuth // nil when GitHub sign-in is not configured
	tokenTTL    time.Duration
	frontendURL string
	secure      bool
	logger      *slog.Logger
}

func NewAuthHandler(
	svc *service.AuthService,
	github GitHubAuth,
	tokenTTL time.Duration,
	frontendURL string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		svc:         svc,
		github:      github,
		tokenTTL:    tokenTTL,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		secure:      strings.HasPrefix(frontendURL, "https://"),
		logger:      logger,
	}
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, token string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) signedIn(w http.ResponseWriter, status int, res *service.AuthResult) {
	h.setTokenCookie(w, res.Token, int(h.tokenTTL.Seconds()))
	writeJSON(w, status, res)
}

type locationFields struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// point returns nil unless both coordinates are present.
func (l locationFields) point() *geo.Point {
	if l.Lat == nil || l.Lng == nil {
		return nil
	}
	return &geo.Point{Lat: *l.Lat, Lng: *l.Lng}
}

type registerRequest struct {
	Name      string   `json:"name"`
	Email     string   `json:"email"`
	Password  string   `json:"password"`
	Phone     string   `json:"phone"`
	Interests []string `json:"interests"`
	locationFields
}

// HandleRegister creates an account.
//
// HTTP: POST /api/auth/register
func (h *AuthHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Register(r.Context(), service.RegisterInput{
		Name:      req.Name,
		Email:     req.Email,
		Password:  req.Password,
		Phone:     req.Phone,
		Interests: req.Interests,
		Location:  req.point(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	h.signedIn(w, http.StatusCreated, res)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin signs in with email and password.
//
// HTTP: POST /api/auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	h.signedIn(w, http.StatusOK, res)
}

// HandleLogout clears the token cookie.
//
// HTTP: POST /api/auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	h.setTokenCookie(w, "", -1)
	writeJSON(w, http.StatusOK, MessageResponse{Message: "logged out"})
}

// HandleForgotPassword mails a reset link.
//
// HTTP: POST /api/auth/forgot-password
func (h *AuthHandler) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.ForgotPassword(r.Context(), req.Email); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset email sent"})
}

// HandleResetPassword sets a new password with a mailed token.
//
// HTTP: POST /api/auth/reset-password
func (h *AuthHandler) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := h.svc.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Password reset successful"})
}

// HandleProfile returns the caller with listing counters.
//
// HTTP: GET /api/auth/profile
func (h *AuthHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Profile(r.Context(), callerID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type profileRequest struct {
	Name      *string  `json:"name"`
	Phone     *string  `json:"phone"`
	Interests []string `json:"interests"`
	locationFields
}

// HandleUpdateProfile edits name, phone, interests and location. Omitted
// fields are left unchanged.
//
// HTTP: PUT /api/auth/profile
func (h *AuthHandler) HandleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.svc.UpdateProfile(r.Context(), callerID(r), service.ProfileInput{
		Name:      req.Name,
		Phone:     req.Phone,
		Interests: req.Interests,
		Location:  req.point(),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /api/auth/github/login
//
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL; the callback only proceeds when the two match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.Unavailable("GitHub sign-in is not configured"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow: check state, exchange the
// code, sign the user in, then send the browser back to the frontend.
//
// HTTP: GET /api/auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.Unavailable("GitHub sign-in is not configured"))
		return
	}

	c, err := r.Cookie(stateCookie)
	if err != nil || c.Value == "" || r.URL.Query().Get("state") != c.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Value: "", Path: "/", MaxAge: -1})

	if e := r.URL.Query().Get("error"); e != "" {
		h.logger.Info("github callback: user denied authorization", slog.String("error", e))
		http.Redirect(w, r, h.frontendURL+"/login?auth=denied", http.StatusSeeOther)
		return
	}
	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	gh, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unavailable("GitHub authentication failed"))
		return
	}

	res, err := h.svc.LoginOrRegisterGitHub(r.Context(), gh)
	if err != nil {
		writeError(w, err)
		return
	}
	h.setTokenCookie(w, res.Token, int(h.tokenTTL.Seconds()))
	http.Redirect(w, r, h.frontendURL+"/?auth=success", http.StatusSeeOther)
}
