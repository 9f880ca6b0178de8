package handler

import (
	"log/slog"
	"net/http"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/model"
	"github.com/TotemHolder-js/EchoShock/internal/service"
)

// AuthHandler exposes sign-up, sign-in and sign-out.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignUp  → validate, create the account, set the session cookie
//   - HandleSignIn  → username or email + password, set the session cookie
//   - HandleSignOut → end the session and clear the cookie
//   - HandleMe      → the signed-in user's profile
//
// SESSIONS:
// The session is a signed JWT in an HttpOnly cookie. The handler never
// trusts anything the client says about who it is; auth.LoadSession resolved
// the cookie to a profile before we got here.
type AuthHandler struct {
	svc           *service.AuthService
	tokens        *auth.TokenService
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(svc *service.AuthService, tokens *auth.TokenService, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		svc:           svc,
		tokens:        tokens,
		secureCookies: secureCookies,
		logger:        logger,
	}
}

type signUpRequest struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type signInRequest struct {
	Identifier string `json:"identifier"` // username or email
	Password   string `json:"password"`
}

type sessionResponse struct {
	Profile *model.Profile `json:"profile"`
}

// HandleSignUp creates an account and signs it in.
//
// HTTP: POST /api/auth/signup
// REQUEST BODY: {"username": "...", "email": "...", "password": "...", "confirmPassword": "..."}
// RESPONSE: 201 {"profile": {...}} with the session cookie set
func (h *AuthHandler) HandleSignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.svc.SignUp(r.Context(), service.SignUpInput{
		Username:        req.Username,
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.startSession(w, r, res)
	writeJSON(w, http.StatusCreated, sessionResponse{Profile: res.Profile})
}

// HandleSignIn signs in with a username or email.
//
// HTTP: POST /api/auth/signin
// REQUEST BODY: {"identifier": "ada" | "ada@example.com", "password": "..."}
//
// An unknown username answers 404 unknown_identifier and a wrong password
// 401 invalid_credentials, so the form can say which one to fix.
func (h *AuthHandler) HandleSignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.svc.SignIn(r.Context(), req.Identifier, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	h.startSession(w, r, res)
	writeJSON(w, http.StatusOK, sessionResponse{Profile: res.Profile})
}

// HandleSignOut ends the session.
//
// HTTP: POST /api/auth/signout
//
// WHY POST AND NOT GET?
// Signing out changes state. A GET could be triggered by an <img> tag on
// another site or by a browser prefetch.
//
// The cookie is cleared even for anonymous callers so a stale cookie the
// server already rejected does not linger.
func (h *AuthHandler) HandleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.SignOut(r.Context(), auth.FromContext(r.Context())); err != nil {
		writeError(w, h.logger, err)
		return
	}
	auth.ClearSessionCookie(w, h.secureCookies)
	writeJSON(w, http.StatusOK, map[string]string{"message": "signed out"})
}

// HandleMe returns the signed-in user's profile.
//
// HTTP: GET /api/me
// Auth: required (RequireAuth is mounted in front, this is a second check)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := h.svc.Me(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

// startSession sets the cookie and moves this request's session to
// Authenticated so the request log shows who signed in.
func (h *AuthHandler) startSession(w http.ResponseWriter, r *http.Request, res *service.AuthResult) {
	auth.SetSessionCookie(w, res.Token, h.tokens.TTL(), h.secureCookies)

	sess := auth.FromContext(r.Context())
	if sess.State() == auth.StateAnonymous && sess.Begin() == nil {
		_ = sess.Succeed(res.Profile)
	}
}
