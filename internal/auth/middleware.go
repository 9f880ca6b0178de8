package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
)

// CookieName is the HttpOnly cookie carrying the session JWT.
const CookieName = "token"

// ProfileFinder is the slice of the profile store LoadSession needs.
type ProfileFinder interface {
	FindByID(ctx context.Context, userID string) (*model.Profile, error)
}

// LoadSession resolves the session cookie into a *Session on every request.
//
// The whole Authenticating phase happens before next is called, so a handler
// only ever sees Anonymous, Authenticated or AuthFailed. A failed session is
// treated as anonymous by the policies; the stale cookie is cleared unless
// the failure was the profile store being unreachable.
//
// Expired tokens publish EventExpired on notifier (which may be nil). A
// token that expires while its request is still running moves the session
// from Authenticated back to Anonymous at that instant, and publishes the
// same event.
func LoadSession(tokens *TokenService, profiles ProfileFinder, notifier *Notifier, secure bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Reuse a session an outer middleware (the request logger) already
			// attached, so it observes the outcome.
			sess, ok := r.Context().Value(sessionKey).(*Session)
			if !ok || sess == nil || sess.State() != StateAnonymous {
				sess = NewSession()
			}
			ctx := WithSession(r.Context(), sess)

			cookie, err := r.Cookie(CookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			_ = sess.Begin()

			userID, expiresAt, err := tokens.ValidateWithExpiry(cookie.Value)
			switch {
			case errors.Is(err, ErrTokenExpired):
				_ = sess.Fail(err)
				ClearSessionCookie(w, secure)
				if notifier != nil {
					notifier.Publish(Event{Kind: EventExpired})
				}
			case err != nil:
				_ = sess.Fail(err)
				ClearSessionCookie(w, secure)
				logger.Debug("rejected session token", slog.String("error", err.Error()))
			default:
				profile, err := profiles.FindByID(r.Context(), userID)
				switch {
				case err == nil:
					_ = sess.Succeed(profile)
					// A long request (a large upload) can outlive the token.
					timer := time.AfterFunc(time.Until(expiresAt), func() {
						if sess.Expire() == nil && notifier != nil {
							notifier.Publish(Event{Kind: EventExpired, UserID: userID})
						}
					})
					defer timer.Stop()
				case errors.Is(err, apperror.ErrNotFound):
					_ = sess.Fail(err)
					ClearSessionCookie(w, secure)
				default:
					_ = sess.Fail(err)
					logger.Warn("loading session profile",
						slog.String("userID", userID),
						slog.String("error", err.Error()),
					)
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects requests whose session is not Authenticated.
// It must be mounted after LoadSession.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if FromContext(r.Context()).State() != StateAuthenticated {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","code":"unauthenticated","message":"valid authentication required"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetSessionCookie stores token in the session cookie for ttl.
func SetSessionCookie(w http.ResponseWriter, token string, ttl time.Duration, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearSessionCookie tells the browser to drop the session cookie.
func ClearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}
