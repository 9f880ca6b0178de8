// Package middleware contains the HTTP middleware that is not tied to one
// feature: request logging, per-IP rate limiting and the response cache.
//
// Every constructor returns the standard shape so chi can mount it:
//
//	func(next http.Handler) http.Handler
package middleware

import (
	"log/slog"
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
)

// responseWriter records the status and body size for the log line.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += int64(n)
	return n, err
}

// Logger writes one line per request. 5xx responses log at error level and
// 4xx at warn, so a default info-level handler still shows every request.
//
// The session is read after the handler runs; mount Logger outside
// auth.LoadSession and it will still see the user, because the session
// pointer is shared through the request context.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sess := auth.NewSession()
			r = r.WithContext(auth.WithSession(r.Context(), sess))

			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			attrs := []any{
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", wrapped.statusCode),
				slog.Duration("duration", time.Since(start)),
				slog.Int64("bytes", wrapped.written),
				slog.String("request_id", chimiddleware.GetReqID(r.Context())),
				slog.String("session", sess.State().String()),
			}
			if p := sess.Profile(); p != nil {
				attrs = append(attrs, slog.String("user", p.UserName))
			} else if reason := sess.Reason(); reason != nil {
				attrs = append(attrs, slog.String("session_error", reason.Error()))
			}

			switch {
			case wrapped.statusCode >= 500:
				logger.Error("request completed", attrs...)
			case wrapped.statusCode >= 400:
				logger.Warn("request completed", attrs...)
			default:
				logger.Info("request completed", attrs...)
			}
		})
	}
}
