package middleware

import (
	"net/http"

	"github.com/TotemHolder-js/EchoShock/internal/auth"
	"github.com/TotemHolder-js/EchoShock/internal/policy"
)

// AdminOnly asks the access policy about the request path. Anonymous callers
// get 401 and signed-in non-admins 403. It must be mounted after
// auth.LoadSession.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profile := auth.ProfileFromContext(r.Context())
		if policy.CanAccess(profile, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if profile == nil {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"unauthorized","code":"unauthenticated","message":"sign in required"}`))
			return
		}
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden","code":"admin_required","message":"admin access required"}`))
	})
}
