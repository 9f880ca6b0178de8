package policy

import (
	"path"
	"strings"

	"github.com/TotemHolder-js/EchoShock/internal/apperror"
	"github.com/TotemHolder-js/EchoShock/internal/model"
)

// adminPrefixes are the route namespaces reserved for admins.
var adminPrefixes = []string{"/admin", "/api/admin"}

// IsAdminRoute reports whether route lives under an admin namespace.
// Matching is per path segment, so "/administrator" is not an admin route.
func IsAdminRoute(route string) bool {
	if route == "" {
		return false
	}
	if !strings.HasPrefix(route, "/") {
		route = "/" + route
	}
	cleaned := path.Clean(route)
	for _, prefix := range adminPrefixes {
		if cleaned == prefix || strings.HasPrefix(cleaned, prefix+"/") {
			return true
		}
	}
	return false
}

// CanAccess reports whether a viewer with profile (nil when anonymous) may
// reach route.
func CanAccess(profile *model.Profile, route string) bool {
	if !IsAdminRoute(route) {
		return true
	}
	return profile != nil && profile.IsAdmin
}

// RequireAdmin is the check every mutating operation runs against the
// profile loaded for the current request.
func RequireAdmin(profile *model.Profile) error {
	if profile == nil {
		return apperror.Unauthorized(apperror.CodeUnauthenticated, "sign in required")
	}
	if !profile.IsAdmin {
		return apperror.Forbidden("admin access required")
	}
	return nil
}
