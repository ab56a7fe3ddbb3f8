package middleware

import (
	"net/http"

	"github.com/MrEthical07/panelauth"
)

// RequireAdminPath answers 404 for any path outside the admin base path,
// so the panel is indistinguishable from a missing page.
func RequireAdminPath(engine *panelauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !engine.IsAdminPath(r.Context(), r.URL.Path) {
				http.NotFound(w, r)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
