package middleware

import (
	"net/http"

	"github.com/MrEthical07/panelauth"
)

const (
	// CSRFHeader carries the anti-forgery token on XHR requests.
	CSRFHeader = "X-CSRF-Token"
	// CSRFField carries it on form posts.
	CSRFField = "csrf_token"
)

// RequireCSRF must run after RequireSession. Safe methods pass through.
func RequireCSRF(engine *panelauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			sess, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			token := r.Header.Get(CSRFHeader)
			if token == "" {
				token = r.PostFormValue(CSRFField)
			}
			if err := engine.VerifyCSRF(r.Context(), sess.ID, token); err != nil {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
