package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/MrEthical07/panelauth"
)

type identityContextKey struct{}

// IdentityFromContext returns the token holder stored by RequireCLIGrant.
func IdentityFromContext(ctx context.Context) (panelauth.TokenIdentity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(panelauth.TokenIdentity)
	return id, ok
}

// RequireCLIGrant accepts "Authorization: Bearer <grant>" where grant was
// minted by Engine.IssueCLIGrant. Grants stop verifying as soon as the
// token they were minted from is rotated or revoked.
func RequireCLIGrant(engine *panelauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			grant, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			identity, err := engine.ParseCLIGrant(r.Context(), grant)
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}
