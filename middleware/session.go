package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/internal/observability"
)

// SessionCookie is the cookie carrying the session id.
const SessionCookie = "panel_session"

type sessionContextKey struct{}

// SessionFromContext returns the session stored by RequireSession.
func SessionFromContext(ctx context.Context) (*panelauth.Session, bool) {
	sess, ok := ctx.Value(sessionContextKey{}).(*panelauth.Session)
	return sess, ok
}

// ClientContext copies the client IP and User-Agent into the request
// context.
func ClientContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := panelauth.WithClientIP(r.Context(), observability.ClientIP(r))
		ctx = panelauth.WithUserAgent(ctx, r.UserAgent())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireSession rejects requests without a valid full session. Sessions
// still waiting for a second factor are rejected too.
func RequireSession(engine *panelauth.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			cookie, err := r.Cookie(SessionCookie)
			if err != nil || cookie.Value == "" {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			sess, err := engine.ValidateSession(r.Context(), cookie.Value)
			if err != nil {
				if errors.Is(err, panelauth.ErrStoreUnavailable) {
					http.Error(w, "service unavailable", http.StatusServiceUnavailable)
					return
				}
				ClearSessionCookie(w)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey{}, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSessionCookie writes an HttpOnly, Secure, SameSite=Strict cookie that
// expires with sess.
func SetSessionCookie(w http.ResponseWriter, sess *panelauth.Session, path string) {
	if path == "" {
		path = "/"
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     path,
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}
