// Package middleware adapts panelauth.Engine to net/http.
//
// # Guards
//
//   - [RequireAdminPath] answers 404 outside the obscured admin prefix.
//   - [RequireSession] loads the session cookie and rejects pending or
//     expired sessions.
//   - [RequireCSRF] checks the anti-forgery token on unsafe methods.
//   - [RequireCLIGrant] accepts a short-lived CLI grant as a bearer token.
//
// [ClientContext] should run first so the Engine sees the caller's IP and
// user agent for throttling and audit.
//
// This package translates HTTP semantics into Engine calls. It makes no
// authentication decision of its own.
package middleware
