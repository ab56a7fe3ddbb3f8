package session

import "time"

// Session is one login session. Payload is persisted as JSON.
type Session struct {
	ID           string
	UserID       string
	IP           string
	UserAgent    string
	Payload      Payload
	CreatedAt    time.Time
	LastActivity time.Time
	ExpiresAt    time.Time
}

// Payload is the mutable per-session state.
type Payload struct {
	CSRFToken      string            `json:"csrf_token"`
	Flash          map[string]string `json:"flash,omitempty"`
	ExtensionCount int               `json:"extension_count"`
	Pending2FA     bool              `json:"pending_2fa,omitempty"`
	TwoFactorKind  string            `json:"two_factor_method,omitempty"`
}

// Pending reports whether the session still awaits a second factor.
func (s *Session) Pending() bool {
	return s != nil && s.Payload.Pending2FA
}

// Expired reports whether s is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
