package panelauth

import (
	"time"

	"github.com/MrEthical07/panelauth/session"
	"github.com/MrEthical07/panelauth/settings"
	"github.com/MrEthical07/panelauth/storage"
)

type (
	// AdminUser is a persisted admin account.
	AdminUser = storage.AdminUser
	// Session is a login session.
	Session = session.Session
	// AuditEntry is one audit log record.
	AuditEntry = storage.AuditEntry
)

// TwoFactorMethod names an enrolled second factor. Delivered methods share
// their name with the notify channel that carries the code.
type TwoFactorMethod string

const (
	MethodTOTP     TwoFactorMethod = "totp"
	MethodEmail    TwoFactorMethod = "email"
	MethodTelegram TwoFactorMethod = "telegram"
	MethodSlack    TwoFactorMethod = "slack"
	MethodDiscord  TwoFactorMethod = "discord"
)

// Delivered reports whether codes for m are pushed over a channel.
func (m TwoFactorMethod) Delivered() bool {
	switch m {
	case MethodEmail, MethodTelegram, MethodSlack, MethodDiscord:
		return true
	}
	return false
}

// Repositories groups the persistence backends the Engine needs.
type Repositories struct {
	Users    storage.UserRepository
	Tokens   storage.TokenRepository
	Codes    storage.OTPRepository
	Sessions session.Repository
	Settings settings.Repository
	Audit    storage.AuditRepository
}

// LoginResult is the outcome of a successful password check. Exactly one of
// Session and PendingSessionID is set.
type LoginResult struct {
	Session *Session

	Requires2FA      bool
	Method           TwoFactorMethod
	PendingSessionID string
	// CodeSent is false when a delivered code could not be pushed; the
	// caller may offer ResendCode.
	CodeSent bool
}

// TokenClass identifies one of the CLI token lineages.
type TokenClass string

const (
	ClassMaster    TokenClass = "master"
	ClassSub       TokenClass = "sub"
	ClassEmergency TokenClass = "emergency"
)

// Token prefixes. The prefix alone decides which verifier runs.
const (
	PrefixMaster    = "pam_"
	PrefixSub       = "pas_"
	PrefixEmergency = "pae_"
)

// TokenIdentity is the holder of a verified CLI token.
type TokenIdentity struct {
	UserID     string
	Email      string
	Class      TokenClass
	Generation int64
}

// UseEmergencyResult is returned by a successful emergency bypass. The
// previous master token no longer verifies.
type UseEmergencyResult struct {
	MasterToken string
	Session     *Session
}

// TOTPEnrollment is the material shown to a user scanning a new secret.
type TOTPEnrollment struct {
	Secret          string
	ProvisioningURI string
}

// CleanupReport counts rows removed by one janitor sweep.
type CleanupReport struct {
	Sessions        int
	Codes           int
	ResetTokens     int
	RecoveryTokens  int
	EmergencyTokens int
	Duration        time.Duration
}
