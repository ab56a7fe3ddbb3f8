package panelauth

import "errors"

var (
	// ErrInvalidCredentials is returned for an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while an account is inside its lockout window.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountDisabled is returned for deactivated accounts.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrAccountExists is returned when an email is already registered.
	ErrAccountExists = errors.New("account already exists")
	// ErrInvalidEmail is returned when an account is created with a
	// malformed email.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrUserNotFound is returned when an admin operation names an unknown account.
	ErrUserNotFound = errors.New("user not found")
	// ErrRateLimited is returned when a throttle budget is spent.
	ErrRateLimited = errors.New("rate limited")

	// ErrRequiresTwoFactor is returned when an operation needs a completed
	// second factor.
	ErrRequiresTwoFactor = errors.New("two-factor verification required")
	// ErrInvalidTwoFactorCode covers wrong, expired and replayed codes.
	ErrInvalidTwoFactorCode = errors.New("invalid two-factor code")
	// ErrTwoFactorNotEnrolled is returned when 2FA management targets a user
	// without an enrolled factor.
	ErrTwoFactorNotEnrolled = errors.New("two-factor not enrolled")
	// ErrTwoFactorAlreadyEnabled is returned when enrollment starts on a user
	// who already has a factor.
	ErrTwoFactorAlreadyEnabled = errors.New("two-factor already enabled")
	// ErrUnsupportedChannel is returned for delivery channels without a sender.
	ErrUnsupportedChannel = errors.New("unsupported delivery channel")

	// ErrTokenInvalidOrExpired covers unknown, expired and revoked tokens.
	ErrTokenInvalidOrExpired = errors.New("token invalid or expired")
	// ErrTokenAlreadyUsed is returned when a one-time token lost the
	// consumption race.
	ErrTokenAlreadyUsed = errors.New("token already used")
	// ErrUnknownTokenPrefix is returned for tokens of no known class.
	ErrUnknownTokenPrefix = errors.New("unknown token prefix")
	// ErrMasterExists is returned when a second master would be created.
	ErrMasterExists = errors.New("master account already exists")
	// ErrNotMaster is returned when a master-only operation targets another user.
	ErrNotMaster = errors.New("account is not master")
	// ErrForbiddenTarget is returned when a master targets itself or
	// another master with a sub-admin operation.
	ErrForbiddenTarget = errors.New("operation not permitted on target account")

	// ErrSessionNotFound covers unknown, expired and destroyed sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPending2FA is returned when a pending session is used as a full one.
	ErrPending2FA = errors.New("session awaits two-factor verification")
	// ErrCSRFMismatch is returned when a state-changing request carries the
	// wrong anti-forgery token.
	ErrCSRFMismatch = errors.New("csrf token mismatch")

	// ErrPasswordPolicy is returned for passwords outside the length policy.
	ErrPasswordPolicy = errors.New("password policy violation")
	// ErrPasswordReuse is returned when a new password equals the current one.
	ErrPasswordReuse = errors.New("password reuse")

	// ErrEncryptionFailure is returned when a stored secret cannot be
	// decrypted or sealed. The operation fails closed.
	ErrEncryptionFailure = errors.New("encryption failure")
	// ErrMissingKeyMaterial is returned by Build when no encryption key is set.
	ErrMissingKeyMaterial = errors.New("encryption key material missing")
	// ErrDeliveryFailed is returned when a notification could not be sent.
	ErrDeliveryFailed = errors.New("notification delivery failed")
	// ErrStoreUnavailable wraps repository failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrAuditUnavailable is returned when a security-critical audit entry
	// could not be persisted.
	ErrAuditUnavailable = errors.New("audit log unavailable")

	// ErrEngineNotReady is returned by methods on a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrInvalidConfig is returned by Config.Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// PublicMessage maps err to the text that may be shown to an
// unauthenticated caller. Credential, lockout and disabled failures share
// one message so responses never reveal which check failed.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccountDisabled):
		return "Invalid email or password."
	case errors.Is(err, ErrRateLimited):
		return "Too many attempts. Try again later."
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return "Invalid verification code."
	case errors.Is(err, ErrTokenInvalidOrExpired),
		errors.Is(err, ErrTokenAlreadyUsed),
		errors.Is(err, ErrUnknownTokenPrefix):
		return "Invalid or expired token."
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrPending2FA):
		return "Your session has expired. Sign in again."
	case errors.Is(err, ErrCSRFMismatch):
		return "Request could not be verified."
	case errors.Is(err, ErrPasswordPolicy):
		return "Password does not meet the requirements."
	case errors.Is(err, ErrPasswordReuse):
		return "Choose a password you have not used."
	case errors.Is(err, ErrDeliveryFailed):
		return "The code could not be sent. Try again later."
	default:
		return "Something went wrong. Try again later."
	}
}
