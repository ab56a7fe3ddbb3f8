// Package storage defines the records the auth core persists and the
// repository contracts its backends implement.
//
// Every method that guards a security invariant (failed-attempt counters,
// one-time token consumption, master promotion, TOTP step replay) must be
// implemented as a single atomic statement in the backend. Callers never
// read-modify-write these fields.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("storage: conflict")
)

// AdminUser is an admin account. Users are deactivated, never deleted.
type AdminUser struct {
	ID           string
	Email        string
	PasswordHash string
	Active       bool
	Master       bool

	FailedAttempts int
	LockedUntil    time.Time

	TwoFactor TwoFactorState

	// TOTPLastCounter is the last accepted TOTP step, used to reject
	// replays inside the skew window.
	TOTPLastCounter int64

	RecoveryFailures    int
	RecoveryLockedUntil time.Time

	MasterTokenHash       string
	MasterTokenGeneration int
	MasterTokenIssuedAt   time.Time
	SubTokenHash          string
	SubTokenGeneration    int
	SubTokenIssuedAt      time.Time

	TelegramChatID string

	LastLoginAt time.Time
	LastLoginIP string
	CreatedAt   time.Time
}

// TwoFactorState is the enrolled second factor of a user. Secret holds
// ciphertext for TOTP; older rows may still hold a plaintext Base32 secret.
type TwoFactorState struct {
	Enabled            bool
	Method             string
	Secret             string
	RecoveryCodeHashes []string
}

// UserRepository persists AdminUser rows.
type UserRepository interface {
	GetUserByEmail(ctx context.Context, email string) (AdminUser, error)
	GetUserByID(ctx context.Context, id string) (AdminUser, error)
	CreateUser(ctx context.Context, u AdminUser) error

	// IncrementFailedAttempts adds one and returns the new count.
	IncrementFailedAttempts(ctx context.Context, id string) (int, error)
	// LockUser never shortens an existing lock.
	LockUser(ctx context.Context, id string, until time.Time) error
	// RecordLogin clears failed attempts and lock, and stores login metadata.
	RecordLogin(ctx context.Context, id string, at time.Time, ip string) error

	UpdatePasswordHash(ctx context.Context, id, hash string) error
	SetActive(ctx context.Context, id string, active bool) error
	SetTelegramChatID(ctx context.Context, id, chatID string) error

	SetTwoFactor(ctx context.Context, id string, state TwoFactorState) error
	ReplaceRecoveryCodes(ctx context.Context, id string, hashes []string) error
	// ConsumeRecoveryCode removes hash from the user's codes and reports
	// whether it was present.
	ConsumeRecoveryCode(ctx context.Context, id, hash string) (bool, error)
	// AdvanceTOTPCounter stores counter only if it is greater than the
	// stored one and reports whether it did.
	AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error)

	IncrementRecoveryFailures(ctx context.Context, id string) (int, error)
	LockRecovery(ctx context.Context, id string, until time.Time) error
	ResetRecoveryFailures(ctx context.Context, id string) error

	FindMaster(ctx context.Context) (AdminUser, error)
	// PromoteToMaster makes id the master with tokenHash only if no master
	// exists, and reports whether it did.
	PromoteToMaster(ctx context.Context, id, tokenHash string, at time.Time) (bool, error)
	// SetMaster changes the master flag without touching tokens.
	SetMaster(ctx context.Context, id string, master bool) error
	// SetMasterTokenHash overwrites the hash and bumps its generation.
	SetMasterTokenHash(ctx context.Context, id, hash string, at time.Time) error
	// SetSubTokenHash overwrites the hash and bumps its generation. An
	// empty hash revokes.
	SetSubTokenHash(ctx context.Context, id, hash string, at time.Time) error
	ListUsersWithSubTokens(ctx context.Context) ([]AdminUser, error)
}

// TokenKind separates the one-time token lineages sharing a table.
type TokenKind string

const (
	TokenEmergency     TokenKind = "emergency"
	TokenRecovery      TokenKind = "recovery"
	TokenPasswordReset TokenKind = "password_reset"
)

// OneTimeToken is a hashed single-use secret.
type OneTimeToken struct {
	ID          string
	Kind        TokenKind
	UserID      string
	Hash        string
	Label       string
	Channel     string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	DeliveredAt time.Time
	UsedAt      time.Time
	RevokedAt   time.Time
	UsedIP      string
	UsedAgent   string
}

// Active reports whether t is unused, unrevoked and unexpired at now.
func (t OneTimeToken) Active(now time.Time) bool {
	return t.UsedAt.IsZero() && t.RevokedAt.IsZero() && now.Before(t.ExpiresAt)
}

// TokenRepository persists OneTimeToken rows.
type TokenRepository interface {
	InsertToken(ctx context.Context, t OneTimeToken) error
	// ListActiveTokens returns active tokens of kind, newest first. An empty
	// userID lists all users; limit <= 0 means no limit.
	ListActiveTokens(ctx context.Context, kind TokenKind, userID string, now time.Time, limit int) ([]OneTimeToken, error)
	// MarkTokenUsed consumes an active token and reports whether this call
	// consumed it.
	MarkTokenUsed(ctx context.Context, id string, at time.Time, ip, userAgent string) (bool, error)
	MarkTokenDelivered(ctx context.Context, id string, at time.Time) error
	RevokeActiveTokens(ctx context.Context, kind TokenKind, userID string, at time.Time) (int, error)
	// ReplaceActiveToken revokes every active token of (t.Kind, t.UserID) at
	// t.CreatedAt and inserts t, as one atomic step.
	ReplaceActiveToken(ctx context.Context, t OneTimeToken) error
	DeleteExpiredTokens(ctx context.Context, kind TokenKind, before time.Time) (int, error)
}

// DeliveredCode is a numeric code pushed to a user over a channel. Only
// the SHA-256 of the code is stored.
type DeliveredCode struct {
	ID        string
	UserID    string
	Channel   string
	CodeHash  string
	CreatedAt time.Time
	ExpiresAt time.Time
	UsedAt    time.Time
}

// OTPRepository persists DeliveredCode rows.
type OTPRepository interface {
	// ReplaceCode marks every unused code for (c.UserID, c.Channel) used at
	// c.CreatedAt and inserts c, as one atomic step.
	ReplaceCode(ctx context.Context, c DeliveredCode) error
	ActiveCodes(ctx context.Context, userID, channel string, now time.Time) ([]DeliveredCode, error)
	// MarkCodeUsed consumes an unused code and reports whether this call did.
	MarkCodeUsed(ctx context.Context, id string, at time.Time) (bool, error)
	// DeleteStaleCodes removes used or expired codes of userID.
	DeleteStaleCodes(ctx context.Context, userID string, now time.Time) (int, error)
	DeleteExpiredCodes(ctx context.Context, before time.Time) (int, error)
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	UserID    string            `json:"user_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Critical  bool              `json:"critical,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// AuditRepository appends audit entries and returns the stored id.
type AuditRepository interface {
	Log(ctx context.Context, e AuditEntry) (string, error)
}
