package security

import (
	"fmt"
	"time"
)

type PasswordReport struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

type Report struct {
	SessionLifetime      time.Duration
	MaxSessionLifetime   time.Duration
	PendingLifetime      time.Duration
	Argon2               PasswordReport
	LockoutActive        bool
	LockoutThreshold     int
	MaxLockout           time.Duration
	RateLimitingActive   bool
	ThrottleFailOpen     bool
	DeliveryChannels     []string
	RecoveryCodesEnabled bool
	LegacySecretsAllowed bool
	AuditActive          bool
	AuditMayDrop         bool
	GrantTTL             time.Duration
	EmergencyMaxTTL      time.Duration
	Warnings             []string
}

type ReportInput struct {
	SessionLifetime    time.Duration
	PendingLifetime    time.Duration
	ExtendBy           time.Duration
	MaxExtensions      int
	Password           PasswordReport
	LockoutThreshold   int
	MaxLockout         time.Duration
	ThrottleConfigured bool
	ThrottleFailOpen   bool
	DeliveryChannels   []string
	RecoveryCodeCount  int
	AllowLegacySecrets bool
	AuditEnabled       bool
	AuditDropIfFull    bool
	GrantTTL           time.Duration
	EmergencyMaxTTL    time.Duration
}

func BuildReport(input ReportInput) Report {
	r := Report{
		SessionLifetime:      input.SessionLifetime,
		MaxSessionLifetime:   input.SessionLifetime + time.Duration(input.MaxExtensions)*input.ExtendBy,
		PendingLifetime:      input.PendingLifetime,
		Argon2:               input.Password,
		LockoutActive:        input.LockoutThreshold > 0,
		LockoutThreshold:     input.LockoutThreshold,
		MaxLockout:           input.MaxLockout,
		RateLimitingActive:   input.ThrottleConfigured,
		ThrottleFailOpen:     input.ThrottleConfigured && input.ThrottleFailOpen,
		DeliveryChannels:     append([]string(nil), input.DeliveryChannels...),
		RecoveryCodesEnabled: input.RecoveryCodeCount > 0,
		LegacySecretsAllowed: input.AllowLegacySecrets,
		AuditActive:          input.AuditEnabled,
		AuditMayDrop:         input.AuditEnabled && input.AuditDropIfFull,
		GrantTTL:             input.GrantTTL,
		EmergencyMaxTTL:      input.EmergencyMaxTTL,
	}

	warn := func(format string, args ...any) {
		r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
	}
	if !r.RateLimitingActive {
		warn("per-IP throttling is off; configure Redis")
	} else if r.ThrottleFailOpen {
		warn("throttling fails open when Redis is unreachable")
	}
	if !r.LockoutActive {
		warn("account lockout is disabled")
	}
	if len(r.DeliveryChannels) == 0 {
		warn("no delivery channel; reset links and delivered codes cannot be sent")
	}
	if !r.RecoveryCodesEnabled {
		warn("two-factor recovery codes are disabled")
	}
	if r.LegacySecretsAllowed {
		warn("unencrypted legacy TOTP secrets are accepted")
	}
	if !r.AuditActive {
		warn("non-critical audit logging is disabled")
	}
	if r.MaxSessionLifetime > 24*time.Hour {
		warn("sessions can be extended to %s", r.MaxSessionLifetime)
	}
	return r
}
