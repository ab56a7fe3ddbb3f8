package panelauth

import "github.com/MrEthical07/panelauth/internal/security"

// SecurityReport is a read-only snapshot of the configured security
// posture, with warnings for weakened settings.
type SecurityReport = security.Report

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}
	var channels []string
	if c, ok := e.notifier.(interface{ Channels() []string }); ok {
		channels = c.Channels()
	}
	cfg := e.config
	return security.BuildReport(security.ReportInput{
		SessionLifetime: cfg.Session.Lifetime,
		PendingLifetime: cfg.Session.PendingLifetime,
		ExtendBy:        cfg.Session.ExtendBy,
		MaxExtensions:   cfg.Session.MaxExtensions,
		Password: security.PasswordReport{
			Memory:      cfg.Password.Memory,
			Time:        cfg.Password.Time,
			Parallelism: cfg.Password.Parallelism,
			SaltLength:  cfg.Password.SaltLength,
			KeyLength:   cfg.Password.KeyLength,
			MinLength:   cfg.Password.MinLength,
		},
		LockoutThreshold:   cfg.Lockout.Threshold,
		MaxLockout:         cfg.Lockout.MaxDuration,
		ThrottleConfigured: e.limiter != nil,
		ThrottleFailOpen:   cfg.Throttle.FailOpen,
		DeliveryChannels:   channels,
		RecoveryCodeCount:  cfg.TwoFactor.RecoveryCodeCount,
		AllowLegacySecrets: cfg.TwoFactor.AllowLegacySecrets,
		AuditEnabled:       cfg.Audit.Enabled,
		AuditDropIfFull:    cfg.Audit.DropIfFull,
		GrantTTL:           cfg.Grant.TTL,
		EmergencyMaxTTL:    cfg.Tokens.EmergencyMaxTTL,
	})
}
