package panelauth

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

const (
	auditEventLoginSuccess          = "login_success"
	auditEventLoginFailure          = "login_failure"
	auditEventLoginRateLimited      = "login_rate_limited"
	auditEventAccountLocked         = "account_locked"
	auditEventLogoutSession         = "logout_session"
	auditEventLogoutAll             = "logout_all"
	auditEventMFARequired           = "mfa_required"
	auditEventMFASuccess            = "mfa_success"
	auditEventMFAFailure            = "mfa_failure"
	auditEventTOTPReplay            = "totp_replay"
	auditEventTOTPEnrollStarted     = "totp_enroll_started"
	auditEventTwoFactorEnabled      = "two_factor_enabled"
	auditEventTwoFactorDisabled     = "two_factor_disabled"
	auditEventTwoFactorSecretError  = "two_factor_secret_rejected"
	auditEventLegacySecretUsed      = "two_factor_legacy_secret"
	auditEventRecoveryCodesIssued   = "recovery_codes_generated"
	auditEventRecoveryCodeUsed      = "recovery_code_used"
	auditEventRecoveryCodeFailed    = "recovery_code_failed"
	auditEventRecoveryCodesLocked   = "recovery_codes_locked"
	auditEventOTPSent               = "otp_sent"
	auditEventOTPDeliveryFailed     = "otp_delivery_failed"
	auditEventPasswordChange        = "password_change"
	auditEventPasswordResetRequest  = "password_reset_request"
	auditEventPasswordResetConfirm  = "password_reset_confirm"
	auditEventMasterTokenIssued     = "master_token_issued"
	auditEventMasterTokenDenied     = "master_token_denied"
	auditEventSubTokenIssued        = "sub_token_issued"
	auditEventSubTokenRevoked       = "sub_token_revoked"
	auditEventEmergencyTokenIssued  = "emergency_token_issued"
	auditEventEmergencyTokenUsed    = "emergency_token_used"
	auditEventEmergencyTokenFailed  = "emergency_token_failed"
	auditEventRecoveryTokenIssued   = "recovery_token_issued"
	auditEventRecoveryTokenUsed     = "recovery_token_used"
	auditEventRecoveryTokenFailed   = "recovery_token_failed"
	auditEventRecoveryTokensRevoked = "recovery_tokens_revoked"
	auditEventTokenRejected         = "token_rejected"
	auditEventGrantIssued           = "cli_grant_issued"
	auditEventAdminCreated          = "admin_created"
	auditEventAdminStatusChange     = "admin_status_change"
	auditEventBasePathRotated       = "admin_base_path_rotated"
)

// AuditErrorCode is the stable error label written to audit entries.
type AuditErrorCode string

const (
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrAccountDisabled    AuditErrorCode = "account_disabled"
	auditErrUserNotFound       AuditErrorCode = "user_not_found"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrTokenReplay        AuditErrorCode = "token_replay"
	auditErrUnknownPrefix      AuditErrorCode = "unknown_prefix"
	auditErrMasterExists       AuditErrorCode = "master_exists"
	auditErrNotMaster          AuditErrorCode = "not_master"
	auditErrForbiddenTarget    AuditErrorCode = "forbidden_target"
	auditErrSessionNotFound    AuditErrorCode = "session_not_found"
	auditErrMFAInvalid         AuditErrorCode = "mfa_invalid"
	auditErrPasswordPolicy     AuditErrorCode = "password_policy"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrEncryption         AuditErrorCode = "encryption_failure"
	auditErrDelivery           AuditErrorCode = "delivery_failed"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

func (e *Engine) newAuditEntry(
	ctx context.Context,
	action string,
	success bool,
	critical bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) AuditEntry {
	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	entry := AuditEntry{
		Timestamp: e.now().UTC(),
		Action:    action,
		UserID:    userID,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Critical:  critical,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		entry.Error = string(code)
	}
	return entry
}

// emitAudit queues a routine entry on the asynchronous dispatcher.
func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.dispatcher == nil {
		return
	}
	e.dispatcher.Emit(ctx, e.newAuditEntry(ctx, action, success, false, userID, err, metadataBuilder))
}

// recordCritical writes a security-critical entry synchronously. The
// caller must not report success when it returns an error.
func (e *Engine) recordCritical(
	ctx context.Context,
	action string,
	success bool,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) error {
	entry := e.newAuditEntry(ctx, action, success, true, userID, err, metadataBuilder)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.config.Audit.CriticalTimeout)
	defer cancel()

	if _, logErr := e.auditSink.Log(writeCtx, entry); logErr != nil {
		e.metricInc(MetricAuditCriticalFailure)
		log.WithError(logErr).WithFields(log.Fields{
			"action":  action,
			"user_id": userID,
		}).Error("critical audit entry not persisted")
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, logErr)
	}
	return nil
}

// recordCriticalOnFailure is recordCritical for paths that already fail;
// the audit error is logged and the original failure wins.
func (e *Engine) recordCriticalOnFailure(
	ctx context.Context,
	action string,
	userID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	_ = e.recordCritical(ctx, action, false, userID, err, metadataBuilder)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrAccountDisabled
	case errors.Is(err, ErrUserNotFound):
		return auditErrUserNotFound
	case errors.Is(err, ErrTokenInvalidOrExpired):
		return auditErrInvalidToken
	case errors.Is(err, ErrTokenAlreadyUsed):
		return auditErrTokenReplay
	case errors.Is(err, ErrUnknownTokenPrefix):
		return auditErrUnknownPrefix
	case errors.Is(err, ErrMasterExists):
		return auditErrMasterExists
	case errors.Is(err, ErrNotMaster):
		return auditErrNotMaster
	case errors.Is(err, ErrForbiddenTarget):
		return auditErrForbiddenTarget
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrPending2FA):
		return auditErrSessionNotFound
	case errors.Is(err, ErrInvalidTwoFactorCode):
		return auditErrMFAInvalid
	case errors.Is(err, ErrPasswordPolicy):
		return auditErrPasswordPolicy
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrEncryptionFailure):
		return auditErrEncryption
	case errors.Is(err, ErrDeliveryFailed):
		return auditErrDelivery
	case errors.Is(err, ErrStoreUnavailable), errors.Is(err, ErrAuditUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
