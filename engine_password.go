package panelauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal"
	"github.com/MrEthical07/panelauth/notify"
	"github.com/MrEthical07/panelauth/storage"
)

const resetTokenBytes = 32

// RequestPasswordReset emails a single-use reset token to email. It
// returns nil for unknown and disabled accounts so callers cannot probe
// for registered addresses.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.limiter.HitToken(ctx, clientIPFromContext(ctx)); err != nil {
		return throttleErr(err)
	}

	e.metricInc(MetricPasswordResetRequest)
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.emitAudit(ctx, auditEventPasswordResetRequest, false, "", ErrUserNotFound, nil)
			return nil
		}
		return storeErr(err)
	}
	if !user.Active {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.ID, ErrAccountDisabled, nil)
		return nil
	}

	raw, err := e.issueResetToken(ctx, user)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, e.config.Delivery.Timeout)
	defer cancel()
	if err := e.notifier.Send(sendCtx, notify.ChannelEmail, user.Email, "Password reset", resetBody(e.config.PasswordReset, raw)); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("password reset delivery failed")
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, user.ID, ErrDeliveryFailed, nil)
		return nil
	}

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, user.ID, nil, nil)
	return nil
}

func (e *Engine) issueResetToken(ctx context.Context, user AdminUser) (string, error) {
	raw, err := internal.NewToken(resetTokenBytes)
	if err != nil {
		return "", err
	}
	h, err := e.hasher.Hash(raw)
	if err != nil {
		return "", err
	}
	now := e.now()
	if err := e.tokens.ReplaceActiveToken(ctx, storage.OneTimeToken{
		Kind:      storage.TokenPasswordReset,
		UserID:    user.ID,
		Hash:      h,
		Channel:   notify.ChannelEmail,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.PasswordReset.TTL),
	}); err != nil {
		return "", storeErr(err)
	}
	return raw, nil
}

func resetBody(cfg PasswordResetConfig, raw string) string {
	if cfg.LinkBase == "" {
		return fmt.Sprintf("Use this token to reset your password: %s\nIt expires in %s.", raw, cfg.TTL)
	}
	link := strings.TrimRight(cfg.LinkBase, "/") + "/" + raw
	return fmt.Sprintf("Reset your password: %s\nThe link expires in %s.", link, cfg.TTL)
}

// ResetPassword sets a new password using a reset token. Only the user's
// newest live tokens are scanned. Every session of the user is destroyed.
func (e *Engine) ResetPassword(ctx context.Context, email, token, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if err := e.limiter.HitToken(ctx, clientIPFromContext(ctx)); err != nil {
		return throttleErr(err)
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.hasher.Burn(token)
			e.metricInc(MetricPasswordResetFailure)
			return ErrTokenInvalidOrExpired
		}
		return storeErr(err)
	}

	now := e.now()
	candidates, err := e.tokens.ListActiveTokens(ctx, storage.TokenPasswordReset, user.ID, now, e.config.PasswordReset.MaxCandidates)
	if err != nil {
		return storeErr(err)
	}
	match, ok := e.matchToken(candidates, token)
	if !ok {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetConfirm, false, user.ID, ErrTokenInvalidOrExpired, nil)
		return ErrTokenInvalidOrExpired
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		return err
	}

	consumed, err := e.tokens.MarkTokenUsed(ctx, match.ID, now, clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		return storeErr(err)
	}
	if !consumed {
		e.metricInc(MetricPasswordResetFailure)
		return ErrTokenAlreadyUsed
	}

	h, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, h); err != nil {
		return storeErr(err)
	}
	destroyed, err := e.sessions.DestroyAllExcept(ctx, user.ID, "")
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("sessions not destroyed after password reset")
	}

	e.metricInc(MetricPasswordResetSuccess)
	return e.recordCritical(ctx, auditEventPasswordResetConfirm, true, user.ID, nil, func() map[string]string {
		return map[string]string{"sessions_destroyed": fmt.Sprint(destroyed)}
	})
}

// ChangePassword replaces the password of the session's user and signs
// out every other session.
func (e *Engine) ChangePassword(ctx context.Context, sessionID, currentPassword, newPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sess, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := e.reauthenticate(ctx, user, currentPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, user.ID, err, nil)
		return err
	}
	if err := e.checkPasswordPolicy(newPassword); err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		return err
	}
	if newPassword == currentPassword {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChange, false, user.ID, ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}

	h, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, h); err != nil {
		return storeErr(err)
	}
	if _, err := e.sessions.DestroyAllExcept(ctx, user.ID, sess.ID); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("sessions not destroyed after password change")
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, user.ID, nil, nil)
	return nil
}

// matchToken returns the first candidate whose hash verifies raw.
func (e *Engine) matchToken(candidates []storage.OneTimeToken, raw string) (storage.OneTimeToken, bool) {
	if raw == "" {
		return storage.OneTimeToken{}, false
	}
	for _, c := range candidates {
		if ok, _ := e.hasher.Verify(raw, c.Hash); ok {
			return c, true
		}
	}
	return storage.OneTimeToken{}, false
}
