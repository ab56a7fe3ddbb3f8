package panelauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal"
	"github.com/MrEthical07/panelauth/storage"
)

const (
	recoveryTokenGroups   = 4
	recoveryTokenGroupLen = 5

	// RecoveryChannelDisplay returns the token to the caller instead of
	// sending it.
	RecoveryChannelDisplay = "display"
)

// RecoveryService issues the master account's out-of-band recovery token.
// At most one is live; issuing revokes the previous one.
type RecoveryService struct {
	engine *Engine
}

// GenerateToken issues a recovery token for the master userID. With
// RecoveryChannelDisplay or an empty channel the token is returned;
// otherwise it is sent over channel and the returned string is empty.
func (r *RecoveryService) GenerateToken(ctx context.Context, userID, channel string) (string, error) {
	e := r.engine
	if channel == "" {
		channel = RecoveryChannelDisplay
	}
	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrUserNotFound
		}
		return "", storeErr(err)
	}
	if !user.Master {
		e.recordCriticalOnFailure(ctx, auditEventRecoveryTokenIssued, user.ID, ErrNotMaster, nil)
		return "", ErrNotMaster
	}
	if !user.Active {
		return "", ErrAccountDisabled
	}

	var address string
	if channel != RecoveryChannelDisplay {
		if address, err = deliveryAddress(user, TwoFactorMethod(channel)); err != nil {
			return "", err
		}
	}

	raw, err := internal.NewGroupedCode(recoveryTokenGroups, recoveryTokenGroupLen)
	if err != nil {
		return "", err
	}
	h, err := e.hasher.Hash(internal.NormalizeGroupedCode(raw))
	if err != nil {
		return "", err
	}
	now := e.now()
	rec := storage.OneTimeToken{
		Kind:      storage.TokenRecovery,
		UserID:    user.ID,
		Hash:      h,
		Channel:   channel,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.Tokens.RecoveryTTL),
	}
	if channel == RecoveryChannelDisplay {
		rec.DeliveredAt = now
	}
	if err := e.tokens.ReplaceActiveToken(ctx, rec); err != nil {
		return "", storeErr(err)
	}

	if channel != RecoveryChannelDisplay {
		if err := r.deliver(ctx, user, channel, address, raw); err != nil {
			_, _ = e.tokens.RevokeActiveTokens(ctx, storage.TokenRecovery, user.ID, e.now())
			return "", err
		}
	}

	e.metricInc(MetricTokenIssued)
	if err := e.recordCritical(ctx, auditEventRecoveryTokenIssued, true, user.ID, nil, func() map[string]string {
		return map[string]string{"channel": channel}
	}); err != nil {
		_, _ = e.tokens.RevokeActiveTokens(ctx, storage.TokenRecovery, user.ID, e.now())
		return "", err
	}

	if channel == RecoveryChannelDisplay {
		return raw, nil
	}
	return "", nil
}

func (r *RecoveryService) deliver(ctx context.Context, user AdminUser, channel, address, raw string) error {
	e := r.engine
	sendCtx, cancel := context.WithTimeout(ctx, e.config.Delivery.Timeout)
	defer cancel()

	body := fmt.Sprintf("Master account recovery token: %s\nIt expires in %s and works once.", raw, e.config.Tokens.RecoveryTTL)
	if err := e.notifier.Send(sendCtx, channel, address, "Account recovery", body); err != nil {
		log.WithError(err).WithFields(log.Fields{"user_id": user.ID, "channel": channel}).Warn("recovery token delivery failed")
		return ErrDeliveryFailed
	}

	live, err := e.tokens.ListActiveTokens(ctx, storage.TokenRecovery, user.ID, e.now(), 1)
	if err == nil && len(live) == 1 {
		if err := e.tokens.MarkTokenDelivered(ctx, live[0].ID, e.now()); err != nil {
			log.WithError(err).Debug("recovery token delivery not recorded")
		}
	}
	return nil
}

// VerifyAndUseToken consumes a recovery token and signs its master in,
// bypassing the second factor. The owner must still be the active master.
func (r *RecoveryService) VerifyAndUseToken(ctx context.Context, token string) (*Session, error) {
	e := r.engine
	if err := e.limiter.HitToken(ctx, clientIPFromContext(ctx)); err != nil {
		return nil, throttleErr(err)
	}

	normalized := internal.NormalizeGroupedCode(token)
	if len(normalized) != recoveryTokenGroups*recoveryTokenGroupLen {
		e.metricInc(MetricTokenRejected)
		return nil, ErrTokenInvalidOrExpired
	}

	now := e.now()
	candidates, err := e.tokens.ListActiveTokens(ctx, storage.TokenRecovery, "", now, e.config.Tokens.MaxRecoveryCandidates)
	if err != nil {
		return nil, storeErr(err)
	}
	match, ok := e.matchToken(candidates, normalized)
	if !ok {
		e.metricInc(MetricTokenRejected)
		e.recordCriticalOnFailure(ctx, auditEventRecoveryTokenFailed, "", ErrTokenInvalidOrExpired, nil)
		return nil, ErrTokenInvalidOrExpired
	}

	user, err := e.users.GetUserByID(ctx, match.UserID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, storeErr(err)
	}
	if err != nil || !user.Master || !user.Active {
		_, _ = e.tokens.RevokeActiveTokens(ctx, storage.TokenRecovery, match.UserID, now)
		e.metricInc(MetricTokenRejected)
		e.recordCriticalOnFailure(ctx, auditEventRecoveryTokenFailed, match.UserID, ErrNotMaster, nil)
		return nil, ErrTokenInvalidOrExpired
	}

	consumed, err := e.tokens.MarkTokenUsed(ctx, match.ID, now, clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		return nil, storeErr(err)
	}
	if !consumed {
		e.metricInc(MetricTokenRejected)
		e.recordCriticalOnFailure(ctx, auditEventRecoveryTokenFailed, user.ID, ErrTokenAlreadyUsed, nil)
		return nil, ErrTokenAlreadyUsed
	}

	sess, err := e.completeLogin(ctx, user, "")
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricRecoveryTokenUsed)
	if err := e.recordCritical(ctx, auditEventRecoveryTokenUsed, true, user.ID, nil, func() map[string]string {
		return map[string]string{"token_id": match.ID}
	}); err != nil {
		_ = e.sessions.Destroy(ctx, sess.ID)
		return nil, err
	}
	return sess, nil
}

// RevokeActiveTokens revokes every live recovery token of userID.
func (r *RecoveryService) RevokeActiveTokens(ctx context.Context, userID string) (int, error) {
	e := r.engine
	n, err := e.tokens.RevokeActiveTokens(ctx, storage.TokenRecovery, userID, e.now())
	if err != nil {
		return 0, storeErr(err)
	}
	if n > 0 {
		e.emitAudit(ctx, auditEventRecoveryTokensRevoked, true, userID, nil, func() map[string]string {
			return map[string]string{"revoked": fmt.Sprint(n)}
		})
	}
	return n, nil
}

// CleanupExpired deletes recovery tokens that expired before now.
func (r *RecoveryService) CleanupExpired(ctx context.Context) (int, error) {
	e := r.engine
	n, err := e.tokens.DeleteExpiredTokens(ctx, storage.TokenRecovery, e.now())
	return n, storeErr(err)
}

// Cleanup removes expired sessions, codes and tokens. It is safe to run
// concurrently with request traffic.
func (e *Engine) Cleanup(ctx context.Context) (CleanupReport, error) {
	if e == nil {
		return CleanupReport{}, ErrEngineNotReady
	}
	start := time.Now()
	now := e.now()

	var report CleanupReport
	var errs []error
	var err error

	if report.Sessions, err = e.sessions.Purge(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sessions: %w", err))
	}
	if report.Codes, err = e.codes.DeleteExpiredCodes(ctx, now); err != nil {
		errs = append(errs, fmt.Errorf("codes: %w", err))
	}
	if report.ResetTokens, err = e.tokens.DeleteExpiredTokens(ctx, storage.TokenPasswordReset, now); err != nil {
		errs = append(errs, fmt.Errorf("reset tokens: %w", err))
	}
	if report.RecoveryTokens, err = e.recovery.CleanupExpired(ctx); err != nil {
		errs = append(errs, fmt.Errorf("recovery tokens: %w", err))
	}
	if report.EmergencyTokens, err = e.tokens.DeleteExpiredTokens(ctx, storage.TokenEmergency, now); err != nil {
		errs = append(errs, fmt.Errorf("emergency tokens: %w", err))
	}

	report.Duration = time.Since(start)
	if len(errs) > 0 {
		return report, storeErr(errors.Join(errs...))
	}
	return report, nil
}
