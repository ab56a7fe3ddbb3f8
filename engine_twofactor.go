package panelauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal"
	"github.com/MrEthical07/panelauth/secrets"
	"github.com/MrEthical07/panelauth/storage"
	"github.com/MrEthical07/panelauth/totp"
)

const (
	recoveryCodeGroups   = 2
	recoveryCodeGroupLen = 5
)

// Verify2FA completes a login started by Login. code is checked against
// the enrolled method first and then, when it has the shape of a recovery
// code, against the user's unused recovery codes. On success the pending
// session is replaced by a full one.
func (e *Engine) Verify2FA(ctx context.Context, pendingID, code string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	pending, err := e.sessions.ValidatePending(ctx, pendingID)
	if err != nil {
		return nil, sessionErr(err)
	}

	user, err := e.users.GetUserByID(ctx, pending.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = e.sessions.Destroy(ctx, pending.ID)
			return nil, ErrSessionNotFound
		}
		return nil, storeErr(err)
	}
	if !user.Active {
		_ = e.sessions.Destroy(ctx, pending.ID)
		return nil, ErrAccountDisabled
	}
	if user.LockedUntil.After(e.now()) {
		_ = e.sessions.Destroy(ctx, pending.ID)
		return nil, ErrAccountLocked
	}
	if !user.TwoFactor.Enabled {
		_ = e.sessions.Destroy(ctx, pending.ID)
		return nil, ErrTwoFactorNotEnrolled
	}

	method := TwoFactorMethod(user.TwoFactor.Method)
	var ok bool
	switch {
	case method == MethodTOTP || method == "":
		ok, err = e.verifyTOTP(ctx, user, code)
	case method.Delivered():
		ok, err = e.otp.VerifyCode(ctx, user.ID, code, string(method))
	default:
		err = fmt.Errorf("%w: %q", ErrUnsupportedChannel, method)
	}
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		return nil, err
	}

	usedRecovery, triedRecovery := false, false
	if !ok && looksLikeRecoveryCode(code) {
		triedRecovery = true
		ok, err = e.useRecoveryCode(ctx, user, code)
		if err != nil {
			e.metricInc(MetricTwoFactorFailure)
			return nil, err
		}
		usedRecovery = ok
	}

	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		// Recovery-code misses have their own budget in useRecoveryCode.
		if !triedRecovery {
			if failErr := e.registerFailure(ctx, user, "second_factor"); errors.Is(failErr, ErrStoreUnavailable) {
				return nil, failErr
			}
		}
		e.emitAudit(ctx, auditEventMFAFailure, false, user.ID, ErrInvalidTwoFactorCode, func() map[string]string {
			return map[string]string{"method": string(method)}
		})
		return nil, ErrInvalidTwoFactorCode
	}

	sess, err := e.completeLogin(ctx, user, pending.ID)
	if err != nil {
		return nil, err
	}
	e.metricInc(MetricTwoFactorSuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{
			"method":        string(method),
			"recovery_code": fmt.Sprint(usedRecovery),
		}
	})
	return sess, nil
}

// verifyTOTP accepts a code for the previous, current or next step and
// advances the stored step so the same code cannot be replayed.
func (e *Engine) verifyTOTP(ctx context.Context, user AdminUser, code string) (bool, error) {
	secret, err := e.totpSecret(ctx, user)
	if err != nil {
		return false, err
	}

	counter, ok := totp.Match(secret, code, e.now())
	if !ok {
		return false, nil
	}
	advanced, err := e.users.AdvanceTOTPCounter(ctx, user.ID, counter)
	if err != nil {
		return false, storeErr(err)
	}
	if !advanced {
		e.metricInc(MetricTOTPReplay)
		e.emitAudit(ctx, auditEventTOTPReplay, false, user.ID, ErrInvalidTwoFactorCode, nil)
		return false, nil
	}
	return true, nil
}

// totpSecret opens the stored TOTP secret. A value that decrypts is used
// as is. A value that does not look like ciphertext but is a valid Base32
// secret is a row from before encryption and is accepted, and re-sealed,
// when configured. Anything else fails closed.
func (e *Engine) totpSecret(ctx context.Context, user AdminUser) (string, error) {
	stored := user.TwoFactor.Secret
	if stored == "" {
		return "", ErrTwoFactorNotEnrolled
	}

	plain, err := e.cipher.DecryptString(stored)
	if err == nil && totp.ValidSecret(plain) {
		return plain, nil
	}

	if !secrets.LooksLikeCiphertext(stored) && totp.ValidSecret(stored) && e.config.TwoFactor.AllowLegacySecrets {
		log.WithField("user_id", user.ID).Warn("two-factor secret stored without encryption")
		e.emitAudit(ctx, auditEventLegacySecretUsed, true, user.ID, nil, nil)
		if e.config.TwoFactor.MigrateLegacySecrets {
			e.resealSecret(ctx, user, stored)
		}
		return stored, nil
	}

	e.metricInc(MetricSecretDecryptFailure)
	log.WithField("user_id", user.ID).Error("two-factor secret could not be opened")
	e.recordCriticalOnFailure(ctx, auditEventTwoFactorSecretError, user.ID, ErrEncryptionFailure, nil)
	return "", ErrEncryptionFailure
}

func (e *Engine) resealSecret(ctx context.Context, user AdminUser, plain string) {
	sealed, err := e.cipher.EncryptString(plain)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("legacy two-factor secret not re-encrypted")
		return
	}
	state := user.TwoFactor
	state.Secret = sealed
	if err := e.users.SetTwoFactor(ctx, user.ID, state); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("legacy two-factor secret not re-encrypted")
	}
}

// useRecoveryCode consumes a matching recovery code. Misses are counted
// separately from login failures and lock recovery codes once the budget
// is spent.
func (e *Engine) useRecoveryCode(ctx context.Context, user AdminUser, code string) (bool, error) {
	now := e.now()
	if user.RecoveryLockedUntil.After(now) {
		return false, ErrRateLimited
	}

	normalized := internal.NormalizeGroupedCode(code)
	matched := ""
	for _, h := range user.TwoFactor.RecoveryCodeHashes {
		if ok, _ := e.hasher.Verify(normalized, h); ok {
			matched = h
			break
		}
	}

	if matched == "" {
		e.metricInc(MetricRecoveryCodeFailed)
		n, err := e.users.IncrementRecoveryFailures(ctx, user.ID)
		if err != nil {
			return false, storeErr(err)
		}
		if n >= e.config.TwoFactor.RecoveryMaxAttempts {
			until := now.Add(e.config.TwoFactor.RecoveryLockout)
			if err := e.users.LockRecovery(ctx, user.ID, until); err != nil {
				return false, storeErr(err)
			}
			e.metricInc(MetricRecoveryCodeLocked)
			e.recordCriticalOnFailure(ctx, auditEventRecoveryCodesLocked, user.ID, ErrRateLimited, func() map[string]string {
				return map[string]string{"locked_until": until.UTC().Format(time.RFC3339)}
			})
		}
		e.emitAudit(ctx, auditEventRecoveryCodeFailed, false, user.ID, ErrInvalidTwoFactorCode, nil)
		return false, nil
	}

	consumed, err := e.users.ConsumeRecoveryCode(ctx, user.ID, matched)
	if err != nil {
		return false, storeErr(err)
	}
	if !consumed {
		return false, nil
	}
	if err := e.users.ResetRecoveryFailures(ctx, user.ID); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("recovery failure counter not reset")
	}

	remaining := len(user.TwoFactor.RecoveryCodeHashes) - 1
	e.metricInc(MetricRecoveryCodeUsed)
	if err := e.recordCritical(ctx, auditEventRecoveryCodeUsed, true, user.ID, nil, func() map[string]string {
		return map[string]string{"remaining": fmt.Sprint(remaining)}
	}); err != nil {
		return false, err
	}
	return true, nil
}

func looksLikeRecoveryCode(code string) bool {
	return len(internal.NormalizeGroupedCode(code)) == recoveryCodeGroups*recoveryCodeGroupLen
}

// newRecoveryCodes returns the codes to show once and their hashes.
func (e *Engine) newRecoveryCodes() ([]string, []string, error) {
	n := e.config.TwoFactor.RecoveryCodeCount
	codes := make([]string, 0, n)
	hashes := make([]string, 0, n)
	for i := 0; i < n; i++ {
		code, err := internal.NewGroupedCode(recoveryCodeGroups, recoveryCodeGroupLen)
		if err != nil {
			return nil, nil, err
		}
		h, err := e.hasher.Hash(internal.NormalizeGroupedCode(code))
		if err != nil {
			return nil, nil, err
		}
		codes = append(codes, code)
		hashes = append(hashes, h)
	}
	return codes, hashes, nil
}

/*
====================================
ENROLLMENT
====================================
*/

// BeginTOTPEnrollment stores a new sealed secret for the session's user.
// The factor stays disabled until ConfirmTOTPEnrollment sees a valid code.
func (e *Engine) BeginTOTPEnrollment(ctx context.Context, sessionID string) (TOTPEnrollment, error) {
	if e == nil {
		return TOTPEnrollment{}, ErrEngineNotReady
	}
	_, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return TOTPEnrollment{}, err
	}
	if user.TwoFactor.Enabled {
		return TOTPEnrollment{}, ErrTwoFactorAlreadyEnabled
	}

	secret, err := totp.GenerateSecret()
	if err != nil {
		return TOTPEnrollment{}, err
	}
	sealed, err := e.cipher.EncryptString(secret)
	if err != nil {
		return TOTPEnrollment{}, fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	if err := e.users.SetTwoFactor(ctx, user.ID, storage.TwoFactorState{
		Method: string(MethodTOTP),
		Secret: sealed,
	}); err != nil {
		return TOTPEnrollment{}, storeErr(err)
	}

	e.emitAudit(ctx, auditEventTOTPEnrollStarted, true, user.ID, nil, nil)
	return TOTPEnrollment{
		Secret:          secret,
		ProvisioningURI: totp.ProvisioningURI(e.config.TwoFactor.Issuer, user.Email, secret),
	}, nil
}

// ConfirmTOTPEnrollment enables TOTP after a valid code and returns the
// recovery codes. They are shown once and only their hashes are stored.
func (e *Engine) ConfirmTOTPEnrollment(ctx context.Context, sessionID, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	_, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactor.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if TwoFactorMethod(user.TwoFactor.Method) != MethodTOTP || user.TwoFactor.Secret == "" {
		return nil, ErrTwoFactorNotEnrolled
	}

	ok, err := e.verifyTOTP(ctx, user, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		return nil, ErrInvalidTwoFactorCode
	}
	return e.enableTwoFactor(ctx, user, MethodTOTP, user.TwoFactor.Secret)
}

// BeginDeliveredEnrollment sends a confirmation code over method.
func (e *Engine) BeginDeliveredEnrollment(ctx context.Context, sessionID string, method TwoFactorMethod) error {
	if e == nil {
		return ErrEngineNotReady
	}
	_, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return err
	}
	if user.TwoFactor.Enabled {
		return ErrTwoFactorAlreadyEnabled
	}
	if err := e.checkDeliverable(method); err != nil {
		return err
	}
	return e.otp.SendCode(ctx, user.ID, string(method))
}

// ConfirmDeliveredEnrollment enables a delivered method after the code
// sent by BeginDeliveredEnrollment is entered. It returns recovery codes.
func (e *Engine) ConfirmDeliveredEnrollment(ctx context.Context, sessionID string, method TwoFactorMethod, code string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	_, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if user.TwoFactor.Enabled {
		return nil, ErrTwoFactorAlreadyEnabled
	}
	if err := e.checkDeliverable(method); err != nil {
		return nil, err
	}

	ok, err := e.otp.VerifyCode(ctx, user.ID, code, string(method))
	if err != nil {
		return nil, err
	}
	if !ok {
		e.metricInc(MetricTwoFactorFailure)
		return nil, ErrInvalidTwoFactorCode
	}
	return e.enableTwoFactor(ctx, user, method, "")
}

func (e *Engine) checkDeliverable(method TwoFactorMethod) error {
	if !method.Delivered() {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, method)
	}
	if c, ok := e.notifier.(interface{ Has(string) bool }); ok && !c.Has(string(method)) {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, method)
	}
	return nil
}

func (e *Engine) enableTwoFactor(ctx context.Context, user AdminUser, method TwoFactorMethod, sealedSecret string) ([]string, error) {
	codes, hashes, err := e.newRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := e.users.SetTwoFactor(ctx, user.ID, storage.TwoFactorState{
		Enabled:            true,
		Method:             string(method),
		Secret:             sealedSecret,
		RecoveryCodeHashes: hashes,
	}); err != nil {
		return nil, storeErr(err)
	}
	if err := e.users.ResetRecoveryFailures(ctx, user.ID); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("recovery failure counter not reset")
	}

	e.emitAudit(ctx, auditEventTwoFactorEnabled, true, user.ID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return codes, nil
}

/*
====================================
MANAGEMENT
====================================
*/

// DisableTwoFactor removes the user's second factor after re-checking the
// password. The change is audited synchronously.
func (e *Engine) DisableTwoFactor(ctx context.Context, sessionID, currentPassword string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	_, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return err
	}
	if !user.TwoFactor.Enabled {
		return ErrTwoFactorNotEnrolled
	}
	if err := e.reauthenticate(ctx, user, currentPassword); err != nil {
		return err
	}

	if err := e.users.SetTwoFactor(ctx, user.ID, storage.TwoFactorState{}); err != nil {
		return storeErr(err)
	}
	return e.recordCritical(ctx, auditEventTwoFactorDisabled, true, user.ID, nil, func() map[string]string {
		return map[string]string{"method": user.TwoFactor.Method}
	})
}

// RegenerateRecoveryCodes replaces every recovery code and returns the new
// set.
func (e *Engine) RegenerateRecoveryCodes(ctx context.Context, sessionID, currentPassword string) ([]string, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	_, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !user.TwoFactor.Enabled {
		return nil, ErrTwoFactorNotEnrolled
	}
	if err := e.reauthenticate(ctx, user, currentPassword); err != nil {
		return nil, err
	}

	codes, hashes, err := e.newRecoveryCodes()
	if err != nil {
		return nil, err
	}
	if err := e.users.ReplaceRecoveryCodes(ctx, user.ID, hashes); err != nil {
		return nil, storeErr(err)
	}
	if err := e.users.ResetRecoveryFailures(ctx, user.ID); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("recovery failure counter not reset")
	}

	e.emitAudit(ctx, auditEventRecoveryCodesIssued, true, user.ID, nil, func() map[string]string {
		return map[string]string{"count": fmt.Sprint(len(codes))}
	})
	return codes, nil
}

// SetTelegramChatID records where telegram codes for the session's user go.
func (e *Engine) SetTelegramChatID(ctx context.Context, sessionID, chatID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	_, user, err := e.sessionUser(ctx, sessionID)
	if err != nil {
		return err
	}
	return storeErr(e.users.SetTelegramChatID(ctx, user.ID, chatID))
}
