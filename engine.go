package panelauth

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/jwt"
	"github.com/MrEthical07/panelauth/notify"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/secrets"
	"github.com/MrEthical07/panelauth/session"
	"github.com/MrEthical07/panelauth/settings"
	"github.com/MrEthical07/panelauth/storage"
)

// Engine is the admin authentication core. It is safe for concurrent use;
// all cross-request coordination happens in the repositories and Redis.
type Engine struct {
	config Config

	users    storage.UserRepository
	tokens   storage.TokenRepository
	codes    storage.OTPRepository
	sessions *session.Store
	settings *settings.Store

	cipher   *secrets.Cipher
	hasher   *password.Argon2
	limiter  *rate.Limiter
	notifier notify.Notifier
	grants   *jwt.Manager

	auditSink  audit.Sink
	dispatcher *audit.Dispatcher
	metrics    *Metrics
	now        func() time.Time

	otp          *OTPCoordinator
	tokenService *TokenService
	recovery     *RecoveryService
}

// Close drains queued audit entries.
func (e *Engine) Close() {
	if e == nil || e.dispatcher == nil {
		return
	}
	e.dispatcher.Close()
}

// AuditDropped returns how many routine audit entries were discarded.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// MetricsSnapshot returns a copy of the in-process counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns the configuration the Engine was built with.
func (e *Engine) Config() Config { return e.config }

// Sessions exposes the session store for flash messages and listings.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// Settings exposes the typed settings store.
func (e *Engine) Settings() *settings.Store { return e.settings }

// OTP returns the delivered-code coordinator.
func (e *Engine) OTP() *OTPCoordinator { return e.otp }

// Tokens returns the CLI token service.
func (e *Engine) Tokens() *TokenService { return e.tokenService }

// Recovery returns the master recovery token service.
func (e *Engine) Recovery() *RecoveryService { return e.recovery }

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Login checks email and password. When the account has a second factor
// the result carries a pending session id instead of a session, and a
// delivered code has already been sent.
func (e *Engine) Login(ctx context.Context, email, secret string) (LoginResult, error) {
	if e == nil {
		return LoginResult{}, ErrEngineNotReady
	}
	start := time.Now()
	defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()

	ip := clientIPFromContext(ctx)

	if err := e.limiter.CheckLogin(ctx, ip); err != nil {
		err = throttleErr(err)
		if errors.Is(err, ErrRateLimited) {
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventLoginRateLimited, false, "", err, nil)
		}
		return LoginResult{}, err
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return LoginResult{}, storeErr(err)
		}
		e.hasher.Burn(secret)
		e.countIPFailure(ctx)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "unknown_email"}
		})
		return LoginResult{}, ErrInvalidCredentials
	}

	now := e.now()
	if !user.Active {
		e.hasher.Burn(secret)
		e.countIPFailure(ctx)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, ErrAccountDisabled, nil)
		return LoginResult{}, ErrAccountDisabled
	}
	if user.LockedUntil.After(now) {
		e.hasher.Burn(secret)
		e.countIPFailure(ctx)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, ErrAccountLocked, func() map[string]string {
			return map[string]string{"locked_until": user.LockedUntil.UTC().Format(time.RFC3339)}
		})
		return LoginResult{}, ErrAccountLocked
	}

	ok, err := e.hasher.Verify(secret, user.PasswordHash)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("stored password hash rejected")
	}
	if !ok {
		e.metricInc(MetricLoginFailure)
		failErr := e.registerFailure(ctx, user, "password")
		e.emitAudit(ctx, auditEventLoginFailure, false, user.ID, failErr, func() map[string]string {
			return map[string]string{"reason": "password"}
		})
		return LoginResult{}, failErr
	}

	e.maybeRehash(ctx, user, secret)

	if user.TwoFactor.Enabled {
		return e.beginSecondFactor(ctx, user)
	}

	sess, err := e.completeLogin(ctx, user, "")
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Session: sess}, nil
}

func (e *Engine) beginSecondFactor(ctx context.Context, user AdminUser) (LoginResult, error) {
	method := TwoFactorMethod(user.TwoFactor.Method)
	if method == "" {
		method = MethodTOTP
	}

	pending, err := e.sessions.CreatePending(ctx, user.ID, clientIPFromContext(ctx), userAgentFromContext(ctx), string(method))
	if err != nil {
		return LoginResult{}, storeErr(err)
	}

	result := LoginResult{
		Requires2FA:      true,
		Method:           method,
		PendingSessionID: pending.ID,
	}
	if method.Delivered() {
		if err := e.otp.SendCode(ctx, user.ID, string(method)); err != nil {
			log.WithError(err).WithField("user_id", user.ID).Warn("second factor code not delivered")
		} else {
			result.CodeSent = true
		}
	}

	e.metricInc(MetricTwoFactorRequired)
	e.emitAudit(ctx, auditEventMFARequired, true, user.ID, nil, func() map[string]string {
		return map[string]string{"method": string(method)}
	})
	return result, nil
}

// ResendCode pushes a fresh delivered code for a pending session.
func (e *Engine) ResendCode(ctx context.Context, pendingID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	pending, err := e.sessions.ValidatePending(ctx, pendingID)
	if err != nil {
		return sessionErr(err)
	}
	method := TwoFactorMethod(pending.Payload.TwoFactorKind)
	if !method.Delivered() {
		return ErrUnsupportedChannel
	}
	return e.otp.SendCode(ctx, pending.UserID, string(method))
}

// completeLogin clears failure state and issues the full session. A
// pending session, if any, is destroyed.
func (e *Engine) completeLogin(ctx context.Context, user AdminUser, pendingID string) (*Session, error) {
	ip := clientIPFromContext(ctx)

	if err := e.users.RecordLogin(ctx, user.ID, e.now(), ip); err != nil {
		return nil, storeErr(err)
	}
	if err := e.limiter.ResetLogin(ctx, ip); err != nil {
		log.WithError(err).Debug("login throttle reset failed")
	}

	sess, err := e.sessions.Create(ctx, user.ID, ip, userAgentFromContext(ctx))
	if err != nil {
		return nil, storeErr(err)
	}
	if pendingID != "" {
		if err := e.sessions.Destroy(ctx, pendingID); err != nil {
			log.WithError(err).WithField("user_id", user.ID).Warn("pending session not destroyed")
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.ID, nil, func() map[string]string {
		return map[string]string{"second_factor": fmt.Sprint(pendingID != "")}
	})
	return sess, nil
}

// registerFailure counts a failed credential against user and locks the
// account once the threshold is reached.
func (e *Engine) registerFailure(ctx context.Context, user AdminUser, reason string) error {
	e.countIPFailure(ctx)

	n, err := e.users.IncrementFailedAttempts(ctx, user.ID)
	if err != nil {
		return storeErr(err)
	}
	d := e.config.Lockout.Duration(n)
	if d <= 0 {
		return ErrInvalidCredentials
	}

	until := e.now().Add(d)
	if err := e.users.LockUser(ctx, user.ID, until); err != nil {
		return storeErr(err)
	}
	e.metricInc(MetricAccountLocked)
	e.recordCriticalOnFailure(ctx, auditEventAccountLocked, user.ID, ErrAccountLocked, func() map[string]string {
		return map[string]string{
			"failures":     fmt.Sprint(n),
			"locked_until": until.UTC().Format(time.RFC3339),
			"reason":       reason,
		}
	})
	return ErrInvalidCredentials
}

func (e *Engine) countIPFailure(ctx context.Context) {
	if err := e.limiter.IncrementLogin(ctx, clientIPFromContext(ctx)); err != nil {
		log.WithError(err).Debug("login throttle increment failed")
	}
}

func (e *Engine) maybeRehash(ctx context.Context, user AdminUser, secret string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsRehash(user.PasswordHash)
	if err != nil || !needs {
		return
	}
	upgraded, err := e.hasher.Hash(secret)
	if err != nil {
		return
	}
	if err := e.users.UpdatePasswordHash(ctx, user.ID, upgraded); err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("password rehash not stored")
	}
}

// ValidateSession returns the full session for id, extending it when
// recent activity makes it eligible.
func (e *Engine) ValidateSession(ctx context.Context, id string) (*Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sess, err := e.sessions.Validate(ctx, id)
	if err != nil {
		e.metricInc(MetricSessionRejected)
		return nil, sessionErr(err)
	}
	return sess, nil
}

// VerifyCSRF checks token against the session's anti-forgery token.
func (e *Engine) VerifyCSRF(ctx context.Context, sessionID, token string) error {
	sess, err := e.ValidateSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.VerifyCSRF(sess, token) {
		return ErrCSRFMismatch
	}
	return nil
}

// Logout destroys one session.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return sessionErr(err)
	}
	if err := e.sessions.Destroy(ctx, sessionID); err != nil {
		return storeErr(err)
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogoutSession, true, sess.UserID, nil, nil)
	return nil
}

// LogoutAll destroys every session of the user owning sessionID except
// that session. It returns how many were destroyed.
func (e *Engine) LogoutAll(ctx context.Context, sessionID string) (int, error) {
	if e == nil {
		return 0, ErrEngineNotReady
	}
	sess, err := e.ValidateSession(ctx, sessionID)
	if err != nil {
		return 0, err
	}
	n, err := e.sessions.DestroyAllExcept(ctx, sess.UserID, sess.ID)
	if err != nil {
		return 0, storeErr(err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, sess.UserID, nil, func() map[string]string {
		return map[string]string{"destroyed": fmt.Sprint(n)}
	})
	return n, nil
}

// sessionUser validates a full session and loads its active owner.
func (e *Engine) sessionUser(ctx context.Context, sessionID string) (*Session, AdminUser, error) {
	sess, err := e.ValidateSession(ctx, sessionID)
	if err != nil {
		return nil, AdminUser{}, err
	}
	user, err := e.users.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			_ = e.sessions.Destroy(ctx, sess.ID)
			return nil, AdminUser{}, ErrSessionNotFound
		}
		return nil, AdminUser{}, storeErr(err)
	}
	if !user.Active {
		_ = e.sessions.Destroy(ctx, sess.ID)
		return nil, AdminUser{}, ErrAccountDisabled
	}
	return sess, user, nil
}

// reauthenticate re-checks the password of a signed-in user before a
// sensitive change. Failures count toward lockout.
func (e *Engine) reauthenticate(ctx context.Context, user AdminUser, secret string) error {
	ok, err := e.hasher.Verify(secret, user.PasswordHash)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("stored password hash rejected")
	}
	if !ok {
		return e.registerFailure(ctx, user, "reauthentication")
	}
	return nil
}

func (e *Engine) checkPasswordPolicy(secret string) error {
	n := utf8.RuneCountInString(secret)
	if n < e.config.Password.MinLength || len(secret) > e.config.Password.MaxLength {
		return ErrPasswordPolicy
	}
	return nil
}

func storeErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

func sessionErr(err error) error {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrNotPending):
		return ErrSessionNotFound
	case errors.Is(err, session.ErrPending2FA):
		return ErrPending2FA
	default:
		return storeErr(err)
	}
}

func throttleErr(err error) error {
	if errors.Is(err, rate.ErrRateLimited) {
		return ErrRateLimited
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
