package panelauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal"
	"github.com/MrEthical07/panelauth/storage"
)

const cliTokenBytes = 32

// TokenService manages the CLI token hierarchy: one master token, one sub
// token per sub-admin, and single-use emergency tokens minted by the
// master. Only Argon2id hashes are stored.
type TokenService struct {
	engine *Engine
}

// GenerateMasterToken issues a new master token for the account with the
// given credentials. The first caller while no master exists becomes the
// master; anyone else is refused. Issuing rotates the previous token.
func (t *TokenService) GenerateMasterToken(ctx context.Context, email, secret string) (string, error) {
	e := t.engine
	user, err := e.checkCredentials(ctx, email, secret)
	if err != nil {
		return "", err
	}

	raw, h, err := e.newCLIToken(PrefixMaster, "")
	if err != nil {
		return "", err
	}

	now := e.now()
	if user.Master {
		if err := e.users.SetMasterTokenHash(ctx, user.ID, h, now); err != nil {
			return "", storeErr(err)
		}
	} else {
		promoted, err := e.users.PromoteToMaster(ctx, user.ID, h, now)
		if err != nil {
			return "", storeErr(err)
		}
		if !promoted {
			e.metricInc(MetricTokenRejected)
			e.recordCriticalOnFailure(ctx, auditEventMasterTokenDenied, user.ID, ErrMasterExists, nil)
			return "", ErrMasterExists
		}
	}

	e.metricInc(MetricTokenIssued)
	if err := e.recordCritical(ctx, auditEventMasterTokenIssued, true, user.ID, nil, func() map[string]string {
		return map[string]string{"promoted": fmt.Sprint(!user.Master)}
	}); err != nil {
		return "", err
	}
	return raw, nil
}

// GenerateSubToken issues a sub token for targetEmail. The target must be
// an active admin other than the master.
func (t *TokenService) GenerateSubToken(ctx context.Context, masterToken, targetEmail string) (string, error) {
	e := t.engine
	master, err := t.VerifyMasterToken(ctx, masterToken)
	if err != nil {
		return "", err
	}
	target, err := e.subTarget(ctx, master, targetEmail)
	if err != nil {
		return "", err
	}

	raw, h, err := e.newCLIToken(PrefixSub, target.ID)
	if err != nil {
		return "", err
	}
	if err := e.users.SetSubTokenHash(ctx, target.ID, h, e.now()); err != nil {
		return "", storeErr(err)
	}

	e.metricInc(MetricTokenIssued)
	if err := e.recordCritical(ctx, auditEventSubTokenIssued, true, target.ID, nil, func() map[string]string {
		return map[string]string{"issued_by": master.ID}
	}); err != nil {
		return "", err
	}
	return raw, nil
}

// RevokeSubToken clears the sub token of targetEmail.
func (t *TokenService) RevokeSubToken(ctx context.Context, masterToken, targetEmail string) error {
	e := t.engine
	master, err := t.VerifyMasterToken(ctx, masterToken)
	if err != nil {
		return err
	}
	target, err := e.subTarget(ctx, master, targetEmail)
	if err != nil && !errors.Is(err, ErrAccountDisabled) {
		return err
	}
	if err := e.users.SetSubTokenHash(ctx, target.ID, "", e.now()); err != nil {
		return storeErr(err)
	}
	return e.recordCritical(ctx, auditEventSubTokenRevoked, true, target.ID, nil, func() map[string]string {
		return map[string]string{"revoked_by": master.ID}
	})
}

// CreateEmergencyToken mints a single-use bypass token owned by the
// master. ttl is clamped to the configured maximum; zero selects the
// default.
func (t *TokenService) CreateEmergencyToken(ctx context.Context, masterToken, label string, ttl time.Duration) (string, error) {
	e := t.engine
	master, err := t.VerifyMasterToken(ctx, masterToken)
	if err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = e.config.Tokens.EmergencyDefaultTTL
	}
	if ttl > e.config.Tokens.EmergencyMaxTTL {
		ttl = e.config.Tokens.EmergencyMaxTTL
	}

	raw, h, err := e.newCLIToken(PrefixEmergency, "")
	if err != nil {
		return "", err
	}
	now := e.now()
	if err := e.tokens.InsertToken(ctx, storage.OneTimeToken{
		Kind:        storage.TokenEmergency,
		UserID:      master.ID,
		Hash:        h,
		Label:       label,
		Channel:     "cli",
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
		DeliveredAt: now,
	}); err != nil {
		return "", storeErr(err)
	}

	e.metricInc(MetricTokenIssued)
	if err := e.recordCritical(ctx, auditEventEmergencyTokenIssued, true, master.ID, nil, func() map[string]string {
		return map[string]string{
			"label":      label,
			"expires_at": now.Add(ttl).UTC().Format(time.RFC3339),
		}
	}); err != nil {
		return "", err
	}
	return raw, nil
}

// UseEmergencyToken signs the master in with an emergency token plus the
// master's email and password, bypassing lockout and the second factor.
// The token is consumed and the master token is rotated.
func (t *TokenService) UseEmergencyToken(ctx context.Context, token, email, secret string) (UseEmergencyResult, error) {
	e := t.engine
	if err := e.limiter.HitToken(ctx, clientIPFromContext(ctx)); err != nil {
		return UseEmergencyResult{}, throttleErr(err)
	}
	if !strings.HasPrefix(token, PrefixEmergency) {
		e.metricInc(MetricTokenRejected)
		return UseEmergencyResult{}, ErrTokenInvalidOrExpired
	}

	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return UseEmergencyResult{}, storeErr(err)
		}
		e.hasher.Burn(token)
		e.metricInc(MetricTokenRejected)
		e.recordCriticalOnFailure(ctx, auditEventEmergencyTokenFailed, "", ErrTokenInvalidOrExpired, nil)
		return UseEmergencyResult{}, ErrTokenInvalidOrExpired
	}
	if !user.Master || !user.Active {
		e.hasher.Burn(token)
		e.metricInc(MetricTokenRejected)
		e.recordCriticalOnFailure(ctx, auditEventEmergencyTokenFailed, user.ID, ErrTokenInvalidOrExpired, nil)
		return UseEmergencyResult{}, ErrTokenInvalidOrExpired
	}

	now := e.now()
	candidates, err := e.tokens.ListActiveTokens(ctx, storage.TokenEmergency, user.ID, now, e.config.Tokens.MaxEmergencyTokens)
	if err != nil {
		return UseEmergencyResult{}, storeErr(err)
	}
	match, ok := e.matchToken(candidates, token)
	if !ok {
		e.metricInc(MetricTokenRejected)
		e.recordCriticalOnFailure(ctx, auditEventEmergencyTokenFailed, user.ID, ErrTokenInvalidOrExpired, nil)
		return UseEmergencyResult{}, ErrTokenInvalidOrExpired
	}

	pwOK, err := e.hasher.Verify(secret, user.PasswordHash)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("stored password hash rejected")
	}
	if !pwOK {
		failErr := e.registerFailure(ctx, user, "emergency")
		e.recordCriticalOnFailure(ctx, auditEventEmergencyTokenFailed, user.ID, failErr, nil)
		return UseEmergencyResult{}, ErrInvalidCredentials
	}

	consumed, err := e.tokens.MarkTokenUsed(ctx, match.ID, now, clientIPFromContext(ctx), userAgentFromContext(ctx))
	if err != nil {
		return UseEmergencyResult{}, storeErr(err)
	}
	if !consumed {
		e.metricInc(MetricTokenRejected)
		e.recordCriticalOnFailure(ctx, auditEventEmergencyTokenFailed, user.ID, ErrTokenAlreadyUsed, nil)
		return UseEmergencyResult{}, ErrTokenAlreadyUsed
	}

	rotated, h, err := e.newCLIToken(PrefixMaster, "")
	if err != nil {
		return UseEmergencyResult{}, err
	}
	if err := e.users.SetMasterTokenHash(ctx, user.ID, h, now); err != nil {
		return UseEmergencyResult{}, storeErr(err)
	}

	sess, err := e.completeLogin(ctx, user, "")
	if err != nil {
		return UseEmergencyResult{}, err
	}

	e.metricInc(MetricEmergencyTokenUsed)
	if err := e.recordCritical(ctx, auditEventEmergencyTokenUsed, true, user.ID, nil, func() map[string]string {
		return map[string]string{"label": match.Label, "token_id": match.ID}
	}); err != nil {
		_ = e.sessions.Destroy(ctx, sess.ID)
		return UseEmergencyResult{}, err
	}
	return UseEmergencyResult{MasterToken: rotated, Session: sess}, nil
}

// VerifyAnyToken dispatches on the token prefix. Emergency tokens are
// checked without being consumed.
func (t *TokenService) VerifyAnyToken(ctx context.Context, token string) (TokenIdentity, error) {
	switch {
	case strings.HasPrefix(token, PrefixMaster):
		u, err := t.VerifyMasterToken(ctx, token)
		if err != nil {
			return TokenIdentity{}, err
		}
		return TokenIdentity{UserID: u.ID, Email: u.Email, Class: ClassMaster, Generation: int64(u.MasterTokenGeneration)}, nil
	case strings.HasPrefix(token, PrefixSub):
		u, err := t.VerifySubToken(ctx, token)
		if err != nil {
			return TokenIdentity{}, err
		}
		return TokenIdentity{UserID: u.ID, Email: u.Email, Class: ClassSub, Generation: int64(u.SubTokenGeneration)}, nil
	case strings.HasPrefix(token, PrefixEmergency):
		return t.verifyEmergency(ctx, token)
	default:
		t.engine.metricInc(MetricTokenRejected)
		t.engine.emitAudit(ctx, auditEventTokenRejected, false, "", ErrUnknownTokenPrefix, nil)
		return TokenIdentity{}, ErrUnknownTokenPrefix
	}
}

// VerifyMasterToken returns the master account if token is its current
// master token.
func (t *TokenService) VerifyMasterToken(ctx context.Context, token string) (AdminUser, error) {
	e := t.engine
	if err := e.limiter.HitToken(ctx, clientIPFromContext(ctx)); err != nil {
		return AdminUser{}, throttleErr(err)
	}
	if !strings.HasPrefix(token, PrefixMaster) {
		return AdminUser{}, e.rejectToken(ctx, "", ErrTokenInvalidOrExpired)
	}

	master, err := e.users.FindMaster(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.hasher.Burn(token)
			return AdminUser{}, e.rejectToken(ctx, "", ErrTokenInvalidOrExpired)
		}
		return AdminUser{}, storeErr(err)
	}
	if master.MasterTokenHash == "" {
		e.hasher.Burn(token)
		return AdminUser{}, e.rejectToken(ctx, master.ID, ErrTokenInvalidOrExpired)
	}
	if ok, _ := e.hasher.Verify(token, master.MasterTokenHash); !ok {
		return AdminUser{}, e.rejectToken(ctx, master.ID, ErrTokenInvalidOrExpired)
	}
	if !master.Active {
		return AdminUser{}, e.rejectToken(ctx, master.ID, ErrAccountDisabled)
	}

	e.metricInc(MetricTokenVerified)
	return master, nil
}

// VerifySubToken returns the sub-admin owning token.
func (t *TokenService) VerifySubToken(ctx context.Context, token string) (AdminUser, error) {
	e := t.engine
	if err := e.limiter.HitToken(ctx, clientIPFromContext(ctx)); err != nil {
		return AdminUser{}, throttleErr(err)
	}
	userID, ok := subTokenOwner(token)
	if !ok {
		e.hasher.Burn(token)
		return AdminUser{}, e.rejectToken(ctx, "", ErrTokenInvalidOrExpired)
	}

	user, err := e.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.hasher.Burn(token)
			return AdminUser{}, e.rejectToken(ctx, "", ErrTokenInvalidOrExpired)
		}
		return AdminUser{}, storeErr(err)
	}
	if user.SubTokenHash == "" || user.Master {
		e.hasher.Burn(token)
		return AdminUser{}, e.rejectToken(ctx, user.ID, ErrTokenInvalidOrExpired)
	}
	if ok, _ := e.hasher.Verify(token, user.SubTokenHash); !ok {
		return AdminUser{}, e.rejectToken(ctx, user.ID, ErrTokenInvalidOrExpired)
	}
	if !user.Active {
		return AdminUser{}, e.rejectToken(ctx, user.ID, ErrAccountDisabled)
	}

	e.metricInc(MetricTokenVerified)
	return user, nil
}

func (t *TokenService) verifyEmergency(ctx context.Context, token string) (TokenIdentity, error) {
	e := t.engine
	if err := e.limiter.HitToken(ctx, clientIPFromContext(ctx)); err != nil {
		return TokenIdentity{}, throttleErr(err)
	}
	master, err := e.users.FindMaster(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TokenIdentity{}, e.rejectToken(ctx, "", ErrTokenInvalidOrExpired)
		}
		return TokenIdentity{}, storeErr(err)
	}
	candidates, err := e.tokens.ListActiveTokens(ctx, storage.TokenEmergency, master.ID, e.now(), e.config.Tokens.MaxEmergencyTokens)
	if err != nil {
		return TokenIdentity{}, storeErr(err)
	}
	if _, ok := e.matchToken(candidates, token); !ok {
		return TokenIdentity{}, e.rejectToken(ctx, master.ID, ErrTokenInvalidOrExpired)
	}

	e.metricInc(MetricTokenVerified)
	return TokenIdentity{UserID: master.ID, Email: master.Email, Class: ClassEmergency}, nil
}

func (e *Engine) rejectToken(ctx context.Context, userID string, err error) error {
	e.metricInc(MetricTokenRejected)
	e.emitAudit(ctx, auditEventTokenRejected, false, userID, err, nil)
	return err
}

// checkCredentials verifies email and password with the same lockout
// accounting as Login, without throttling by IP or starting a session.
func (e *Engine) checkCredentials(ctx context.Context, email, secret string) (AdminUser, error) {
	user, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			e.hasher.Burn(secret)
			return AdminUser{}, ErrInvalidCredentials
		}
		return AdminUser{}, storeErr(err)
	}
	if !user.Active {
		e.hasher.Burn(secret)
		return AdminUser{}, ErrAccountDisabled
	}
	if user.LockedUntil.After(e.now()) {
		e.hasher.Burn(secret)
		return AdminUser{}, ErrAccountLocked
	}
	ok, err := e.hasher.Verify(secret, user.PasswordHash)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("stored password hash rejected")
	}
	if !ok {
		return AdminUser{}, e.registerFailure(ctx, user, "cli")
	}
	return user, nil
}

func (e *Engine) subTarget(ctx context.Context, master AdminUser, email string) (AdminUser, error) {
	target, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return AdminUser{}, ErrUserNotFound
		}
		return AdminUser{}, storeErr(err)
	}
	if target.ID == master.ID || target.Master {
		e.recordCriticalOnFailure(ctx, auditEventSubTokenIssued, target.ID, ErrForbiddenTarget, func() map[string]string {
			return map[string]string{"issued_by": master.ID}
		})
		return AdminUser{}, ErrForbiddenTarget
	}
	if !target.Active {
		return target, ErrAccountDisabled
	}
	return target, nil
}

// newCLIToken returns prefix + [owner "."] + random secret and its hash.
func (e *Engine) newCLIToken(prefix, owner string) (string, string, error) {
	secret, err := internal.NewToken(cliTokenBytes)
	if err != nil {
		return "", "", err
	}
	raw := prefix + secret
	if owner != "" {
		raw = prefix + owner + "." + secret
	}
	h, err := e.hasher.Hash(raw)
	if err != nil {
		return "", "", err
	}
	return raw, h, nil
}

// subTokenOwner extracts the user id embedded in a sub token.
func subTokenOwner(token string) (string, bool) {
	rest, ok := strings.CutPrefix(token, PrefixSub)
	if !ok {
		return "", false
	}
	owner, secret, ok := strings.Cut(rest, ".")
	if !ok || owner == "" || secret == "" {
		return "", false
	}
	return owner, true
}
