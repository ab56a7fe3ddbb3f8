package panelauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/panelauth/storage"
)

// IssueCLIGrant exchanges a master or sub token for a short-lived signed
// grant. Grants die with the token generation they were issued for and
// with the HMAC secret that signed them.
func (e *Engine) IssueCLIGrant(ctx context.Context, token string) (string, time.Time, error) {
	if e == nil {
		return "", time.Time{}, ErrEngineNotReady
	}
	id, err := e.tokenService.VerifyAnyToken(ctx, token)
	if err != nil {
		return "", time.Time{}, err
	}
	if id.Class == ClassEmergency {
		return "", time.Time{}, ErrForbiddenTarget
	}

	grant, exp, err := e.grants.Issue(ctx, id.UserID, string(id.Class), id.Generation)
	if err != nil {
		return "", time.Time{}, err
	}
	e.emitAudit(ctx, auditEventGrantIssued, true, id.UserID, nil, func() map[string]string {
		return map[string]string{"class": string(id.Class)}
	})
	return grant, exp, nil
}

// ParseCLIGrant verifies a grant and re-checks that its token is still the
// current one and its holder still active.
func (e *Engine) ParseCLIGrant(ctx context.Context, grant string) (TokenIdentity, error) {
	if e == nil {
		return TokenIdentity{}, ErrEngineNotReady
	}
	claims, err := e.grants.Parse(ctx, grant)
	if err != nil {
		return TokenIdentity{}, ErrTokenInvalidOrExpired
	}

	user, err := e.users.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return TokenIdentity{}, ErrTokenInvalidOrExpired
		}
		return TokenIdentity{}, storeErr(err)
	}
	if !user.Active {
		return TokenIdentity{}, ErrAccountDisabled
	}

	id := TokenIdentity{UserID: user.ID, Email: user.Email, Class: TokenClass(claims.Class), Generation: claims.Generation}
	switch id.Class {
	case ClassMaster:
		if !user.Master || user.MasterTokenHash == "" || int64(user.MasterTokenGeneration) != claims.Generation {
			return TokenIdentity{}, ErrTokenInvalidOrExpired
		}
	case ClassSub:
		if user.Master || user.SubTokenHash == "" || int64(user.SubTokenGeneration) != claims.Generation {
			return TokenIdentity{}, ErrTokenInvalidOrExpired
		}
	default:
		return TokenIdentity{}, ErrTokenInvalidOrExpired
	}
	return id, nil
}
