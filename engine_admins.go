package panelauth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/storage"
)

// CreateInitialAdmin registers the first account of an installation. It
// is refused once a master exists; the account becomes master when it
// first calls GenerateMasterToken.
func (e *Engine) CreateInitialAdmin(ctx context.Context, email, secret string) (AdminUser, error) {
	if e == nil {
		return AdminUser{}, ErrEngineNotReady
	}
	if _, err := e.users.FindMaster(ctx); err == nil {
		return AdminUser{}, ErrMasterExists
	} else if !errors.Is(err, storage.ErrNotFound) {
		return AdminUser{}, storeErr(err)
	}
	return e.createAdmin(ctx, "", email, secret)
}

// CreateAdmin registers a sub-admin on behalf of the master.
func (e *Engine) CreateAdmin(ctx context.Context, masterToken, email, secret string) (AdminUser, error) {
	if e == nil {
		return AdminUser{}, ErrEngineNotReady
	}
	master, err := e.tokenService.VerifyMasterToken(ctx, masterToken)
	if err != nil {
		return AdminUser{}, err
	}
	return e.createAdmin(ctx, master.ID, email, secret)
}

func (e *Engine) createAdmin(ctx context.Context, createdBy, email, secret string) (AdminUser, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || !strings.Contains(email, "@") {
		return AdminUser{}, ErrInvalidEmail
	}
	if err := e.checkPasswordPolicy(secret); err != nil {
		return AdminUser{}, err
	}
	h, err := e.hasher.Hash(secret)
	if err != nil {
		return AdminUser{}, err
	}

	user := AdminUser{
		Email:        email,
		PasswordHash: h,
		Active:       true,
		CreatedAt:    e.now(),
	}
	if err := e.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return AdminUser{}, ErrAccountExists
		}
		return AdminUser{}, storeErr(err)
	}
	created, err := e.users.GetUserByEmail(ctx, email)
	if err != nil {
		return AdminUser{}, storeErr(err)
	}

	if err := e.recordCritical(ctx, auditEventAdminCreated, true, created.ID, nil, func() map[string]string {
		return map[string]string{"created_by": createdBy}
	}); err != nil {
		return AdminUser{}, err
	}
	return created, nil
}

// SetAdminActive activates or deactivates a sub-admin. Deactivation
// destroys the target's sessions and revokes its sub token. The master
// cannot be deactivated.
func (e *Engine) SetAdminActive(ctx context.Context, masterToken, email string, active bool) error {
	if e == nil {
		return ErrEngineNotReady
	}
	master, err := e.tokenService.VerifyMasterToken(ctx, masterToken)
	if err != nil {
		return err
	}
	target, err := e.subTarget(ctx, master, email)
	if err != nil && !errors.Is(err, ErrAccountDisabled) {
		return err
	}

	if err := e.users.SetActive(ctx, target.ID, active); err != nil {
		return storeErr(err)
	}
	if !active {
		if _, err := e.sessions.DestroyAllExcept(ctx, target.ID, ""); err != nil {
			log.WithError(err).WithField("user_id", target.ID).Error("sessions not destroyed after deactivation")
		}
		if err := e.users.SetSubTokenHash(ctx, target.ID, "", e.now()); err != nil {
			return storeErr(err)
		}
	}

	return e.recordCritical(ctx, auditEventAdminStatusChange, true, target.ID, nil, func() map[string]string {
		return map[string]string{
			"active":     fmt.Sprint(active),
			"changed_by": master.ID,
		}
	})
}

// AdminBasePath returns the obscured admin URL prefix, creating it on
// first use.
func (e *Engine) AdminBasePath(ctx context.Context) (string, error) {
	p, err := e.settings.AdminBasePath(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	return p, nil
}

// RotateAdminBasePath replaces the admin URL prefix. Requires the master
// token.
func (e *Engine) RotateAdminBasePath(ctx context.Context, masterToken string) (string, error) {
	master, err := e.tokenService.VerifyMasterToken(ctx, masterToken)
	if err != nil {
		return "", err
	}
	p, err := e.settings.RotateAdminBasePath(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrEncryptionFailure, err)
	}
	e.metricInc(MetricBasePathRotated)
	if err := e.recordCritical(ctx, auditEventBasePathRotated, true, master.ID, nil, nil); err != nil {
		return "", err
	}
	return p, nil
}

// IsAdminPath reports whether path is under the admin prefix. It fails
// closed when the prefix cannot be read.
func (e *Engine) IsAdminPath(ctx context.Context, path string) bool {
	if e == nil {
		return false
	}
	return e.settings.IsAdminPath(ctx, path)
}
