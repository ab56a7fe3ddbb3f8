package observability

import (
	"context"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/storage"
)

// SecurityReporter mirrors security-critical audit entries to Sentry as
// messages. Routine entries are ignored.
type SecurityReporter struct {
	hub *sentry.Hub
}

// NewSecurityReporter reports through hub, or the current hub when nil.
func NewSecurityReporter(hub *sentry.Hub) *SecurityReporter {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &SecurityReporter{hub: hub}
}

func (r *SecurityReporter) Log(_ context.Context, e storage.AuditEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if !e.Critical {
		return e.ID, nil
	}

	hub := r.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelWarning)
		scope.SetTag("audit_action", e.Action)
		scope.SetTag("audit_id", e.ID)
		if !e.Success {
			scope.SetTag("outcome", "failure")
		}
		scope.SetUser(sentry.User{ID: e.UserID, IPAddress: e.IP})
		for k, v := range e.Metadata {
			scope.SetTag("meta."+k, v)
		}
		msg := "security event: " + e.Action
		if e.Error != "" {
			msg += ": " + e.Error
		}
		hub.CaptureMessage(msg)
	})
	return e.ID, nil
}
