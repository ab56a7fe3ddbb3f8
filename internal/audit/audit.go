package audit

import (
	"context"
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/storage"
)

// Entry is the record relayed by this package.
type Entry = storage.AuditEntry

// Sink persists an entry and returns its id.
type Sink interface {
	Log(ctx context.Context, e Entry) (string, error)
}

// NoOpSink discards entries and hands out fresh ids.
type NoOpSink struct{}

func (NoOpSink) Log(_ context.Context, e Entry) (string, error) {
	if e.ID != "" {
		return e.ID, nil
	}
	return uuid.NewString(), nil
}

// LogrusSink writes entries to a logrus logger, one structured line each.
type LogrusSink struct {
	Logger *log.Logger
}

func (s LogrusSink) Log(_ context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	logger := s.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}

	fields := log.Fields{
		"audit_id": e.ID,
		"action":   e.Action,
		"success":  e.Success,
	}
	if e.UserID != "" {
		fields["user_id"] = e.UserID
	}
	if e.IP != "" {
		fields["ip"] = e.IP
	}
	if e.Error != "" {
		fields["error"] = e.Error
	}
	for k, v := range e.Metadata {
		fields["meta_"+k] = v
	}

	entry := logger.WithFields(fields)
	switch {
	case e.Critical:
		entry.Warn("audit")
	default:
		entry.Info("audit")
	}
	return e.ID, nil
}

// ChannelSink pushes entries into a buffered channel.
type ChannelSink struct {
	entries chan Entry
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{entries: make(chan Entry, buffer)}
}

func (s *ChannelSink) Log(ctx context.Context, e Entry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	select {
	case s.entries <- e:
		return e.ID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *ChannelSink) Entries() <-chan Entry {
	return s.entries
}

// MultiSink writes to the primary sink and mirrors to the others. Only the
// primary's result is returned; mirror failures are logged.
type MultiSink struct {
	Primary Sink
	Mirrors []Sink
}

func (m MultiSink) Log(ctx context.Context, e Entry) (string, error) {
	if m.Primary == nil {
		return "", errors.New("audit: primary sink required")
	}
	id, err := m.Primary.Log(ctx, e)
	if err != nil {
		return "", err
	}
	e.ID = id
	for _, mirror := range m.Mirrors {
		if _, merr := mirror.Log(ctx, e); merr != nil {
			log.WithError(merr).WithField("action", e.Action).Warn("audit mirror write failed")
		}
	}
	return id, nil
}
