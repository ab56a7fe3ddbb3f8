package memstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/settings"
	"github.com/MrEthical07/panelauth/storage"
)

func (s *Store) LoadSetting(_ context.Context, key string) (settings.Kind, string, error) {
	if err := s.lock(); err != nil {
		return settings.KindInvalid, "", err
	}
	defer s.mu.Unlock()

	row, ok := s.settings[key]
	if !ok {
		return settings.KindInvalid, "", settings.ErrNotFound
	}
	return row.kind, row.raw, nil
}

func (s *Store) SaveSetting(_ context.Context, key string, kind settings.Kind, raw string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.settings[key] = settingRow{kind: kind, raw: raw}
	return nil
}

func (s *Store) SaveSettingIfAbsent(_ context.Context, key string, kind settings.Kind, raw string) (settings.Kind, string, error) {
	if err := s.lock(); err != nil {
		return settings.KindInvalid, "", err
	}
	defer s.mu.Unlock()

	if row, ok := s.settings[key]; ok {
		return row.kind, row.raw, nil
	}
	s.settings[key] = settingRow{kind: kind, raw: raw}
	return kind, raw, nil
}

// RawSetting returns the stored form of key, for assertions in tests.
func (s *Store) RawSetting(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.settings[key]
	return row.raw, ok
}

func (s *Store) Log(_ context.Context, e storage.AuditEntry) (string, error) {
	if err := s.lock(); err != nil {
		return "", err
	}
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	s.audit = append(s.audit, e)
	return e.ID, nil
}

// AuditEntries returns a copy of the audit log.
func (s *Store) AuditEntries() []storage.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]storage.AuditEntry(nil), s.audit...)
}

// RecentAudit returns the newest entries first, optionally for one user.
func (s *Store) RecentAudit(_ context.Context, userID string, limit int) ([]storage.AuditEntry, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	var out []storage.AuditEntry
	for i := len(s.audit) - 1; i >= 0 && len(out) < limit; i-- {
		if userID != "" && s.audit[i].UserID != userID {
			continue
		}
		out = append(out, s.audit[i])
	}
	return out, nil
}
