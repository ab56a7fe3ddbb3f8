// Package memstore is an in-memory backend implementing every repository
// contract of panelauth. One mutex guards all tables, which gives the
// conditional updates the same atomicity the SQL backend gets from single
// statements. It backs tests and local development runs.
package memstore

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/session"
	"github.com/MrEthical07/panelauth/settings"
	"github.com/MrEthical07/panelauth/storage"
)

// Store is safe for concurrent use.
type Store struct {
	mu sync.Mutex

	users    map[string]storage.AdminUser
	byEmail  map[string]string
	tokens   map[string]storage.OneTimeToken
	codes    map[string]storage.DeliveredCode
	sessions map[string]*session.Session
	settings map[string]settingRow
	audit    []storage.AuditEntry

	// FailNext, when set, is returned by the next repository call and
	// cleared. Tests use it to simulate a backend outage.
	FailNext error
}

type settingRow struct {
	kind settings.Kind
	raw  string
}

func New() *Store {
	return &Store{
		users:    make(map[string]storage.AdminUser),
		byEmail:  make(map[string]string),
		tokens:   make(map[string]storage.OneTimeToken),
		codes:    make(map[string]storage.DeliveredCode),
		sessions: make(map[string]*session.Session),
		settings: make(map[string]settingRow),
	}
}

func (s *Store) lock() error {
	s.mu.Lock()
	if err := s.FailNext; err != nil {
		s.FailNext = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// --- users ---

func (s *Store) GetUserByEmail(_ context.Context, email string) (storage.AdminUser, error) {
	if err := s.lock(); err != nil {
		return storage.AdminUser{}, err
	}
	defer s.mu.Unlock()

	id, ok := s.byEmail[normalizeEmail(email)]
	if !ok {
		return storage.AdminUser{}, storage.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) GetUserByID(_ context.Context, id string) (storage.AdminUser, error) {
	if err := s.lock(); err != nil {
		return storage.AdminUser{}, err
	}
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.AdminUser{}, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) CreateUser(_ context.Context, u storage.AdminUser) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	email := normalizeEmail(u.Email)
	if _, exists := s.byEmail[email]; exists {
		return storage.ErrConflict
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if _, exists := s.users[u.ID]; exists {
		return storage.ErrConflict
	}
	u.Email = email
	s.users[u.ID] = cloneUser(u)
	s.byEmail[email] = u.ID
	return nil
}

// mutateUser applies fn to the stored user under the lock.
func (s *Store) mutateUser(id string, fn func(u *storage.AdminUser)) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	fn(&u)
	s.users[id] = u
	return nil
}

func (s *Store) IncrementFailedAttempts(_ context.Context, id string) (int, error) {
	var n int
	err := s.mutateUser(id, func(u *storage.AdminUser) {
		u.FailedAttempts++
		n = u.FailedAttempts
	})
	return n, err
}

func (s *Store) LockUser(_ context.Context, id string, until time.Time) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		if until.After(u.LockedUntil) {
			u.LockedUntil = until
		}
	})
}

func (s *Store) RecordLogin(_ context.Context, id string, at time.Time, ip string) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		u.FailedAttempts = 0
		u.LockedUntil = time.Time{}
		u.LastLoginAt = at
		u.LastLoginIP = ip
	})
}

func (s *Store) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return s.mutateUser(id, func(u *storage.AdminUser) { u.PasswordHash = hash })
}

func (s *Store) SetActive(_ context.Context, id string, active bool) error {
	return s.mutateUser(id, func(u *storage.AdminUser) { u.Active = active })
}

func (s *Store) SetTelegramChatID(_ context.Context, id, chatID string) error {
	return s.mutateUser(id, func(u *storage.AdminUser) { u.TelegramChatID = chatID })
}

func (s *Store) SetTwoFactor(_ context.Context, id string, state storage.TwoFactorState) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		state.RecoveryCodeHashes = append([]string(nil), state.RecoveryCodeHashes...)
		u.TwoFactor = state
		u.TOTPLastCounter = 0
	})
}

func (s *Store) ReplaceRecoveryCodes(_ context.Context, id string, hashes []string) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		u.TwoFactor.RecoveryCodeHashes = append([]string(nil), hashes...)
	})
}

func (s *Store) ConsumeRecoveryCode(_ context.Context, id, hash string) (bool, error) {
	var consumed bool
	err := s.mutateUser(id, func(u *storage.AdminUser) {
		kept := u.TwoFactor.RecoveryCodeHashes[:0:0]
		for _, h := range u.TwoFactor.RecoveryCodeHashes {
			if h == hash && !consumed {
				consumed = true
				continue
			}
			kept = append(kept, h)
		}
		u.TwoFactor.RecoveryCodeHashes = kept
	})
	return consumed, err
}

func (s *Store) AdvanceTOTPCounter(_ context.Context, id string, counter int64) (bool, error) {
	var advanced bool
	err := s.mutateUser(id, func(u *storage.AdminUser) {
		if counter > u.TOTPLastCounter {
			u.TOTPLastCounter = counter
			advanced = true
		}
	})
	return advanced, err
}

func (s *Store) IncrementRecoveryFailures(_ context.Context, id string) (int, error) {
	var n int
	err := s.mutateUser(id, func(u *storage.AdminUser) {
		u.RecoveryFailures++
		n = u.RecoveryFailures
	})
	return n, err
}

func (s *Store) LockRecovery(_ context.Context, id string, until time.Time) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		if until.After(u.RecoveryLockedUntil) {
			u.RecoveryLockedUntil = until
		}
	})
}

func (s *Store) ResetRecoveryFailures(_ context.Context, id string) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		u.RecoveryFailures = 0
		u.RecoveryLockedUntil = time.Time{}
	})
}

func (s *Store) FindMaster(_ context.Context) (storage.AdminUser, error) {
	if err := s.lock(); err != nil {
		return storage.AdminUser{}, err
	}
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Master {
			return cloneUser(u), nil
		}
	}
	return storage.AdminUser{}, storage.ErrNotFound
}

func (s *Store) PromoteToMaster(_ context.Context, id, tokenHash string, at time.Time) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Master {
			return false, nil
		}
	}
	u, ok := s.users[id]
	if !ok {
		return false, storage.ErrNotFound
	}
	u.Master = true
	u.MasterTokenHash = tokenHash
	u.MasterTokenGeneration++
	u.MasterTokenIssuedAt = at
	s.users[id] = u
	return true, nil
}

func (s *Store) SetMaster(_ context.Context, id string, master bool) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		u.Master = master
	})
}

func (s *Store) SetMasterTokenHash(_ context.Context, id, hash string, at time.Time) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		u.MasterTokenHash = hash
		u.MasterTokenGeneration++
		u.MasterTokenIssuedAt = at
	})
}

func (s *Store) SetSubTokenHash(_ context.Context, id, hash string, at time.Time) error {
	return s.mutateUser(id, func(u *storage.AdminUser) {
		u.SubTokenHash = hash
		u.SubTokenGeneration++
		u.SubTokenIssuedAt = at
	})
}

func (s *Store) ListUsersWithSubTokens(_ context.Context) ([]storage.AdminUser, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []storage.AdminUser
	for _, u := range s.users {
		if u.SubTokenHash != "" {
			out = append(out, cloneUser(u))
		}
	}
	return out, nil
}

func cloneUser(u storage.AdminUser) storage.AdminUser {
	u.TwoFactor.RecoveryCodeHashes = append([]string(nil), u.TwoFactor.RecoveryCodeHashes...)
	return u
}
