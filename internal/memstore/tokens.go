package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/storage"
)

func (s *Store) InsertToken(_ context.Context, t storage.OneTimeToken) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := s.tokens[t.ID]; exists {
		return storage.ErrConflict
	}
	s.tokens[t.ID] = t
	return nil
}

func (s *Store) ListActiveTokens(_ context.Context, kind storage.TokenKind, userID string, now time.Time, limit int) ([]storage.OneTimeToken, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []storage.OneTimeToken
	for _, t := range s.tokens {
		if t.Kind != kind || !t.Active(now) {
			continue
		}
		if userID != "" && t.UserID != userID {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkTokenUsed(_ context.Context, id string, at time.Time, ip, userAgent string) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok || !t.Active(at) {
		return false, nil
	}
	t.UsedAt = at
	t.UsedIP = ip
	t.UsedAgent = userAgent
	s.tokens[id] = t
	return true, nil
}

func (s *Store) MarkTokenDelivered(_ context.Context, id string, at time.Time) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return storage.ErrNotFound
	}
	t.DeliveredAt = at
	s.tokens[id] = t
	return nil
}

func (s *Store) RevokeActiveTokens(_ context.Context, kind storage.TokenKind, userID string, at time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tokens {
		if t.Kind == kind && t.UserID == userID && t.UsedAt.IsZero() && t.RevokedAt.IsZero() {
			t.RevokedAt = at
			s.tokens[id] = t
			n++
		}
	}
	return n, nil
}

func (s *Store) ReplaceActiveToken(_ context.Context, t storage.OneTimeToken) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, exists := s.tokens[t.ID]; exists {
		return storage.ErrConflict
	}
	for id, old := range s.tokens {
		if old.Kind == t.Kind && old.UserID == t.UserID && old.UsedAt.IsZero() && old.RevokedAt.IsZero() {
			old.RevokedAt = t.CreatedAt
			s.tokens[id] = old
		}
	}
	s.tokens[t.ID] = t
	return nil
}

func (s *Store) DeleteExpiredTokens(_ context.Context, kind storage.TokenKind, before time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for id, t := range s.tokens {
		if t.Kind == kind && t.ExpiresAt.Before(before) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// Tokens returns every stored token of kind, for assertions in tests.
func (s *Store) Tokens(kind storage.TokenKind) []storage.OneTimeToken {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []storage.OneTimeToken
	for _, t := range s.tokens {
		if t.Kind == kind {
			out = append(out, t)
		}
	}
	return out
}
