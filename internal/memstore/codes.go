package memstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/storage"
)

func (s *Store) ReplaceCode(_ context.Context, c storage.DeliveredCode) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	for id, old := range s.codes {
		if old.UserID == c.UserID && old.Channel == c.Channel && old.UsedAt.IsZero() {
			old.UsedAt = c.CreatedAt
			s.codes[id] = old
		}
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	s.codes[c.ID] = c
	return nil
}

func (s *Store) ActiveCodes(_ context.Context, userID, channel string, now time.Time) ([]storage.DeliveredCode, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []storage.DeliveredCode
	for _, c := range s.codes {
		if c.UserID == userID && c.Channel == channel && c.UsedAt.IsZero() && now.Before(c.ExpiresAt) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) MarkCodeUsed(_ context.Context, id string, at time.Time) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	c, ok := s.codes[id]
	if !ok || !c.UsedAt.IsZero() {
		return false, nil
	}
	c.UsedAt = at
	s.codes[id] = c
	return true, nil
}

func (s *Store) DeleteStaleCodes(_ context.Context, userID string, now time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for id, c := range s.codes {
		if c.UserID == userID && (!c.UsedAt.IsZero() || !now.Before(c.ExpiresAt)) {
			delete(s.codes, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredCodes(_ context.Context, before time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for id, c := range s.codes {
		if c.ExpiresAt.Before(before) {
			delete(s.codes, id)
			n++
		}
	}
	return n, nil
}

// Codes returns every stored code, for assertions in tests.
func (s *Store) Codes() []storage.DeliveredCode {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]storage.DeliveredCode, 0, len(s.codes))
	for _, c := range s.codes {
		out = append(out, c)
	}
	return out
}
