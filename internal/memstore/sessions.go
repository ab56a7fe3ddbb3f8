package memstore

import (
	"context"
	"time"

	"github.com/MrEthical07/panelauth/session"
)

func cloneSession(in *session.Session) *session.Session {
	out := *in
	if in.Payload.Flash != nil {
		out.Payload.Flash = make(map[string]string, len(in.Payload.Flash))
		for k, v := range in.Payload.Flash {
			out.Payload.Flash[k] = v
		}
	}
	return &out
}

func (s *Store) Insert(_ context.Context, sess *session.Session) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	s.sessions[sess.ID] = cloneSession(sess)
	return nil
}

func (s *Store) Get(_ context.Context, id string) (*session.Session, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return cloneSession(sess), nil
}

func (s *Store) ExtendIfUnchanged(_ context.Context, id string, expected, next time.Time) (bool, error) {
	if err := s.lock(); err != nil {
		return false, err
	}
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.Equal(expected) {
		return false, nil
	}
	sess.ExpiresAt = next
	sess.Payload.ExtensionCount++
	return true, nil
}

func (s *Store) Touch(_ context.Context, id string, at time.Time) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	if at.After(sess.LastActivity) {
		sess.LastActivity = at
	}
	return nil
}

func (s *Store) UpdatePayload(_ context.Context, id string, p session.Payload) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return session.ErrNotFound
	}
	count := sess.Payload.ExtensionCount
	sess.Payload = p
	sess.Payload.ExtensionCount = count
	return nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	if err := s.lock(); err != nil {
		return err
	}
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

func (s *Store) DeleteForUserExcept(_ context.Context, userID, keepID string) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.UserID == userID && id != keepID {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) ListForUser(_ context.Context, userID string) ([]*session.Session, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.UserID == userID {
			out = append(out, cloneSession(sess))
		}
	}
	return out, nil
}

func (s *Store) DeleteExpired(_ context.Context, before time.Time) (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	n := 0
	for id, sess := range s.sessions {
		if sess.ExpiresAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}
