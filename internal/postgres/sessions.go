package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/panelauth/session"
)

// The extension counter lives in its own column so UpdatePayload, which
// rewrites the JSON blob, cannot roll it back.

const sessionColumns = `id, user_id, ip, user_agent, payload, extension_count, created_at, last_activity, expires_at`

func encodePayload(p session.Payload) ([]byte, error) {
	p.ExtensionCount = 0
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}
	return raw, nil
}

func scanSession(row pgx.Row) (*session.Session, error) {
	var (
		sess  session.Session
		raw   []byte
		count int
	)
	err := row.Scan(&sess.ID, &sess.UserID, &sess.IP, &sess.UserAgent, &raw, &count,
		&sess.CreatedAt, &sess.LastActivity, &sess.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, session.ErrNotFound
		}
		return nil, mapError(err)
	}
	if err := json.Unmarshal(raw, &sess.Payload); err != nil {
		return nil, fmt.Errorf("decode session payload: %w", err)
	}
	sess.Payload.ExtensionCount = count
	return &sess, nil
}

func (s *Store) Insert(ctx context.Context, sess *session.Session) error {
	raw, err := encodePayload(sess.Payload)
	if err != nil {
		return err
	}
	query := `INSERT INTO admin_sessions (` + sessionColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	_, err = s.db.Exec(ctx, query,
		sess.ID, sess.UserID, sess.IP, sess.UserAgent, raw, sess.Payload.ExtensionCount,
		sess.CreatedAt, sess.LastActivity, sess.ExpiresAt,
	)
	return mapError(err)
}

func (s *Store) Get(ctx context.Context, id string) (*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM admin_sessions WHERE id = $1`
	return scanSession(s.db.QueryRow(ctx, query, id))
}

func (s *Store) ExtendIfUnchanged(ctx context.Context, id string, expected, next time.Time) (bool, error) {
	query := `
		UPDATE admin_sessions
		SET expires_at = $3, extension_count = extension_count + 1
		WHERE id = $1 AND expires_at = $2`
	tag, err := s.db.Exec(ctx, query, id, expected, next)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE admin_sessions SET last_activity = GREATEST(last_activity, $2) WHERE id = $1`
	return s.execOne(ctx, session.ErrNotFound, query, id, at)
}

func (s *Store) UpdatePayload(ctx context.Context, id string, p session.Payload) error {
	raw, err := encodePayload(p)
	if err != nil {
		return err
	}
	return s.execOne(ctx, session.ErrNotFound, `UPDATE admin_sessions SET payload = $2 WHERE id = $1`, id, raw)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM admin_sessions WHERE id = $1`, id)
	return mapError(err)
}

func (s *Store) DeleteForUserExcept(ctx context.Context, userID, keepID string) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM admin_sessions WHERE user_id = $1 AND id <> $2`, userID, keepID)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) ListForUser(ctx context.Context, userID string) ([]*session.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM admin_sessions WHERE user_id = $1 ORDER BY created_at`
	rows, err := s.db.Query(ctx, query, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err)
	}
	return out, nil
}

func (s *Store) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM admin_sessions WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}
