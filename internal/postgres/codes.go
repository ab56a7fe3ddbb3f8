package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/MrEthical07/panelauth/storage"
)

// ReplaceCode serializes on the owner's row so concurrent sends for one
// user cannot both insert. delivered_codes_one_live backs this up.
func (s *Store) ReplaceCode(ctx context.Context, c storage.DeliveredCode) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, c.UserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE delivered_codes SET used_at = $3 WHERE user_id = $1 AND channel = $2 AND used_at IS NULL`,
			c.UserID, c.Channel, c.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO delivered_codes (id, user_id, channel, code_hash, created_at, expires_at, used_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.UserID, c.Channel, c.CodeHash, c.CreatedAt, c.ExpiresAt, nullTime(c.UsedAt),
		)
		return err
	})
	return mapError(err)
}

func (s *Store) ActiveCodes(ctx context.Context, userID, channel string, now time.Time) ([]storage.DeliveredCode, error) {
	query := `
		SELECT id, user_id, channel, code_hash, created_at, expires_at, used_at
		FROM delivered_codes
		WHERE user_id = $1 AND channel = $2 AND used_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC`
	rows, err := s.db.Query(ctx, query, userID, channel, now)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []storage.DeliveredCode
	for rows.Next() {
		var (
			c      storage.DeliveredCode
			usedAt pgtype.Timestamptz
		)
		if err := rows.Scan(&c.ID, &c.UserID, &c.Channel, &c.CodeHash, &c.CreatedAt, &c.ExpiresAt, &usedAt); err != nil {
			return nil, mapError(err)
		}
		c.UsedAt = timeOf(usedAt)
		out = append(out, c)
	}
	return out, mapError(rows.Err())
}

func (s *Store) MarkCodeUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, `UPDATE delivered_codes SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) DeleteStaleCodes(ctx context.Context, userID string, now time.Time) (int, error) {
	query := `DELETE FROM delivered_codes WHERE user_id = $1 AND (used_at IS NOT NULL OR expires_at <= $2)`
	tag, err := s.db.Exec(ctx, query, userID, now)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteExpiredCodes(ctx context.Context, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM delivered_codes WHERE expires_at < $1`, before)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}
