package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/MrEthical07/panelauth/storage"
)

const tokenColumns = `
	id, kind, user_id, token_hash, label, channel, created_at, expires_at,
	delivered_at, used_at, revoked_at, used_ip, used_agent`

func scanToken(row pgx.Row) (storage.OneTimeToken, error) {
	var (
		t                              storage.OneTimeToken
		kind                           string
		deliveredAt, usedAt, revokedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&t.ID, &kind, &t.UserID, &t.Hash, &t.Label, &t.Channel, &t.CreatedAt, &t.ExpiresAt,
		&deliveredAt, &usedAt, &revokedAt, &t.UsedIP, &t.UsedAgent,
	)
	if err != nil {
		return storage.OneTimeToken{}, mapError(err)
	}
	t.Kind = storage.TokenKind(kind)
	t.DeliveredAt = timeOf(deliveredAt)
	t.UsedAt = timeOf(usedAt)
	t.RevokedAt = timeOf(revokedAt)
	return t, nil
}

func (s *Store) InsertToken(ctx context.Context, t storage.OneTimeToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	query := `
		INSERT INTO one_time_tokens (` + tokenColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := s.db.Exec(ctx, query,
		t.ID, string(t.Kind), t.UserID, t.Hash, t.Label, t.Channel, t.CreatedAt, t.ExpiresAt,
		nullTime(t.DeliveredAt), nullTime(t.UsedAt), nullTime(t.RevokedAt), t.UsedIP, t.UsedAgent,
	)
	return mapError(err)
}

// ListActiveTokens passes LIMIT NULL when limit <= 0, which Postgres reads
// as no limit.
func (s *Store) ListActiveTokens(ctx context.Context, kind storage.TokenKind, userID string, now time.Time, limit int) ([]storage.OneTimeToken, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	query := `
		SELECT ` + tokenColumns + `
		FROM one_time_tokens
		WHERE kind = $1
		  AND ($2::text = '' OR user_id = $2)
		  AND used_at IS NULL AND revoked_at IS NULL AND expires_at > $3
		ORDER BY created_at DESC
		LIMIT $4`
	rows, err := s.db.Query(ctx, query, string(kind), userID, now, lim)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []storage.OneTimeToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, mapError(rows.Err())
}

func (s *Store) MarkTokenUsed(ctx context.Context, id string, at time.Time, ip, userAgent string) (bool, error) {
	query := `
		UPDATE one_time_tokens
		SET used_at = $2, used_ip = $3, used_agent = $4
		WHERE id = $1 AND used_at IS NULL AND revoked_at IS NULL AND expires_at > $2`
	tag, err := s.db.Exec(ctx, query, id, at, ip, userAgent)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) MarkTokenDelivered(ctx context.Context, id string, at time.Time) error {
	return s.execOne(ctx, storage.ErrNotFound, `UPDATE one_time_tokens SET delivered_at = $2 WHERE id = $1`, id, at)
}

func (s *Store) RevokeActiveTokens(ctx context.Context, kind storage.TokenKind, userID string, at time.Time) (int, error) {
	query := `
		UPDATE one_time_tokens
		SET revoked_at = $3
		WHERE kind = $1 AND user_id = $2 AND used_at IS NULL AND revoked_at IS NULL`
	tag, err := s.db.Exec(ctx, query, string(kind), userID, at)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}

// ReplaceActiveToken locks the owner's row for the revoke and insert, so
// concurrent issuances for one user leave a single live token.
func (s *Store) ReplaceActiveToken(ctx context.Context, t storage.OneTimeToken) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	err := pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		if err := lockUser(ctx, tx, t.UserID); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE one_time_tokens
			SET revoked_at = $3
			WHERE kind = $1 AND user_id = $2 AND used_at IS NULL AND revoked_at IS NULL`,
			string(t.Kind), t.UserID, t.CreatedAt,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO one_time_tokens (`+tokenColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			t.ID, string(t.Kind), t.UserID, t.Hash, t.Label, t.Channel, t.CreatedAt, t.ExpiresAt,
			nullTime(t.DeliveredAt), nullTime(t.UsedAt), nullTime(t.RevokedAt), t.UsedIP, t.UsedAgent,
		)
		return err
	})
	return mapError(err)
}

func (s *Store) DeleteExpiredTokens(ctx context.Context, kind storage.TokenKind, before time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM one_time_tokens WHERE kind = $1 AND expires_at < $2`, string(kind), before)
	if err != nil {
		return 0, mapError(err)
	}
	return int(tag.RowsAffected()), nil
}
