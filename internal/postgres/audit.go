package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MrEthical07/panelauth/storage"
)

// Log appends e. The audit_log table rejects updates and deletes.
func (s *Store) Log(ctx context.Context, e storage.AuditEntry) (string, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	var metadata []byte
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return "", fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = raw
	}

	query := `
		INSERT INTO audit_log (id, ts, action, user_id, ip, user_agent, success, error, critical, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := s.db.Exec(ctx, query,
		e.ID, e.Timestamp, e.Action, e.UserID, e.IP, e.UserAgent, e.Success, e.Error, e.Critical, metadata,
	); err != nil {
		return "", mapError(err)
	}
	return e.ID, nil
}

// RecentAudit returns the newest entries, optionally for one user.
func (s *Store) RecentAudit(ctx context.Context, userID string, limit int) ([]storage.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, ts, action, user_id, ip, user_agent, success, error, critical, metadata
		FROM audit_log
		WHERE ($1::text = '' OR user_id = $1)
		ORDER BY ts DESC
		LIMIT $2`
	rows, err := s.db.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []storage.AuditEntry
	for rows.Next() {
		var (
			e        storage.AuditEntry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.Action, &e.UserID, &e.IP, &e.UserAgent,
			&e.Success, &e.Error, &e.Critical, &metadata); err != nil {
			return nil, mapError(err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
				return nil, fmt.Errorf("decode audit metadata: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, mapError(rows.Err())
}
