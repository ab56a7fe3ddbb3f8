package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/MrEthical07/panelauth/settings"
)

func (s *Store) LoadSetting(ctx context.Context, key string) (settings.Kind, string, error) {
	var (
		kind int16
		raw  string
	)
	err := s.db.QueryRow(ctx, `SELECT kind, raw FROM panel_settings WHERE key = $1`, key).Scan(&kind, &raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return settings.KindInvalid, "", settings.ErrNotFound
		}
		return settings.KindInvalid, "", mapError(err)
	}
	return settings.Kind(kind), raw, nil
}

func (s *Store) SaveSetting(ctx context.Context, key string, kind settings.Kind, raw string) error {
	query := `
		INSERT INTO panel_settings (key, kind, raw) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET kind = EXCLUDED.kind, raw = EXCLUDED.raw`
	_, err := s.db.Exec(ctx, query, key, int16(kind), raw)
	return mapError(err)
}

// SaveSettingIfAbsent uses a no-op update on conflict so RETURNING yields
// the stored row whether or not this call inserted it.
func (s *Store) SaveSettingIfAbsent(ctx context.Context, key string, kind settings.Kind, raw string) (settings.Kind, string, error) {
	query := `
		INSERT INTO panel_settings (key, kind, raw) VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET key = panel_settings.key
		RETURNING kind, raw`
	var (
		storedKind int16
		storedRaw  string
	)
	if err := s.db.QueryRow(ctx, query, key, int16(kind), raw).Scan(&storedKind, &storedRaw); err != nil {
		return settings.KindInvalid, "", mapError(err)
	}
	return settings.Kind(storedKind), storedRaw, nil
}
