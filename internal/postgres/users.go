package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/MrEthical07/panelauth/storage"
)

const userColumns = `
	id, email, password_hash, is_active, is_master,
	failed_attempts, locked_until,
	two_factor_enabled, two_factor_method, two_factor_secret, recovery_code_hashes, totp_last_counter,
	recovery_failures, recovery_locked_until,
	master_token_hash, master_token_generation, master_token_issued_at,
	sub_token_hash, sub_token_generation, sub_token_issued_at,
	telegram_chat_id, last_login_at, last_login_ip, created_at`

func scanUser(row pgx.Row) (storage.AdminUser, error) {
	var (
		u                                        storage.AdminUser
		lockedUntil, recoveryLockedUntil         pgtype.Timestamptz
		masterIssuedAt, subIssuedAt, lastLoginAt pgtype.Timestamptz
	)
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Active, &u.Master,
		&u.FailedAttempts, &lockedUntil,
		&u.TwoFactor.Enabled, &u.TwoFactor.Method, &u.TwoFactor.Secret, &u.TwoFactor.RecoveryCodeHashes, &u.TOTPLastCounter,
		&u.RecoveryFailures, &recoveryLockedUntil,
		&u.MasterTokenHash, &u.MasterTokenGeneration, &masterIssuedAt,
		&u.SubTokenHash, &u.SubTokenGeneration, &subIssuedAt,
		&u.TelegramChatID, &lastLoginAt, &u.LastLoginIP, &u.CreatedAt,
	)
	if err != nil {
		return storage.AdminUser{}, mapError(err)
	}
	u.LockedUntil = timeOf(lockedUntil)
	u.RecoveryLockedUntil = timeOf(recoveryLockedUntil)
	u.MasterTokenIssuedAt = timeOf(masterIssuedAt)
	u.SubTokenIssuedAt = timeOf(subIssuedAt)
	u.LastLoginAt = timeOf(lastLoginAt)
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (storage.AdminUser, error) {
	query := `SELECT ` + userColumns + ` FROM admin_users WHERE email = $1`
	return scanUser(s.db.QueryRow(ctx, query, strings.ToLower(strings.TrimSpace(email))))
}

func (s *Store) GetUserByID(ctx context.Context, id string) (storage.AdminUser, error) {
	query := `SELECT ` + userColumns + ` FROM admin_users WHERE id = $1`
	return scanUser(s.db.QueryRow(ctx, query, id))
}

func (s *Store) CreateUser(ctx context.Context, u storage.AdminUser) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	hashes := u.TwoFactor.RecoveryCodeHashes
	if hashes == nil {
		hashes = []string{}
	}

	query := `
		INSERT INTO admin_users (
			id, email, password_hash, is_active, is_master,
			two_factor_enabled, two_factor_method, two_factor_secret, recovery_code_hashes,
			telegram_chat_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := s.db.Exec(ctx, query,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.PasswordHash, u.Active, u.Master,
		u.TwoFactor.Enabled, u.TwoFactor.Method, u.TwoFactor.Secret, hashes,
		u.TelegramChatID, u.CreatedAt,
	)
	return mapError(err)
}

func (s *Store) IncrementFailedAttempts(ctx context.Context, id string) (int, error) {
	var n int
	query := `UPDATE admin_users SET failed_attempts = failed_attempts + 1 WHERE id = $1 RETURNING failed_attempts`
	if err := s.db.QueryRow(ctx, query, id).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// LockUser relies on GREATEST ignoring NULL, so an absent lock is replaced
// and a longer one is kept.
func (s *Store) LockUser(ctx context.Context, id string, until time.Time) error {
	query := `UPDATE admin_users SET locked_until = GREATEST(locked_until, $2) WHERE id = $1`
	return s.execOne(ctx, storage.ErrNotFound, query, id, until)
}

func (s *Store) RecordLogin(ctx context.Context, id string, at time.Time, ip string) error {
	query := `
		UPDATE admin_users
		SET failed_attempts = 0, locked_until = NULL, last_login_at = $2, last_login_ip = $3
		WHERE id = $1`
	return s.execOne(ctx, storage.ErrNotFound, query, id, at, ip)
}

func (s *Store) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return s.execOne(ctx, storage.ErrNotFound, `UPDATE admin_users SET password_hash = $2 WHERE id = $1`, id, hash)
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	return s.execOne(ctx, storage.ErrNotFound, `UPDATE admin_users SET is_active = $2 WHERE id = $1`, id, active)
}

func (s *Store) SetTelegramChatID(ctx context.Context, id, chatID string) error {
	return s.execOne(ctx, storage.ErrNotFound, `UPDATE admin_users SET telegram_chat_id = $2 WHERE id = $1`, id, chatID)
}

// SetTwoFactor also resets the TOTP replay counter, since a new secret
// starts a new step sequence.
func (s *Store) SetTwoFactor(ctx context.Context, id string, state storage.TwoFactorState) error {
	hashes := state.RecoveryCodeHashes
	if hashes == nil {
		hashes = []string{}
	}
	query := `
		UPDATE admin_users
		SET two_factor_enabled = $2, two_factor_method = $3, two_factor_secret = $4,
		    recovery_code_hashes = $5, totp_last_counter = 0
		WHERE id = $1`
	return s.execOne(ctx, storage.ErrNotFound, query, id, state.Enabled, state.Method, state.Secret, hashes)
}

func (s *Store) ReplaceRecoveryCodes(ctx context.Context, id string, hashes []string) error {
	if hashes == nil {
		hashes = []string{}
	}
	return s.execOne(ctx, storage.ErrNotFound, `UPDATE admin_users SET recovery_code_hashes = $2 WHERE id = $1`, id, hashes)
}

func (s *Store) ConsumeRecoveryCode(ctx context.Context, id, hash string) (bool, error) {
	query := `
		UPDATE admin_users
		SET recovery_code_hashes = array_remove(recovery_code_hashes, $2)
		WHERE id = $1 AND $2 = ANY(recovery_code_hashes)`
	tag, err := s.db.Exec(ctx, query, id, hash)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) AdvanceTOTPCounter(ctx context.Context, id string, counter int64) (bool, error) {
	query := `UPDATE admin_users SET totp_last_counter = $2 WHERE id = $1 AND totp_last_counter < $2`
	tag, err := s.db.Exec(ctx, query, id, counter)
	if err != nil {
		return false, mapError(err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) IncrementRecoveryFailures(ctx context.Context, id string) (int, error) {
	var n int
	query := `UPDATE admin_users SET recovery_failures = recovery_failures + 1 WHERE id = $1 RETURNING recovery_failures`
	if err := s.db.QueryRow(ctx, query, id).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

func (s *Store) LockRecovery(ctx context.Context, id string, until time.Time) error {
	query := `UPDATE admin_users SET recovery_locked_until = GREATEST(recovery_locked_until, $2) WHERE id = $1`
	return s.execOne(ctx, storage.ErrNotFound, query, id, until)
}

func (s *Store) ResetRecoveryFailures(ctx context.Context, id string) error {
	query := `UPDATE admin_users SET recovery_failures = 0, recovery_locked_until = NULL WHERE id = $1`
	return s.execOne(ctx, storage.ErrNotFound, query, id)
}

func (s *Store) FindMaster(ctx context.Context) (storage.AdminUser, error) {
	query := `SELECT ` + userColumns + ` FROM admin_users WHERE is_master`
	return scanUser(s.db.QueryRow(ctx, query))
}

// PromoteToMaster is guarded twice: the NOT EXISTS clause covers the
// common case and the admin_users_single_master index rejects a racing
// promotion, which is reported as not promoted.
func (s *Store) PromoteToMaster(ctx context.Context, id, tokenHash string, at time.Time) (bool, error) {
	query := `
		UPDATE admin_users
		SET is_master = TRUE,
		    master_token_hash = $2,
		    master_token_generation = master_token_generation + 1,
		    master_token_issued_at = $3
		WHERE id = $1 AND NOT EXISTS (SELECT 1 FROM admin_users WHERE is_master)`
	tag, err := s.db.Exec(ctx, query, id, tokenHash, at)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, mapError(err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM admin_users WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, mapError(err)
	}
	if !exists {
		return false, storage.ErrNotFound
	}
	return false, nil
}

func (s *Store) SetMaster(ctx context.Context, id string, master bool) error {
	return s.execOne(ctx, storage.ErrNotFound, `UPDATE admin_users SET is_master = $2 WHERE id = $1`, id, master)
}

func (s *Store) SetMasterTokenHash(ctx context.Context, id, hash string, at time.Time) error {
	query := `
		UPDATE admin_users
		SET master_token_hash = $2,
		    master_token_generation = master_token_generation + 1,
		    master_token_issued_at = $3
		WHERE id = $1`
	return s.execOne(ctx, storage.ErrNotFound, query, id, hash, at)
}

func (s *Store) SetSubTokenHash(ctx context.Context, id, hash string, at time.Time) error {
	query := `
		UPDATE admin_users
		SET sub_token_hash = $2,
		    sub_token_generation = sub_token_generation + 1,
		    sub_token_issued_at = $3
		WHERE id = $1`
	return s.execOne(ctx, storage.ErrNotFound, query, id, hash, at)
}

func (s *Store) ListUsersWithSubTokens(ctx context.Context) ([]storage.AdminUser, error) {
	query := `SELECT ` + userColumns + ` FROM admin_users WHERE sub_token_hash <> '' ORDER BY created_at`
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []storage.AdminUser
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, mapError(rows.Err())
}
