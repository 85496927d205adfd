package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/tokencore/internal/store/core"
)

func (s *Store) CreateRefreshToken(ctx context.Context, t *core.RefreshToken) error {
	const q = `
		INSERT INTO refresh_tokens
		    (id, user_id, tenant_id, encrypted_token, token_hash, expires_at,
		     is_revoked, ip_address, user_agent, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, FALSE, NULLIF($7,'')::inet, NULLIF($8,''), $9)`
	_, err := s.pool.Exec(ctx, q,
		t.ID, t.UserID, t.TenantID, t.EncryptedToken, t.TokenHash, t.ExpiresAt,
		t.IPAddress, t.UserAgent, t.CreatedAt,
	)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

const refreshColumns = `
		SELECT id, user_id, tenant_id, encrypted_token, token_hash, expires_at,
		       is_revoked, revoked_at, used_at,
		       COALESCE(ip_address::text,''), COALESCE(user_agent,''), created_at
		FROM refresh_tokens`

func (s *Store) scanRefresh(row pgx.Row) (*core.RefreshToken, error) {
	var t core.RefreshToken
	err := row.Scan(
		&t.ID, &t.UserID, &t.TenantID, &t.EncryptedToken, &t.TokenHash, &t.ExpiresAt,
		&t.IsRevoked, &t.RevokedAt, &t.UsedAt, &t.IPAddress, &t.UserAgent, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	return s.scanRefresh(s.pool.QueryRow(ctx, refreshColumns+` WHERE token_hash = $1`, tokenHash))
}

func (s *Store) GetRefreshTokenByHashAndUser(ctx context.Context, tokenHash, userID string) (*core.RefreshToken, error) {
	return s.scanRefresh(s.pool.QueryRow(ctx, refreshColumns+` WHERE token_hash = $1 AND user_id = $2`, tokenHash, userID))
}

// TouchRefreshTokenUsed: sólo audit, last-writer-wins está bien.
func (s *Store) TouchRefreshTokenUsed(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE refresh_tokens SET used_at = $2 WHERE id = $1`, id, at)
	return err
}

// RevokeRefreshToken: condicional sobre is_revoked para que la revocación sea
// monotónica; false = ya estaba revocado.
func (s *Store) RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `
		UPDATE refresh_tokens
		   SET is_revoked = TRUE, revoked_at = $2
		 WHERE id = $1 AND is_revoked = FALSE`
	ct, err := s.pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID, tenantID string, at time.Time) (int64, error) {
	const q = `
		UPDATE refresh_tokens
		   SET is_revoked = TRUE, revoked_at = $3
		 WHERE user_id = $1 AND tenant_id = $2 AND is_revoked = FALSE`
	ct, err := s.pool.Exec(ctx, q, userID, tenantID, at)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM refresh_tokens WHERE expires_at < $1`
	ct, err := s.pool.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
