package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/tokencore/internal/store/core"
)

func (s *Store) CreateMFAToken(ctx context.Context, t *core.MFAChallengeToken) error {
	const q = `
		INSERT INTO mfa_challenge_tokens
		    (id, user_id, tenant_id, encrypted_token, token_hash, expires_at,
		     is_used, ip_address, user_agent, created_at)
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

func (s *Store) GetMFATokenByHash(ctx context.Context, tokenHash string) (*core.MFAChallengeToken, error) {
	const q = `
		SELECT id, user_id, tenant_id, encrypted_token, token_hash, expires_at,
		       is_used, used_at,
		       COALESCE(ip_address::text,''), COALESCE(user_agent,''), created_at
		FROM mfa_challenge_tokens WHERE token_hash = $1`
	var t core.MFAChallengeToken
	err := s.pool.QueryRow(ctx, q, tokenHash).Scan(
		&t.ID, &t.UserID, &t.TenantID, &t.EncryptedToken, &t.TokenHash, &t.ExpiresAt,
		&t.IsUsed, &t.UsedAt, &t.IPAddress, &t.UserAgent, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ConsumeMFAToken: mismo UPDATE condicional que authorization codes.
func (s *Store) ConsumeMFAToken(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `
		UPDATE mfa_challenge_tokens
		   SET is_used = TRUE, used_at = $2
		 WHERE id = $1 AND is_used = FALSE`
	ct, err := s.pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) DeleteExpiredMFATokens(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM mfa_challenge_tokens WHERE expires_at < $1 OR is_used = TRUE`
	ct, err := s.pool.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}
