package pg

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropDatabas3/tokencore/internal/store/core"
)

func (s *Store) CreateAuthCode(ctx context.Context, c *core.AuthorizationCode) error {
	const q = `
		INSERT INTO authorization_codes
		    (id, code, user_id, tenant_id, client_id, redirect_uri, scope, state,
		     code_challenge, code_challenge_method, expires_at, is_used, created_at)
		VALUES ($1,$2,$3,$4,$5,$6, NULLIF($7,''), NULLIF($8,''),
		        NULLIF($9,''), NULLIF($10,''), $11, FALSE, $12)`
	_, err := s.pool.Exec(ctx, q,
		c.ID, c.Code, c.UserID, c.TenantID, c.ClientID, c.RedirectURI, c.Scope, c.State,
		c.CodeChallenge, c.CodeChallengeMethod, c.ExpiresAt, c.CreatedAt,
	)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (s *Store) GetAuthCodeByCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	const q = `
		SELECT id, code, user_id, tenant_id, client_id, redirect_uri,
		       COALESCE(scope,''), COALESCE(state,''),
		       COALESCE(code_challenge,''), COALESCE(code_challenge_method,''),
		       expires_at, is_used, used_at, created_at
		FROM authorization_codes WHERE code = $1`
	var c core.AuthorizationCode
	err := s.pool.QueryRow(ctx, q, code).Scan(
		&c.ID, &c.Code, &c.UserID, &c.TenantID, &c.ClientID, &c.RedirectURI,
		&c.Scope, &c.State, &c.CodeChallenge, &c.CodeChallengeMethod,
		&c.ExpiresAt, &c.IsUsed, &c.UsedAt, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ConsumeAuthCode: UPDATE condicional: exactamente un request puede ganar.
// RowsAffected()==0 significa que otro llegó primero (o ya estaba usado).
func (s *Store) ConsumeAuthCode(ctx context.Context, id string, at time.Time) (bool, error) {
	const q = `
		UPDATE authorization_codes
		   SET is_used = TRUE, used_at = $2
		 WHERE id = $1 AND is_used = FALSE`
	ct, err := s.pool.Exec(ctx, q, id, at)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	const q = `DELETE FROM authorization_codes WHERE expires_at < $1 OR is_used = TRUE`
	ct, err := s.pool.Exec(ctx, q, before)
	if err != nil {
		return 0, err
	}
	return ct.RowsAffected(), nil
}

// isUniqueViolation detecta 23505 (unique_violation) de Postgres.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
