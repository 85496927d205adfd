package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/tokencore/internal/store/core"
)

func (s *Store) CreateClient(ctx context.Context, c *core.OAuthClient) error {
	const q = `
		INSERT INTO oauth_clients
		    (id, client_id, client_secret_hash, name, description, redirect_uris,
		     is_confidential, is_active, tenant_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4, NULLIF($5,''), $6, $7, $8, $9, $10, $11)`
	_, err := s.pool.Exec(ctx, q,
		c.ID, c.ClientID, c.ClientSecretHash, c.Name, c.Description, c.RedirectURIs,
		c.IsConfidential, c.IsActive, c.TenantID, c.CreatedAt, c.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return core.ErrConflict
	}
	return err
}

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*core.OAuthClient, error) {
	const q = `
		SELECT id, client_id, client_secret_hash, name, COALESCE(description,''),
		       redirect_uris, is_confidential, is_active, tenant_id, created_at, updated_at
		FROM oauth_clients WHERE client_id = $1`
	var c core.OAuthClient
	err := s.pool.QueryRow(ctx, q, clientID).Scan(
		&c.ID, &c.ClientID, &c.ClientSecretHash, &c.Name, &c.Description,
		&c.RedirectURIs, &c.IsConfidential, &c.IsActive, &c.TenantID, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateClient(ctx context.Context, c *core.OAuthClient) error {
	const q = `
		UPDATE oauth_clients
		   SET client_secret_hash = $2, name = $3, description = NULLIF($4,''),
		       redirect_uris = $5, is_confidential = $6, is_active = $7, updated_at = $8
		 WHERE id = $1`
	ct, err := s.pool.Exec(ctx, q,
		c.ID, c.ClientSecretHash, c.Name, c.Description,
		c.RedirectURIs, c.IsConfidential, c.IsActive, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return core.ErrNotFound
	}
	return nil
}
