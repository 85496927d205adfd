package pg

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/dropDatabas3/tokencore/internal/store/core"
)

// GetTenantSetting lee una key de settings por tenant. Este core no escribe
// tenant_settings; la administración vive en el control plane.
func (s *Store) GetTenantSetting(ctx context.Context, tenantID, key string) (string, error) {
	const q = `SELECT value FROM tenant_settings WHERE tenant_id = $1 AND key = $2`
	var v string
	err := s.pool.QueryRow(ctx, q, tenantID, key).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", core.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}
