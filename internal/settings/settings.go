// Package settings resuelve configuración por tenant que este core lee pero
// no administra (la escribe el control plane).
package settings

import (
	"context"
	"errors"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/store/core"
)

// KeyRefreshTokenExpirationDays es la key persistida por tenant.
// Valor: entero en string, rango [1,365].
const KeyRefreshTokenExpirationDays = "RefreshToken.ExpirationDays"

const (
	// DefaultRefreshDays aplica cuando la setting falta o es inválida.
	DefaultRefreshDays = 30
	minRefreshDays     = 1
	maxRefreshDays     = 365

	cacheTTL = time.Minute
)

// Resolver lee settings por tenant con cache corto y singleflight para
// colapsar lookups concurrentes del mismo tenant.
type Resolver struct {
	repo  core.SettingsRepository
	cache cache.Client
	sf    singleflight.Group
}

func NewResolver(repo core.SettingsRepository, c cache.Client) *Resolver {
	return &Resolver{repo: repo, cache: c}
}

// RefreshTokenLifetime devuelve la vida útil de refresh tokens del tenant.
// Setting ausente, no numérica o fuera de rango cae al default documentado.
func (r *Resolver) RefreshTokenLifetime(ctx context.Context, tenantID string) time.Duration {
	days := DefaultRefreshDays

	raw, err := r.get(ctx, tenantID, KeyRefreshTokenExpirationDays)
	if err == nil {
		if n, perr := strconv.Atoi(raw); perr == nil && n >= minRefreshDays && n <= maxRefreshDays {
			days = n
		} else {
			logger.From(ctx).Warn("tenant_setting_invalid",
				logger.TenantID(tenantID),
				logger.Reason("out of range or not an integer: "+raw))
		}
	} else if !errors.Is(err, core.ErrNotFound) {
		logger.From(ctx).Warn("tenant_setting_lookup_failed", logger.TenantID(tenantID))
	}

	return time.Duration(days) * 24 * time.Hour
}

func (r *Resolver) get(ctx context.Context, tenantID, key string) (string, error) {
	ck := "settings:" + tenantID + ":" + key
	if r.cache != nil {
		if v, err := r.cache.Get(ctx, ck); err == nil {
			return v, nil
		}
	}

	v, err, _ := r.sf.Do(ck, func() (any, error) {
		return r.repo.GetTenantSetting(ctx, tenantID, key)
	})
	if err != nil {
		return "", err
	}
	s := v.(string)
	if r.cache != nil {
		_ = r.cache.Set(ctx, ck, s, cacheTTL)
	}
	return s, nil
}
