// Package clients administra registros de clientes OAuth (confidenciales y
// públicos). Los secrets nunca se guardan en claro: sólo el hash salteado.
package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/security/password"
	"github.com/dropDatabas3/tokencore/internal/store/core"
)

const cacheTTL = 5 * time.Minute

// Registry opera sobre el repo con un cache de lectura adelante.
// Toda escritura invalida la key ANTES de confirmar la operación.
type Registry struct {
	repo   core.ClientRepository
	hasher password.Hasher
	cache  cache.Client
}

func NewRegistry(repo core.ClientRepository, hasher password.Hasher, c cache.Client) *Registry {
	return &Registry{repo: repo, hasher: hasher, cache: c}
}

// CreateParams para registrar un cliente.
type CreateParams struct {
	ClientID       string
	Name           string
	Description    string
	RedirectURIs   []string
	IsConfidential bool
	TenantID       *string // nil = cliente global
	Secret         string  // obligatorio sí y sólo sí IsConfidential
}

// CreateClient registra el cliente. Rechaza client_id duplicado y cliente
// confidencial sin secret; un cliente público jamás lleva hash.
func (r *Registry) CreateClient(ctx context.Context, p CreateParams) (*core.OAuthClient, error) {
	if strings.TrimSpace(p.ClientID) == "" || strings.TrimSpace(p.Name) == "" {
		return nil, fmt.Errorf("%w: client_id y name son obligatorios", core.ErrInvalid)
	}

	var secretHash *string
	if p.IsConfidential {
		if strings.TrimSpace(p.Secret) == "" {
			return nil, fmt.Errorf("%w: cliente confidencial requiere secret", core.ErrInvalid)
		}
		h, err := r.hasher.Hash(p.Secret)
		if err != nil {
			return nil, err
		}
		secretHash = &h
	} else if p.Secret != "" {
		return nil, fmt.Errorf("%w: cliente público no puede llevar secret", core.ErrInvalid)
	}

	now := time.Now().UTC()
	c := &core.OAuthClient{
		ID:               uuid.NewString(),
		ClientID:         p.ClientID,
		ClientSecretHash: secretHash,
		Name:             p.Name,
		Description:      p.Description,
		RedirectURIs:     p.RedirectURIs,
		IsConfidential:   p.IsConfidential,
		IsActive:         true,
		TenantID:         p.TenantID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	r.invalidate(ctx, p.ClientID)
	if err := r.repo.CreateClient(ctx, c); err != nil {
		if errors.Is(err, core.ErrConflict) {
			return nil, fmt.Errorf("%w: client_id %q ya existe", core.ErrConflict, p.ClientID)
		}
		return nil, err
	}

	// Fast-path de re-verificación post-create: confirma que el hash
	// guardado hace roundtrip con el secret original.
	if p.IsConfidential && !r.VerifyClientSecret(c, p.Secret) {
		logger.From(ctx).Error("stored client secret hash failed re-verification",
			logger.ClientID(p.ClientID))
		return nil, errors.New("client secret hash round-trip failed")
	}

	kind := "public"
	if p.IsConfidential {
		kind = "confidential"
	}
	logger.From(ctx).Info("oauth client created",
		logger.ClientID(p.ClientID), zap.String("client_type", kind))
	return c, nil
}

// GetClient busca por client_id, con cache de lectura.
func (r *Registry) GetClient(ctx context.Context, clientID string) (*core.OAuthClient, error) {
	if r.cache != nil {
		if raw, err := r.cache.Get(ctx, cacheKey(clientID)); err == nil {
			var c core.OAuthClient
			if json.Unmarshal([]byte(raw), &c) == nil {
				return &c, nil
			}
		}
	}

	c, err := r.repo.GetClientByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if raw, err := json.Marshal(c); err == nil {
			_ = r.cache.Set(ctx, cacheKey(clientID), string(raw), cacheTTL)
		}
	}
	return c, nil
}

// GetActiveClient es GetClient pero rechaza clientes desactivados.
func (r *Registry) GetActiveClient(ctx context.Context, clientID string) (*core.OAuthClient, error) {
	c, err := r.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !c.IsActive {
		return nil, core.ErrNotFound
	}
	return c, nil
}

// UpdateParams: semántica de update parcial: sólo los campos no-nil cambian.
type UpdateParams struct {
	Name         *string
	Description  *string
	RedirectURIs []string // nil = sin cambio
	IsActive     *bool
	// Secret nuevo: se re-hashea. Error si el cliente es público.
	Secret *string
}

// UpdateClient aplica un update parcial sobre el cliente identificado por
// client_id.
func (r *Registry) UpdateClient(ctx context.Context, clientID string, p UpdateParams) (*core.OAuthClient, error) {
	c, err := r.repo.GetClientByClientID(ctx, clientID)
	if err != nil {
		return nil, err
	}

	if p.Name != nil {
		if strings.TrimSpace(*p.Name) == "" {
			return nil, fmt.Errorf("%w: name no puede quedar vacío", core.ErrInvalid)
		}
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = *p.Description
	}
	if p.RedirectURIs != nil {
		c.RedirectURIs = p.RedirectURIs
	}
	if p.IsActive != nil {
		c.IsActive = *p.IsActive
	}
	if p.Secret != nil {
		if !c.IsConfidential {
			return nil, fmt.Errorf("%w: cliente público no puede recibir secret", core.ErrInvalid)
		}
		if strings.TrimSpace(*p.Secret) == "" {
			return nil, fmt.Errorf("%w: secret vacío", core.ErrInvalid)
		}
		h, err := r.hasher.Hash(*p.Secret)
		if err != nil {
			return nil, err
		}
		c.ClientSecretHash = &h
	}
	c.UpdatedAt = time.Now().UTC()

	// Invalidar antes de confirmar: un read concurrente repobla desde DB,
	// nunca sirve el registro viejo después del ack.
	r.invalidate(ctx, clientID)
	if err := r.repo.UpdateClient(ctx, c); err != nil {
		return nil, err
	}

	logger.From(ctx).Info("oauth client updated", logger.ClientID(clientID))
	return c, nil
}

// VerifyClientSecret falla cerrado: blank, cliente público (sin hash) o
// mismatch devuelven false, nunca panic ni error.
func (r *Registry) VerifyClientSecret(c *core.OAuthClient, plain string) bool {
	if c == nil || plain == "" {
		return false
	}
	if !c.IsConfidential || c.ClientSecretHash == nil {
		return false
	}
	start := time.Now()
	ok := r.hasher.Verify(*c.ClientSecretHash, plain)
	metrics.ObserveSecretVerify(time.Since(start).Seconds())
	if ok {
		metrics.TokenOp("client", "verify", "ok")
	} else {
		metrics.TokenOp("client", "verify", "rejected")
	}
	return ok
}

func (r *Registry) invalidate(ctx context.Context, clientID string) {
	if r.cache != nil {
		_ = r.cache.Delete(ctx, cacheKey(clientID))
	}
}

func cacheKey(clientID string) string { return "client:" + clientID }
