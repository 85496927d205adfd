// Package refresh emite y valida refresh tokens sellados.
//
// A diferencia de authorization codes y challenges MFA, un refresh token es
// reusable: vale hasta revocación o expiry. No hay rotation-on-use; decisión
// de producto deliberada; callers que necesiten rotación la agregan encima.
package refresh

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	"github.com/dropDatabas3/tokencore/internal/security/token"
	"github.com/dropDatabas3/tokencore/internal/settings"
	"github.com/dropDatabas3/tokencore/internal/store/core"
)

// Purpose escopa la clave de cifrado: ciphertexts de refresh tokens no abren
// bajo ningún otro componente.
const Purpose = "RefreshToken"

// ErrInvalidToken colapsa not-found/revocado/vencido/mismatch criptográfico.
var ErrInvalidToken = errors.New("invalid refresh token")

type Service struct {
	repo     core.RefreshTokenRepository
	box      secretbox.Provider
	settings *settings.Resolver
}

func New(repo core.RefreshTokenRepository, box secretbox.Provider, res *settings.Resolver) *Service {
	return &Service{repo: repo, box: box, settings: res}
}

// Issue sella y persiste el plaintext provisto por el caller. La vida útil
// sale de la setting por tenant (RefreshToken.ExpirationDays, default 30).
func (s *Service) Issue(ctx context.Context, userID, tenantID, plaintext, ipAddress, userAgent string) (*core.RefreshToken, error) {
	if strings.TrimSpace(plaintext) == "" {
		return nil, fmt.Errorf("%w: plaintext vacío", core.ErrInvalid)
	}
	if userID == "" || tenantID == "" {
		return nil, fmt.Errorf("%w: user y tenant son obligatorios", core.ErrInvalid)
	}

	lifetime := s.settings.RefreshTokenLifetime(ctx, tenantID)

	encrypted, err := s.box.Protect(Purpose, plaintext)
	if err != nil {
		metrics.TokenOp("refresh", "issue", "error")
		return nil, err
	}

	now := time.Now().UTC()
	row := &core.RefreshToken{
		ID:             uuid.NewString(),
		UserID:         userID,
		TenantID:       tenantID,
		EncryptedToken: encrypted,
		TokenHash:      token.SHA256Hex(plaintext),
		ExpiresAt:      now.Add(lifetime),
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		CreatedAt:      now,
	}
	if err := s.repo.CreateRefreshToken(ctx, row); err != nil {
		metrics.TokenOp("refresh", "issue", "error")
		return nil, err
	}

	metrics.TokenOp("refresh", "issue", "ok")
	logger.From(ctx).Debug("refresh token issued",
		logger.TenantID(tenantID), logger.UserID(userID))
	return row, nil
}

// Validate chequea el token y toca used_at (sólo audit). El token sigue
// siendo canjeable después: no es single-use.
func (s *Service) Validate(ctx context.Context, plaintext string) (*core.RefreshToken, error) {
	reject := func(reason string) (*core.RefreshToken, error) {
		metrics.TokenOp("refresh", "validate", "rejected")
		logger.From(ctx).Info("refresh token rejected",
			logger.TokenKind("refresh"), logger.Reason(reason))
		return nil, ErrInvalidToken
	}

	if strings.TrimSpace(plaintext) == "" {
		return reject("blank plaintext")
	}

	row, err := s.repo.GetRefreshTokenByHash(ctx, token.SHA256Hex(plaintext))
	if errors.Is(err, core.ErrNotFound) {
		return reject("not found")
	}
	if err != nil {
		metrics.TokenOp("refresh", "validate", "error")
		return nil, err
	}

	now := time.Now().UTC()
	if row.IsRevoked {
		return reject("revoked")
	}
	if now.After(row.ExpiresAt) {
		return reject("expired")
	}

	// Defensa en profundidad: el hash sólo indexa; el ciphertext autenticado
	// es la fuente de verdad ante colisiones o rows sustituidas.
	decrypted, err := s.box.Unprotect(Purpose, row.EncryptedToken)
	if err != nil || !token.ConstantTimeEquals(decrypted, plaintext) {
		metrics.TokenOp("refresh", "validate", "rejected")
		logger.From(ctx).Warn("refresh token ciphertext mismatch (possible tamper)",
			logger.TenantID(row.TenantID), logger.UserID(row.UserID))
		return nil, ErrInvalidToken
	}

	// Race benigna sobre used_at: last-writer-wins.
	_ = s.repo.TouchRefreshTokenUsed(ctx, row.ID, now)
	row.UsedAt = &now

	metrics.TokenOp("refresh", "validate", "ok")
	return row, nil
}

// Revoke marca revocado el token del usuario. Idempotente: revocar lo ya
// revocado es éxito; la revocación es monotónica, nunca se deshace.
func (s *Service) Revoke(ctx context.Context, plaintext, userID string) error {
	if strings.TrimSpace(plaintext) == "" || userID == "" {
		return ErrInvalidToken
	}

	row, err := s.repo.GetRefreshTokenByHashAndUser(ctx, token.SHA256Hex(plaintext), userID)
	if errors.Is(err, core.ErrNotFound) {
		metrics.TokenOp("refresh", "revoke", "rejected")
		logger.From(ctx).Info("refresh token revoke rejected",
			logger.UserID(userID), logger.Reason("not found"))
		return ErrInvalidToken
	}
	if err != nil {
		metrics.TokenOp("refresh", "revoke", "error")
		return err
	}

	if row.IsRevoked {
		metrics.TokenOp("refresh", "revoke", "ok")
		return nil
	}

	if _, err := s.repo.RevokeRefreshToken(ctx, row.ID, time.Now().UTC()); err != nil {
		metrics.TokenOp("refresh", "revoke", "error")
		return err
	}
	// RowsAffected 0 acá significa que otra revocación concurrente ganó:
	// mismo estado final, mismo éxito.
	metrics.TokenOp("refresh", "revoke", "ok")
	logger.From(ctx).Info("refresh token revoked",
		logger.TenantID(row.TenantID), logger.UserID(userID))
	return nil
}

// RevokeAll revoca todos los tokens no-revocados del par user+tenant
// (cambio de password, logout-everywhere). Devuelve cuántos afectó; cero es
// un resultado válido.
func (s *Service) RevokeAll(ctx context.Context, userID, tenantID string) (int64, error) {
	n, err := s.repo.RevokeAllRefreshTokens(ctx, userID, tenantID, time.Now().UTC())
	if err != nil {
		metrics.TokenOp("refresh", "revoke_all", "error")
		return 0, err
	}
	metrics.TokenOp("refresh", "revoke_all", "ok")
	logger.From(ctx).Info("all refresh tokens revoked",
		logger.TenantID(tenantID), logger.UserID(userID))
	return n, nil
}

// SweepExpired borra tokens vencidos (higiene).
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredRefreshTokens(ctx, time.Now().UTC())
}
