// Package mfa emite y canjea challenge tokens de step-up authentication.
//
// Mismo patrón sellado que refresh, pero estrictamente single-use y con vida
// de minutos. No existe revocación: sólo issue, canje único y expiry natural.
package mfa

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	"github.com/dropDatabas3/tokencore/internal/security/token"
	"github.com/dropDatabas3/tokencore/internal/store/core"
)

// Purpose escopa la clave de cifrado del challenge.
const Purpose = "MfaChallengeToken"

const (
	// DefaultTTL de un challenge.
	DefaultTTL = 5 * time.Minute
	minTTL     = time.Minute
	maxTTL     = 30 * time.Minute
)

// ErrInvalidToken colapsa not-found/usado/vencido/mismatch criptográfico.
var ErrInvalidToken = errors.New("invalid mfa challenge token")

// GenerateChallenge genera el plaintext del challenge (alta entropía,
// base64url para transporte seguro). A diferencia de refresh/authcode, acá el
// caller no provee el secreto crudo.
func GenerateChallenge() (string, error) {
	return token.GenerateOpaqueToken(token.DefaultBytes)
}

type Service struct {
	repo       core.MFATokenRepository
	box        secretbox.Provider
	defaultTTL time.Duration
}

// New crea el servicio. defaultTTL <= 0 usa DefaultTTL; valores configurados
// se acotan al mismo rango [1m, 30m] que los overrides por llamada.
func New(repo core.MFATokenRepository, box secretbox.Provider, defaultTTL time.Duration) *Service {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Service{repo: repo, box: box, defaultTTL: clampTTL(defaultTTL)}
}

func clampTTL(ttl time.Duration) time.Duration {
	if ttl < minTTL {
		return minTTL
	}
	if ttl > maxTTL {
		return maxTTL
	}
	return ttl
}

// Issue genera el challenge, lo sella y lo persiste. ttl <= 0 usa el default
// configurado del servicio; overrides del caller se acotan a [1m, 30m].
// Devuelve el plaintext (para entregar al usuario) y el registro.
func (s *Service) Issue(ctx context.Context, userID, tenantID string, ttl time.Duration, ipAddress, userAgent string) (string, *core.MFAChallengeToken, error) {
	if userID == "" || tenantID == "" {
		return "", nil, core.ErrInvalid
	}

	if ttl <= 0 {
		ttl = s.defaultTTL
	} else {
		ttl = clampTTL(ttl)
	}

	plaintext, err := GenerateChallenge()
	if err != nil {
		metrics.TokenOp("mfa", "issue", "error")
		return "", nil, err
	}
	encrypted, err := s.box.Protect(Purpose, plaintext)
	if err != nil {
		metrics.TokenOp("mfa", "issue", "error")
		return "", nil, err
	}

	now := time.Now().UTC()
	row := &core.MFAChallengeToken{
		ID:             uuid.NewString(),
		UserID:         userID,
		TenantID:       tenantID,
		EncryptedToken: encrypted,
		TokenHash:      token.SHA256Hex(plaintext),
		ExpiresAt:      now.Add(ttl),
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		CreatedAt:      now,
	}
	if err := s.repo.CreateMFAToken(ctx, row); err != nil {
		metrics.TokenOp("mfa", "issue", "error")
		return "", nil, err
	}

	metrics.TokenOp("mfa", "issue", "ok")
	logger.From(ctx).Debug("mfa challenge issued",
		logger.TenantID(tenantID), logger.UserID(userID))
	return plaintext, row, nil
}

// ValidateAndConsume valida y consume en un solo paso atómico: exactamente un
// canje puede ganar; el perdedor de la carrera observa already-used.
func (s *Service) ValidateAndConsume(ctx context.Context, plaintext string) (*core.MFAChallengeToken, error) {
	reject := func(reason string) (*core.MFAChallengeToken, error) {
		metrics.TokenOp("mfa", "redeem", "rejected")
		logger.From(ctx).Info("mfa challenge rejected",
			logger.TokenKind("mfa"), logger.Reason(reason))
		return nil, ErrInvalidToken
	}

	if plaintext == "" {
		return reject("blank plaintext")
	}

	row, err := s.repo.GetMFATokenByHash(ctx, token.SHA256Hex(plaintext))
	if errors.Is(err, core.ErrNotFound) {
		return reject("not found")
	}
	if err != nil {
		metrics.TokenOp("mfa", "redeem", "error")
		return nil, err
	}

	now := time.Now().UTC()
	// Expiry se chequea antes que use-state: un challenge vencido falla
	// aunque nunca se haya usado.
	if now.After(row.ExpiresAt) {
		return reject("expired")
	}
	if row.IsUsed {
		return reject("already used")
	}

	decrypted, err := s.box.Unprotect(Purpose, row.EncryptedToken)
	if err != nil || !token.ConstantTimeEquals(decrypted, plaintext) {
		metrics.TokenOp("mfa", "redeem", "rejected")
		logger.From(ctx).Warn("mfa challenge ciphertext mismatch (possible tamper)",
			logger.TenantID(row.TenantID), logger.UserID(row.UserID))
		return nil, ErrInvalidToken
	}

	ok, err := s.repo.ConsumeMFAToken(ctx, row.ID, now)
	if err != nil {
		metrics.TokenOp("mfa", "redeem", "error")
		return nil, err
	}
	if !ok {
		return reject("lost consume race")
	}

	row.IsUsed = true
	row.UsedAt = &now
	metrics.TokenOp("mfa", "redeem", "ok")
	logger.From(ctx).Debug("mfa challenge consumed",
		logger.TenantID(row.TenantID), logger.UserID(row.UserID))
	return row, nil
}

// SweepExpired borra challenges vencidos o consumidos (higiene).
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredMFATokens(ctx, time.Now().UTC())
}
