package core

import (
	"context"
	"time"
)

// AuthCodeRepository persiste authorization codes.
type AuthCodeRepository interface {
	CreateAuthCode(ctx context.Context, c *AuthorizationCode) error
	GetAuthCodeByCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthCode marca el code como usado sólo si sigue sin usar
	// (UPDATE condicional). Devuelve false si otro request ganó la carrera
	// o el code ya estaba consumido.
	ConsumeAuthCode(ctx context.Context, id string, at time.Time) (bool, error)

	DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error)
}

// RefreshTokenRepository persiste refresh tokens sellados.
type RefreshTokenRepository interface {
	CreateRefreshToken(ctx context.Context, t *RefreshToken) error
	GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*RefreshToken, error)
	GetRefreshTokenByHashAndUser(ctx context.Context, tokenHash, userID string) (*RefreshToken, error)

	// TouchRefreshTokenUsed actualiza used_at (audit). Races benignas:
	// last-writer-wins es aceptable.
	TouchRefreshTokenUsed(ctx context.Context, id string, at time.Time) error

	// RevokeRefreshToken marca revocado si no lo estaba. Devuelve false si ya
	// estaba revocado (el caller lo trata como éxito idempotente).
	RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error)

	// RevokeAllRefreshTokens revoca todos los no-revocados de user+tenant y
	// devuelve cuántos afectó (0 es válido).
	RevokeAllRefreshTokens(ctx context.Context, userID, tenantID string, at time.Time) (int64, error)

	DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error)
}

// MFATokenRepository persiste challenge tokens MFA sellados.
type MFATokenRepository interface {
	CreateMFAToken(ctx context.Context, t *MFAChallengeToken) error
	GetMFATokenByHash(ctx context.Context, tokenHash string) (*MFAChallengeToken, error)

	// ConsumeMFAToken: mismo contrato CAS que ConsumeAuthCode.
	ConsumeMFAToken(ctx context.Context, id string, at time.Time) (bool, error)

	DeleteExpiredMFATokens(ctx context.Context, before time.Time) (int64, error)
}

// ClientRepository persiste clientes OAuth.
type ClientRepository interface {
	CreateClient(ctx context.Context, c *OAuthClient) error
	GetClientByClientID(ctx context.Context, clientID string) (*OAuthClient, error)
	UpdateClient(ctx context.Context, c *OAuthClient) error
}

// SettingsRepository lee settings por tenant (storage externo a este core).
type SettingsRepository interface {
	// GetTenantSetting devuelve ErrNotFound si la key no existe para el tenant.
	GetTenantSetting(ctx context.Context, tenantID, key string) (string, error)
}

// Repository agrupa todo lo que este core necesita del storage relacional.
type Repository interface {
	AuthCodeRepository
	RefreshTokenRepository
	MFATokenRepository
	ClientRepository
	SettingsRepository

	Ping(ctx context.Context) error
	Close()
}
