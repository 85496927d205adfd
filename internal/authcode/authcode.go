// Package authcode emite y consume authorization codes OAuth2 con PKCE.
//
// El code es single-use estricto: el flip unused→used es un UPDATE condicional
// en el repo, nunca read-then-write. Cualquier rechazo (desconocido, usado,
// vencido, mismatch de client/redirect/PKCE) colapsa en ErrInvalidCode para no
// filtrar cuál condición falló; la razón real se loguea.
package authcode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/security/token"
	"github.com/dropDatabas3/tokencore/internal/store/core"
)

// Métodos PKCE soportados. Cualquier otro valor es rechazo, no ignore.
const (
	MethodS256  = "S256"
	MethodPlain = "plain"
)

// DefaultTTL de un authorization code.
const DefaultTTL = 5 * time.Minute

// ErrInvalidCode es el único negativo del boundary de canje.
var ErrInvalidCode = errors.New("invalid authorization code")

type Service struct {
	repo core.AuthCodeRepository
	ttl  time.Duration
}

func New(repo core.AuthCodeRepository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, ttl: ttl}
}

// IssueParams agrupa los inputs del grant.
type IssueParams struct {
	UserID      string
	TenantID    string
	ClientID    string
	RedirectURI string
	Scope       string
	State       string
	// PKCE opcional. Si CodeChallenge viene sin método, se asume "plain"
	// (default RFC 7636).
	CodeChallenge       string
	CodeChallengeMethod string
}

// Issue genera un code aleatorio (256 bits) y persiste el grant.
// Devuelve el registro con el code en claro para entregarlo al cliente.
func (s *Service) Issue(ctx context.Context, p IssueParams) (*core.AuthorizationCode, error) {
	if p.UserID == "" || p.TenantID == "" || p.ClientID == "" || p.RedirectURI == "" {
		return nil, fmt.Errorf("%w: user, tenant, client y redirect_uri son obligatorios", core.ErrInvalid)
	}

	method := p.CodeChallengeMethod
	if p.CodeChallenge != "" {
		if method == "" {
			method = MethodPlain
		}
		if method != MethodS256 && method != MethodPlain {
			return nil, fmt.Errorf("%w: code_challenge_method %q no soportado", core.ErrInvalid, method)
		}
	} else if method != "" {
		// Method sin challenge es un request malformado, no se descarta
		// en silencio.
		return nil, fmt.Errorf("%w: code_challenge_method sin code_challenge", core.ErrInvalid)
	}

	code, err := token.GenerateOpaqueToken(token.DefaultBytes)
	if err != nil {
		metrics.TokenOp("authcode", "issue", "error")
		return nil, err
	}

	now := time.Now().UTC()
	row := &core.AuthorizationCode{
		ID:                  uuid.NewString(),
		Code:                code,
		UserID:              p.UserID,
		TenantID:            p.TenantID,
		ClientID:            p.ClientID,
		RedirectURI:         p.RedirectURI,
		Scope:               p.Scope,
		State:               p.State,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: method,
		ExpiresAt:           now.Add(s.ttl),
		CreatedAt:           now,
	}
	if err := s.repo.CreateAuthCode(ctx, row); err != nil {
		metrics.TokenOp("authcode", "issue", "error")
		return nil, err
	}

	metrics.TokenOp("authcode", "issue", "ok")
	logger.From(ctx).Debug("authorization code issued",
		logger.TenantID(p.TenantID), logger.ClientID(p.ClientID), logger.UserID(p.UserID))
	return row, nil
}

// ValidateAndConsume canjea el code. Exactamente un canje concurrente puede
// ganar; el resto observa already-used y falla con el negativo genérico.
func (s *Service) ValidateAndConsume(ctx context.Context, code, clientID, redirectURI, codeVerifier string) (*core.AuthorizationCode, error) {
	reject := func(reason string) (*core.AuthorizationCode, error) {
		metrics.TokenOp("authcode", "redeem", "rejected")
		logger.From(ctx).Info("authorization code rejected",
			logger.TokenKind("authcode"), logger.Reason(reason))
		return nil, ErrInvalidCode
	}

	if code == "" {
		return reject("blank code")
	}

	row, err := s.repo.GetAuthCodeByCode(ctx, code)
	if errors.Is(err, core.ErrNotFound) {
		return reject("not found")
	}
	if err != nil {
		metrics.TokenOp("authcode", "redeem", "error")
		return nil, err
	}

	now := time.Now().UTC()
	switch {
	case row.IsUsed:
		return reject("already used")
	case now.After(row.ExpiresAt):
		return reject("expired")
	case row.ClientID != clientID:
		return reject("client mismatch")
	case row.RedirectURI != redirectURI:
		return reject("redirect_uri mismatch")
	}

	if row.CodeChallenge != "" {
		if !verifyPKCE(row.CodeChallenge, row.CodeChallengeMethod, codeVerifier) {
			return reject("pkce verification failed")
		}
	}

	ok, err := s.repo.ConsumeAuthCode(ctx, row.ID, now)
	if err != nil {
		metrics.TokenOp("authcode", "redeem", "error")
		return nil, err
	}
	if !ok {
		// Otro request ganó la carrera: tratarlo como already-used, no como
		// error a reintentar.
		return reject("lost consume race")
	}

	row.IsUsed = true
	row.UsedAt = &now
	metrics.TokenOp("authcode", "redeem", "ok")
	logger.From(ctx).Debug("authorization code redeemed",
		logger.TenantID(row.TenantID), logger.ClientID(clientID))
	return row, nil
}

// SweepExpired borra codes vencidos o ya usados (higiene, invocado por el
// scheduler externo / CLI admin).
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeleteExpiredAuthCodes(ctx, time.Now().UTC())
}

// verifyPKCE aplica el método registrado al verifier y compara exacto.
// Método desconocido (registrado antes de que se agregara soporte, o row
// corrupta) es fallo de validación, nunca ignore.
func verifyPKCE(challenge, method, verifier string) bool {
	if verifier == "" {
		return false
	}
	switch method {
	case MethodS256:
		return token.ConstantTimeEquals(token.SHA256Base64URL(verifier), challenge)
	case MethodPlain:
		return token.ConstantTimeEquals(verifier, challenge)
	default:
		return false
	}
}
