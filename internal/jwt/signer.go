package jwt

import (
	"encoding/json"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
)

// Nombres de claims: contrato estable: SPAs, servicios downstream y la
// consola de management dependen de estos nombres exactos.
const (
	ClaimTenantID = "tenant_id"
	// ClaimTenantIDCompat duplica tenant_id bajo el nombre namespaced que
	// verifiers existentes ya consumen. No remover.
	ClaimTenantIDCompat = "http://schemas.microsoft.com/identity/claims/tenantid"
	ClaimUserID         = "user_id"
	ClaimUniqueName     = "unique_name"
	ClaimEmail          = "email"
	ClaimRole           = "role"
	ClaimRoles          = "roles"
	ClaimScope          = "scope"
	ClaimGivenName      = "given_name"
	ClaimFamilyName     = "family_name"
)

// Identity es lo que el directorio de usuarios (colaborador externo) entrega
// para acuñar un access token.
type Identity struct {
	UserID    string
	TenantID  string
	Email     string
	Username  string
	GivenName string
	Surname   string
}

// Signer firma y valida access tokens con la clave única del proceso.
// Se construye una vez al inicio y no muta después; todo el request path lo
// recibe por referencia.
type Signer struct {
	keys      KeyPair
	Issuer    string
	Audience  string
	AccessTTL time.Duration
}

// Config del signer.
type Config struct {
	// KeyMaterial: JWK JSON o base64(JWK JSON). Vacío = generar efímera.
	KeyMaterial string
	// Algorithm para la clave efímera ("EdDSA" default, "RS256").
	Algorithm string
	Issuer    string
	Audience  string
	// AccessTTLMinutes default 15.
	AccessTTLMinutes int
}

// NewSigner carga la clave configurada o genera una efímera de desarrollo.
// Material configurado pero malformado es error fatal (el signer no puede
// operar sin clave válida).
func NewSigner(cfg Config) (*Signer, error) {
	var keys KeyPair
	var err error

	if strings.TrimSpace(cfg.KeyMaterial) != "" {
		keys, err = LoadKeyPair(cfg.KeyMaterial)
		if err != nil {
			return nil, err
		}
		logger.Named("jwt").Info("signing key loaded",
			logger.KID(keys.KID()), zap.String("alg", keys.Alg()))
	} else {
		keys, err = GenerateEphemeral(cfg.Algorithm)
		if err != nil {
			return nil, err
		}
		logger.Named("jwt").Warn("ephemeral signing key generated; tokens will not survive a restart (not production-safe)",
			logger.KID(keys.KID()), zap.String("alg", keys.Alg()))
	}

	ttl := time.Duration(cfg.AccessTTLMinutes) * time.Minute
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	return &Signer{
		keys:      keys,
		Issuer:    cfg.Issuer,
		Audience:  cfg.Audience,
		AccessTTL: ttl,
	}, nil
}

// Keys expone el par para export de claves.
func (s *Signer) Keys() KeyPair { return s.keys }

// Generate acuña un access token con el issuer/audience de la plataforma.
func (s *Signer) Generate(id Identity, roles []string, scopes ...string) (string, error) {
	return s.GenerateFor(s.Issuer, s.Audience, id, roles, scopes...)
}

// GenerateFor permite override de issuer/audience para consumidores federados
// (ej: la consola de management) firmando con la misma clave.
func (s *Signer) GenerateFor(issuer, audience string, id Identity, roles []string, scopes ...string) (string, error) {
	now := time.Now().UTC()
	exp := now.Add(s.AccessTTL)

	claims := jwtv5.MapClaims{
		"iss": issuer,
		"aud": audience,
		"sub": id.UserID,
		"jti": uuid.NewString(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),

		// email siempre presente: "" si falta, nunca omitido.
		ClaimEmail:          id.Email,
		ClaimUniqueName:     id.Username,
		ClaimTenantID:       id.TenantID,
		ClaimTenantIDCompat: id.TenantID,
		ClaimUserID:         id.UserID,
	}

	// Roles en blanco se filtran en silencio.
	clean := make([]string, 0, len(roles))
	for _, r := range roles {
		if strings.TrimSpace(r) != "" {
			clean = append(clean, r)
		}
	}
	if len(clean) == 1 {
		claims[ClaimRole] = clean[0]
	} else if len(clean) > 1 {
		claims[ClaimRole] = clean
	}
	if len(clean) > 0 {
		claims[ClaimRoles] = clean
	}

	if id.GivenName != "" {
		claims[ClaimGivenName] = id.GivenName
	}
	if id.Surname != "" {
		claims[ClaimFamilyName] = id.Surname
	}

	if len(scopes) == 1 {
		claims[ClaimScope] = scopes[0]
	} else if len(scopes) > 1 {
		claims[ClaimScope] = scopes
	}

	tk := jwtv5.NewWithClaims(s.keys.Method(), claims)
	tk.Header["kid"] = s.keys.KID()
	tk.Header["typ"] = "JWT"

	signed, err := tk.SignedString(s.keys.PrivateKey())
	if err != nil {
		metrics.TokenOp("access", "sign", "error")
		return "", err
	}
	metrics.TokenOp("access", "sign", "ok")
	return signed, nil
}

// ExportPublicKeyJSON serializa la JWK pública (endpoint de verificación).
func (s *Signer) ExportPublicKeyJSON() ([]byte, error) {
	return json.Marshal(s.keys.PublicJWK())
}

// ExportFullKeyJSON serializa el material completo (backup operacional).
// La política de acceso la aplica el caller, nunca este componente.
func (s *Signer) ExportFullKeyJSON() ([]byte, error) {
	return json.Marshal(s.keys.FullJWK())
}
