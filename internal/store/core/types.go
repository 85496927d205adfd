package core

import "time"

// AuthorizationCode es el grant OAuth2 de un solo uso.
// El code viaja en clear al cliente; en DB es lookup directo con unique index.
type AuthorizationCode struct {
	ID                  string
	Code                string
	UserID              string
	TenantID            string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	ExpiresAt           time.Time
	IsUsed              bool
	UsedAt              *time.Time
	CreatedAt           time.Time
}

// RefreshToken es un sealed token reusable hasta revocación o expiry.
// EncryptedToken guarda el ciphertext del plaintext; TokenHash (sha256 hex)
// es el índice de lookup, nunca el ciphertext.
type RefreshToken struct {
	ID             string
	UserID         string
	TenantID       string
	EncryptedToken string
	TokenHash      string
	ExpiresAt      time.Time
	IsRevoked      bool
	RevokedAt      *time.Time
	UsedAt         *time.Time // última validación exitosa; sólo audit
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
}

// MFAChallengeToken: misma forma sellada que RefreshToken pero estrictamente
// single-use y vida corta (minutos).
type MFAChallengeToken struct {
	ID             string
	UserID         string
	TenantID       string
	EncryptedToken string
	TokenHash      string
	ExpiresAt      time.Time
	IsUsed         bool
	UsedAt         *time.Time
	IPAddress      string
	UserAgent      string
	CreatedAt      time.Time
}

// OAuthClient registro de cliente OAuth.
// Invariante: IsConfidential == true ⇔ ClientSecretHash != nil.
type OAuthClient struct {
	ID               string
	ClientID         string
	ClientSecretHash *string
	Name             string
	Description      string
	RedirectURIs     []string
	IsConfidential   bool
	IsActive         bool
	TenantID         *string // nil = cliente global
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
