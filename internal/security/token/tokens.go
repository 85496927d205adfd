package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// DefaultBytes es la entropía por defecto para tokens opacos (256 bits).
const DefaultBytes = 32

// GenerateOpaqueToken genera un token opaco aleatorio (base64url sin padding).
// Si nBytes es menor al mínimo se eleva a DefaultBytes.
func GenerateOpaqueToken(nBytes int) (string, error) {
	if nBytes < DefaultBytes {
		nBytes = DefaultBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SHA256Hex devuelve sha256(input) en hexadecimal lowercase.
// Se usa como índice de lookup en DB: resistente a colisiones, no reversible.
func SHA256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum)
}

// SHA256Base64URL devuelve sha256(input) en base64url sin padding (PKCE S256).
func SHA256Base64URL(s string) string {
	sum := sha256.Sum256([]byte(s))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// ConstantTimeEquals compara dos strings en tiempo constante.
func ConstantTimeEquals(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
