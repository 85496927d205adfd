package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// DefaultKID es el key id fijo del proceso cuando el material no trae uno.
const DefaultKID = "tokencore-1"

// JWK es la representación JSON Web Key que exportamos/importamos.
// Export público omite los campos privados; export full los incluye.
type JWK struct {
	Kty string `json:"kty"`
	Crv string `json:"crv,omitempty"`
	Kid string `json:"kid,omitempty"`
	Alg string `json:"alg,omitempty"`
	Use string `json:"use,omitempty"`
	X   string `json:"x,omitempty"` // OKP: pubkey
	D   string `json:"d,omitempty"` // privado (OKP seed / RSA d)
	N   string `json:"n,omitempty"` // RSA modulus
	E   string `json:"e,omitempty"` // RSA exponent
	P   string `json:"p,omitempty"` // RSA prime 1
	Q   string `json:"q,omitempty"` // RSA prime 2
}

// KeyPair abstrae el algoritmo de firma detrás de una sola interfaz, para
// poder intercambiar el esquema (EdDSA, RSA clásico, o uno post-cuántico a
// futuro) sin tocar la construcción de claims.
type KeyPair interface {
	// Alg devuelve el identificador JWS ("EdDSA", "RS256").
	Alg() string
	// KID devuelve el key id.
	KID() string
	// Method devuelve el signing method de golang-jwt.
	Method() jwtv5.SigningMethod
	// PrivateKey devuelve la mitad privada (sólo firma).
	PrivateKey() any
	// PublicKey devuelve la mitad pública (verificación).
	PublicKey() any
	// PublicJWK exporta sólo la mitad pública.
	PublicJWK() JWK
	// FullJWK exporta el material completo. El caller controla el acceso:
	// nunca exponer sobre una superficie sin autenticar.
	FullJWK() JWK
}

// ─── Ed25519 (EdDSA) ───

type ed25519Pair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	kid  string
}

func (k *ed25519Pair) Alg() string                 { return "EdDSA" }
func (k *ed25519Pair) KID() string                 { return k.kid }
func (k *ed25519Pair) Method() jwtv5.SigningMethod { return jwtv5.SigningMethodEdDSA }
func (k *ed25519Pair) PrivateKey() any             { return k.priv }
func (k *ed25519Pair) PublicKey() any              { return k.pub }

func (k *ed25519Pair) PublicJWK() JWK {
	return JWK{
		Kty: "OKP",
		Crv: "Ed25519",
		Kid: k.kid,
		Alg: "EdDSA",
		Use: "sig",
		X:   base64.RawURLEncoding.EncodeToString(k.pub),
	}
}

func (k *ed25519Pair) FullJWK() JWK {
	j := k.PublicJWK()
	j.D = base64.RawURLEncoding.EncodeToString(k.priv.Seed())
	return j
}

// NewEd25519 genera un par Ed25519 nuevo.
func NewEd25519(kid string) (KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		kid = DefaultKID
	}
	return &ed25519Pair{priv: priv, pub: pub, kid: kid}, nil
}

// ─── RSA (RS256) ───

type rsaPair struct {
	priv *rsa.PrivateKey
	kid  string
}

func (k *rsaPair) Alg() string                 { return "RS256" }
func (k *rsaPair) KID() string                 { return k.kid }
func (k *rsaPair) Method() jwtv5.SigningMethod { return jwtv5.SigningMethodRS256 }
func (k *rsaPair) PrivateKey() any             { return k.priv }
func (k *rsaPair) PublicKey() any              { return &k.priv.PublicKey }

func (k *rsaPair) PublicJWK() JWK {
	return JWK{
		Kty: "RSA",
		Kid: k.kid,
		Alg: "RS256",
		Use: "sig",
		N:   base64.RawURLEncoding.EncodeToString(k.priv.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(k.priv.E)).Bytes()),
	}
}

func (k *rsaPair) FullJWK() JWK {
	j := k.PublicJWK()
	j.D = base64.RawURLEncoding.EncodeToString(k.priv.D.Bytes())
	j.P = base64.RawURLEncoding.EncodeToString(k.priv.Primes[0].Bytes())
	j.Q = base64.RawURLEncoding.EncodeToString(k.priv.Primes[1].Bytes())
	return j
}

// NewRSA genera un par RSA-2048 nuevo.
func NewRSA(kid string) (KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, err
	}
	if kid == "" {
		kid = DefaultKID
	}
	return &rsaPair{priv: priv, kid: kid}, nil
}

// GenerateEphemeral crea un par en memoria para el lifetime del proceso.
// Fallback de desarrollo; el caller debe loguearlo como no apto para prod.
func GenerateEphemeral(alg string) (KeyPair, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "EDDSA":
		return NewEd25519(DefaultKID)
	case "RS256", "RSA":
		return NewRSA(DefaultKID)
	default:
		return nil, fmt.Errorf("jwt: algoritmo no soportado: %q", alg)
	}
}

// LoadKeyPair carga material configurado: JSON JWK directo o base64 del JSON
// (auto-detectado). Material malformado es fatal para la inicialización.
func LoadKeyPair(material string) (KeyPair, error) {
	m := strings.TrimSpace(material)
	if m == "" {
		return nil, errors.New("jwt: material de clave vacío")
	}

	raw := []byte(m)
	if !strings.HasPrefix(m, "{") {
		b, err := base64.StdEncoding.DecodeString(m)
		if err != nil {
			if b, err = base64.RawStdEncoding.DecodeString(m); err != nil {
				return nil, fmt.Errorf("jwt: material no es JWK ni base64(JWK): %w", err)
			}
		}
		raw = b
	}

	var j JWK
	if err := json.Unmarshal(raw, &j); err != nil {
		return nil, fmt.Errorf("jwt: parse JWK: %w", err)
	}
	return fromJWK(j)
}

func fromJWK(j JWK) (KeyPair, error) {
	kid := j.Kid
	if kid == "" {
		kid = DefaultKID
	}
	switch j.Kty {
	case "OKP":
		if j.Crv != "Ed25519" {
			return nil, fmt.Errorf("jwt: curva OKP no soportada: %q", j.Crv)
		}
		seed, err := base64.RawURLEncoding.DecodeString(j.D)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, errors.New("jwt: JWK OKP sin seed privada válida (d)")
		}
		priv := ed25519.NewKeyFromSeed(seed)
		pub := priv.Public().(ed25519.PublicKey)
		if j.X != "" {
			x, err := base64.RawURLEncoding.DecodeString(j.X)
			if err != nil || !ed25519.PublicKey(x).Equal(pub) {
				return nil, errors.New("jwt: JWK OKP inconsistente: x no corresponde a d")
			}
		}
		return &ed25519Pair{priv: priv, pub: pub, kid: kid}, nil

	case "RSA":
		n, err := b64BigInt(j.N)
		if err != nil {
			return nil, errors.New("jwt: JWK RSA: n inválido")
		}
		e, err := b64BigInt(j.E)
		if err != nil {
			return nil, errors.New("jwt: JWK RSA: e inválido")
		}
		d, err := b64BigInt(j.D)
		if err != nil {
			return nil, errors.New("jwt: JWK RSA: falta d (clave privada)")
		}
		p, errP := b64BigInt(j.P)
		q, errQ := b64BigInt(j.Q)
		if errP != nil || errQ != nil {
			return nil, errors.New("jwt: JWK RSA: faltan primos p/q")
		}
		priv := &rsa.PrivateKey{
			PublicKey: rsa.PublicKey{N: n, E: int(e.Int64())},
			D:         d,
			Primes:    []*big.Int{p, q},
		}
		priv.Precompute()
		if err := priv.Validate(); err != nil {
			return nil, fmt.Errorf("jwt: JWK RSA inválida: %w", err)
		}
		return &rsaPair{priv: priv, kid: kid}, nil

	default:
		return nil, fmt.Errorf("jwt: kty no soportado: %q", j.Kty)
	}
}

func b64BigInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}
