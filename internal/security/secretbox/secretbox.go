// Package secretbox provee cifrado autenticado at-rest con claves por propósito.
//
// Cada componente pasa un purpose string ("RefreshToken", "MfaChallengeToken", ...)
// y la clave efectiva se deriva con HKDF-SHA256 desde la master key del proceso.
// Así los ciphertexts no son intercambiables entre componentes aunque compartan
// infraestructura.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)
)

// Provider cifra/descifra bajo claves derivadas por propósito.
// Intercambiable: cualquier backend que cumpla Protect/Unprotect sirve.
type Provider interface {
	Protect(purpose, plaintext string) (string, error)
	Unprotect(purpose, ciphertext string) (string, error)
}

// Box implementa Provider con AES-256-GCM y subkeys HKDF-SHA256(master, purpose).
// Se construye una vez al inicio del proceso y no muta después.
type Box struct {
	master []byte

	mu   sync.RWMutex
	subs map[string][]byte // cache de subkeys por propósito
}

// New crea un Box desde la master key en base64 estándar (32 bytes decodificados).
func New(masterB64 string) (*Box, error) {
	kb64 := strings.TrimSpace(masterB64)
	if kb64 == "" {
		return nil, errors.New("secretbox: master key vacía; genere una con: openssl rand -base64 32")
	}
	k, err := base64.StdEncoding.DecodeString(kb64)
	if err != nil {
		return nil, fmt.Errorf("secretbox: decode master key: %w", err)
	}
	if len(k) != requiredKeyLength {
		return nil, fmt.Errorf("secretbox: master key debe decodificar a %d bytes, obtuvo %d", requiredKeyLength, len(k))
	}
	master := make([]byte, len(k))
	copy(master, k)
	return &Box{master: master, subs: make(map[string][]byte)}, nil
}

// NewFromRaw crea un Box desde 32 bytes crudos. Pensado para tests.
func NewFromRaw(key []byte) (*Box, error) {
	if len(key) != requiredKeyLength {
		return nil, fmt.Errorf("secretbox: se requieren %d bytes, obtuvo %d", requiredKeyLength, len(key))
	}
	master := make([]byte, len(key))
	copy(master, key)
	return &Box{master: master, subs: make(map[string][]byte)}, nil
}

// subkey deriva (y cachea) la clave AES para un propósito.
func (b *Box) subkey(purpose string) ([]byte, error) {
	if purpose == "" {
		return nil, errors.New("secretbox: purpose vacío")
	}
	b.mu.RLock()
	if k, ok := b.subs[purpose]; ok {
		b.mu.RUnlock()
		return k, nil
	}
	b.mu.RUnlock()

	r := hkdf.New(sha256.New, b.master, nil, []byte("tokencore/"+purpose))
	k := make([]byte, requiredKeyLength)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, fmt.Errorf("secretbox: hkdf: %w", err)
	}

	b.mu.Lock()
	b.subs[purpose] = k
	b.mu.Unlock()
	return k, nil
}

// Protect cifra plaintext y devuelve base64(nonce)|base64(ciphertext).
func (b *Box) Protect(purpose, plaintext string) (string, error) {
	key, err := b.subkey(purpose)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Unprotect recibe base64(nonce)|base64(ciphertext) y devuelve el texto plano.
// Un ciphertext protegido bajo otro propósito falla la autenticación GCM.
func (b *Box) Unprotect(purpose, ciphertext string) (string, error) {
	key, err := b.subkey(purpose)
	if err != nil {
		return "", err
	}

	parts := strings.Split(ciphertext, sep)
	if len(parts) != 2 {
		return "", errors.New("formato inválido: esperado base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return "", fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return string(pt), nil
}

// GenerateMasterKey genera una master key nueva (base64 estándar, 32 bytes).
func GenerateMasterKey() (string, error) {
	k := make([]byte, requiredKeyLength)
	if _, err := rand.Read(k); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(k), nil
}
