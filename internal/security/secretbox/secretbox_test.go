package secretbox

import (
	"encoding/base64"
	"strings"
	"testing"
)

func testBox(t *testing.T) *Box {
	t.Helper()
	raw := make([]byte, 32)
	for i := 0; i < 32; i++ {
		raw[i] = byte(i + 1)
	}
	b, err := NewFromRaw(raw)
	if err != nil {
		t.Fatalf("NewFromRaw err: %v", err)
	}
	return b
}

func TestProtectUnprotect_RoundTrip(t *testing.T) {
	b := testBox(t)

	msg := "hola mundo ✓ ñ secreto"
	ct, err := b.Protect("RefreshToken", msg)
	if err != nil {
		t.Fatalf("Protect err: %v", err)
	}
	pt, err := b.Unprotect("RefreshToken", ct)
	if err != nil {
		t.Fatalf("Unprotect err: %v", err)
	}
	if pt != msg {
		t.Fatalf("plaintext mismatch: got %q want %q", pt, msg)
	}
}

func TestUnprotect_PurposeIsolation(t *testing.T) {
	b := testBox(t)

	ct, err := b.Protect("RefreshToken", "top secret")
	if err != nil {
		t.Fatalf("Protect err: %v", err)
	}
	// Mismo Box, otro propósito: la subkey difiere y GCM debe rechazar.
	if _, err := b.Unprotect("MfaChallengeToken", ct); err == nil {
		t.Fatalf("ciphertext de RefreshToken no debe abrir bajo MfaChallengeToken")
	}
}

func TestUnprotect_DetectsTamper(t *testing.T) {
	b := testBox(t)

	ct, err := b.Protect("MfaChallengeToken", "top secret")
	if err != nil {
		t.Fatalf("Protect err: %v", err)
	}
	parts := strings.Split(ct, "|")
	if len(parts) != 2 {
		t.Fatalf("unexpected ct format")
	}
	// corromper un byte del ciphertext (base64 -> bytes -> flip -> base64)
	bs, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		t.Fatal(err)
	}
	if len(bs) == 0 {
		t.Fatal("empty ct")
	}
	bs[0] ^= 0x01 // flip
	corrupted := parts[0] + "|" + base64.StdEncoding.EncodeToString(bs)

	if _, err := b.Unprotect("MfaChallengeToken", corrupted); err == nil {
		t.Fatalf("expected auth error, got nil")
	}
}

func TestUnprotect_BadFormat(t *testing.T) {
	b := testBox(t)
	for _, ct := range []string{"", "solo-una-parte", "a|b|c", "!!!|###"} {
		if _, err := b.Unprotect("RefreshToken", ct); err == nil {
			t.Fatalf("Unprotect(%q) debería fallar", ct)
		}
	}
}

func TestNew_MasterKeyValidation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatal("master key vacía debe fallar")
	}
	if _, err := New("no-es-base64-!!!"); err == nil {
		t.Fatal("master key no-base64 debe fallar")
	}
	if _, err := New(base64.StdEncoding.EncodeToString([]byte("corta"))); err == nil {
		t.Fatal("master key corta debe fallar")
	}
	k, err := GenerateMasterKey()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(k); err != nil {
		t.Fatalf("master key generada debe ser válida: %v", err)
	}
}

func TestProtect_NonceVaries(t *testing.T) {
	b := testBox(t)
	ct1, _ := b.Protect("RefreshToken", "x")
	ct2, _ := b.Protect("RefreshToken", "x")
	if ct1 == ct2 {
		t.Fatal("dos Protect del mismo plaintext no deben coincidir (nonce)")
	}
}
