package password

import (
	"strings"
	"testing"
)

func TestHash_SaltedAndBothVerify(t *testing.T) {
	h := NewArgon2ID()
	h1, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash err: %v", err)
	}
	h2, err := h.Hash("s3cret")
	if err != nil {
		t.Fatalf("Hash err: %v", err)
	}
	if h1 == h2 {
		t.Fatalf("dos hashes del mismo secreto no deben coincidir (salt)")
	}
	if !h.Verify(h1, "s3cret") || !h.Verify(h2, "s3cret") {
		t.Fatalf("ambos hashes deben verificar el secreto original")
	}
	if h.Verify(h1, "wrong") || h.Verify(h2, "wrong") {
		t.Fatalf("secreto incorrecto no debe verificar")
	}
}

func TestHash_RejectsBlank(t *testing.T) {
	h := NewArgon2ID()
	for _, in := range []string{"", "   ", "\t\n"} {
		if _, err := h.Hash(in); err == nil {
			t.Fatalf("Hash(%q) debería fallar", in)
		}
	}
}

func TestVerify_MalformedNeverPanics(t *testing.T) {
	h := NewArgon2ID()
	for _, phc := range []string{
		"",
		"$argon2id$",
		"$argon2id$v=19$m=a,t=b,p=c$x$y",
		"$bcrypt$whatever",
		"$argon2id$v=18$m=65536,t=3,p=1$AAAA$BBBB",
		"not-a-phc-string",
	} {
		if h.Verify(phc, "anything") {
			t.Fatalf("Verify(%q) devolvió true", phc)
		}
	}
	if h.Verify("$argon2id$v=19$m=65536,t=3,p=1$AAAA$BBBB", "") {
		t.Fatal("plain vacío debe fallar")
	}
}

func TestHash_PHCFormat(t *testing.T) {
	h := NewArgon2ID()
	phc, err := h.Hash("abc")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(phc, "$argon2id$v=19$m=65536,t=3,p=1$") {
		t.Fatalf("formato PHC inesperado: %s", phc)
	}
}
