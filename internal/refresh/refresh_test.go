package refresh

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	"github.com/dropDatabas3/tokencore/internal/security/token"
	"github.com/dropDatabas3/tokencore/internal/settings"
	"github.com/dropDatabas3/tokencore/internal/store/core"
	"github.com/dropDatabas3/tokencore/internal/store/mem"
)

func testService(t *testing.T) (*Service, *mem.Store, *secretbox.Box) {
	t.Helper()
	raw := make([]byte, 32)
	for i := range raw {
		raw[i] = byte(i)
	}
	box, err := secretbox.NewFromRaw(raw)
	require.NoError(t, err)
	repo := mem.New()
	return New(repo, box, settings.NewResolver(repo, nil)), repo, box
}

func TestIssueAndValidate_Reusable(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	plaintext, err := token.GenerateOpaqueToken(32)
	require.NoError(t, err)

	issued, err := svc.Issue(ctx, "u-1", "t-1", plaintext, "10.0.0.1", "curl/8")
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, issued.EncryptedToken, "el plaintext nunca se guarda en claro")
	assert.Equal(t, token.SHA256Hex(plaintext), issued.TokenHash)
	assert.Equal(t, "10.0.0.1", issued.IPAddress)

	// Reusable: valida repetidamente hasta revocación/expiry.
	for i := 0; i < 3; i++ {
		got, err := svc.Validate(ctx, plaintext)
		require.NoError(t, err, "validación %d", i)
		assert.Equal(t, "u-1", got.UserID)
		require.NotNil(t, got.UsedAt, "used_at se toca en cada validación")
	}
}

func TestIssue_TenantLifetime(t *testing.T) {
	svc, repo, _ := testService(t)
	ctx := context.Background()
	repo.SetTenantSetting("t-1", settings.KeyRefreshTokenExpirationDays, "7")

	issued, err := svc.Issue(ctx, "u-1", "t-1", "some-token-plaintext-value-123456", "", "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), issued.ExpiresAt, 5*time.Second)

	// Tenant sin setting: default 30 días.
	issued, err = svc.Issue(ctx, "u-1", "t-2", "other-token-plaintext-value-123456", "", "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(30*24*time.Hour), issued.ExpiresAt, 5*time.Second)
}

func TestIssue_BlankPlaintextIsDistinctError(t *testing.T) {
	svc, _, _ := testService(t)
	_, err := svc.Issue(context.Background(), "u-1", "t-1", "   ", "", "")
	// Invalid input se distingue del negativo genérico: el caller puede
	// corregir y reintentar.
	assert.ErrorIs(t, err, core.ErrInvalid)
	assert.NotErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_GenericNegatives(t *testing.T) {
	svc, repo, box := testService(t)
	ctx := context.Background()

	_, err := svc.Validate(ctx, "unknown-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Vencido: se inserta la row directo con expiry en el pasado.
	pt, _ := token.GenerateOpaqueToken(32)
	ct, err := box.Protect(Purpose, pt)
	require.NoError(t, err)
	require.NoError(t, repo.CreateRefreshToken(ctx, &core.RefreshToken{
		ID:             "rt-expired",
		UserID:         "u-1",
		TenantID:       "t-1",
		EncryptedToken: ct,
		TokenHash:      token.SHA256Hex(pt),
		ExpiresAt:      time.Now().Add(-time.Minute),
		CreatedAt:      time.Now().Add(-time.Hour),
	}))
	_, err = svc.Validate(ctx, pt)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke_IdempotentAndPermanent(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	pt, _ := token.GenerateOpaqueToken(32)
	_, err := svc.Issue(ctx, "u-1", "t-1", pt, "", "")
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(ctx, pt, "u-1"))
	// Idempotente: revocar lo revocado es éxito.
	require.NoError(t, svc.Revoke(ctx, pt, "u-1"))

	// Y el token queda inválido para siempre.
	_, err = svc.Validate(ctx, pt)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRevoke_ScopedToUser(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	pt, _ := token.GenerateOpaqueToken(32)
	_, err := svc.Issue(ctx, "u-1", "t-1", pt, "", "")
	require.NoError(t, err)

	// Otro usuario no puede revocar el token ajeno.
	err = svc.Revoke(ctx, pt, "u-2")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// El dueño sigue pudiendo validar.
	_, err = svc.Validate(ctx, pt)
	assert.NoError(t, err)
}

func TestRevokeAll_CountsOnlyNewlyRevoked(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	var tokens []string
	for i := 0; i < 3; i++ {
		pt, _ := token.GenerateOpaqueToken(32)
		_, err := svc.Issue(ctx, "u-1", "t-1", pt, "", "")
		require.NoError(t, err)
		tokens = append(tokens, pt)
	}
	// Uno ya revocado individualmente: queda fuera del count.
	require.NoError(t, svc.Revoke(ctx, tokens[0], "u-1"))

	// Token de otro tenant: no lo toca.
	otherPt, _ := token.GenerateOpaqueToken(32)
	_, err := svc.Issue(ctx, "u-1", "t-2", otherPt, "", "")
	require.NoError(t, err)

	n, err := svc.RevokeAll(ctx, "u-1", "t-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for _, pt := range tokens {
		_, err := svc.Validate(ctx, pt)
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	_, err = svc.Validate(ctx, otherPt)
	assert.NoError(t, err, "el tenant t-2 no se ve afectado")

	// Sin tokens restantes: cero afectados, sin error.
	n, err = svc.RevokeAll(ctx, "u-1", "t-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestRevoke_ConcurrentBothSucceed(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	pt, _ := token.GenerateOpaqueToken(32)
	_, err := svc.Issue(ctx, "u-1", "t-1", pt, "", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = svc.Revoke(ctx, pt, "u-1")
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		assert.NoError(t, err, "revoke concurrente %d debe terminar en éxito", i)
	}
}

func TestValidate_HashCollisionDefense(t *testing.T) {
	// Simular una row sustituida: mismo hash de lookup, ciphertext de otro
	// token. La doble verificación por decrypt debe rechazarla.
	raw := make([]byte, 32)
	box, err := secretbox.NewFromRaw(raw)
	require.NoError(t, err)
	repo := mem.New()
	svc := New(repo, box, settings.NewResolver(repo, nil))
	ctx := context.Background()

	pt, _ := token.GenerateOpaqueToken(32)
	otherCT, err := box.Protect(Purpose, "different-plaintext")
	require.NoError(t, err)

	row := &core.RefreshToken{
		ID:             "rt-1",
		UserID:         "u-1",
		TenantID:       "t-1",
		EncryptedToken: otherCT,
		TokenHash:      token.SHA256Hex(pt), // índice apunta acá
		ExpiresAt:      time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
	}
	require.NoError(t, repo.CreateRefreshToken(ctx, row))

	_, err = svc.Validate(ctx, pt)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
