package mfa

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	"github.com/dropDatabas3/tokencore/internal/security/token"
	"github.com/dropDatabas3/tokencore/internal/store/core"
	"github.com/dropDatabas3/tokencore/internal/store/mem"
)

func testService(t *testing.T) (*Service, *mem.Store, *secretbox.Box) {
	t.Helper()
	box, err := secretbox.NewFromRaw(make([]byte, 32))
	require.NoError(t, err)
	repo := mem.New()
	return New(repo, box, 0), repo, box
}

func TestIssueAndConsume_ExactlyOnce(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	plaintext, row, err := svc.Issue(ctx, "u-1", "t-1", 0, "10.0.0.9", "app/1.0")
	require.NoError(t, err)
	assert.NotEmpty(t, plaintext)
	assert.NotEqual(t, plaintext, row.EncryptedToken)
	assert.Equal(t, token.SHA256Hex(plaintext), row.TokenHash)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), row.ExpiresAt, 5*time.Second)

	got, err := svc.ValidateAndConsume(ctx, plaintext)
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.UserID)
	assert.True(t, got.IsUsed)
	require.NotNil(t, got.UsedAt)

	// Un challenge es estrictamente de un solo uso.
	_, err = svc.ValidateAndConsume(ctx, plaintext)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssue_TTLClamp(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	cases := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"zero usa default", 0, DefaultTTL},
		{"negativo usa default", -time.Minute, DefaultTTL},
		{"debajo del mínimo", time.Second, time.Minute},
		{"arriba del máximo", 2 * time.Hour, 30 * time.Minute},
		{"dentro del rango", 10 * time.Minute, 10 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, row, err := svc.Issue(ctx, "u-1", "t-1", tc.ttl, "", "")
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(tc.want), row.ExpiresAt, 5*time.Second)
		})
	}
}

func TestIssue_ConfiguredDefaultTTL(t *testing.T) {
	// El default configurado manda cuando el caller no pasa ttl.
	box, err := secretbox.NewFromRaw(make([]byte, 32))
	require.NoError(t, err)
	svc := New(mem.New(), box, 10*time.Minute)
	ctx := context.Background()

	_, row, err := svc.Issue(ctx, "u-1", "t-1", 0, "", "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), row.ExpiresAt, 5*time.Second)

	// El override por llamada sigue ganando sobre el default configurado.
	_, row, err = svc.Issue(ctx, "u-1", "t-1", 2*time.Minute, "", "")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(2*time.Minute), row.ExpiresAt, 5*time.Second)
}

func TestNew_DefaultTTLClamp(t *testing.T) {
	box, err := secretbox.NewFromRaw(make([]byte, 32))
	require.NoError(t, err)
	ctx := context.Background()

	cases := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{"cero usa DefaultTTL", 0, DefaultTTL},
		{"config debajo del mínimo", time.Second, time.Minute},
		{"config arriba del máximo", 2 * time.Hour, 30 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := New(mem.New(), box, tc.ttl)
			_, row, err := svc.Issue(ctx, "u-1", "t-1", 0, "", "")
			require.NoError(t, err)
			assert.WithinDuration(t, time.Now().Add(tc.want), row.ExpiresAt, 5*time.Second)
		})
	}
}

func TestIssue_RequiresUserAndTenant(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	_, _, err := svc.Issue(ctx, "", "t-1", 0, "", "")
	assert.ErrorIs(t, err, core.ErrInvalid)
	_, _, err = svc.Issue(ctx, "u-1", "", 0, "", "")
	assert.ErrorIs(t, err, core.ErrInvalid)
}

func TestValidateAndConsume_GenericNegatives(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	_, err := svc.ValidateAndConsume(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = svc.ValidateAndConsume(ctx, "no-such-challenge")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAndConsume_ExpiredBeatsUseState(t *testing.T) {
	// Un challenge vencido se rechaza aunque nunca se haya usado, y la
	// row queda sin consumir.
	svc, repo, box := testService(t)
	ctx := context.Background()

	pt, err := GenerateChallenge()
	require.NoError(t, err)
	ct, err := box.Protect(Purpose, pt)
	require.NoError(t, err)
	row := &core.MFAChallengeToken{
		ID:             "mfa-expired",
		UserID:         "u-1",
		TenantID:       "t-1",
		EncryptedToken: ct,
		TokenHash:      token.SHA256Hex(pt),
		ExpiresAt:      time.Now().Add(-time.Second),
		CreatedAt:      time.Now().Add(-time.Hour),
	}
	require.NoError(t, repo.CreateMFAToken(ctx, row))

	_, err = svc.ValidateAndConsume(ctx, pt)
	assert.ErrorIs(t, err, ErrInvalidToken)

	got, err := repo.GetMFATokenByHash(ctx, row.TokenHash)
	require.NoError(t, err)
	assert.False(t, got.IsUsed, "el rechazo por expiry no consume la row")
}

func TestValidateAndConsume_CiphertextMismatch(t *testing.T) {
	// Row con el hash correcto pero ciphertext de otro secreto: la doble
	// verificación por decrypt la rechaza.
	svc, repo, box := testService(t)
	ctx := context.Background()

	pt, err := GenerateChallenge()
	require.NoError(t, err)
	otherCT, err := box.Protect(Purpose, "another-secret")
	require.NoError(t, err)
	require.NoError(t, repo.CreateMFAToken(ctx, &core.MFAChallengeToken{
		ID:             "mfa-swapped",
		UserID:         "u-1",
		TenantID:       "t-1",
		EncryptedToken: otherCT,
		TokenHash:      token.SHA256Hex(pt),
		ExpiresAt:      time.Now().Add(time.Hour),
		CreatedAt:      time.Now(),
	}))

	_, err = svc.ValidateAndConsume(ctx, pt)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateAndConsume_ConcurrentSingleWinner(t *testing.T) {
	svc, _, _ := testService(t)
	ctx := context.Background()

	pt, _, err := svc.Issue(ctx, "u-1", "t-1", 0, "", "")
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	results := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.ValidateAndConsume(ctx, pt)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrInvalidToken)
		}
	}
	assert.Equal(t, 1, wins, "exactamente un canje gana la carrera")
}

func TestSweepExpired(t *testing.T) {
	svc, repo, box := testService(t)
	ctx := context.Background()

	// Vigente.
	_, _, err := svc.Issue(ctx, "u-1", "t-1", 0, "", "")
	require.NoError(t, err)

	// Vencido, insertado directo.
	pt, _ := GenerateChallenge()
	ct, _ := box.Protect(Purpose, pt)
	require.NoError(t, repo.CreateMFAToken(ctx, &core.MFAChallengeToken{
		ID:             "mfa-old",
		UserID:         "u-1",
		TenantID:       "t-1",
		EncryptedToken: ct,
		TokenHash:      token.SHA256Hex(pt),
		ExpiresAt:      time.Now().Add(-time.Hour),
		CreatedAt:      time.Now().Add(-2 * time.Hour),
	}))

	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestGenerateChallenge_Unique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		c, err := GenerateChallenge()
		require.NoError(t, err)
		assert.False(t, seen[c])
		seen[c] = true
	}
}
