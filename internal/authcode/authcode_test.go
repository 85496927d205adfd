package authcode

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/tokencore/internal/security/token"
	"github.com/dropDatabas3/tokencore/internal/store/core"
	"github.com/dropDatabas3/tokencore/internal/store/mem"
)

func testParams() IssueParams {
	return IssueParams{
		UserID:      "u-1",
		TenantID:    "t-1",
		ClientID:    "web-app",
		RedirectURI: "https://app.example.com/callback",
		Scope:       "openid profile",
		State:       "xyz",
	}
}

func TestIssueAndRedeem_NoPKCE(t *testing.T) {
	svc := New(mem.New(), 0)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testParams())
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Code)
	assert.False(t, issued.IsUsed)
	assert.WithinDuration(t, time.Now().Add(DefaultTTL), issued.ExpiresAt, 5*time.Second)

	got, err := svc.ValidateAndConsume(ctx, issued.Code, "web-app", "https://app.example.com/callback", "")
	require.NoError(t, err)
	assert.True(t, got.IsUsed)
	require.NotNil(t, got.UsedAt)
	assert.Equal(t, "u-1", got.UserID)

	// Segundo canje con inputs idénticos: falla.
	_, err = svc.ValidateAndConsume(ctx, issued.Code, "web-app", "https://app.example.com/callback", "")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestRedeem_GenericRejections(t *testing.T) {
	svc := New(mem.New(), 0)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testParams())
	require.NoError(t, err)

	cases := []struct {
		name                        string
		code, clientID, redirectURI string
	}{
		{"code desconocido", "no-such-code", "web-app", "https://app.example.com/callback"},
		{"client mismatch", issued.Code, "other-app", "https://app.example.com/callback"},
		{"redirect mismatch", issued.Code, "web-app", "https://evil.example.com/callback"},
		{"code vacío", "", "web-app", "https://app.example.com/callback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.ValidateAndConsume(ctx, tc.code, tc.clientID, tc.redirectURI, "")
			// Todos los rechazos son el mismo negativo genérico.
			assert.ErrorIs(t, err, ErrInvalidCode)
		})
	}

	// Los rechazos anteriores no consumieron el code.
	_, err = svc.ValidateAndConsume(ctx, issued.Code, "web-app", "https://app.example.com/callback", "")
	assert.NoError(t, err)
}

func TestRedeem_Expired(t *testing.T) {
	repo := mem.New()
	svc := New(repo, 0)
	ctx := context.Background()

	// Insertar directo con expires_at en el pasado.
	row := &core.AuthorizationCode{
		ID:          "id-1",
		Code:        "expired-code",
		UserID:      "u-1",
		TenantID:    "t-1",
		ClientID:    "web-app",
		RedirectURI: "https://app.example.com/callback",
		ExpiresAt:   time.Now().Add(-time.Minute),
		CreatedAt:   time.Now().Add(-10 * time.Minute),
	}
	require.NoError(t, repo.CreateAuthCode(ctx, row))

	_, err := svc.ValidateAndConsume(ctx, "expired-code", "web-app", "https://app.example.com/callback", "")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestPKCE_S256EndToEnd(t *testing.T) {
	svc := New(mem.New(), 0)
	ctx := context.Background()

	verifier := "test-verifier"
	p := testParams()
	p.CodeChallenge = token.SHA256Base64URL(verifier)
	p.CodeChallengeMethod = MethodS256

	issued, err := svc.Issue(ctx, p)
	require.NoError(t, err)

	// Verifier incorrecto: falla sin consumir.
	_, err = svc.ValidateAndConsume(ctx, issued.Code, p.ClientID, p.RedirectURI, "wrong-verifier")
	assert.ErrorIs(t, err, ErrInvalidCode)

	// Verifier omitido con challenge registrado: falla.
	_, err = svc.ValidateAndConsume(ctx, issued.Code, p.ClientID, p.RedirectURI, "")
	assert.ErrorIs(t, err, ErrInvalidCode)

	// Verifier correcto: éxito y queda usado.
	got, err := svc.ValidateAndConsume(ctx, issued.Code, p.ClientID, p.RedirectURI, verifier)
	require.NoError(t, err)
	assert.True(t, got.IsUsed)

	// Re-canje: already used.
	_, err = svc.ValidateAndConsume(ctx, issued.Code, p.ClientID, p.RedirectURI, verifier)
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestPKCE_PlainMethod(t *testing.T) {
	svc := New(mem.New(), 0)
	ctx := context.Background()

	p := testParams()
	p.CodeChallenge = "plain-challenge-value"
	p.CodeChallengeMethod = MethodPlain

	issued, err := svc.Issue(ctx, p)
	require.NoError(t, err)

	_, err = svc.ValidateAndConsume(ctx, issued.Code, p.ClientID, p.RedirectURI, "plain-challenge-value")
	assert.NoError(t, err)
}

func TestPKCE_DefaultsToPlainWhenMethodMissing(t *testing.T) {
	svc := New(mem.New(), 0)
	ctx := context.Background()

	p := testParams()
	p.CodeChallenge = "challenge"
	p.CodeChallengeMethod = ""

	issued, err := svc.Issue(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, MethodPlain, issued.CodeChallengeMethod)
}

func TestPKCE_UnknownMethodRejected(t *testing.T) {
	svc := New(mem.New(), 0)
	ctx := context.Background()

	p := testParams()
	p.CodeChallenge = "challenge"
	p.CodeChallengeMethod = "S512"
	_, err := svc.Issue(ctx, p)
	assert.ErrorIs(t, err, core.ErrInvalid)

	// Un método desconocido ya registrado (row vieja) también falla el canje.
	repo := mem.New()
	svc = New(repo, 0)
	row := &core.AuthorizationCode{
		ID:                  "id-1",
		Code:                "legacy-code",
		UserID:              "u-1",
		TenantID:            "t-1",
		ClientID:            "web-app",
		RedirectURI:         "https://app.example.com/callback",
		CodeChallenge:       "challenge",
		CodeChallengeMethod: "S512",
		ExpiresAt:           time.Now().Add(time.Minute),
	}
	require.NoError(t, repo.CreateAuthCode(context.Background(), row))
	_, err = svc.ValidateAndConsume(context.Background(), "legacy-code", "web-app", "https://app.example.com/callback", "challenge")
	assert.ErrorIs(t, err, ErrInvalidCode)
}

func TestPKCE_MethodWithoutChallengeRejected(t *testing.T) {
	svc := New(mem.New(), 0)

	p := testParams()
	p.CodeChallenge = ""
	p.CodeChallengeMethod = MethodS256
	_, err := svc.Issue(context.Background(), p)
	assert.ErrorIs(t, err, core.ErrInvalid)
}

func TestIssue_InvalidInput(t *testing.T) {
	svc := New(mem.New(), 0)
	p := testParams()
	p.RedirectURI = ""
	_, err := svc.Issue(context.Background(), p)
	assert.ErrorIs(t, err, core.ErrInvalid)
}

func TestIssue_CodesAreUnique(t *testing.T) {
	svc := New(mem.New(), 0)
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		issued, err := svc.Issue(context.Background(), testParams())
		require.NoError(t, err)
		require.False(t, seen[issued.Code])
		seen[issued.Code] = true
	}
}

func TestRedeem_ConcurrentExactlyOnce(t *testing.T) {
	svc := New(mem.New(), 0)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testParams())
	require.NoError(t, err)

	const n = 16
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.ValidateAndConsume(ctx, issued.Code, "web-app", "https://app.example.com/callback", ""); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactamente un canje concurrente debe ganar")
}

func TestSweepExpired(t *testing.T) {
	repo := mem.New()
	svc := New(repo, 0)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, testParams())
	require.NoError(t, err)
	_, err = svc.ValidateAndConsume(ctx, issued.Code, "web-app", "https://app.example.com/callback", "")
	require.NoError(t, err)

	// Sigue vigente pero usado: el sweep lo levanta igual.
	n, err := svc.SweepExpired(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
