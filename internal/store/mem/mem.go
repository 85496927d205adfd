// Package mem implementa core.Repository en memoria.
//
// Mismo contrato que pg, incluido el CAS de consumo single-use (bajo mutex el
// check-and-flip es atómico). Se usa en tests y en modo dev sin DB.
package mem

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/tokencore/internal/store/core"
)

type Store struct {
	mu sync.Mutex

	authCodes   map[string]*core.AuthorizationCode // id → row
	codeIndex   map[string]string                  // code → id
	refresh     map[string]*core.RefreshToken      // id → row
	refreshIdx  map[string]string                  // token_hash → id
	mfa         map[string]*core.MFAChallengeToken // id → row
	mfaIdx      map[string]string                  // token_hash → id
	clients     map[string]*core.OAuthClient       // id → row
	clientIdx   map[string]string                  // client_id → id
	tenantSetts map[string]map[string]string       // tenant → key → value
}

var _ core.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		authCodes:   make(map[string]*core.AuthorizationCode),
		codeIndex:   make(map[string]string),
		refresh:     make(map[string]*core.RefreshToken),
		refreshIdx:  make(map[string]string),
		mfa:         make(map[string]*core.MFAChallengeToken),
		mfaIdx:      make(map[string]string),
		clients:     make(map[string]*core.OAuthClient),
		clientIdx:   make(map[string]string),
		tenantSetts: make(map[string]map[string]string),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close()                         {}

// SetTenantSetting es un seam de test: en producción tenant_settings lo
// escribe el control plane, no este core.
func (s *Store) SetTenantSetting(tenantID, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.tenantSetts[tenantID]
	if !ok {
		m = make(map[string]string)
		s.tenantSetts[tenantID] = m
	}
	m[key] = value
}

// ─── AuthCodeRepository ───

func (s *Store) CreateAuthCode(ctx context.Context, c *core.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.codeIndex[c.Code]; dup {
		return core.ErrConflict
	}
	cp := *c
	s.authCodes[c.ID] = &cp
	s.codeIndex[c.Code] = c.ID
	return nil
}

func (s *Store) GetAuthCodeByCode(ctx context.Context, code string) (*core.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.codeIndex[code]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.authCodes[id]
	return &cp, nil
}

func (s *Store) ConsumeAuthCode(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.authCodes[id]
	if !ok || c.IsUsed {
		return false, nil
	}
	c.IsUsed = true
	t := at
	c.UsedAt = &t
	return true, nil
}

func (s *Store) DeleteExpiredAuthCodes(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, c := range s.authCodes {
		if c.ExpiresAt.Before(before) || c.IsUsed {
			delete(s.codeIndex, c.Code)
			delete(s.authCodes, id)
			n++
		}
	}
	return n, nil
}

// ─── RefreshTokenRepository ───

func (s *Store) CreateRefreshToken(ctx context.Context, t *core.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.refreshIdx[t.TokenHash]; dup {
		return core.ErrConflict
	}
	cp := *t
	s.refresh[t.ID] = &cp
	s.refreshIdx[t.TokenHash] = t.ID
	return nil
}

func (s *Store) GetRefreshTokenByHash(ctx context.Context, tokenHash string) (*core.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refreshIdx[tokenHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.refresh[id]
	return &cp, nil
}

func (s *Store) GetRefreshTokenByHashAndUser(ctx context.Context, tokenHash, userID string) (*core.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.refreshIdx[tokenHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	t := s.refresh[id]
	if t.UserID != userID {
		return nil, core.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *Store) TouchRefreshTokenUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.refresh[id]; ok {
		u := at
		t.UsedAt = &u
	}
	return nil
}

func (s *Store) RevokeRefreshToken(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.refresh[id]
	if !ok || t.IsRevoked {
		return false, nil
	}
	t.IsRevoked = true
	r := at
	t.RevokedAt = &r
	return true, nil
}

func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID, tenantID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, t := range s.refresh {
		if t.UserID == userID && t.TenantID == tenantID && !t.IsRevoked {
			t.IsRevoked = true
			r := at
			t.RevokedAt = &r
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.refresh {
		if t.ExpiresAt.Before(before) {
			delete(s.refreshIdx, t.TokenHash)
			delete(s.refresh, id)
			n++
		}
	}
	return n, nil
}

// ─── MFATokenRepository ───

func (s *Store) CreateMFAToken(ctx context.Context, t *core.MFAChallengeToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.mfaIdx[t.TokenHash]; dup {
		return core.ErrConflict
	}
	cp := *t
	s.mfa[t.ID] = &cp
	s.mfaIdx[t.TokenHash] = t.ID
	return nil
}

func (s *Store) GetMFATokenByHash(ctx context.Context, tokenHash string) (*core.MFAChallengeToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.mfaIdx[tokenHash]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.mfa[id]
	return &cp, nil
}

func (s *Store) ConsumeMFAToken(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.mfa[id]
	if !ok || t.IsUsed {
		return false, nil
	}
	t.IsUsed = true
	u := at
	t.UsedAt = &u
	return true, nil
}

func (s *Store) DeleteExpiredMFATokens(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, t := range s.mfa {
		if t.ExpiresAt.Before(before) || t.IsUsed {
			delete(s.mfaIdx, t.TokenHash)
			delete(s.mfa, id)
			n++
		}
	}
	return n, nil
}

// ─── ClientRepository ───

func (s *Store) CreateClient(ctx context.Context, c *core.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.clientIdx[c.ClientID]; dup {
		return core.ErrConflict
	}
	cp := *c
	s.clients[c.ID] = &cp
	s.clientIdx[c.ClientID] = c.ID
	return nil
}

func (s *Store) GetClientByClientID(ctx context.Context, clientID string) (*core.OAuthClient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.clientIdx[clientID]
	if !ok {
		return nil, core.ErrNotFound
	}
	cp := *s.clients[id]
	return &cp, nil
}

func (s *Store) UpdateClient(ctx context.Context, c *core.OAuthClient) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[c.ID]; !ok {
		return core.ErrNotFound
	}
	cp := *c
	s.clients[c.ID] = &cp
	return nil
}

// ─── SettingsRepository ───

func (s *Store) GetTenantSetting(ctx context.Context, tenantID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.tenantSetts[tenantID]; ok {
		if v, ok := m[key]; ok {
			return v, nil
		}
	}
	return "", core.ErrNotFound
}
