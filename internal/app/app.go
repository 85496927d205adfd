// Package app arma el grafo de dependencias completo a partir de la config:
// logger, store, cache, secretbox, firma JWT y los servicios de token.
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/dropDatabas3/tokencore/internal/authcode"
	"github.com/dropDatabas3/tokencore/internal/cache"
	"github.com/dropDatabas3/tokencore/internal/clients"
	"github.com/dropDatabas3/tokencore/internal/config"
	"github.com/dropDatabas3/tokencore/internal/jwt"
	"github.com/dropDatabas3/tokencore/internal/metrics"
	"github.com/dropDatabas3/tokencore/internal/mfa"
	"github.com/dropDatabas3/tokencore/internal/observability/logger"
	"github.com/dropDatabas3/tokencore/internal/refresh"
	"github.com/dropDatabas3/tokencore/internal/security/password"
	"github.com/dropDatabas3/tokencore/internal/security/secretbox"
	"github.com/dropDatabas3/tokencore/internal/settings"
	"github.com/dropDatabas3/tokencore/internal/store/core"
	"github.com/dropDatabas3/tokencore/internal/store/mem"
	"github.com/dropDatabas3/tokencore/internal/store/pg"
)

// Container agrupa los servicios ya cableados.
type Container struct {
	Store    core.Repository
	Cache    cache.Client
	Signer   *jwt.Signer
	AuthCode *authcode.Service
	Refresh  *refresh.Service
	MFA      *mfa.Service
	Clients  *clients.Registry
	Settings *settings.Resolver
}

// New construye el container desde la config. El caller es dueño del
// lifecycle: llamar Close al bajar.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "tokencore"})
	metrics.Register(nil)

	repo, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	cacheClient, err := cache.New(cache.Config{
		Driver: cfg.Cache.Kind,
		Addr:   cfg.Cache.Redis.Addr,
		DB:     cfg.Cache.Redis.DB,
		Prefix: cfg.Cache.Redis.Prefix,
	})
	if err != nil {
		repo.Close()
		return nil, fmt.Errorf("cache: %w", err)
	}

	box, err := buildSecretBox(cfg)
	if err != nil {
		repo.Close()
		_ = cacheClient.Close()
		return nil, err
	}

	signer, err := jwt.NewSigner(jwt.Config{
		KeyMaterial:      cfg.JWT.SigningKey,
		Algorithm:        cfg.JWT.Algorithm,
		Issuer:           cfg.JWT.Issuer,
		Audience:         cfg.JWT.Audience,
		AccessTTLMinutes: int(config.Duration(cfg.JWT.AccessTTL).Minutes()),
	})
	if err != nil {
		repo.Close()
		_ = cacheClient.Close()
		return nil, fmt.Errorf("jwt signer: %w", err)
	}

	resolver := settings.NewResolver(repo, cacheClient)

	return &Container{
		Store:    repo,
		Cache:    cacheClient,
		Signer:   signer,
		AuthCode: authcode.New(repo, config.Duration(cfg.AuthCode.TTL)),
		Refresh:  refresh.New(repo, box, resolver),
		MFA:      mfa.New(repo, box, config.Duration(cfg.MFA.ChallengeTTL)),
		Clients:  clients.NewRegistry(repo, password.NewArgon2ID(), cacheClient),
		Settings: resolver,
	}, nil
}

func buildStore(ctx context.Context, cfg *config.Config) (core.Repository, error) {
	switch strings.ToLower(cfg.Storage.Driver) {
	case "postgres", "pg":
		st, err := pg.New(ctx, cfg.Storage.DSN, pg.Config{
			MaxOpenConns:    cfg.Storage.Postgres.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Postgres.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.Postgres.ConnMaxLifetime,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory", "mem", "":
		// Sólo dev/test: nada sobrevive al proceso.
		logger.L().Warn("using in-memory store; data is not persisted")
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func buildSecretBox(cfg *config.Config) (secretbox.Provider, error) {
	key := strings.TrimSpace(cfg.Security.SecretBoxMasterKey)
	if key == "" {
		// Sin master key los refresh/mfa tokens no se pueden sellar.
		return nil, fmt.Errorf("security.secretbox_master_key is required")
	}
	box, err := secretbox.New(key)
	if err != nil {
		return nil, fmt.Errorf("secretbox: %w", err)
	}
	return box, nil
}

// Sweep corre la limpieza de rows vencidas de los tres tipos de token.
// Pensado para cron o para el comando admin.
func (c *Container) Sweep(ctx context.Context) (codes, refreshTokens, challenges int64, err error) {
	if codes, err = c.AuthCode.SweepExpired(ctx); err != nil {
		return
	}
	if refreshTokens, err = c.Refresh.SweepExpired(ctx); err != nil {
		return
	}
	challenges, err = c.MFA.SweepExpired(ctx)
	return
}

// Close libera store y cache. Idempotencia no garantizada.
func (c *Container) Close() {
	if c.Cache != nil {
		_ = c.Cache.Close()
	}
	if c.Store != nil {
		c.Store.Close()
	}
}
