package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jrsteele09/go-guest-auth/correlation"
	"github.com/jrsteele09/go-guest-auth/identity"
	"github.com/jrsteele09/go-guest-auth/identity/providerfake"
	"github.com/jrsteele09/go-guest-auth/identity/remote"
	"github.com/jrsteele09/go-guest-auth/internal/config"
	"github.com/jrsteele09/go-guest-auth/internal/metrics"
	"github.com/jrsteele09/go-guest-auth/internal/pgdb"
	"github.com/jrsteele09/go-guest-auth/notify"
	"github.com/jrsteele09/go-guest-auth/profiles"
	"github.com/jrsteele09/go-guest-auth/profiles/pgstore"
	fakecustomerrepo "github.com/jrsteele09/go-guest-auth/profiles/repofake"
	"github.com/jrsteele09/go-guest-auth/ratelimit"
	"github.com/jrsteele09/go-guest-auth/server"
	"github.com/jrsteele09/go-guest-auth/server/authflowrepo"
	"github.com/jrsteele09/go-guest-auth/server/loginsession"
	"github.com/jrsteele09/go-guest-auth/workload"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// app holds the wired services and the connections they share.
type app struct {
	server  *server.Server
	store   *correlation.Store
	sweeper *correlation.Sweeper

	pool  *pgxpool.Pool
	redis *redis.Client
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	if err := metrics.Register(nil); err != nil {
		return nil, fmt.Errorf("[newApp] metrics: %w", err)
	}
	a := &app{}
	if err := a.connect(ctx, cfg); err != nil {
		a.Close()
		return nil, err
	}

	mailer, err := notify.NewMailer(newSender(cfg), cfg.GetAppName())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("[newApp] mailer: %w", err)
	}

	provider, err := newProvider(cfg, mailer)
	if err != nil {
		a.Close()
		return nil, err
	}
	adapter, err := identity.NewAdapter(provider, identity.WithLogger(log.With().Str("component", "identity").Logger()))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("[newApp] identity adapter: %w", err)
	}

	backend, err := a.correlationBackend(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.store, err = correlation.NewStore(backend,
		correlation.WithTTL(cfg.GetCorrelationTTL()),
		correlation.WithDedupWindow(cfg.GetCorrelationDedupWindow()),
		correlation.WithLogger(log.With().Str("component", "correlation").Logger()),
	)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("[newApp] correlation store: %w", err)
	}
	a.sweeper = correlation.NewSweeper(a.store, cfg.GetCorrelationSweepInterval(), log.With().Str("component", "sweeper").Logger())

	profileService, err := profiles.NewService(a.customerRepo())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("[newApp] profiles: %w", err)
	}

	services := server.Services{
		Identity:      adapter,
		Profiles:      profileService,
		Correlations:  a.store,
		LoginSessions: loginsession.NewCacheLoginSessionRepo(time.Minute),
		Limiter:       a.limiter(cfg),
		Mailer:        mailer,
	}
	if a.redis != nil {
		services.AuthFlows = authflowrepo.NewRedisRepo(a.redis, "")
	}
	a.server, err = server.New(cfg, services)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) connect(ctx context.Context, cfg config.Config) error {
	if cfg.GetCorrelationDriver() == config.CorrelationDriverPostgres || cfg.GetDatabaseURL() != "" {
		pool, err := pgdb.Connect(ctx, cfg.GetDatabaseURL())
		if err != nil {
			return fmt.Errorf("[app.connect] postgres: %w", err)
		}
		a.pool = pool
	}
	if cfg.GetCorrelationDriver() == config.CorrelationDriverRedis || cfg.GetRedisAddr() != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.GetRedisAddr(),
			Password: cfg.GetRedisPassword(),
			DB:       cfg.GetRedisDB(),
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.GetRedisAddr()).Msg("redis ping failed")
		}
	}
	return nil
}

func (a *app) correlationBackend(ctx context.Context, cfg config.Config) (correlation.Backend, error) {
	switch cfg.GetCorrelationDriver() {
	case config.CorrelationDriverPostgres:
		backend, err := correlation.NewPostgresBackend(a.pool, cfg.GetCorrelationTable())
		if err != nil {
			return nil, err
		}
		if err := backend.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("[app.correlationBackend] schema: %w", err)
		}
		return backend, nil
	case config.CorrelationDriverRedis:
		return correlation.NewRedisBackend(a.redis, ""), nil
	default:
		return correlation.NewMemoryBackend(), nil
	}
}

func (a *app) customerRepo() profiles.CustomerRepo {
	if a.pool != nil {
		store, err := pgstore.NewCustomerStore(a.pool)
		if err == nil {
			return store
		}
		log.Warn().Err(err).Msg("falling back to in-memory customer profiles")
	}
	return fakecustomerrepo.NewFakeCustomerRepo()
}

func (a *app) limiter(cfg config.Config) ratelimit.Limiter {
	if !cfg.GetEnableRateLimiting() {
		return ratelimit.Unlimited{}
	}
	if a.redis != nil {
		return ratelimit.NewRedisLimiter(a.redis, "guestauth:otp:", cfg.GetOTPRequestLimit(), cfg.GetOTPRequestWindow())
	}
	return ratelimit.NewMemoryLimiter(cfg.GetOTPRequestLimit(), cfg.GetOTPRequestWindow())
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

func newSender(cfg config.Config) notify.Sender {
	if cfg.SmtpEnabled() {
		return notify.NewSMTPSender(cfg)
	}
	return notify.LogSender{}
}

func newProvider(cfg config.Config, mailer *notify.Mailer) (identity.Provider, error) {
	if cfg.GetProviderMode() == config.ProviderModeLocal {
		log.Warn().Msg("using the local identity provider; codes are delivered by the configured mailer")
		return providerfake.NewFakeProvider(
			providerfake.WithCodeValidity(cfg.GetOTPValidity()),
			providerfake.WithMaxAttempts(cfg.GetMaxOTPAttempts()),
			providerfake.WithIssuer(cfg.GetBaseURL()+"/local-idp", cfg.GetProviderClientID()),
			providerfake.WithCodeSender(mailer),
		), nil
	}

	credentials, err := workload.NewManager(cfg.GetProviderName(), &workload.ClientCredentialsSource{
		ClientID:     cfg.GetProviderClientID(),
		ClientSecret: cfg.GetProviderClientSecret(),
		TokenURL:     cfg.GetProviderTokenURL(),
		Scopes:       cfg.GetProviderScopes(),
	}, workload.WithLogger(log.With().Str("component", "workload").Logger()))
	if err != nil {
		return nil, fmt.Errorf("[newProvider] workload credentials: %w", err)
	}
	provider, err := remote.New(remote.Config{
		BaseURL:   cfg.GetProviderAPIURL(),
		ClientID:  cfg.GetProviderClientID(),
		IssuerURL: cfg.GetProviderIssuerURL(),
	}, credentials, remote.WithLogger(log.With().Str("component", "provider").Logger()))
	if err != nil {
		return nil, fmt.Errorf("[newProvider] remote provider: %w", err)
	}
	return provider, nil
}
