package main

import (
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"studiodesk.app/internal/audit"
	"studiodesk.app/internal/auth"
	"studiodesk.app/internal/config"
	"studiodesk.app/internal/notify"
	"studiodesk.app/internal/obs"
	"studiodesk.app/internal/ratelimit"
)

// core is the assembled identity core.
type core struct {
	gateway  *auth.Gateway
	gate     *auth.PermissionGate
	resolver *auth.PermissionResolver
}

// buildCore wires the auth components over store.
func buildCore(cfg *config.Config, store auth.Store, notifier auth.Notifier, metrics *obs.Metrics, logger *slog.Logger) (*core, error) {
	codec, err := auth.NewTokenCodec(cfg.Auth.Secrets(), auth.WithIssuer(cfg.Auth.Issuer))
	if err != nil {
		return nil, err
	}
	hasher := auth.NewArgon2idHasher()

	var recorder auth.Recorder = audit.NewRecorder(logger, nil)
	if metrics != nil {
		recorder = audit.NewRecorder(logger, metrics)
	}
	ledgerOpts := []auth.LedgerOption{
		auth.WithLedgerLogger(logger),
		auth.WithLedgerRecorder(recorder),
		auth.WithRevokeOnReuse(cfg.Auth.RevokeOnReuse),
	}

	resolver := auth.NewPermissionResolver(store)
	gateway, err := auth.NewGateway(auth.GatewayDeps{
		Directory: store,
		Hasher:    hasher,
		Codec:     codec,
		Resolver:  resolver,
		Verifier:  auth.NewCredentialVerifier(store, hasher, logger),
		Refresh:   auth.NewRefreshTokenLedger(store, codec, ledgerOpts...),
		Resets:    auth.NewPasswordResetLedger(store, codec, ledgerOpts...),
		Notifier:  notifier,
	},
		auth.WithResetURLBase(cfg.Mail.FrontendURL),
		auth.WithPasswordUpdater(store),
		auth.WithLogger(logger),
		auth.WithRecorder(recorder),
	)
	if err != nil {
		return nil, err
	}
	return &core{
		gateway:  gateway,
		gate:     auth.NewPermissionGate(resolver, recorder),
		resolver: resolver,
	}, nil
}

// buildLimiter returns the login limiter: shared through Redis when
// redis.url is set, in process memory otherwise. The returned func releases
// its resources.
func buildLimiter(cfg *config.Config) (ratelimit.Limiter, func() error, error) {
	if cfg.Redis.URL == "" {
		mem := ratelimit.NewMemory(cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow)
		return mem, mem.Close, nil
	}
	opts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, nil, oops.Code(auth.CodeConfiguration).With("key", "redis.url").Wrap(err)
	}
	client := redis.NewClient(opts)
	return ratelimit.NewRedis(client, cfg.Auth.LoginRateLimit, cfg.Auth.LoginRateWindow), client.Close, nil
}

// buildNotifier returns an SMTP notifier when mail.host is set and a
// log-only notifier otherwise.
func buildNotifier(cfg *config.Config, logger *slog.Logger) (auth.Notifier, error) {
	if cfg.Mail.Host == "" {
		logger.Warn("mail.host not set, password reset links will not be delivered")
		return notify.NewLog(logger), nil
	}
	return notify.NewSMTP(notify.SMTPConfig{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		Username: cfg.Mail.Username,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
	})
}
