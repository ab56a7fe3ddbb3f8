// Package app assembles a production Engine from the environment: it
// loads configuration, sets up logging and Sentry, connects PostgreSQL and
// Redis, and registers the configured notification channels.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth"
	"github.com/MrEthical07/panelauth/internal/observability"
	"github.com/MrEthical07/panelauth/internal/postgres"
	"github.com/MrEthical07/panelauth/notify"
)

// App owns the Engine and the connections behind it.
type App struct {
	Engine  *panelauth.Engine
	Config  panelauth.Config
	Runtime panelauth.RuntimeConfig
	Store   *postgres.Store

	pool  *pgxpool.Pool
	redis *redis.Client
}

// Open builds an App from the environment. Migrations run before the
// Engine is built.
func Open(ctx context.Context) (*App, error) {
	cfg, rt, err := panelauth.LoadConfig()
	if err != nil {
		return nil, err
	}
	if err := observability.SetupLogging(rt.LogLevel, rt.LogFormat, nil); err != nil {
		return nil, err
	}
	if err := observability.InitSentry(rt.SentryDSN, rt.Environment); err != nil {
		log.WithError(err).Warn("sentry disabled")
	}

	pool, err := postgres.NewPool(ctx, rt.DatabaseURL, postgres.PoolOptions{})
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	store := postgres.NewStore(pool)

	a := &App{Config: cfg, Runtime: rt, Store: store, pool: pool}

	b := panelauth.New().
		WithConfig(cfg).
		WithEncryptionKey(rt.EncryptionKey).
		WithRepositories(panelauth.Repositories{
			Users:    store,
			Tokens:   store,
			Codes:    store,
			Sessions: store,
			Settings: store,
			Audit:    store,
		})

	if rt.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     rt.RedisAddr,
			Password: rt.RedisPassword,
			DB:       rt.RedisDB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis unreachable: %w", err)
		}
		b = b.WithRedis(a.redis)
	}

	router, err := NewNotifier(rt, cfg.Delivery)
	if err != nil {
		a.Close()
		return nil, err
	}
	b = b.WithNotifier(router)

	if rt.SentryDSN != "" {
		b = b.WithAuditMirror(observability.NewSecurityReporter(nil))
	}

	engine, err := b.Build()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Engine = engine

	log.WithFields(log.Fields{
		"environment": rt.Environment,
		"redis":       rt.RedisAddr != "",
		"channels":    router.Channels(),
	}).Info("panelauth ready")
	return a, nil
}

// NewNotifier registers a sender for every channel whose settings are
// present in rt.
func NewNotifier(rt panelauth.RuntimeConfig, delivery panelauth.DeliveryConfig) (*notify.Router, error) {
	router := notify.NewRouter(delivery.Timeout)
	client := &http.Client{Timeout: delivery.Timeout}

	if rt.SMTPHost != "" {
		smtp, err := notify.NewSMTP(notify.SMTPConfig{
			Host:       rt.SMTPHost,
			Port:       rt.SMTPPort,
			Username:   rt.SMTPUsername,
			Password:   rt.SMTPPassword,
			From:       rt.SMTPFrom,
			RequireTLS: rt.Environment == "production",
		})
		if err != nil {
			return nil, err
		}
		router.Register(notify.ChannelEmail, smtp)
	}
	if rt.TelegramToken != "" {
		tg, err := notify.NewTelegram(rt.TelegramToken, rt.TelegramChatID)
		if err != nil {
			return nil, err
		}
		router.Register(notify.ChannelTelegram, tg)
	}
	if rt.SlackWebhook != "" {
		router.Register(notify.ChannelSlack, notify.NewSlackWebhook(rt.SlackWebhook, client))
	}
	if rt.DiscordWebhook != "" {
		router.Register(notify.ChannelDiscord, notify.NewDiscordWebhook(rt.DiscordWebhook, client))
	}

	if len(router.Channels()) == 0 {
		log.Warn("no notification channel configured; delivered codes and reset links cannot be sent")
	}
	return router, nil
}

// Close drains the audit queue, then releases connections and flushes
// Sentry.
func (a *App) Close() {
	if a.Engine != nil {
		a.Engine.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
	observability.FlushSentry()
}
