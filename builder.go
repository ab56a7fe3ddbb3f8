package panelauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/MrEthical07/panelauth/internal/audit"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/jwt"
	"github.com/MrEthical07/panelauth/notify"
	"github.com/MrEthical07/panelauth/password"
	"github.com/MrEthical07/panelauth/secrets"
	"github.com/MrEthical07/panelauth/session"
	"github.com/MrEthical07/panelauth/settings"
)

// AuditSink receives a copy of every audit entry after the repository
// stored it. Mirror failures never fail the audited operation.
type AuditSink interface {
	Log(ctx context.Context, e AuditEntry) (string, error)
}

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config   Config
	repos    Repositories
	redis    redis.UniversalClient
	notifier notify.Notifier

	keyMaterial string
	cipher      *secrets.Cipher

	auditMirrors []AuditSink
	now          func() time.Time

	built bool
}

// New returns a Builder holding DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRepositories sets the persistence backends. All of them are required.
func (b *Builder) WithRepositories(repos Repositories) *Builder {
	b.repos = repos
	return b
}

// WithRedis enables request throttling and the shared settings cache.
// Without Redis the Engine runs unthrottled with a process-local cache.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithNotifier sets the delivery backend for codes, reset links and
// recovery tokens.
func (b *Builder) WithNotifier(n notify.Notifier) *Builder {
	b.notifier = n
	return b
}

// WithEncryptionKey sets the master key material. Build fails without it.
func (b *Builder) WithEncryptionKey(material string) *Builder {
	b.keyMaterial = material
	return b
}

// WithCipher supplies an already derived cipher instead of key material.
func (b *Builder) WithCipher(c *secrets.Cipher) *Builder {
	b.cipher = c
	return b
}

// WithAuditMirror adds sinks that receive every persisted audit entry.
func (b *Builder) WithAuditMirror(sinks ...AuditSink) *Builder {
	b.auditMirrors = append(b.auditMirrors, sinks...)
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithClock overrides the time source of the Engine and its stores.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	repos := b.repos
	switch {
	case repos.Users == nil:
		return nil, errors.New("user repository required")
	case repos.Tokens == nil:
		return nil, errors.New("token repository required")
	case repos.Codes == nil:
		return nil, errors.New("otp repository required")
	case repos.Sessions == nil:
		return nil, errors.New("session repository required")
	case repos.Settings == nil:
		return nil, errors.New("settings repository required")
	case repos.Audit == nil:
		return nil, errors.New("audit repository required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- KEY MATERIAL --------
	cipher := b.cipher
	if cipher == nil {
		if b.keyMaterial == "" {
			return nil, ErrMissingKeyMaterial
		}
		c, err := secrets.New(b.keyMaterial)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMissingKeyMaterial, err)
		}
		cipher = c
	}

	// -------- PASSWORD HASHER --------
	hasher, err := password.NewArgon2(cfg.Password.hasher())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// -------- SETTINGS --------
	layers := []settings.CacheLayer{settings.NewMemoryLayer(cfg.Settings.MemoryTTL)}
	if b.redis != nil {
		layers = append(layers, settings.NewRedisLayer(b.redis, cfg.Settings.RedisPrefix, cfg.Settings.RedisTTL))
	}
	layers = append(layers, settings.NewRepositoryLayer(repos.Settings))
	settingsStore, err := settings.NewStore(settings.NewLayered(layers...), cipher, cfg.Settings.EncryptedKeys...)
	if err != nil {
		return nil, err
	}

	// -------- SESSIONS --------
	sessions, err := session.NewStore(repos.Sessions, cfg.Session.store(), session.WithClock(now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// -------- THROTTLE --------
	var limiter *rate.Limiter
	if b.redis != nil {
		limiter = rate.New(b.redis, cfg.Throttle.limiter())
	} else {
		log.Warn("panelauth: no redis client configured, request throttling disabled")
	}

	// -------- CLI GRANTS --------
	grants, err := jwt.NewManager(jwt.Config{
		TTL:      cfg.Grant.TTL,
		Issuer:   cfg.Grant.Issuer,
		Audience: cfg.Grant.Audience,
		Leeway:   cfg.Grant.Leeway,
		Now:      now,
	}, settingsStore.HMACSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// -------- AUDIT --------
	mirrors := make([]audit.Sink, 0, len(b.auditMirrors))
	for _, m := range b.auditMirrors {
		if m != nil {
			mirrors = append(mirrors, m)
		}
	}
	sink := audit.MultiSink{Primary: repos.Audit, Mirrors: mirrors}

	notifier := b.notifier
	if notifier == nil {
		notifier = notify.NewRouter(cfg.Delivery.Timeout)
	}

	e := &Engine{
		config:     cfg,
		users:      repos.Users,
		tokens:     repos.Tokens,
		codes:      repos.Codes,
		sessions:   sessions,
		settings:   settingsStore,
		cipher:     cipher,
		hasher:     hasher,
		limiter:    limiter,
		notifier:   notifier,
		grants:     grants,
		auditSink:  sink,
		dispatcher: audit.NewDispatcher(cfg.Audit.dispatcher(), sink),
		metrics:    NewMetrics(cfg.Metrics),
		now:        now,
	}
	e.otp = &OTPCoordinator{engine: e}
	e.tokenService = &TokenService{engine: e}
	e.recovery = &RecoveryService{engine: e}

	b.built = true
	return e, nil
}
