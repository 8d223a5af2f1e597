package authcore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/govportal/authcore/internal/audit"
	"github.com/govportal/authcore/internal/metrics"
	"github.com/govportal/authcore/internal/rate"
	"github.com/govportal/authcore/jwt"
	"github.com/govportal/authcore/password"
	"github.com/govportal/authcore/permission"
	"github.com/govportal/authcore/session"
)

// Builder assembles an [Engine]. A user provider is the only hard
// requirement; everything else defaults sensibly — in-memory session store
// and throttle, the standard permission matrix, no audit sink. Passing a
// Redis client via [Builder.WithRedis] switches the session registry and
// the login throttle to shared backends.
type Builder struct {
	config Config

	users        UserProvider
	redisClient  redis.UniversalClient
	sessionStore session.Store
	limiter      rate.Limiter
	perms        *permission.Matrix
	auditSink    AuditSink
	logger       *slog.Logger
	registerer   prometheus.Registerer

	built bool
}

// NewBuilder starts a builder with default configuration.
func NewBuilder() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithUserProvider sets the credential store adapter. Required.
func (b *Builder) WithUserProvider(p UserProvider) *Builder {
	b.users = p
	return b
}

// WithRedis backs the session registry and login throttle with Redis.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redisClient = client
	return b
}

// WithSessionStore injects a custom session registry, overriding both the
// in-memory default and WithRedis.
func (b *Builder) WithSessionStore(store session.Store) *Builder {
	b.sessionStore = store
	return b
}

// WithRateLimiter injects a custom login throttle.
func (b *Builder) WithRateLimiter(l rate.Limiter) *Builder {
	b.limiter = l
	return b
}

// WithPermissionMatrix replaces the standard portal policy. The matrix is
// frozen during Build.
func (b *Builder) WithPermissionMatrix(m *permission.Matrix) *Builder {
	b.perms = m
	return b
}

// WithAuditSink sets the audit event consumer.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the engine logger. Defaults to a silent logger.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithMetricsRegisterer sets where engine instruments register. Defaults
// to prometheus.DefaultRegisterer when metrics are enabled.
func (b *Builder) WithMetricsRegisterer(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// Build validates configuration, wires every component, and returns the
// engine. A builder can only be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.users == nil {
		return nil, errors.New("user provider required")
	}

	cfg := cloneConfig(b.config)
	if len(cfg.JWT.Secret) == 0 {
		return nil, errors.New("jwt secret required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	tokens, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Secret:     cloneBytes(cfg.JWT.Secret),
		Issuer:     cfg.JWT.Issuer,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.New(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
		MinLength:   cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	decoyHash, err := mintDecoyHash(hasher)
	if err != nil {
		return nil, err
	}

	store := b.sessionStore
	if store == nil {
		sessCfg := session.Config{
			MaxAge:    cfg.Session.MaxAge,
			Retention: cfg.Session.Retention,
		}
		if b.redisClient != nil {
			store = session.NewRedisStore(b.redisClient, sessCfg)
		} else {
			store = session.NewMemoryStore(sessCfg)
		}
	}

	limiter := b.limiter
	if limiter == nil {
		rateCfg := rate.Config{
			MaxAttempts:      cfg.Security.MaxLoginAttempts,
			Window:           cfg.Security.AttemptWindow,
			EnableIPThrottle: cfg.Security.EnableIPThrottle,
		}
		if b.redisClient != nil {
			limiter = rate.NewRedisLimiter(b.redisClient, rateCfg)
		} else {
			limiter = rate.NewMemoryLimiter(rateCfg)
		}
	}

	perms := b.perms
	if perms == nil {
		perms = permission.Default()
	}
	perms.Freeze()

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var instruments *metrics.Set
	if cfg.Metrics.Enabled {
		reg := b.registerer
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		instruments = metrics.New(reg)
	}

	engine := &Engine{
		config:    cfg,
		users:     b.users,
		sessions:  store,
		limiter:   limiter,
		tokens:    tokens,
		hasher:    hasher,
		perms:     perms,
		metrics:   instruments,
		logger:    logger,
		decoyHash: decoyHash,
	}
	engine.audit = audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, b.auditSink)
	engine.janitor = session.NewJanitor(store, cfg.Session.CleanupInterval, logger)
	if instruments != nil {
		engine.janitor.OnSweep(instruments.SessionsPurged)
	}

	b.built = true
	return engine, nil
}

// mintDecoyHash hashes a random throwaway password so unknown-username
// logins pay the same argon2id cost as real ones.
func mintDecoyHash(hasher *password.Hasher) (string, error) {
	raw := make([]byte, 24)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", err
	}
	return hasher.Hash(hex.EncodeToString(raw))
}
