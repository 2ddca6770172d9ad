package erpauth

import (
	"errors"

	"github.com/MartialMiranda/ERP-sub000/password"
	"github.com/MartialMiranda/ERP-sub000/token"
	"github.com/redis/go-redis/v9"
)

// Builder assembles an [Engine]. Configure it during initialization and call
// Build exactly once; a Builder is not safe for concurrent use.
type Builder struct {
	config Config
	redis  *redis.Client

	users  UserStore
	otps   OTPStore
	mailer Mailer

	auditSink AuditSink

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration with a clone of cfg.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing the attempt limiter and, unless
// WithOTPStore overrides it, the email-code store.
func (b *Builder) WithRedis(client *redis.Client) *Builder {
	b.redis = client
	return b
}

// WithUserStore sets the user record backend. Required.
func (b *Builder) WithUserStore(us UserStore) *Builder {
	b.users = us
	return b
}

// WithOTPStore overrides the default Redis-backed email-code store.
func (b *Builder) WithOTPStore(os OTPStore) *Builder {
	b.otps = os
	return b
}

// WithMailer sets the outbound email transport. Required only when the
// email second factor is in use; Build does not enforce it so TOTP-only
// deployments can omit it.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithAuditSink sets the destination for audit events. When unset and audit
// is enabled, events go to a no-op sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistogram toggles the login latency histogram.
func (b *Builder) WithLatencyHistogram(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistogram = enabled
	return b
}

// Build validates the configuration, wires every component, and returns the
// ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.users == nil {
		return nil, errors.New("user store required")
	}
	if b.redis == nil && b.otps == nil {
		return nil, errors.New("redis client required")
	}
	if b.redis == nil && cfg.Lockout.MaxAttempts > 0 {
		return nil, errors.New("attempt limiter requires redis client")
	}

	otps := b.otps
	if otps == nil {
		otps = newRedisOTPStore(b.redis, cfg.EmailOTP.RedisPrefix)
	}

	engine := &Engine{
		config: cfg,
		users:  b.users,
		otps:   otps,
		mailer: b.mailer,
	}

	engine.limiter = newLoginAttemptLimiter(b.redis, cfg.Lockout)
	engine.totp = newTOTPManager(cfg.TOTP)
	engine.emailOTP = newEmailOTPManager(cfg.EmailOTP, otps, b.mailer)
	engine.audit = newAuditDispatcher(cfg.Audit, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	hasher, err := password.NewArgon2(password.DefaultConfig())
	if err != nil {
		return nil, err
	}
	engine.hasher = hasher

	// Hashing a throwaway password gives the unknown-user path the same
	// verification cost as the known-user path.
	dummy, err := hasher.Hash("erpauth-credential-placeholder")
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	issuer, err := token.NewIssuer(token.Config{
		AccessSecret:  cloneBytes(cfg.Token.AccessSecret),
		AccessTTL:     cfg.Token.AccessTTL,
		RefreshSecret: cloneBytes(cfg.Token.RefreshSecret),
		RefreshTTL:    cfg.Token.RefreshTTL,
		Issuer:        cfg.Token.Issuer,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = issuer

	b.built = true

	return engine, nil
}
