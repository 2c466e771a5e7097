package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/COMRADE-APP/authcore/delivery"
	"github.com/COMRADE-APP/authcore/internal/rate"
	"github.com/COMRADE-APP/authcore/jwt"
	"github.com/COMRADE-APP/authcore/password"
	"github.com/COMRADE-APP/authcore/session"
)

// Builder assembles an [Engine]. Obtain one from [New], chain the
// With* setters, then call Build exactly once.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory UserDirectory
	email     delivery.EmailSender
	sms       delivery.SMSGateway
	auditSink AuditSink
	built     bool
}

// New returns a Builder preloaded with production defaults.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the default configuration wholesale. Zero-value
// subfields are not backfilled; start from defaults when overriding
// only a few knobs.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the Redis client backing sessions, challenges,
// devices, and rate limits.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithUserDirectory sets the identity backend.
func (b *Builder) WithUserDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

// WithEmailSender sets the outbound email channel.
func (b *Builder) WithEmailSender(sender delivery.EmailSender) *Builder {
	b.email = sender
	return b
}

// WithSMSGateway sets the outbound SMS channel.
func (b *Builder) WithSMSGateway(gateway delivery.SMSGateway) *Builder {
	b.sms = gateway
	return b
}

// WithAuditSink enables audit dispatch into the given sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithMetrics enables the in-process metrics counters.
func (b *Builder) WithMetrics(latencyHistograms bool) *Builder {
	b.config.Metrics.Enabled = true
	b.config.Metrics.EnableLatencyHistograms = latencyHistograms
	return b
}

// Build validates the configuration, wires every subsystem, and
// returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already consumed")
	}
	if b.redis == nil {
		return nil, errors.New("redis client is required")
	}
	if b.directory == nil {
		return nil, errors.New("user directory is required")
	}
	if b.email == nil && b.sms == nil {
		return nil, errors.New("at least one delivery channel is required")
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:     b.config.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(b.config.JWT.SigningMethod),
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		Issuer:        b.config.JWT.Issuer,
		Leeway:        b.config.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var sink AuditSink = b.auditSink
	if sink == nil {
		sink = &NoOpSink{}
	}

	e := &Engine{
		config:     b.config,
		directory:  b.directory,
		jwt:        jwtManager,
		hasher:     hasher,
		sessions:   session.NewStore(b.redis, b.config.Session.RedisPrefix),
		challenges: newChallengeStore(b.redis),
		devices:    newDeviceStore(b.redis, b.config.DeviceTrust.RedisPrefix),
		totp:       newTOTPManager(b.config.TOTP),
		limiter: rate.New(b.redis, rate.Config{
			EnableIPThrottle: b.config.RateLimit.EnableIPThrottle,
			MaxAttempts:      b.config.RateLimit.MaxLoginAttempts,
			Cooldown:         b.config.RateLimit.LoginCooldown,
		}),
		audit:    newAuditDispatcher(b.config.Audit, sink),
		delivery: newDeliveryDispatcher(b.config.Delivery, b.email, b.sms, b.redis),
		metrics:  NewMetrics(b.config.Metrics),
	}

	b.built = true
	return e, nil
}
