package authcore

import (
	"errors"
	"strings"
	"time"
)

// Config defines all engine tuning knobs. Instances are configured during
// initialization and treated as immutable afterwards.
type Config struct {
	JWT         JWTConfig
	Session     SessionConfig
	OTP         OTPConfig
	TOTP        TOTPConfig
	BackupCodes BackupCodeConfig
	DeviceTrust DeviceTrustConfig
	Password    PasswordConfig
	Delivery    DeliveryConfig
	RateLimit   RateLimitConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

// JWTConfig configures access token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

// SessionConfig configures refresh session persistence.
type SessionConfig struct {
	RedisPrefix string
	RefreshTTL  time.Duration
}

// OTPConfig configures one-time code challenges. TTL is keyed per
// purpose; purposes missing from the map fall back to DefaultTTL.
type OTPConfig struct {
	Digits         int
	DefaultTTL     time.Duration
	TTLPerPurpose  map[Purpose]time.Duration
	MaxAttempts    int
	ResendCooldown time.Duration
}

// TTLFor returns the challenge TTL for a purpose.
func (c OTPConfig) TTLFor(purpose Purpose) time.Duration {
	if ttl, ok := c.TTLPerPurpose[purpose]; ok && ttl > 0 {
		return ttl
	}
	return c.DefaultTTL
}

// TOTPConfig configures authenticator-app enrollment and verification.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	Skew      int
	SetupTTL  time.Duration
}

// BackupCodeConfig configures single-use recovery codes.
type BackupCodeConfig struct {
	Count  int
	Length int
}

// DeviceTrustConfig configures the device risk heuristics.
type DeviceTrustConfig struct {
	RedisPrefix        string
	NewDeviceScore     int
	FarIPScore         int
	FailedStreakScore  int
	FailedStreakMin    int
	FailedStreakWindow time.Duration
	SuspicionThreshold int
	MaxDevicesPerUser  int
	InactiveExpiry     time.Duration
}

// PasswordConfig configures argon2id hashing.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// DeliveryConfig configures the async outbound code dispatcher.
type DeliveryConfig struct {
	BufferSize   int
	MaxRetries   int
	RetryBackoff time.Duration
	StatusTTL    time.Duration
}

// RateLimitConfig configures failed-login throttling per identifier and IP.
type RateLimitConfig struct {
	EnableIPThrottle bool
	MaxLoginAttempts int
	LoginCooldown    time.Duration
}

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics system.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the production defaults the Builder starts
// from. Callers override individual fields before passing the result
// to [Builder.WithConfig].
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "authcore",
			Leeway:        30 * time.Second,
		},
		Session: SessionConfig{
			RedisPrefix: "as",
			RefreshTTL:  14 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			Digits:     6,
			DefaultTTL: 10 * time.Minute,
			TTLPerPurpose: map[Purpose]time.Duration{
				PurposeLogin:         10 * time.Minute,
				PurposeRegistration:  10 * time.Minute,
				PurposePasswordReset: 15 * time.Minute,
			},
			MaxAttempts:    5,
			ResendCooldown: 60 * time.Second,
		},
		TOTP: TOTPConfig{
			Issuer:    "Comrade",
			Digits:    6,
			Period:    30,
			Algorithm: "SHA1",
			Skew:      1,
			SetupTTL:  10 * time.Minute,
		},
		BackupCodes: BackupCodeConfig{
			Count:  10,
			Length: 8,
		},
		DeviceTrust: DeviceTrustConfig{
			RedisPrefix:        "dev",
			NewDeviceScore:     40,
			FarIPScore:         30,
			FailedStreakScore:  20,
			FailedStreakMin:    3,
			FailedStreakWindow: 15 * time.Minute,
			SuspicionThreshold: 70,
			MaxDevicesPerUser:  20,
			InactiveExpiry:     180 * 24 * time.Hour,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Delivery: DeliveryConfig{
			BufferSize:   256,
			MaxRetries:   3,
			RetryBackoff: 2 * time.Second,
			StatusTTL:    30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			EnableIPThrottle: true,
			MaxLoginAttempts: 10,
			LoginCooldown:    15 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.OTP.TTLPerPurpose != nil {
		out.OTP.TTLPerPurpose = make(map[Purpose]time.Duration, len(cfg.OTP.TTLPerPurpose))
		for k, v := range cfg.OTP.TTLPerPurpose {
			out.OTP.TTLPerPurpose[k] = v
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PublicKey) == 0 {
		return errors.New("ed25519 requires PublicKey")
	}
	if c.JWT.SigningMethod == "ed25519" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("ed25519 requires PrivateKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) == 0 {
		return errors.New("hs256 requires PrivateKey")
	}

	// Session
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session RefreshTTL must be > 0")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session RefreshTTL must exceed JWT AccessTTL")
	}

	// OTP
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if c.OTP.DefaultTTL <= 0 {
		return errors.New("OTP DefaultTTL must be > 0")
	}
	for purpose, ttl := range c.OTP.TTLPerPurpose {
		if !purpose.valid() {
			return errors.New("OTP TTLPerPurpose contains an unknown purpose")
		}
		if ttl <= 0 {
			return errors.New("OTP TTLPerPurpose values must be > 0")
		}
	}
	if c.OTP.MaxAttempts <= 0 || c.OTP.MaxAttempts > 10 {
		return errors.New("OTP MaxAttempts must be between 1 and 10")
	}
	if c.OTP.ResendCooldown <= 0 {
		return errors.New("OTP ResendCooldown must be > 0")
	}

	// TOTP
	if c.TOTP.Issuer == "" {
		return errors.New("TOTP Issuer is required")
	}
	if c.TOTP.Digits != 6 && c.TOTP.Digits != 8 {
		return errors.New("TOTP Digits must be 6 or 8")
	}
	if c.TOTP.Period < 15 {
		return errors.New("TOTP Period must be >= 15 seconds")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 2 {
		return errors.New("TOTP Skew must be between 0 and 2")
	}
	if c.TOTP.SetupTTL <= 0 {
		return errors.New("TOTP SetupTTL must be > 0")
	}
	switch strings.ToUpper(c.TOTP.Algorithm) {
	case "", "SHA1", "SHA256", "SHA512":
		// valid (empty treated as SHA1)
	default:
		return errors.New("TOTP Algorithm must be SHA1, SHA256, or SHA512")
	}

	// Backup codes
	if c.BackupCodes.Count < 8 {
		return errors.New("BackupCodes Count must be >= 8")
	}
	if c.BackupCodes.Length < 8 {
		return errors.New("BackupCodes Length must be >= 8")
	}

	// Device trust
	if c.DeviceTrust.SuspicionThreshold <= 0 || c.DeviceTrust.SuspicionThreshold > 100 {
		return errors.New("DeviceTrust SuspicionThreshold must be between 1 and 100")
	}
	if c.DeviceTrust.NewDeviceScore < 0 || c.DeviceTrust.FarIPScore < 0 || c.DeviceTrust.FailedStreakScore < 0 {
		return errors.New("DeviceTrust scores must be >= 0")
	}
	if c.DeviceTrust.FailedStreakWindow <= 0 {
		return errors.New("DeviceTrust FailedStreakWindow must be > 0")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}

	// Delivery
	if c.Delivery.BufferSize <= 0 {
		return errors.New("Delivery BufferSize must be > 0")
	}
	if c.Delivery.MaxRetries < 0 {
		return errors.New("Delivery MaxRetries must be >= 0")
	}
	if c.Delivery.RetryBackoff <= 0 {
		return errors.New("Delivery RetryBackoff must be > 0")
	}
	if c.Delivery.StatusTTL <= 0 {
		return errors.New("Delivery StatusTTL must be > 0")
	}

	// Rate limiting
	if c.RateLimit.MaxLoginAttempts <= 0 {
		return errors.New("RateLimit MaxLoginAttempts must be > 0")
	}
	if c.RateLimit.LoginCooldown <= 0 {
		return errors.New("RateLimit LoginCooldown must be > 0")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
