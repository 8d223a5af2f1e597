package authcore

import (
	"errors"
	"time"
)

// Config is the full engine configuration. Instances are set up once during
// initialization and treated as immutable afterwards.
type Config struct {
	JWT       JWTConfig
	Security  SecurityConfig
	Session   SessionConfig
	TwoFactor TwoFactorConfig
	Password  PasswordConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token issuance. Access tokens must be much shorter
// lived than refresh tokens; Validate enforces the ordering.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Secret     []byte // HS256 signing secret, >= 32 bytes
	Issuer     string
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig tunes the rate limiter and the risk scorer.
type SecurityConfig struct {
	MaxLoginAttempts int           // failed attempts per identity per window
	AttemptWindow    time.Duration // fixed rolling window for the counter
	EnableIPThrottle bool          // also key the counter per client IP

	RiskHistoryDepth int  // login history entries fed to the scorer
	RiskBlockEnabled bool // block on high risk + failed attempt
}

/*
====================================
SESSION CONFIG
====================================
*/

// IPMismatchPolicy decides what happens when a validated request arrives
// from a different IP than the one recorded on the session.
type IPMismatchPolicy uint8

const (
	// IPMismatchWarn emits an audit event and lets the session live.
	IPMismatchWarn IPMismatchPolicy = iota
	// IPMismatchInvalidate terminates the session on mismatch.
	IPMismatchInvalidate
)

// SessionConfig controls the session registry and its background sweeper.
type SessionConfig struct {
	MaxAge           time.Duration // sessions older than this fail validation
	Retention        time.Duration // hard-delete horizon for the janitor
	CleanupInterval  time.Duration // janitor sweep period
	IPMismatchPolicy IPMismatchPolicy
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig controls TOTP verification and backup codes.
type TwoFactorConfig struct {
	Issuer          string // otpauth:// issuer label
	Digits          int
	Period          int // seconds per TOTP step
	Skew            uint
	BackupCodeCount int
	SetupURL        string // enrollment URL surfaced on risk-forced setup
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds argon2id parameters (memory in KB).
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
	MinLength   int
}

/*
====================================
AUDIT + METRICS CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process engine counters.
type MetricsConfig struct {
	Enabled bool
}

// DefaultConfig returns the production defaults. Callers must still set
// JWT.Secret before building an engine.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "portal-auth",
		},
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			AttemptWindow:    15 * time.Minute,
			EnableIPThrottle: true,
			RiskHistoryDepth: 20,
			RiskBlockEnabled: true,
		},
		Session: SessionConfig{
			MaxAge:           24 * time.Hour,
			Retention:        7 * 24 * time.Hour,
			CleanupInterval:  time.Hour,
			IPMismatchPolicy: IPMismatchWarn,
		},
		TwoFactor: TwoFactorConfig{
			Issuer:          "ministry-portal",
			Digits:          6,
			Period:          30,
			Skew:            1,
			BackupCodeCount: 10,
			SetupURL:        "/account/two-factor/setup",
		},
		Password: PasswordConfig{
			Memory:      64 * 1024,
			Time:        2,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
			MinLength:   10,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Validate checks cross-field constraints. It is called by the builder
// before any component is constructed.
func (c Config) Validate() error {
	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		return errors.New("jwt TTLs must be positive")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if len(c.JWT.Secret) < 32 {
		return errors.New("jwt secret must be at least 32 bytes")
	}
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("max login attempts must be positive")
	}
	if c.Security.AttemptWindow <= 0 {
		return errors.New("attempt window must be positive")
	}
	if c.Session.MaxAge <= 0 || c.Session.Retention <= 0 {
		return errors.New("session max age and retention must be positive")
	}
	if c.Session.Retention < c.Session.MaxAge {
		return errors.New("session retention must not be shorter than max age")
	}
	if c.Session.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	if c.TwoFactor.Digits < 6 || c.TwoFactor.Digits > 8 {
		return errors.New("totp digits must be between 6 and 8")
	}
	if c.TwoFactor.Period <= 0 {
		return errors.New("totp period must be positive")
	}
	if c.TwoFactor.BackupCodeCount <= 0 {
		return errors.New("backup code count must be positive")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password min length must be at least 8")
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secret = cloneBytes(cfg.JWT.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
