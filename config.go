package authcore

import (
	"errors"
	"fmt"
	"time"
)

// Config is the full engine configuration. Start from [DefaultConfig] and
// override what differs; Build validates and copies it.
type Config struct {
	Token           TokenConfig
	Session         SessionConfig
	RefreshThrottle RefreshThrottleConfig
	Audit           AuditConfig
	Metrics         MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls both credential kinds.
//
// For "hs256" AccessKey and RefreshKey are the shared secrets and must differ.
// For "ed25519" they are the private keys and the *PublicKey fields verify.
type TokenConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	SigningMethod    string // "hs256" (default) or "ed25519"
	AccessKey        []byte
	RefreshKey       []byte
	AccessPublicKey  []byte
	RefreshPublicKey []byte
	KeyID            string
	Issuer           string
	Audience         string
	// MaxFutureIAT bounds how far ahead of the local clock an iat may be.
	MaxFutureIAT time.Duration
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the revocation store built by [Builder.WithRedis].
type SessionConfig struct {
	RedisPrefix string
}

/*
====================================
REFRESH THROTTLE CONFIG
====================================
*/

// RefreshThrottleConfig bounds how often one login session may refresh.
// It needs Redis; Build fails when it is enabled without one.
type RefreshThrottleConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	RedisPrefix string
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

const (
	signingHS256   = "hs256"
	signingEd25519 = "ed25519"

	minHS256KeyLength = 32
)

// DefaultConfig returns the baseline configuration without key material.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    14 * 24 * time.Hour,
			SigningMethod: signingHS256,
			Issuer:        "coursemart",
			MaxFutureIAT:  time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix: "rt",
		},
		RefreshThrottle: RefreshThrottleConfig{
			Enabled:     false,
			MaxAttempts: 20,
			Window:      time.Minute,
			RedisPrefix: "rl",
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
	out.Token.AccessKey = cloneBytes(cfg.Token.AccessKey)
	out.Token.RefreshKey = cloneBytes(cfg.Token.RefreshKey)
	out.Token.AccessPublicKey = cloneBytes(cfg.Token.AccessPublicKey)
	out.Token.RefreshPublicKey = cloneBytes(cfg.Token.RefreshPublicKey)
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

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Token
	if c.Token.AccessTTL <= 0 {
		return errors.New("Token AccessTTL must be > 0")
	}
	if c.Token.RefreshTTL <= 0 {
		return errors.New("Token RefreshTTL must be > 0")
	}
	if c.Token.RefreshTTL <= c.Token.AccessTTL {
		return errors.New("Token RefreshTTL must be longer than AccessTTL")
	}
	if c.Token.MaxFutureIAT < 0 {
		return errors.New("Token MaxFutureIAT must be >= 0")
	}

	switch c.Token.SigningMethod {
	case signingHS256:
		if len(c.Token.AccessKey) < minHS256KeyLength || len(c.Token.RefreshKey) < minHS256KeyLength {
			return fmt.Errorf("hs256 keys must be at least %d bytes", minHS256KeyLength)
		}
		if string(c.Token.AccessKey) == string(c.Token.RefreshKey) {
			return errors.New("AccessKey and RefreshKey must differ")
		}
	case signingEd25519:
		if len(c.Token.AccessKey) == 0 || len(c.Token.RefreshKey) == 0 {
			return errors.New("ed25519 requires AccessKey and RefreshKey")
		}
		if len(c.Token.AccessPublicKey) == 0 || len(c.Token.RefreshPublicKey) == 0 {
			return errors.New("ed25519 requires AccessPublicKey and RefreshPublicKey")
		}
	default:
		return errors.New("unsupported token signing method")
	}

	// Session
	if c.Session.RedisPrefix == "" {
		return errors.New("Session RedisPrefix must not be empty")
	}

	// Refresh throttle
	if c.RefreshThrottle.Enabled {
		if c.RefreshThrottle.MaxAttempts <= 0 {
			return errors.New("RefreshThrottle MaxAttempts must be > 0")
		}
		if c.RefreshThrottle.Window <= 0 {
			return errors.New("RefreshThrottle Window must be > 0")
		}
		if c.RefreshThrottle.RedisPrefix == "" || c.RefreshThrottle.RedisPrefix == c.Session.RedisPrefix {
			return errors.New("RefreshThrottle RedisPrefix must be set and differ from Session RedisPrefix")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
