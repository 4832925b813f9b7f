package authcore

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// LintSeverity ranks a [LintWarning].
type LintSeverity int

const (
	LintInfo LintSeverity = iota
	LintWarn
	LintHigh
)

func (s LintSeverity) String() string {
	switch s {
	case LintInfo:
		return "INFO"
	case LintWarn:
		return "WARN"
	case LintHigh:
		return "HIGH"
	default:
		return fmt.Sprintf("LintSeverity(%d)", int(s))
	}
}

// LintWarning is a configuration that validates but is probably a mistake.
type LintWarning struct {
	Code     string
	Severity LintSeverity
	Message  string
}

// LintResult is the list returned by [Config.Lint].
type LintResult []LintWarning

func (r LintResult) Codes() []string {
	codes := make([]string, 0, len(r))
	for _, w := range r {
		codes = append(codes, w.Code)
	}
	return codes
}

// BySeverity returns the warnings at or above min.
func (r LintResult) BySeverity(min LintSeverity) LintResult {
	var out LintResult
	for _, w := range r {
		if w.Severity >= min {
			out = append(out, w)
		}
	}
	return out
}

// AsError folds the warnings at or above min into one error, or returns nil.
func (r LintResult) AsError(min LintSeverity) error {
	selected := r.BySeverity(min)
	if len(selected) == 0 {
		return nil
	}
	parts := make([]string, 0, len(selected))
	for _, w := range selected {
		parts = append(parts, fmt.Sprintf("[%s] %s: %s", w.Severity, w.Code, w.Message))
	}
	return errors.New("config lint: " + strings.Join(parts, "; "))
}

// Lint flags settings that pass Validate but weaken the session model.
func (c *Config) Lint() LintResult {
	var ws LintResult
	add := func(code string, sev LintSeverity, msg string) {
		ws = append(ws, LintWarning{Code: code, Severity: sev, Message: msg})
	}

	if c.Token.AccessTTL > time.Hour {
		add("access_ttl_long", LintWarn, "access tokens cannot be revoked; keep AccessTTL short")
	}
	if c.Token.AccessTTL > 24*time.Hour {
		add("access_ttl_very_long", LintHigh, "access tokens outlive a day without any revocation path")
	}
	if c.Token.RefreshTTL > 90*24*time.Hour {
		add("refresh_ttl_long", LintWarn, "refresh tokens valid for more than 90 days")
	}
	if c.Token.Issuer == "" {
		add("issuer_empty", LintInfo, "tokens carry no issuer; tokens from other services with the same key would verify")
	}
	if c.Token.MaxFutureIAT > 5*time.Minute {
		add("future_iat_large", LintWarn, "MaxFutureIAT tolerates more than 5 minutes of clock skew")
	}
	if !c.RefreshThrottle.Enabled {
		add("refresh_throttle_disabled", LintInfo, "refresh exchanges are not rate limited per session")
	}
	if !c.Audit.Enabled {
		add("audit_disabled", LintInfo, "reuse detection and deactivation leave no audit trail")
	}
	if c.Audit.Enabled && c.Audit.DropIfFull {
		add("audit_drop_if_full", LintInfo, "audit events are dropped when the buffer is full")
	}

	return ws
}
