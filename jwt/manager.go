package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the algorithm used for one token kind.
type SigningMethod string

const (
	// MethodEd25519 signs with an Ed25519 key pair (EdDSA).
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs with a shared HMAC-SHA256 secret.
	MethodHS256 SigningMethod = "hs256"
)

// Kind distinguishes access credentials from refresh credentials.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Verification failures. Callers answer all three the same way (401) but log them apart.
var (
	ErrMalformed        = errors.New("token malformed")
	ErrExpired          = errors.New("token expired")
	ErrSignatureInvalid = errors.New("token signature invalid")
)

// KeyConfig holds the key material for one token kind.
//
// For HS256 PrivateKey is the shared secret. For Ed25519 PrivateKey signs and PublicKey
// (or VerifyKeys, indexed by kid) verifies. KeyID is stamped into the "kid" header on issue.
type KeyConfig struct {
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
}

// Config configures a Manager. Access and Refresh must use different keys.
type Config struct {
	Access       KeyConfig
	Refresh      KeyConfig
	Issuer       string
	Audience     string
	MaxFutureIAT time.Duration
	// Now overrides the clock used for issued-at, expiry and verification.
	Now func() time.Time
}

// Subject is the identity being encoded into a token.
// Role is only written to access tokens and TokenID only to refresh tokens.
type Subject struct {
	ID        string
	Role      string
	SessionID string
	TokenID   string
}

// Claims is the payload of both token kinds.
type Claims struct {
	Kind      Kind   `json:"typ"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager issues and verifies signed, time-bounded credentials.
// It is safe for concurrent use and never consults revocation state.
type Manager struct {
	config Config
	keys   map[Kind]KeyConfig
}

// NewManager validates cfg and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	keys := make(map[Kind]KeyConfig, 2)
	for kind, kc := range map[Kind]KeyConfig{KindAccess: cfg.Access, KindRefresh: cfg.Refresh} {
		kc.KeyID = strings.TrimSpace(kc.KeyID)
		if err := validateKeyConfig(kc); err != nil {
			return nil, fmt.Errorf("%s key: %w", kind, err)
		}
		keys[kind] = kc
	}
	cfg.Access, cfg.Refresh = keys[KindAccess], keys[KindRefresh]

	if sameKey(cfg.Access, cfg.Refresh) {
		return nil, errors.New("access and refresh tokens must use distinct signing keys")
	}

	return &Manager{config: cfg, keys: keys}, nil
}

func validateKeyConfig(kc KeyConfig) error {
	switch kc.SigningMethod {
	case MethodHS256:
		if len(kc.PrivateKey) < 32 {
			return errors.New("hs256 requires a secret of at least 32 bytes")
		}
	case MethodEd25519:
		if len(kc.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(kc.PrivateKey); err != nil {
				return err
			}
		}
		if len(kc.PublicKey) > 0 {
			if _, err := parseEdPublicKey(kc.PublicKey); err != nil {
				return err
			}
		}
		if len(kc.VerifyKeys) == 0 && len(kc.PublicKey) == 0 {
			return errors.New("ed25519 requires public key or verify key set")
		}
		for kid, key := range kc.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return errors.New("verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return fmt.Errorf("invalid ed25519 verify key for kid %q: %w", kid, err)
			}
		}
	default:
		return errors.New("unsupported signing method")
	}
	if kc.KeyID != "" && len(kc.VerifyKeys) > 0 {
		if _, ok := kc.VerifyKeys[kc.KeyID]; !ok {
			return errors.New("KeyID is not present in VerifyKeys")
		}
	}
	return nil
}

func sameKey(a, b KeyConfig) bool {
	if a.SigningMethod != b.SigningMethod {
		return false
	}
	if len(a.PrivateKey) > 0 && string(a.PrivateKey) == string(b.PrivateKey) {
		return true
	}
	return a.SigningMethod == MethodEd25519 && len(a.PublicKey) > 0 && string(a.PublicKey) == string(b.PublicKey)
}

// Issue signs a token of the given kind for subject, valid for ttl from now.
func (m *Manager) Issue(subject Subject, kind Kind, ttl time.Duration) (string, error) {
	kc, ok := m.keys[kind]
	if !ok {
		return "", fmt.Errorf("unknown token kind %q", kind)
	}
	if ttl <= 0 {
		return "", errors.New("invalid TTL")
	}
	if subject.ID == "" || subject.SessionID == "" {
		return "", errors.New("subject and session id are required")
	}

	now := m.config.Now()
	claims := Claims{
		Kind:      kind,
		SessionID: subject.SessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}
	switch kind {
	case KindAccess:
		if subject.Role == "" {
			return "", errors.New("access token requires a role")
		}
		claims.Role = subject.Role
	case KindRefresh:
		if subject.TokenID == "" {
			return "", errors.New("refresh token requires a token id")
		}
		claims.ID = subject.TokenID
	}
	if m.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{m.config.Audience}
	}

	token := jwt.NewWithClaims(method(kc), claims)
	if kc.KeyID != "" {
		token.Header["kid"] = kc.KeyID
	}

	signKey, err := signKey(kc)
	if err != nil {
		return "", err
	}
	return token.SignedString(signKey)
}

// Verify checks signature, structure, kind and expiry of token.
//
// Errors wrap exactly one of ErrMalformed, ErrExpired or ErrSignatureInvalid.
// A token is expired once the clock reaches its exp claim; there is no leeway.
func (m *Manager) Verify(token string, kind Kind) (*Claims, error) {
	return m.verify(token, kind, false)
}

// VerifyAllowExpired is Verify that still returns the claims of a correctly signed
// token whose only defect is expiry. Used where a stale token may still name a
// session to revoke, such as logout.
func (m *Manager) VerifyAllowExpired(token string, kind Kind) (*Claims, error) {
	return m.verify(token, kind, true)
}

func (m *Manager) verify(tokenStr string, kind Kind, allowExpired bool) (*Claims, error) {
	kc, ok := m.keys[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown token kind %q", ErrMalformed, kind)
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{method(kc).Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}
	if m.config.Audience != "" {
		options = append(options, jwt.WithAudience(m.config.Audience))
	}

	claims := &Claims{}
	_, err := jwt.NewParser(options...).ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != method(kc).Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}

		if len(kc.VerifyKeys) > 0 {
			kid, _ := t.Header["kid"].(string)
			if kid == "" {
				return nil, errors.New("missing kid")
			}
			key, ok := kc.VerifyKeys[kid]
			if !ok {
				return nil, errors.New("unknown kid")
			}
			return verifyKeyFromBytes(kc, key)
		}

		if kc.KeyID != "" {
			kid, _ := t.Header["kid"].(string)
			if kid != kc.KeyID {
				return nil, errors.New("unknown kid")
			}
		}

		return verifyKey(kc)
	})
	if err != nil {
		classified := classify(err)
		if !(allowExpired && errors.Is(classified, ErrExpired)) {
			return nil, classified
		}
	}

	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token", ErrMalformed, kind)
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrMalformed)
	}
	switch kind {
	case KindAccess:
		if claims.Role == "" {
			return nil, fmt.Errorf("%w: missing role", ErrMalformed)
		}
	case KindRefresh:
		if claims.ID == "" {
			return nil, fmt.Errorf("%w: missing token id", ErrMalformed)
		}
	}
	if claims.IssuedAt != nil && m.config.MaxFutureIAT > 0 {
		if claims.IssuedAt.Time.After(m.config.Now().Add(m.config.MaxFutureIAT)) {
			return nil, fmt.Errorf("%w: iat too far in the future", ErrMalformed)
		}
	}

	return claims, nil
}

// classify maps parser errors onto the three verification sentinels.
// The parser checks the signature before any claim, so expiry is only ever
// reported for authentic tokens.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
}

func method(kc KeyConfig) jwt.SigningMethod {
	switch kc.SigningMethod {
	case MethodHS256:
		return jwt.SigningMethodHS256
	default:
		return jwt.SigningMethodEdDSA
	}
}

func signKey(kc KeyConfig) (interface{}, error) {
	switch kc.SigningMethod {
	case MethodHS256:
		return kc.PrivateKey, nil
	default:
		return parseEdPrivateKey(kc.PrivateKey)
	}
}

func verifyKey(kc KeyConfig) (interface{}, error) {
	switch kc.SigningMethod {
	case MethodHS256:
		return kc.PrivateKey, nil
	default:
		return parseEdPublicKey(kc.PublicKey)
	}
}

func verifyKeyFromBytes(kc KeyConfig, key []byte) (interface{}, error) {
	switch kc.SigningMethod {
	case MethodHS256:
		return key, nil
	default:
		return parseEdPublicKey(key)
	}
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("invalid ed25519 public key type")
	}
	return edKey, nil
}
