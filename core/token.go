package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrTokenMalformed    = errors.New("token malformed")
	ErrTokenBadSignature = errors.New("token signature invalid")
	ErrTokenExpired      = errors.New("token expired")
)

// TokenCodec issues and verifies HS256 bearer tokens carrying a subject claim.
// It holds only immutable configuration and is safe for concurrent use.
type TokenCodec struct {
	key    []byte
	ttl    time.Duration
	issuer string
	leeway time.Duration
}

// TokenOption customises a TokenCodec.
type TokenOption func(*TokenCodec)

// WithIssuer sets the iss claim written into tokens and required on parse.
func WithIssuer(issuer string) TokenOption {
	return func(c *TokenCodec) { c.issuer = issuer }
}

// WithLeeway tolerates clock skew when checking expiry. Zero means exact comparison.
func WithLeeway(d time.Duration) TokenOption {
	return func(c *TokenCodec) {
		if d > 0 {
			c.leeway = d
		}
	}
}

func NewTokenCodec(secret []byte, ttl time.Duration, opts ...TokenOption) (*TokenCodec, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty token signing key")
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	c := &TokenCodec{
		key: append([]byte(nil), secret...),
		ttl: ttl,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewTokenCodecFromConfig builds the codec described by the JWT_* and TOKEN_* settings.
func NewTokenCodecFromConfig(cfg Config) (*TokenCodec, error) {
	return NewTokenCodec([]byte(cfg.JWTSecret), cfg.TokenTTL, WithIssuer(cfg.JWTIssuer), WithLeeway(cfg.TokenLeeway))
}

// TTL returns the lifetime of issued tokens.
func (c *TokenCodec) TTL() time.Duration { return c.ttl }

// Issue signs {sub, iat=now, exp=now+ttl}. now is truncated to the second so
// the encoded exp is exactly the encoded iat plus ttl.
func (c *TokenCodec) Issue(subject string, now time.Time) (string, error) {
	if subject == "" {
		return "", errors.New("token subject is empty")
	}
	now = now.Truncate(time.Second)
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    c.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ParseAndVerify checks the signature first, then expiry against now, and
// returns the subject. A token stays valid up to and including exp (plus
// leeway). Errors wrap ErrTokenMalformed, ErrTokenBadSignature or
// ErrTokenExpired.
func (c *TokenCodec) ParseAndVerify(token string, now time.Time) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	}

	claims := &jwt.RegisteredClaims{}
	_, err := jwt.NewParser(opts...).ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		return "", classifyTokenError(err)
	}
	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: missing exp", ErrTokenMalformed)
	}
	if c.issuer != "" && claims.Issuer != c.issuer {
		return "", fmt.Errorf("%w: unexpected issuer %q", ErrTokenMalformed, claims.Issuer)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	// exp carries whole seconds, so now is compared at the same precision.
	if now.Truncate(time.Second).After(claims.ExpiresAt.Time.Add(c.leeway)) {
		return "", fmt.Errorf("%w: expired at %s", ErrTokenExpired, claims.ExpiresAt.Time.UTC().Format(time.RFC3339))
	}
	return claims.Subject, nil
}

func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", ErrTokenBadSignature, err)
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}

// tokenErrorKind names the failure class for logs and metrics.
func tokenErrorKind(err error) string {
	switch {
	case errors.Is(err, ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrTokenBadSignature):
		return "bad_signature"
	default:
		return "malformed"
	}
}
