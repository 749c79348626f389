package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"session-auth/internal/model"
)

const DefaultAccessTTL = 15 * time.Minute

type accessClaims struct {
	UserID string `json:"id"`
	jwt.RegisteredClaims
}

// TokenCodec issues and verifies signed access tokens. It holds no key
// material itself; the KeyPair is passed on every call.
type TokenCodec struct {
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

func NewTokenCodec(ttl time.Duration, issuer string) (*TokenCodec, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("access token ttl must be positive, got %s", ttl)
	}
	return &TokenCodec{ttl: ttl, issuer: issuer, now: time.Now}, nil
}

// WithClock returns a copy of the codec reading time from now.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	clone := *c
	clone.now = now
	return &clone
}

func (c *TokenCodec) TTL() time.Duration {
	return c.ttl
}

func (c *TokenCodec) Issue(kp *KeyPair, subjectID string) (string, error) {
	if kp == nil {
		return "", errors.New("signing key pair is required")
	}
	if strings.TrimSpace(subjectID) == "" {
		return "", errors.New("token subject is required")
	}

	now := c.now().UTC()
	claims := accessClaims{
		UserID: subjectID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    c.issuer,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(kp.method, claims).SignedString(kp.private)
	if err != nil {
		return "", fmt.Errorf("sign access token: %w", err)
	}
	return signed, nil
}

// Verify checks signature and expiry. A correctly signed but stale token
// yields model.ErrTokenExpired together with its claims so the caller can
// still read the subject.
func (c *TokenCodec) Verify(kp *KeyPair, tokenString string) (*model.AuthClaims, error) {
	if kp == nil || strings.TrimSpace(tokenString) == "" {
		return nil, model.ErrTokenInvalid
	}

	parsed := &accessClaims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{kp.Algorithm()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if c.issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.issuer))
	}

	_, err := jwt.ParseWithClaims(tokenString, parsed, func(*jwt.Token) (any, error) {
		return kp.PublicKey(), nil
	}, opts...)

	claims, claimsErr := toAuthClaims(parsed)
	switch {
	case err == nil:
		if claimsErr != nil {
			return nil, claimsErr
		}
		return claims, nil
	case errors.Is(err, jwt.ErrTokenExpired) && !errors.Is(err, jwt.ErrTokenSignatureInvalid):
		if claimsErr != nil {
			return nil, claimsErr
		}
		return claims, model.ErrTokenExpired
	default:
		return nil, model.ErrTokenInvalid
	}
}

func toAuthClaims(parsed *accessClaims) (*model.AuthClaims, error) {
	subject := parsed.Subject
	if subject == "" {
		subject = parsed.UserID
	}
	if subject == "" || (parsed.UserID != "" && parsed.UserID != subject) {
		return nil, model.ErrTokenInvalid
	}

	claims := &model.AuthClaims{UserID: subject, TokenID: parsed.ID}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	if parsed.ExpiresAt != nil {
		claims.ExpiresAt = parsed.ExpiresAt.Time.UTC()
	}
	return claims, nil
}
