// Package auth provides password hashing and stateless bearer-token
// issuance/verification. Tokens are HMAC-signed JWTs with the signing
// algorithm pinned at issuance and re-checked at verification, so a token
// claiming any other algorithm is rejected outright.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultTokenTTL bounds token validity when no explicit TTL is configured.
const DefaultTokenTTL = 30 * time.Minute

// signingMethod is the only algorithm tokens are ever signed or verified
// with.
var signingMethod = jwt.SigningMethodHS256

// ErrInvalidToken is returned for every verification failure: malformed
// input, wrong algorithm, bad signature, or expiry. Callers never receive a
// partial claim.
var ErrInvalidToken = errors.New("invalid token")

// Claim is the verified payload of a bearer token.
type Claim struct {
	Subject     string
	Role        string
	DisplayName string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

type tokenClaims struct {
	jwt.RegisteredClaims
	Role        string `json:"role"`
	DisplayName string `json:"name"`
}

// TokenService issues and verifies bearer tokens with a server-held secret.
type TokenService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenService constructs a TokenService. The ttl applies to tokens
// issued without an explicit override and defaults to DefaultTokenTTL.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token secret is required")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Issue signs a token carrying the subject, role, and display name. ttl
// overrides the service default when positive.
func (s *TokenService) Issue(subject, role, displayName string, ttl time.Duration) (string, time.Time, error) {
	if subject == "" {
		return "", time.Time{}, errors.New("token subject is required")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	issuedAt := s.now().UTC()
	expiresAt := issuedAt.Add(ttl)
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role:        strings.ToLower(strings.TrimSpace(role)),
		DisplayName: displayName,
	}
	token := jwt.NewWithClaims(signingMethod, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, algorithm, and expiry, returning the decoded
// claim. Any failure yields ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (Claim, error) {
	if strings.TrimSpace(tokenString) == "" {
		return Claim{}, ErrInvalidToken
	}
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != signingMethod.Alg() {
				return nil, fmt.Errorf("unexpected signing method %q", token.Method.Alg())
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{signingMethod.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Claim{}, ErrInvalidToken
	}
	claim := Claim{
		Subject:     claims.Subject,
		Role:        claims.Role,
		DisplayName: claims.DisplayName,
	}
	if claims.IssuedAt != nil {
		claim.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		claim.ExpiresAt = claims.ExpiresAt.Time
	}
	if claim.Subject == "" {
		return Claim{}, ErrInvalidToken
	}
	return claim, nil
}
