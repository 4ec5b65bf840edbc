// Package auth verifies and issues the bearer tokens that gate both the
// portal routes and room joins on the real-time gateway.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleStudent Role = "student"
)

// ParseRole maps a role string from configuration or a token claim onto a
// known Role.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleAdmin, RoleStudent:
		return Role(s), true
	}
	return "", false
}

// Claim is the verified identity derived from a bearer token. It is cached
// on a connection at authentication time and never re-validated mid-life,
// except for the expiry re-check at join time.
type Claim struct {
	Role      Role
	Subject   string
	ExpiresAt time.Time
}

// Expired reports whether the claim's lifetime has lapsed at the given time.
func (c *Claim) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

// Rejection reasons. Verify never panics on malformed input; it returns one
// of these instead.
var (
	ErrTokenMissing     = errors.New("auth: token missing")
	ErrTokenMalformed   = errors.New("auth: token malformed")
	ErrTokenExpired     = errors.New("auth: token expired")
	ErrSignatureInvalid = errors.New("auth: token signature invalid")
)

// appClaims defines our custom JWT claims structure.
type appClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier checks bearer tokens against the process-wide signing key.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify validates the token's signature and expiry and returns the claim it
// carries. It has no side effects.
func (v *Verifier) Verify(tokenString string) (*Claim, error) {
	if tokenString == "" {
		return nil, ErrTokenMissing
	}

	// a claim always carries an expiry; tokens without one are rejected as
	// malformed rather than treated as never-expiring
	token, err := jwt.ParseWithClaims(tokenString, &appClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return v.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, ErrSignatureInvalid
		default:
			return nil, ErrTokenMalformed
		}
	}
	if !token.Valid {
		return nil, ErrSignatureInvalid
	}

	claims, ok := token.Claims.(*appClaims)
	if !ok || claims.Subject == "" {
		return nil, ErrTokenMalformed
	}
	role, ok := ParseRole(claims.Role)
	if !ok {
		return nil, ErrTokenMalformed
	}

	claim := &Claim{
		Role:    role,
		Subject: claims.Subject,
	}
	if claims.ExpiresAt != nil {
		claim.ExpiresAt = claims.ExpiresAt.Time
	}
	return claim, nil
}

// Issuer signs tokens for the login handlers using the same key the
// Verifier checks against.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret string, ttl time.Duration) *Issuer {
	return &Issuer{secret: []byte(secret), ttl: ttl}
}

func (i *Issuer) Issue(subject string, role Role) (string, error) {
	now := time.Now()
	claims := appClaims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(i.secret)
}
