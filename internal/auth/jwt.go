// Package auth mints and validates operator bearer tokens.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrInvalidScope = errors.New("invalid scope")
)

// Token scopes. Operators may start and stop sessions; viewers may only read
// and subscribe.
const (
	ScopeOperator = "operator"
	ScopeViewer   = "viewer"
)

const issuer = "sleepwatch"

// ValidScope reports whether s is a known scope.
func ValidScope(s string) bool { return s == ScopeOperator || s == ScopeViewer }

// Claims holds the subject (operator name) and scope of a token.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// JWTService handles token generation and validation.
type JWTService struct {
	secret      []byte
	expireHours int
	now         func() time.Time
}

// NewJWTService creates a JWT service.
func NewJWTService(secret string, expireHours int) *JWTService {
	if expireHours <= 0 {
		expireHours = 24
	}
	return &JWTService{
		secret:      []byte(secret),
		expireHours: expireHours,
		now:         time.Now,
	}
}

// Generate creates a token for subject with the given scope.
func (s *JWTService) Generate(subject, scope string) (string, error) {
	if !ValidScope(scope) {
		return "", ErrInvalidScope
	}
	now := s.now()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(s.expireHours) * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Validate parses and validates a JWT, returning claims or error.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || !ValidScope(claims.Scope) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Check validates a token and discards its claims.
func (s *JWTService) Check(tokenString string) error {
	_, err := s.Validate(tokenString)
	return err
}
