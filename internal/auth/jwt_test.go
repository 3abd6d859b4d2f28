package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("secret", 1)
	tok, err := svc.Generate("night-shift", ScopeOperator)
	require.NoError(t, err)

	claims, err := svc.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "night-shift", claims.Subject)
	assert.Equal(t, ScopeOperator, claims.Scope)
	assert.NoError(t, svc.Check(tok))
}

func TestValidateRejects(t *testing.T) {
	svc := NewJWTService("secret", 1)
	tok, err := svc.Generate("a", ScopeViewer)
	require.NoError(t, err)

	_, err = NewJWTService("other", 1).Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.Validate("not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = svc.Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateRejectsUnknownScope(t *testing.T) {
	_, err := NewJWTService("secret", 1).Generate("a", "admin")
	assert.ErrorIs(t, err, ErrInvalidScope)
}
