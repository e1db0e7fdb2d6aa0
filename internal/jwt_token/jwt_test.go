package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "stepup/pkg/domain-errors"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("test-signing-key", "stepup-gateway", "stepup-api")

	token, err := svc.GenerateAccessToken("user-1", "sess-1", time.Minute)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "sess-1", claims.SessionID)
	assert.Equal(t, "stepup-gateway", claims.Issuer)
}

func TestValidateExpiredToken(t *testing.T) {
	svc := NewJWTService("test-signing-key", "stepup-gateway", "stepup-api")

	token, err := svc.GenerateAccessToken("user-1", "sess-1", -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestValidateWrongKey(t *testing.T) {
	issuer := NewJWTService("key-a", "stepup-gateway", "stepup-api")
	verifier := NewJWTService("key-b", "stepup-gateway", "stepup-api")

	token, err := issuer.GenerateAccessToken("user-1", "sess-1", time.Minute)
	require.NoError(t, err)

	_, err = verifier.ValidateToken(token)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func TestAdapterMapsClaims(t *testing.T) {
	svc := NewJWTService("test-signing-key", "stepup-gateway", "stepup-api")
	adapter := NewJWTServiceAdapter(svc)

	token, err := svc.GenerateAccessToken("user-9", "sess-9", time.Minute)
	require.NoError(t, err)

	claims, err := adapter.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-9", claims.UserID)
	assert.Equal(t, "sess-9", claims.SessionID)
}
