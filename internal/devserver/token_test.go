package devserver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pawmart/pkg/errors"
)

func TestTokenRoundTrip(t *testing.T) {
	svc := NewTokenService("dev-secret", time.Hour)

	token, err := svc.Mint("buyer-1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := svc.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "buyer-1", userID)
}

func TestTokenRejectsGarbage(t *testing.T) {
	svc := NewTokenService("dev-secret", time.Hour)

	_, err := svc.Verify("not-a-token")
	require.Error(t, err)
	assert.True(t, errors.Is(err, "AUTH_ERROR"))
}

func TestTokenRejectsWrongSecret(t *testing.T) {
	minter := NewTokenService("secret-a", time.Hour)
	verifier := NewTokenService("secret-b", time.Hour)

	token, err := minter.Mint("buyer-1")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "AUTH_ERROR"))
}

func TestTokenRejectsExpired(t *testing.T) {
	svc := NewTokenService("dev-secret", -time.Minute)

	token, err := svc.Mint("buyer-1")
	require.NoError(t, err)

	_, err = svc.Verify(token)
	require.Error(t, err)
	assert.True(t, errors.Is(err, "AUTH_ERROR"))
}
