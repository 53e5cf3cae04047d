package broker_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskwire/duskwire/internal/broker"
)

func testSecret() []byte {
	return []byte("a-registration-secret-at-least-32-bytes-long")
}

func TestNewRegAuth_RejectsShortSecret(t *testing.T) {
	_, err := broker.NewRegAuth([]byte("too-short"))
	assert.Error(t, err)
}

func TestRegAuth_IssueThenValidateRoundTrip(t *testing.T) {
	auth, err := broker.NewRegAuth(testSecret())
	require.NoError(t, err)

	token, err := auth.IssueToken("alice")
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	assert.NoError(t, auth.ValidateToken(token, "alice"))
}

func TestRegAuth_ValidateRejectsUsernameMismatch(t *testing.T) {
	auth, err := broker.NewRegAuth(testSecret())
	require.NoError(t, err)

	token, err := auth.IssueToken("alice")
	require.NoError(t, err)

	err = auth.ValidateToken(token, "mallory")
	assert.ErrorIs(t, err, broker.ErrUsernameMismatch)
}

func TestRegAuth_ValidateRejectsTokenFromDifferentSecret(t *testing.T) {
	authA, err := broker.NewRegAuth(testSecret())
	require.NoError(t, err)
	authB, err := broker.NewRegAuth([]byte("a-completely-different-secret-value-32b"))
	require.NoError(t, err)

	token, err := authA.IssueToken("alice")
	require.NoError(t, err)

	err = authB.ValidateToken(token, "alice")
	assert.ErrorIs(t, err, broker.ErrInvalidRegistrationToken)
}

func TestRegAuth_ValidateRejectsGarbageToken(t *testing.T) {
	auth, err := broker.NewRegAuth(testSecret())
	require.NoError(t, err)

	err = auth.ValidateToken("not-a-jwt", "alice")
	assert.ErrorIs(t, err, broker.ErrInvalidRegistrationToken)
}

func TestResolveSecret_FallsBackToEnvWhenVaultAddrEmpty(t *testing.T) {
	secret, err := broker.ResolveSecret("", "", "secret", "duskwire/relay", "env-fallback-secret")
	require.NoError(t, err)
	assert.Equal(t, []byte("env-fallback-secret"), secret)
}

func TestResolveSecret_ErrorsWithNoVaultAndNoFallback(t *testing.T) {
	_, err := broker.ResolveSecret("", "", "secret", "duskwire/relay", "")
	assert.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "no vault address"))
}
