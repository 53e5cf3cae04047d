package kdf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskwire/duskwire/internal/kdf"
)

func TestDerive_Deterministic(t *testing.T) {
	var secret [32]byte
	secret[0] = 42

	a, err := kdf.Derive(secret, []byte("session:alice|bob"))
	require.NoError(t, err)
	b, err := kdf.Derive(secret, []byte("session:alice|bob"))
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDerive_InfoIsDomainSeparating(t *testing.T) {
	var secret [32]byte
	secret[0] = 42

	a, err := kdf.Derive(secret, []byte("session:alice|bob"))
	require.NoError(t, err)
	b, err := kdf.Derive(secret, []byte("session:alice|carol"))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}
