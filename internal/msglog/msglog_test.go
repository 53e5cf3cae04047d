package msglog_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/duskwire/duskwire/internal/msglog"
)

func TestLog_AppendWritesLineDelimitedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.log")
	l, err := msglog.Open(path)
	require.NoError(t, err)

	var nonce [12]byte
	nonce[0] = 1
	require.NoError(t, l.Append("alice", "bob", nonce, []byte("ciphertext-bytes"), time.Unix(0, 0)))
	require.NoError(t, l.Append("alice", "bob", nonce, []byte("more-ciphertext"), time.Unix(1, 0)))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
}

func TestLog_NeverContainsPlaintext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "messages.log")
	l, err := msglog.Open(path)
	require.NoError(t, err)

	var nonce [12]byte
	plaintext := "top-secret-plaintext-marker"
	require.NoError(t, l.Append("alice", "bob", nonce, []byte(plaintext+"-ciphertext"), time.Now()))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), plaintext)
}
