package token

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_IssueAndResolve(t *testing.T) {
	m, err := New(&Config{Secret: "test-secret", TTL: time.Hour})
	require.NoError(t, err)

	tok, err := m.Issue("alice")
	require.NoError(t, err)

	username, err := m.Resolve(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestManager_Rejects(t *testing.T) {
	m, err := New(&Config{Secret: "test-secret", TTL: time.Hour})
	require.NoError(t, err)
	tok, err := m.Issue("alice")
	require.NoError(t, err)

	t.Run("空令牌", func(t *testing.T) {
		_, err := m.Resolve("")
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("密钥不同", func(t *testing.T) {
		other, err := New(&Config{Secret: "another-secret"})
		require.NoError(t, err)
		_, err = other.Resolve(tok)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("签发者不同", func(t *testing.T) {
		other, err := New(&Config{Secret: "test-secret", Issuer: "someone-else"})
		require.NoError(t, err)
		_, err = other.Resolve(tok)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("已过期", func(t *testing.T) {
		m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
		defer func() { m.now = time.Now }()
		_, err := m.Resolve(tok)
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})

	t.Run("格式错误", func(t *testing.T) {
		_, err := m.Resolve("not-a-jwt")
		assert.True(t, errors.Is(err, ErrInvalidToken))
	})
}

func TestNew_RequiresSecret(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
	_, err = New(nil)
	assert.Error(t, err)
}
