package profanity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetector_Filter(t *testing.T) {
	d := New()

	t.Run("命中脏话时返回屏蔽文本", func(t *testing.T) {
		filtered, flagged := d.Filter("This is a fuck test")
		require.True(t, flagged)
		require.Contains(t, filtered, "*")
		require.NotContains(t, filtered, "fuck")
	})

	t.Run("干净文本原样返回", func(t *testing.T) {
		filtered, flagged := d.Filter("This is a clean message")
		require.False(t, flagged)
		require.Equal(t, "This is a clean message", filtered)
	})
}

func TestDetector_Contains(t *testing.T) {
	d := New()
	require.True(t, d.Contains("what the fuck"))
	require.False(t, d.Contains("hello world"))
}
