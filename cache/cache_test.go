package cache

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStoreGetRemove(t *testing.T) {
	c := New[string]()
	require.Empty(t, c.Get("a"))
	require.False(t, c.Contains("a"))

	c.Store("a", "one")
	require.Equal(t, "one", c.Get("a"))
	require.True(t, c.Contains("a"))

	c.Remove("a")
	require.False(t, c.Contains("a"))
}

func TestPopRemovesAndReturns(t *testing.T) {
	c := New[int]()
	c.Store("job-1", 7)

	v, ok := c.Pop("job-1")
	require.True(t, ok)
	require.Equal(t, 7, v)
	require.False(t, c.Contains("job-1"))

	_, ok = c.Pop("job-1")
	require.False(t, ok)
}
