package gen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSnowflakeIDsAreUnique(t *testing.T) {
	node, err := NewSnowflakeNode(7)
	require.NoError(t, err)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := node.NewID()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestSnowflakeRejectsOutOfRangeNode(t *testing.T) {
	_, err := NewSnowflakeNode(4096)
	require.Error(t, err)
}
