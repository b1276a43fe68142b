package env

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNodeID(t *testing.T) {
	id := NodeID("airfryer")
	require.NotEmpty(t, id)
	require.Equal(t, id, NodeID("airfryer"))
	if _, err := MachineID(); err == nil {
		require.Len(t, id, NodeIDLength)
		require.NotEqual(t, id, NodeID("other"))
	}
}
