package column

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewZNode_Sentinels(t *testing.T) {
	n := NewZNode(12.5, 4, nil, false, false, nil)
	assert.Equal(t, 12.5, n.Z)
	assert.Equal(t, 4, n.Dof)
	assert.Equal(t, UnsetDof, n.DofAbove)
	assert.Equal(t, UnsetDof, n.DofBelow)
	assert.Equal(t, UnsetRelPos, n.RelPos)
	assert.Equal(t, UnsetRank, n.Rank)
	assert.False(t, n.Top.Resolved())
	assert.Equal(t, UnsetZ, n.Bottom.Z)
	assert.False(t, n.ZSet)
	assert.False(t, n.IsLocal)
	assert.False(t, n.Hanging)
}

func TestZNode_HangingDerivation(t *testing.T) {
	assert.True(t, NewZNode(0, 1, []int{5, 7}, false, false, nil).Hanging)
	assert.False(t, NewZNode(0, 1, []int{}, false, false, nil).Hanging)
	// A node never constrains itself
	assert.False(t, NewZNode(0, 1, []int{1}, false, false, nil).Hanging)
}

func TestZNode_AddIdempotent(t *testing.T) {
	n := NewZNode(0, 1, []int{5, 7}, false, false, []int{2, 3})
	n.AddConnections([]int{3, 2, 2})
	n.AddConstraintNodes([]int{7, 5, 1})
	assert.Equal(t, []int{2, 3}, n.Connections)
	assert.Equal(t, []int{5, 7}, n.Constraints)
	assert.True(t, n.IsConnectedTo(3))
	assert.False(t, n.IsConnectedTo(9))
}

func TestZNode_MergeFrom(t *testing.T) {
	n := NewZNode(10, 3, []int{8}, false, false, []int{2})
	other := NewZNode(10, 3, []int{9}, true, false, []int{4})
	other.IsLocal = true
	other.Rank = 1
	require.NoError(t, n.MergeFrom(other))
	assert.Equal(t, []int{2, 4}, n.Connections)
	assert.Equal(t, []int{8, 9}, n.Constraints)
	assert.True(t, n.IsTop)
	assert.True(t, n.IsLocal)
	assert.Equal(t, 1, n.Rank)

	// Conflicting identity leaves the node untouched
	err := n.MergeFrom(NewZNode(10, 6, []int{11}, false, false, []int{12}))
	var conflict *ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, [2]int{3, 6}, conflict.Dofs)
	assert.Equal(t, []int{2, 4}, n.Connections)

	err = n.MergeFrom(NewZNode(10, UnsetDof, nil, false, false, nil))
	assert.ErrorIs(t, err, ErrInvalidDof)
}

func TestZNode_MergeIntoResetNode(t *testing.T) {
	n := NewZNode(10, 3, []int{8}, true, false, []int{2})
	n.Reset()
	assert.Equal(t, 10.0, n.Z)
	assert.Equal(t, UnsetDof, n.Dof)
	assert.Empty(t, n.Connections)
	assert.Empty(t, n.Constraints)
	assert.False(t, n.Hanging)
	assert.False(t, n.IsTop)

	require.NoError(t, n.MergeFrom(NewZNode(10, 17, []int{4}, false, false, []int{16})))
	assert.Equal(t, 17, n.Dof)
	assert.Equal(t, []int{4}, n.Constraints)
	assert.True(t, n.Hanging)
}

func TestZNode_ApproxEqual(t *testing.T) {
	n := NewZNode(10, 1, nil, false, false, nil)
	assert.True(t, n.ApproxEqual(10.005, 0.01))
	assert.True(t, n.ApproxEqual(9.995, 0.01))
	assert.False(t, n.ApproxEqual(10.02, 0.01))
	assert.False(t, n.ApproxEqual(9.9, 0.01))
}

func TestZNode_Print(t *testing.T) {
	var buf bytes.Buffer
	NewZNode(1.5, 2, nil, true, false, nil).Print(&buf)
	assert.Contains(t, buf.String(), "dof 2 z 1.5000")
}
