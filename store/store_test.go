package store

import (
	"context"
	"testing"

	"github.com/notargets/ZMesh/column"
	"github.com/notargets/ZMesh/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestStore creates an in-memory store for testing
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func TestStore_SaveAndLoad(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	pass := &registry.PassReport{
		Columns:   3,
		Nodes:     12,
		Dropped:   1,
		Conflicts: []*column.ConflictError{{Dofs: [2]int{4, 5}, Z: 10}},
		Failed:    map[column.Key]error{{I: 1}: &column.StaleColumnError{Reason: "test"}},
		Stale:     1,
	}
	id, err := s.SavePass(ctx, 2, 1, "elevation", pass, map[int]float64{4: 10, 5: 20.5})
	require.NoError(t, err)

	passes, err := s.Passes(ctx)
	require.NoError(t, err)
	require.Len(t, passes, 1)
	p := passes[0]
	assert.Equal(t, id, p.ID)
	assert.Equal(t, 2, p.Iteration)
	assert.Equal(t, 1, p.Rank)
	assert.Equal(t, "elevation", p.Stage)
	assert.Equal(t, 3, p.Columns)
	assert.Equal(t, 12, p.Nodes)
	assert.Equal(t, 1, p.Dropped)
	assert.Equal(t, 1, p.Conflicts)
	assert.Equal(t, 1, p.Stale)
	assert.Equal(t, 1, p.Failed)
	assert.False(t, p.CreatedAt.IsZero())

	z, err := s.Elevations(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, map[int]float64{4: 10, 5: 20.5}, z)
}

func TestStore_PassWithoutElevations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.SavePass(ctx, 0, 0, "rebuild", &registry.PassReport{Columns: 1}, nil)
	require.NoError(t, err)
	second, err := s.SavePass(ctx, 0, 1, "rebuild", &registry.PassReport{Columns: 2}, nil)
	require.NoError(t, err)
	assert.Greater(t, second, first)

	z, err := s.Elevations(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, z)

	passes, err := s.Passes(ctx)
	require.NoError(t, err)
	require.Len(t, passes, 2)
	assert.Equal(t, 2, passes[1].Columns)

	_, err = s.SavePass(ctx, 0, 0, "rebuild", nil, nil)
	assert.Error(t, err)
}
