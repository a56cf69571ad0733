package driver

import (
	"context"
	"testing"

	"github.com/notargets/ZMesh/column"
	"github.com/notargets/ZMesh/config"
	"github.com/notargets/ZMesh/metrics"
	"github.com/notargets/ZMesh/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func smallConfig() *config.Config {
	cfg := config.Default()
	cfg.Mesh = config.MeshConfig{Width: 1000, Bottom: 0, Top: 100, Nx: 4, Nz: 2, MaxLevel: 2}
	cfg.Surface = config.SurfaceConfig{
		Top:       100,
		Bottom:    0,
		Amplitude: 10,
		Stages: []config.RBFStage{
			{Iteration: 0, Centers: []float64{500}, Widths: []float64{0.002}},
			{Iteration: 2, Centers: []float64{250, 750}, Widths: []float64{0.004, 0.004}},
		},
	}
	cfg.Run.Ranks = 2
	cfg.Run.Iterations = 3
	cfg.Run.Seed = 7
	cfg.Run.FirstRefinePercent = 40
	cfg.Run.RefinePercent = 20
	cfg.Run.CoarsenPercent = 10
	return cfg
}

// assertOnSurface checks that every top and bottom vertex of the mesh sits on the surface
func assertOnSurface(t *testing.T, d *Driver) {
	t.Helper()
	m := d.Mesh()
	for dof, z := range m.Elevations() {
		v := m.Vertex(dof)
		top, bottom := d.Surface().At(m.X(v.I))
		switch v.J {
		case 0:
			assert.InDelta(t, bottom, z, 1e-9, "bottom dof %d", dof)
		case m.TopJ():
			assert.InDelta(t, top, z, 1e-9, "top dof %d", dof)
		}
	}
}

func TestRun_MovesMeshOntoSurface(t *testing.T) {
	cfg := smallConfig()
	st, err := store.New(":memory:")
	require.NoError(t, err)
	defer st.Close()
	reg := prometheus.NewRegistry()
	col := metrics.NewCollector(reg)

	d, err := New(cfg, Deps{Logger: zaptest.NewLogger(t), Metrics: col, Store: st})
	require.NoError(t, err)
	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, cfg.Run.Iterations+1, res.Iterations)
	assert.Equal(t, int64(7), res.Seed)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Conflicts)
	assert.Equal(t, d.Mesh().NumCells(), res.Cells)
	assert.Equal(t, d.Mesh().NumVertices(), res.Vertices)
	assert.Greater(t, res.Cells, cfg.Mesh.Nx*cfg.Mesh.Nz)
	assert.Greater(t, res.HaloValues, 0)
	assert.LessOrEqual(t, res.TopMin, res.TopMax)

	require.NoError(t, d.Mesh().CheckMonotone())
	assertOnSurface(t, d)

	require.Len(t, res.Columns, cfg.Run.Ranks)
	for r := 0; r < cfg.Run.Ranks; r++ {
		rg := d.Registry(r)
		require.NotNil(t, rg)
		assert.Equal(t, rg.Len(), res.Columns[r])
		rg.Each(func(c *column.Column) {
			assert.NoError(t, c.CheckInvariants(), "rank %d column %s", r, c.Key)
			nodes := c.Nodes()
			for i := 1; i < len(nodes); i++ {
				assert.Less(t, nodes[i-1].Z, nodes[i].Z, "rank %d column %s", r, c.Key)
			}
		})
	}
	assert.Nil(t, d.Registry(cfg.Run.Ranks))

	passes, err := st.Passes(context.Background())
	require.NoError(t, err)
	assert.Len(t, passes, (cfg.Run.Iterations+1)*cfg.Run.Ranks*2)

	n, err := testutil.GatherAndCount(reg, "zmesh_halo_values_total", "zmesh_driver_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 4, n) // halo counter plus adapt, rebuild and elevation stages
}

func TestRun_ZeroIterationsMovesBaseMesh(t *testing.T) {
	cfg := smallConfig()
	cfg.Run.Iterations = 0
	d, err := New(cfg, Deps{})
	require.NoError(t, err)
	res, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, cfg.Mesh.Nx*cfg.Mesh.Nz, res.Cells)
	assert.Equal(t, (cfg.Mesh.Nx+1)*(cfg.Mesh.Nz+1), res.Vertices)
	assert.Zero(t, res.Hanging)
	assert.Zero(t, res.Unresolved)
	require.NoError(t, d.Mesh().CheckMonotone())
	assertOnSurface(t, d)
}

func TestRun_Deterministic(t *testing.T) {
	run := func() map[int]float64 {
		d, err := New(smallConfig(), Deps{})
		require.NoError(t, err)
		_, err = d.Run(context.Background())
		require.NoError(t, err)
		return d.Mesh().Elevations()
	}
	assert.Equal(t, run(), run())
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := Run(ctx, smallConfig(), Deps{})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Zero(t, res.Iterations)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := smallConfig()
	cfg.Run.Ranks = 0
	_, err := New(cfg, Deps{})
	assert.Error(t, err)

	cfg = smallConfig()
	cfg.Surface.Stages[0].Widths = nil
	_, err = New(cfg, Deps{})
	assert.Error(t, err)
}
