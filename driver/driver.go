// Package driver runs the adapt, rebuild and move loop over a set of simulated ranks.
//
// Each iteration optionally refines and coarsens the mesh at random, rebuilds the column
// registry of every rank from the renumbered mesh, moves every column onto the current
// surface, exchanges ghost elevations between ranks and writes the owned elevations back
// into the mesh.
package driver

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/notargets/ZMesh/config"
	"github.com/notargets/ZMesh/logger"
	"github.com/notargets/ZMesh/mesh"
	"github.com/notargets/ZMesh/metrics"
	"github.com/notargets/ZMesh/partitions"
	"github.com/notargets/ZMesh/registry"
	"github.com/notargets/ZMesh/store"
	"github.com/notargets/ZMesh/surface"
	"github.com/notargets/ZMesh/utils"
	"go.uber.org/zap"
)

// Deps are the optional collaborators of a run
type Deps struct {
	Logger  *zap.Logger
	Metrics *metrics.Collector
	Store   *store.Store
}

// Result summarizes a run
type Result struct {
	Seed       int64
	Iterations int // Iterations completed
	Cells      int
	Vertices   int
	Hanging    int
	Columns    []int // Registry columns per rank after the last iteration
	Conflicts  int
	Failed     int // Columns refused by a rebuild or elevation pass
	Unresolved int // Columns no target could be derived for
	HaloValues int
	TopMin     float64
	TopMax     float64
}

type rankState struct {
	id  int
	reg *registry.Registry
	log *zap.Logger
}

// Driver owns the mesh, the surface and one registry per rank
type Driver struct {
	cfg      *config.Config
	deps     Deps
	log      *zap.Logger
	rng      *rand.Rand
	seed     int64
	strategy partitions.PartitionStrategy

	mesh    *mesh.Layered
	surface *surface.Surface
	ranks   []*rankState
	result  Result
}

// New validates the configuration and builds the base mesh
func New(cfg *config.Config, deps Deps) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	strategy, err := partitions.ParseStrategy(cfg.Run.Strategy)
	if err != nil {
		return nil, err
	}
	m, err := mesh.New(mesh.Config{
		XMin:     cfg.Mesh.XMin,
		Width:    cfg.Mesh.Width,
		Bottom:   cfg.Mesh.Bottom,
		Top:      cfg.Mesh.Top,
		Nx:       cfg.Mesh.Nx,
		Nz:       cfg.Mesh.Nz,
		MaxLevel: cfg.Mesh.MaxLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("build mesh: %w", err)
	}

	seed := cfg.Run.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	d := &Driver{
		cfg:      cfg,
		deps:     deps,
		log:      deps.Logger,
		rng:      rand.New(rand.NewSource(seed)),
		seed:     seed,
		strategy: strategy,
		mesh:     m,
		surface:  &surface.Surface{Top: cfg.Surface.Top, Bottom: cfg.Surface.Bottom},
	}
	for r := 0; r < cfg.Run.Ranks; r++ {
		l := logger.ForRank(deps.Logger, r)
		reg, err := registry.New(registry.WithTolerance(cfg.ColumnTolerance()), registry.WithLogger(l))
		if err != nil {
			return nil, err
		}
		d.ranks = append(d.ranks, &rankState{id: r, reg: reg, log: l})
	}
	d.result.Seed = seed
	return d, nil
}

// Mesh returns the mesh the driver moves
func (d *Driver) Mesh() *mesh.Layered { return d.mesh }

// Registry returns the column registry of a rank
func (d *Driver) Registry(rank int) *registry.Registry {
	if rank < 0 || rank >= len(d.ranks) {
		return nil
	}
	return d.ranks[rank].reg
}

// Surface returns the current elevation targets
func (d *Driver) Surface() *surface.Surface { return d.surface }

// Run executes the initial pass and every configured iteration
func (d *Driver) Run(ctx context.Context) (*Result, error) {
	d.log.Info("starting run",
		zap.Int64("seed", d.seed),
		zap.Int("ranks", len(d.ranks)),
		zap.Int("iterations", d.cfg.Run.Iterations),
		zap.Stringer("strategy", d.strategy))
	for it := 0; it <= d.cfg.Run.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return &d.result, err
		}
		if err := d.Step(ctx, it); err != nil {
			return &d.result, fmt.Errorf("iteration %d: %w", it, err)
		}
	}
	return &d.result, nil
}

// Run builds a driver and runs it
func Run(ctx context.Context, cfg *config.Config, deps Deps) (*Result, error) {
	d, err := New(cfg, deps)
	if err != nil {
		return nil, err
	}
	return d.Run(ctx)
}

// Step performs one iteration. Iteration zero moves the base mesh without adapting it.
func (d *Driver) Step(ctx context.Context, it int) error {
	if it > 0 {
		pct := d.cfg.Run.RefinePercent
		if it == 1 {
			pct = d.cfg.Run.FirstRefinePercent
		}
		start := time.Now()
		refined, coarsened := d.mesh.Adapt(d.mesh.RandomFlags(d.rng, pct, d.cfg.Run.CoarsenPercent))
		d.observe("adapt", start)
		d.log.Info("adapted mesh",
			zap.Int("iteration", it),
			zap.Int("refined", refined),
			zap.Int("coarsened", coarsened),
			zap.Int("cells", d.mesh.NumCells()),
			zap.Int("vertices", d.mesh.NumVertices()))
	}
	if err := d.updateSurface(it); err != nil {
		return err
	}

	layout, err := d.mesh.Partition(len(d.ranks), d.strategy)
	if err != nil {
		return err
	}

	start := time.Now()
	reports := make([][]registry.NodeReport, len(d.ranks))
	for _, rs := range d.ranks {
		reports[rs.id] = d.mesh.Reports(layout, rs.id)
		pass, err := rs.reg.RediscoverFromMesh(reports[rs.id])
		if err != nil {
			rs.log.Warn("rebuild left failed columns", zap.Error(err))
		}
		d.result.Conflicts += len(pass.Conflicts)
		d.result.Failed += len(pass.Failed)
		if d.deps.Metrics != nil {
			d.deps.Metrics.ObserveRebuild(rs.id, pass, rs.reg.NodeCount(), rs.reg.Len())
		}
		if err := d.save(ctx, it, rs.id, "rebuild", pass, nil); err != nil {
			return err
		}
	}
	d.observe("rebuild", start)

	start = time.Now()
	owners := layout.VertexOwners(d.mesh.EToV(), d.mesh.NumVertices())
	tables := make([]map[int]float64, len(d.ranks))
	for _, rs := range d.ranks {
		pass, unresolved := d.moveColumns(rs, reports[rs.id])
		d.result.Failed += len(pass.Failed)
		d.result.Unresolved += unresolved
		if d.deps.Metrics != nil {
			d.deps.Metrics.ObserveElevation(rs.id, pass)
		}
		tables[rs.id] = rs.reg.ExportElevations()
		if err := d.save(ctx, it, rs.id, "elevation", pass, owned(tables[rs.id], owners, rs.id)); err != nil {
			return err
		}
	}
	d.observe("elevation", start)

	if err := d.exchange(layout, owners, tables); err != nil {
		return err
	}
	for _, rs := range d.ranks {
		d.mesh.SetElevations(owned(tables[rs.id], owners, rs.id))
	}
	hanging := d.mesh.DistributeConstraints()

	if err := d.mesh.CheckMonotone(); err != nil {
		d.log.Warn("mesh columns not monotone", zap.Int("iteration", it), zap.Error(err))
	}

	d.result.Iterations = it + 1
	d.result.Cells = d.mesh.NumCells()
	d.result.Vertices = d.mesh.NumVertices()
	d.result.Hanging = hanging
	d.result.Columns = d.result.Columns[:0]
	for _, rs := range d.ranks {
		d.result.Columns = append(d.result.Columns, rs.reg.Len())
	}
	d.result.TopMin, d.result.TopMax = d.surface.Range(d.cfg.Mesh.XMin, d.cfg.Mesh.XMin+d.cfg.Mesh.Width, 200)
	d.log.Info("iteration done",
		zap.Int("iteration", it),
		zap.Int("cells", d.result.Cells),
		zap.Int("vertices", d.result.Vertices),
		zap.Int("hanging", hanging),
		zap.Ints("columns", d.result.Columns),
		zap.Float64("top_min", d.result.TopMin),
		zap.Float64("top_max", d.result.TopMax))
	return nil
}

// updateSurface adds the bases scheduled for this iteration and draws new weights
func (d *Driver) updateSurface(it int) error {
	for _, st := range d.cfg.Surface.Stages {
		if st.Iteration != it {
			continue
		}
		if d.surface.RBF == nil {
			d.surface.RBF = &surface.RBF{}
		}
		for i := range st.Centers {
			if err := d.surface.RBF.AddCenter(st.Centers[i], st.Widths[i]); err != nil {
				return fmt.Errorf("surface stage %d: %w", st.Iteration, err)
			}
		}
	}
	if d.surface.RBF == nil {
		return nil
	}
	values, err := d.surface.RBF.Randomize(d.rng, d.cfg.Surface.Amplitude)
	if err != nil {
		return fmt.Errorf("surface weights: %w", err)
	}
	d.log.Debug("surface heights", zap.Int("iteration", it), zap.Float64s("centers", d.surface.RBF.Centers),
		zap.Float64s("heights", values))
	return nil
}

// exchange overwrites every ghost elevation with the value of its owner
func (d *Driver) exchange(layout *partitions.PartitionLayout, owners []int, tables []map[int]float64) error {
	relevant := make([][]int, len(d.ranks))
	for _, rs := range d.ranks {
		relevant[rs.id] = d.mesh.Relevant(layout, rs.id)
	}
	hc, err := utils.NewHaloConnector(relevant, owners)
	if err != nil {
		return fmt.Errorf("halo: %w", err)
	}
	if err := hc.Verify(); err != nil {
		return fmt.Errorf("halo: %w", err)
	}
	moved, err := hc.Exchange(tables)
	if err != nil {
		return fmt.Errorf("halo: %w", err)
	}
	d.result.HaloValues += moved
	if d.deps.Metrics != nil {
		d.deps.Metrics.ObserveHalo(moved)
	}
	return nil
}

func (d *Driver) save(ctx context.Context, it, rank int, stage string, pass *registry.PassReport,
	elevations map[int]float64) error {
	if d.deps.Store == nil {
		return nil
	}
	if _, err := d.deps.Store.SavePass(ctx, it, rank, stage, pass, elevations); err != nil {
		return fmt.Errorf("save %s pass of rank %d: %w", stage, rank, err)
	}
	return nil
}

func (d *Driver) observe(stage string, start time.Time) {
	if d.deps.Metrics != nil {
		d.deps.Metrics.ObserveStage(stage, time.Since(start))
	}
}

// owned keeps the entries of table whose dof belongs to rank
func owned(table map[int]float64, owners []int, rank int) map[int]float64 {
	out := make(map[int]float64)
	for dof, z := range table {
		if dof < len(owners) && owners[dof] == rank {
			out[dof] = z
		}
	}
	return out
}
