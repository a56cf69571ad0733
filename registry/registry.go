package registry

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notargets/ZMesh/column"
	"go.uber.org/zap"
)

// Registry maps quantized horizontal keys to their columns. One registry serves one process;
// it is merged pass after pass and only shrinks through Prune.
type Registry struct {
	tol     column.Tolerance
	columns map[column.Key]*column.Column
	logger  *zap.Logger
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the logger passed down to every column
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTolerance overrides the default tolerance policy
func WithTolerance(t column.Tolerance) Option {
	return func(r *Registry) {
		r.tol = t
	}
}

// New creates an empty registry
func New(opts ...Option) (*Registry, error) {
	r := &Registry{
		tol:     column.DefaultTolerance(),
		columns: make(map[column.Key]*column.Column),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.tol.Validate(); err != nil {
		return nil, fmt.Errorf("registry tolerance: %w", err)
	}
	return r, nil
}

// Tolerance returns the policy shared by all columns
func (r *Registry) Tolerance() column.Tolerance { return r.tol }

// QuantizeKey maps a horizontal coordinate to its column key
func (r *Registry) QuantizeKey(x, y float64) column.Key {
	return r.tol.Quantize(x, y)
}

// Column returns the column at key, or nil
func (r *Registry) Column(key column.Key) *column.Column {
	return r.columns[key]
}

// Len returns the number of columns
func (r *Registry) Len() int { return len(r.columns) }

// NodeCount returns the number of nodes over all columns
func (r *Registry) NodeCount() (n int) {
	for _, c := range r.columns {
		n += c.Len()
	}
	return
}

// Keys returns the column keys in ascending order
func (r *Registry) Keys() []column.Key {
	keys := make([]column.Key, 0, len(r.columns))
	for k := range r.columns {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	return keys
}

// Each calls fn for every column in key order
func (r *Registry) Each(fn func(*column.Column)) {
	for _, k := range r.Keys() {
		fn(r.columns[k])
	}
}

// Locate finds the column and node holding dof. When a retained conflict leaves the dof in
// more than one column, the column with the lowest key wins.
func (r *Registry) Locate(dof int) (*column.Column, *column.ZNode) {
	for _, k := range r.Keys() {
		c := r.columns[k]
		if n, _ := c.Find(dof); n != nil {
			return c, n
		}
	}
	return nil, nil
}

// RebuildFromMesh merges the reports into their columns and resorts every touched column.
// Columns without reports are left as they are. Errors of one column do not stop the others;
// they are collected in the PassReport and joined into the returned error.
func (r *Registry) RebuildFromMesh(reports []NodeReport) (*PassReport, error) {
	return r.rebuild(reports, false)
}

// RediscoverFromMesh is RebuildFromMesh for passes that renumbered the dofs. Every column is
// reset first, so members keep their elevation but must be claimed again by a report; members
// nobody claims are dropped, and so are columns left empty.
func (r *Registry) RediscoverFromMesh(reports []NodeReport) (*PassReport, error) {
	return r.rebuild(reports, true)
}

func (r *Registry) rebuild(reports []NodeReport, rediscover bool) (*PassReport, error) {
	var (
		order  []column.Key
		groups = make(map[column.Key][]NodeReport)
	)
	for _, rep := range reports {
		k := r.QuantizeKey(rep.X, rep.Y)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], rep)
	}

	pass := newPassReport()
	if rediscover {
		for k, c := range r.columns {
			if _, ok := groups[k]; ok {
				c.ResetAll()
				continue
			}
			pass.Dropped += c.Len()
			delete(r.columns, k)
		}
	}

	var errs []error
	for _, k := range order {
		group := groups[k]
		c, ok := r.columns[k]
		if !ok {
			c = column.New(k, group[0].X, group[0].Y, r.tol, column.WithLogger(r.logger))
			r.columns[k] = c
		}

		var colErrs []error
		for _, rep := range group {
			err := c.Ingest(rep.node())
			if err == nil {
				pass.Nodes++
				continue
			}
			var conflict *column.ConflictError
			if errors.As(err, &conflict) {
				pass.Conflicts = append(pass.Conflicts, conflict)
			}
			colErrs = append(colErrs, err)
		}
		if rediscover {
			pass.Dropped += c.DropUnresolved()
		}
		c.Resort()
		pass.Columns++

		if c.Len() == 0 {
			delete(r.columns, k)
		}
		if len(colErrs) > 0 {
			err := errors.Join(colErrs...)
			pass.Failed[k] = err
			errs = append(errs, err)
		}
	}

	r.logger.Info("rebuilt columns",
		zap.Bool("rediscover", rediscover),
		zap.Int("columns", pass.Columns),
		zap.Int("nodes", pass.Nodes),
		zap.Int("dropped", pass.Dropped),
		zap.Int("conflicts", len(pass.Conflicts)))
	return pass, errors.Join(errs...)
}

// ApplyElevationTargets updates every column that has a target. Columns without one keep
// their elevations; the surface may simply be undefined there.
func (r *Registry) ApplyElevationTargets(targets map[column.Key]Target) (*PassReport, error) {
	known := r.knownDofs()
	keys := make([]column.Key, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	pass := newPassReport()
	var errs []error
	for _, k := range keys {
		c, ok := r.columns[k]
		if !ok {
			r.logger.Debug("target without column", zap.Stringer("column", k))
			continue
		}
		pass.Columns++
		t := targets[k]
		err := checkResolvable(c, known)
		if err == nil {
			err = c.UpdateElevations(t.Top, t.Bottom)
		}
		if err != nil {
			var (
				stale  *column.StaleColumnError
				anchor *column.UnresolvedAnchorError
			)
			switch {
			case errors.As(err, &stale):
				pass.Stale++
			case errors.As(err, &anchor):
				pass.Anchors++
			}
			pass.Failed[k] = err
			errs = append(errs, err)
			continue
		}
		pass.Nodes += c.Len()
	}

	r.logger.Info("applied elevation targets",
		zap.Int("targets", len(targets)),
		zap.Int("columns", pass.Columns),
		zap.Int("nodes", pass.Nodes),
		zap.Int("failed", len(pass.Failed)))
	return pass, errors.Join(errs...)
}

// ApplyElevationTargetList quantizes the target coordinates and applies them.
// A later target for the same key replaces an earlier one.
func (r *Registry) ApplyElevationTargetList(targets []ElevationTarget) (*PassReport, error) {
	m := make(map[column.Key]Target, len(targets))
	for _, t := range targets {
		m[r.QuantizeKey(t.X, t.Y)] = Target{Top: t.Top, Bottom: t.Bottom}
	}
	return r.ApplyElevationTargets(m)
}

// ExportElevations flattens the registry into a dof keyed table
func (r *Registry) ExportElevations() map[int]float64 {
	out := make(map[int]float64, r.NodeCount())
	for _, c := range r.columns {
		for dof, z := range c.Elevations() {
			out[dof] = z
		}
	}
	return out
}

// Prune drops foreign nodes that no local node is connected with, then every column
// left without a local node.
func (r *Registry) Prune() (columns, nodes int) {
	for k, c := range r.columns {
		removed := c.PruneUnowned()
		nodes += removed
		if !c.HasLocal() {
			nodes += c.Len()
			delete(r.columns, k)
			columns++
			continue
		}
		if removed > 0 {
			c.Resort()
		}
	}
	r.logger.Debug("pruned registry", zap.Int("columns", columns), zap.Int("nodes", nodes))
	return
}

func (r *Registry) knownDofs() map[int]struct{} {
	known := make(map[int]struct{}, r.NodeCount())
	for _, c := range r.columns {
		for _, n := range c.Nodes() {
			if n.Dof >= 0 {
				known[n.Dof] = struct{}{}
			}
		}
	}
	return known
}

// checkResolvable refuses columns whose nodes point at dofs this process never received
func checkResolvable(c *column.Column, known map[int]struct{}) error {
	for _, n := range c.Nodes() {
		for _, set := range [][]int{n.Constraints, n.Connections} {
			for _, d := range set {
				if _, ok := known[d]; !ok {
					return &column.StaleColumnError{Key: c.Key,
						Reason: fmt.Sprintf("dof %d references dof %d which is not resolvable", n.Dof, d)}
				}
			}
		}
	}
	return nil
}
