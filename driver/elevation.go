package driver

import (
	"github.com/notargets/ZMesh/column"
	"github.com/notargets/ZMesh/registry"
	"go.uber.org/zap"
)

// moveColumns puts every column of a rank onto the current surface. Columns reaching both
// surfaces take their targets from the surface directly. A column that ends inside the slab
// ends on a vertex hanging from a horizontal edge; its end takes the mean of the edge
// vertices once their own columns have moved, so such columns are resolved in rounds.
// Returns the merged pass report and the number of columns with a local node that could
// not be resolved.
func (d *Driver) moveColumns(rs *rankState, reports []registry.NodeReport) (*registry.PassReport, int) {
	// Resort marks the column ends as top and bottom, so surface membership comes from the mesh
	b := boundaries{top: make(map[int]bool), bottom: make(map[int]bool)}
	hasTop := make(map[column.Key]bool)
	hasBottom := make(map[column.Key]bool)
	for _, rep := range reports {
		k := rs.reg.QuantizeKey(rep.X, rep.Y)
		hasTop[k] = hasTop[k] || rep.IsTop
		hasBottom[k] = hasBottom[k] || rep.IsBottom
		b.top[rep.Dof] = rep.IsTop
		b.bottom[rep.Dof] = rep.IsBottom
	}

	done := make(map[column.Key]bool)
	pending := make(map[column.Key]bool)
	complete := make(map[column.Key]registry.Target)
	rs.reg.Each(func(c *column.Column) {
		if hasTop[c.Key] && hasBottom[c.Key] {
			top, bottom := d.surface.At(c.X)
			complete[c.Key] = registry.Target{Top: top, Bottom: bottom}
			return
		}
		pending[c.Key] = true
	})

	total := &registry.PassReport{Failed: make(map[column.Key]error)}
	apply := func(targets map[column.Key]registry.Target) int {
		if len(targets) == 0 {
			return 0
		}
		pass, err := rs.reg.ApplyElevationTargets(targets)
		if err != nil {
			rs.log.Debug("elevation pass left failed columns", zap.Error(err))
		}
		total.Merge(pass)
		moved := 0
		for k := range targets {
			if _, failed := pass.Failed[k]; !failed {
				done[k] = true
				moved++
			}
		}
		return moved
	}
	apply(complete)

	for round := 0; len(pending) > 0; round++ {
		targets := make(map[column.Key]registry.Target)
		for k := range pending {
			if t, ok := d.partialTarget(rs.reg, rs.reg.Column(k), b, done); ok {
				targets[k] = t
			}
		}
		for k := range targets {
			delete(pending, k)
		}
		if apply(targets) == 0 {
			break
		}
		rs.log.Debug("resolved partial columns", zap.Int("round", round), zap.Int("columns", len(targets)))
	}

	unresolved := 0
	for k := range pending {
		if c := rs.reg.Column(k); c != nil && c.HasLocal() {
			unresolved++
			rs.log.Warn("no elevation target for column", zap.Stringer("column", k))
		}
	}
	return total, unresolved
}

// boundaries holds the dofs lying on the top and bottom surface
type boundaries struct {
	top, bottom map[int]bool
}

// partialTarget derives the target of a column that misses a surface end. ok is false while
// an end still depends on a column that has not moved.
func (d *Driver) partialTarget(reg *registry.Registry, c *column.Column, b boundaries,
	done map[column.Key]bool) (registry.Target, bool) {
	nodes := c.Nodes()
	if len(nodes) == 0 {
		return registry.Target{}, false
	}
	top, bottom := d.surface.At(c.X)
	first, last := nodes[0], nodes[len(nodes)-1]
	lo, okLo := endElevation(reg, first, b.bottom[first.Dof], bottom, done)
	hi, okHi := endElevation(reg, last, b.top[last.Dof], top, done)
	if len(nodes) == 1 {
		// A single member takes the top target
		if b.top[first.Dof] {
			return registry.Target{Top: top, Bottom: top - 1}, true
		}
		return registry.Target{Top: lo, Bottom: lo - 1}, okLo
	}
	return registry.Target{Top: hi, Bottom: lo}, okLo && okHi
}

// endElevation returns the surface elevation for an end on that surface and the mean of the
// constraining vertices for a hanging end
func endElevation(reg *registry.Registry, n *column.ZNode, onSurface bool, surface float64,
	done map[column.Key]bool) (float64, bool) {
	if onSurface {
		return surface, true
	}
	if len(n.Constraints) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, dof := range n.Constraints {
		c, p := reg.Locate(dof)
		if c == nil || !done[c.Key] {
			return 0, false
		}
		sum += p.Z
	}
	return sum / float64(len(n.Constraints)), true
}
