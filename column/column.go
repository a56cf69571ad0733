package column

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Column holds the nodes found beneath one horizontal location, ordered by elevation
// after Resort. Neighbours are referenced by dof id, never by pointer, so a column can
// be rebuilt without leaving dangling references behind.
type Column struct {
	Key  Key
	X, Y float64 // Coordinates of the first report that created the column

	tol    Tolerance
	nodes  []*ZNode
	stale  bool
	logger *zap.Logger
}

// Option configures a Column
type Option func(*Column)

// WithLogger sets the logger used for merge diagnostics
func WithLogger(l *zap.Logger) Option {
	return func(c *Column) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates an empty column
func New(key Key, x, y float64, tol Tolerance, opts ...Option) *Column {
	c := &Column{
		Key:    key,
		X:      x,
		Y:      y,
		tol:    tol,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.Stringer("column", key))
	return c
}

// Nodes returns the members in their current order. Callers must not reorder the slice.
func (c *Column) Nodes() []*ZNode { return c.nodes }

// Len returns the number of members
func (c *Column) Len() int { return len(c.nodes) }

// Stale reports whether the column needs a Resort before elevations can be updated
func (c *Column) Stale() bool { return c.stale }

// Tolerance returns the policy the column was created with
func (c *Column) Tolerance() Tolerance { return c.tol }

// Find returns the member holding dof and its position, or nil and -1
func (c *Column) Find(dof int) (*ZNode, int) {
	for i, n := range c.nodes {
		if n.Dof == dof {
			return n, i
		}
	}
	return nil, -1
}

// Ingest merges a candidate into the member at the same elevation or inserts it.
// Two different resolved dofs at the same elevation are both kept and reported
// as a ConflictError; the column stays usable.
func (c *Column) Ingest(candidate *ZNode) error {
	if candidate == nil {
		return fmt.Errorf("column %s: nil node: %w", c.Key, ErrInvalidDof)
	}
	if candidate.Dof < 0 {
		return fmt.Errorf("column %s: node at z=%g: %w", c.Key, candidate.Z, ErrInvalidDof)
	}
	c.stale = true

	var match *ZNode
	for _, m := range c.nodes {
		if m.Dof == candidate.Dof {
			if !m.ApproxEqual(candidate.Z, c.tol.Z) {
				return fmt.Errorf("column %s: dof %d at z=%g and z=%g: %w",
					c.Key, m.Dof, m.Z, candidate.Z, ErrDofElevation)
			}
			return m.MergeFrom(candidate)
		}
		if match == nil && m.ApproxEqual(candidate.Z, c.tol.Z) {
			match = m
		}
	}

	if match == nil {
		c.nodes = append(c.nodes, candidate)
		c.logger.Debug("insert node", zap.Int("dof", candidate.Dof), zap.Float64("z", candidate.Z))
		return nil
	}

	err := match.MergeFrom(candidate)
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		conflict.Key = c.Key
		c.nodes = append(c.nodes, candidate)
		c.logger.Warn("dof conflict at elevation",
			zap.Int("dof", conflict.Dofs[0]),
			zap.Int("other", conflict.Dofs[1]),
			zap.Float64("z", conflict.Z))
	}
	return err
}

// Resort orders the members by elevation and rebuilds every derived link
func (c *Column) Resort() {
	slices.SortStableFunc(c.nodes, func(a, b *ZNode) int {
		if a.Z != b.Z {
			return cmp.Compare(a.Z, b.Z)
		}
		return cmp.Compare(a.Dof, b.Dof)
	})

	n := len(c.nodes)
	if n == 0 {
		c.stale = false
		return
	}
	bottom, top := c.nodes[0], c.nodes[n-1]
	span := top.Z - bottom.Z

	for i, nd := range c.nodes {
		nd.DofBelow, nd.DofAbove = UnsetDof, UnsetDof
		nd.ConnectedBelow, nd.ConnectedAbove = false, false
		if i > 0 {
			below := c.nodes[i-1]
			nd.DofBelow = below.Dof
			nd.ConnectedBelow = nd.IsConnectedTo(below.Dof) || below.IsConnectedTo(nd.Dof)
		}
		if i < n-1 {
			above := c.nodes[i+1]
			nd.DofAbove = above.Dof
			nd.ConnectedAbove = nd.IsConnectedTo(above.Dof) || above.IsConnectedTo(nd.Dof)
		}
		nd.IsBottom = i == 0
		nd.IsTop = i == n-1

		switch {
		case n == 1:
			nd.RelPos = 1
		case span > 0:
			nd.RelPos = (nd.Z - bottom.Z) / span
		default:
			nd.RelPos = 0
		}
		nd.ZSet = false
	}

	for i, nd := range c.nodes {
		lo, hi := c.anchors(i)
		nd.Bottom = c.ownerRef(lo)
		nd.Top = c.ownerRef(hi)
	}
	c.stale = false
}

// anchors returns the positions of the nearest non-hanging members below and above i.
// Non-hanging and boundary members are anchored to the column bottom and top.
func (c *Column) anchors(i int) (lo, hi int) {
	n := len(c.nodes)
	lo, hi = 0, n-1
	if !c.nodes[i].Hanging || i == 0 || i == n-1 {
		return
	}
	for j := i - 1; j > 0; j-- {
		if !c.nodes[j].Hanging {
			lo = j
			break
		}
	}
	for j := i + 1; j < n-1; j++ {
		if !c.nodes[j].Hanging {
			hi = j
			break
		}
	}
	return
}

func (c *Column) ownerRef(i int) (ref OwnerRef) {
	nd := c.nodes[i]
	if !nd.OwnerKnown() {
		ref.Clear()
		return
	}
	return OwnerRef{Dof: nd.Dof, Z: nd.Z, ID: i, Rank: nd.Rank, IsSet: nd.ZSet}
}

// UpdateElevations moves the column onto new top and bottom elevations. Every member is
// moved and marked final: the bottom and top members take the targets, interior members keep
// their relative position and hanging members are interpolated between their anchors. An
// anchor whose owner is unknown cannot be interpolated from, which fails the column with an
// UnresolvedAnchorError. The column is left untouched when an error is returned.
func (c *Column) UpdateElevations(top, bottom float64) error {
	if c.stale {
		return &StaleColumnError{Key: c.Key, Reason: "topology changed since last resort"}
	}
	n := len(c.nodes)
	if n == 0 {
		return nil
	}
	for _, nd := range c.nodes {
		if nd.RelPos == UnsetRelPos {
			return &StaleColumnError{Key: c.Key,
				Reason: fmt.Sprintf("relative position of dof %d is not resolved", nd.Dof)}
		}
	}
	if n == 1 {
		nd := c.nodes[0]
		nd.Z = top
		nd.ZSet = true
		return nil
	}
	if !(top > bottom) {
		return fmt.Errorf("column %s: top %g bottom %g: %w", c.Key, top, bottom, ErrInvalidTarget)
	}

	for i, nd := range c.nodes {
		if !c.interpolated(i) {
			continue
		}
		lo, hi := c.anchors(i)
		for _, a := range []int{lo, hi} {
			if !c.nodes[a].OwnerKnown() {
				return &UnresolvedAnchorError{Key: c.Key, Dof: nd.Dof, AnchorDof: c.nodes[a].Dof}
			}
		}
	}

	// Anchors are never interpolated themselves, so they are final after this pass
	thickness := top - bottom
	for i, nd := range c.nodes {
		if c.interpolated(i) {
			continue
		}
		switch i {
		case 0:
			nd.Z = bottom
		case n - 1:
			nd.Z = top
		default:
			nd.Z = bottom + nd.RelPos*thickness
		}
		nd.ZSet = true
	}

	for i, nd := range c.nodes {
		if !c.interpolated(i) {
			continue
		}
		lo, hi := c.anchors(i)
		a, b := c.nodes[lo], c.nodes[hi]
		t := 0.0
		if b.RelPos > a.RelPos {
			t = (nd.RelPos - a.RelPos) / (b.RelPos - a.RelPos)
		}
		nd.Z = a.Z + t*(b.Z-a.Z)
		nd.ZSet = true
	}

	for i, nd := range c.nodes {
		lo, hi := c.anchors(i)
		nd.Bottom = c.ownerRef(lo)
		nd.Top = c.ownerRef(hi)
	}
	return nil
}

// interpolated reports whether member i takes its elevation from its anchors
func (c *Column) interpolated(i int) bool {
	return c.nodes[i].Hanging && i > 0 && i < len(c.nodes)-1
}

// PruneUnowned drops foreign members that no local member is connected with
func (c *Column) PruneUnowned() int {
	var local []*ZNode
	for _, nd := range c.nodes {
		if nd.IsLocal {
			local = append(local, nd)
		}
	}
	before := len(c.nodes)
	c.nodes = slices.DeleteFunc(c.nodes, func(nd *ZNode) bool {
		if nd.IsLocal {
			return false
		}
		for _, l := range local {
			if l.IsConnectedTo(nd.Dof) || nd.IsConnectedTo(l.Dof) {
				return false
			}
		}
		return true
	})
	removed := before - len(c.nodes)
	if removed > 0 {
		c.stale = true
	}
	return removed
}

// HasLocal reports whether any member is owned by this process
func (c *Column) HasLocal() bool {
	return slices.ContainsFunc(c.nodes, func(nd *ZNode) bool { return nd.IsLocal })
}

// ResetAll resets every member so the column can be rediscovered after a dof renumbering
func (c *Column) ResetAll() {
	for _, nd := range c.nodes {
		nd.Reset()
	}
	c.stale = true
}

// DropUnresolved removes members that were reset and not claimed again
func (c *Column) DropUnresolved() int {
	before := len(c.nodes)
	c.nodes = slices.DeleteFunc(c.nodes, func(nd *ZNode) bool { return nd.Dof < 0 })
	removed := before - len(c.nodes)
	if removed > 0 {
		c.stale = true
	}
	return removed
}

// Elevations returns the elevation of every resolved member keyed by dof
func (c *Column) Elevations() map[int]float64 {
	out := make(map[int]float64, len(c.nodes))
	for _, nd := range c.nodes {
		if nd.Dof >= 0 {
			out[nd.Dof] = nd.Z
		}
	}
	return out
}

// CheckInvariants verifies ordering, adjacency, surface markers and hanging directions
func (c *Column) CheckInvariants() error {
	if c.stale {
		return &StaleColumnError{Key: c.Key, Reason: "not resorted"}
	}
	var errs []error
	n := len(c.nodes)
	for i, nd := range c.nodes {
		if i < n-1 {
			next := c.nodes[i+1]
			if c.tol.SameZ(nd.Z, next.Z) {
				errs = append(errs, &ConflictError{Key: c.Key, Dofs: [2]int{nd.Dof, next.Dof}, Z: nd.Z})
			} else if nd.Z > next.Z {
				errs = append(errs, fmt.Errorf("column %s: dof %d above dof %d", c.Key, nd.Dof, next.Dof))
			}
			if nd.DofAbove != next.Dof || next.DofBelow != nd.Dof {
				errs = append(errs, fmt.Errorf("column %s: broken link between dofs %d and %d",
					c.Key, nd.Dof, next.Dof))
			}
		}
		if nd.IsTop != (i == n-1) || nd.IsBottom != (i == 0) {
			errs = append(errs, fmt.Errorf("column %s: dof %d has wrong surface markers", c.Key, nd.Dof))
		}
		if nd.Hanging && nd.ConnectedAbove && nd.ConnectedBelow && !verticalEdge(nd) {
			errs = append(errs, fmt.Errorf("column %s: hanging dof %d connected both ways", c.Key, nd.Dof))
		}
	}
	return errors.Join(errs...)
}

// verticalEdge reports whether nd hangs on the edge between its neighbours in the column.
// Such a node is linked both ways by the fine cells and interpolates between those neighbours.
func verticalEdge(nd *ZNode) bool {
	if len(nd.Constraints) != 2 {
		return false
	}
	a, b := nd.Constraints[0], nd.Constraints[1]
	return (a == nd.DofBelow && b == nd.DofAbove) || (a == nd.DofAbove && b == nd.DofBelow)
}

func (c *Column) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("column %s at (%g, %g) with %d nodes\n", c.Key, c.X, c.Y, len(c.nodes)))
	for _, nd := range c.nodes {
		sb.WriteString("  ")
		nd.Print(&sb)
	}
	return sb.String()
}
