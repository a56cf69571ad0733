package column

import (
	"fmt"
	"io"
	"slices"
)

// Sentinel values for fields that have not been resolved yet
const (
	UnsetDof    = -9
	UnsetZ      = -9999.0
	UnsetRelPos = -9.0
	UnsetRank   = -9
)

// OwnerRef points at the node that serves as top or bottom anchor of another node.
// When Rank is negative the anchor lives on a process we have not identified yet,
// and Dof, Z and ID are meaningless.
type OwnerRef struct {
	Dof   int
	Z     float64
	ID    int  // Ordinal of the anchor in its column
	Rank  int  // Process that owns the anchor
	IsSet bool // True once the anchor elevation is final for this pass
}

// Clear puts the reference back in the unresolved state
func (o *OwnerRef) Clear() {
	o.Dof = UnsetDof
	o.Z = UnsetZ
	o.ID = UnsetDof
	o.Rank = UnsetRank
	o.IsSet = false
}

// Resolved reports whether the owner of the anchor is known
func (o OwnerRef) Resolved() bool {
	return o.Rank >= 0
}

// ZNode is one mesh node of a column
type ZNode struct {
	Z   float64 // Elevation
	Dof int     // Dof id in the external vector, UnsetDof if not known

	IsTop    bool // Node lies on the top surface
	IsBottom bool // Node lies on the bottom surface

	// Dofs of nodes that share a vertical cell edge with this node
	Connections []int
	// Dofs of the nodes constraining this one; non-empty for hanging nodes
	Constraints []int
	Hanging     bool

	DofAbove int // UnsetDof when there is no node above
	DofBelow int // UnsetDof when there is no node below

	// Fractional position between the column bottom and top
	RelPos float64

	Top    OwnerRef
	Bottom OwnerRef

	// For hanging nodes only one of these may be true
	ConnectedAbove bool
	ConnectedBelow bool

	ZSet    bool // Elevation is final for the current pass
	IsLocal bool // Owned by this process
	Rank    int  // Owning process, UnsetRank if unknown
}

// NewZNode creates a node. Negative dofs are allowed here; they are rejected when the node
// is ingested into a column.
func NewZNode(z float64, dof int, constraints []int, isTop, isBottom bool, connections []int) *ZNode {
	n := &ZNode{
		Z:        z,
		Dof:      dof,
		IsTop:    isTop,
		IsBottom: isBottom,
		DofAbove: UnsetDof,
		DofBelow: UnsetDof,
		RelPos:   UnsetRelPos,
		Rank:     UnsetRank,
	}
	n.Top.Clear()
	n.Bottom.Clear()
	n.AddConnections(connections)
	n.AddConstraintNodes(constraints)
	return n
}

// AddConnections adds the dofs not already present
func (n *ZNode) AddConnections(dofs []int) {
	for _, d := range dofs {
		if !slices.Contains(n.Connections, d) {
			n.Connections = append(n.Connections, d)
		}
	}
}

// AddConstraintNodes adds constraining dofs, skipping this node's own dof
func (n *ZNode) AddConstraintNodes(dofs []int) {
	for _, d := range dofs {
		if d == n.Dof || slices.Contains(n.Constraints, d) {
			continue
		}
		n.Constraints = append(n.Constraints, d)
	}
	n.Hanging = len(n.Constraints) > 0
}

// MergeFrom folds another discovery of the same physical node into this one.
// A node without a dof adopts the incoming one; a node whose dof is already
// resolved and different is left untouched and a ConflictError is returned.
func (n *ZNode) MergeFrom(other *ZNode) error {
	if other.Dof < 0 {
		return fmt.Errorf("merge into dof %d: %w", n.Dof, ErrInvalidDof)
	}
	if n.Dof >= 0 && n.Dof != other.Dof {
		return &ConflictError{Dofs: [2]int{n.Dof, other.Dof}, Z: n.Z}
	}
	if n.Dof < 0 {
		n.Dof = other.Dof
		// the old constraint set may now contain our own dof
		n.Constraints = slices.DeleteFunc(n.Constraints, func(d int) bool { return d == n.Dof })
	}
	n.AddConnections(other.Connections)
	n.AddConstraintNodes(other.Constraints)
	n.IsTop = n.IsTop || other.IsTop
	n.IsBottom = n.IsBottom || other.IsBottom
	n.IsLocal = n.IsLocal || other.IsLocal
	if n.Rank < 0 || (other.Rank >= 0 && other.Rank < n.Rank) {
		n.Rank = other.Rank
	}
	return nil
}

// OwnerKnown reports whether the owning process of the node is known. Only such nodes can
// anchor a hanging node.
func (n *ZNode) OwnerKnown() bool {
	return n.IsLocal || n.Rank >= 0
}

// IsConnectedTo reports whether dof is in the connection set
func (n *ZNode) IsConnectedTo(dof int) bool {
	return slices.Contains(n.Connections, dof)
}

// ApproxEqual compares the elevation with z using an absolute threshold
func (n *ZNode) ApproxEqual(z, threshold float64) bool {
	d := z - n.Z
	return d < threshold && -d < threshold
}

// Reset clears everything but the elevation so the node can be rediscovered
func (n *ZNode) Reset() {
	n.Dof = UnsetDof
	n.Hanging = false
	n.DofAbove = UnsetDof
	n.DofBelow = UnsetDof
	n.ZSet = false
	n.Top.Clear()
	n.Bottom.Clear()
	n.RelPos = UnsetRelPos
	n.ConnectedAbove = false
	n.ConnectedBelow = false
	n.Connections = n.Connections[:0]
	n.Constraints = n.Constraints[:0]
	n.IsTop = false
	n.IsBottom = false
	n.IsLocal = false
	n.Rank = UnsetRank
}

// Print writes a one line description of the node
func (n *ZNode) Print(w io.Writer) {
	fmt.Fprintf(w, "dof %d z %.4f rel %.4f above %d below %d top %t bot %t hanging %t cnstr %v conn %v local %t rank %d set %t\n",
		n.Dof, n.Z, n.RelPos, n.DofAbove, n.DofBelow, n.IsTop, n.IsBottom, n.Hanging,
		n.Constraints, n.Connections, n.IsLocal, n.Rank, n.ZSet)
}
