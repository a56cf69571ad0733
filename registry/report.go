package registry

import (
	"fmt"
	"sort"
	"strings"

	"github.com/notargets/ZMesh/column"
)

// NodeReport is what the mesh side knows about one vertex after an adaptivity pass
type NodeReport struct {
	X, Y        float64 // Horizontal location
	Z           float64 // Elevation
	Dof         int
	IsTop       bool
	IsBottom    bool
	Constraints []int // Dofs constraining this vertex when it hangs
	Connections []int // Dofs sharing a vertical cell edge with this vertex
	IsLocal     bool  // Owned by this process
	Rank        int   // Owning process, negative when unknown
}

// node converts the report into a column member
func (r NodeReport) node() *column.ZNode {
	n := column.NewZNode(r.Z, r.Dof, r.Constraints, r.IsTop, r.IsBottom, r.Connections)
	n.IsLocal = r.IsLocal
	if r.Rank >= 0 {
		n.Rank = r.Rank
	}
	return n
}

// Target holds the surface elevations for one column
type Target struct {
	Top    float64
	Bottom float64
}

// ElevationTarget is a Target addressed by horizontal coordinate
type ElevationTarget struct {
	X, Y   float64
	Top    float64
	Bottom float64
}

// PassReport summarizes one rebuild or elevation pass over the registry
type PassReport struct {
	Columns   int // Columns visited
	Nodes     int // Nodes ingested or updated
	Dropped   int // Nodes removed because nobody rediscovered them
	Conflicts []*column.ConflictError
	Stale     int // Columns refused with a StaleColumnError
	Anchors   int // Columns refused with an UnresolvedAnchorError
	Failed    map[column.Key]error
}

func newPassReport() *PassReport {
	return &PassReport{Failed: make(map[column.Key]error)}
}

// OK reports whether every column went through cleanly
func (p *PassReport) OK() bool {
	return len(p.Failed) == 0
}

// Merge adds the counts and failures of o to p
func (p *PassReport) Merge(o *PassReport) {
	p.Columns += o.Columns
	p.Nodes += o.Nodes
	p.Dropped += o.Dropped
	p.Conflicts = append(p.Conflicts, o.Conflicts...)
	p.Stale += o.Stale
	p.Anchors += o.Anchors
	if p.Failed == nil {
		p.Failed = make(map[column.Key]error, len(o.Failed))
	}
	for k, err := range o.Failed {
		p.Failed[k] = err
	}
}

func (p *PassReport) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("columns %d nodes %d dropped %d conflicts %d stale %d anchors %d failed %d",
		p.Columns, p.Nodes, p.Dropped, len(p.Conflicts), p.Stale, p.Anchors, len(p.Failed)))
	keys := make([]column.Key, 0, len(p.Failed))
	for k := range p.Failed {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
	for _, k := range keys {
		sb.WriteString(fmt.Sprintf("\n  %s: %v", k, p.Failed[k]))
	}
	return sb.String()
}
