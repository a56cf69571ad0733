package mesh

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notargets/ZMesh/partitions"
	"github.com/notargets/ZMesh/registry"
)

// renumber enumerates the active cells and vertices of the current mesh and finds the
// hanging vertices. Every call hands out fresh dofs.
func (m *Layered) renumber() {
	m.order = make([]CellID, 0, len(m.cells))
	for c := range m.cells {
		m.order = append(m.order, c)
	}
	sortCells(m.order)

	m.verts = make([]Vertex, 0, len(m.z))
	for v := range m.z {
		m.verts = append(m.verts, v)
	}
	sort.Slice(m.verts, func(a, b int) bool {
		if m.verts[a].I != m.verts[b].I {
			return m.verts[a].I < m.verts[b].I
		}
		return m.verts[a].J < m.verts[b].J
	})
	m.dofs = make(map[Vertex]int, len(m.verts))
	for dof, v := range m.verts {
		m.dofs[v] = dof
	}

	m.eToV = make([][]int, len(m.order))
	m.partners = make(map[int][]int)
	for k, c := range m.order {
		corners := m.corners(c)
		m.eToV[k] = []int{m.dofs[corners[0]], m.dofs[corners[1]], m.dofs[corners[2]], m.dofs[corners[3]]}

		s := m.scale(c.Level)
		for _, e := range [4][2]int{{0, 1}, {2, 3}, {0, 2}, {1, 3}} {
			a, b := corners[e[0]], corners[e[1]]
			di, dj := (b.I-a.I)/s, (b.J-a.J)/s
			for t := 1; t < s; t++ {
				p := Vertex{I: a.I + t*di, J: a.J + t*dj}
				if dof, ok := m.dofs[p]; ok {
					m.partners[dof] = []int{m.dofs[a], m.dofs[b]}
				}
			}
		}
	}
}

// EToV returns the corner dofs of every cell in numbering order
func (m *Layered) EToV() [][]int { return m.eToV }

// Connectivity returns the cell topology for the partition builder
func (m *Layered) Connectivity() *partitions.MeshConnectivity {
	return &partitions.MeshConnectivity{NumElements: len(m.order), EToV: m.eToV}
}

// BaseColumns maps every cell to the base grid column it refines
func (m *Layered) BaseColumns() []int {
	groups := make([]int, len(m.order))
	for k, c := range m.order {
		groups[k] = c.I >> c.Level
	}
	return groups
}

// Partition spreads whole base grid columns over the ranks, so every rank sees complete
// vertical columns of cells
func (m *Layered) Partition(numRanks int, strategy partitions.PartitionStrategy) (*partitions.PartitionLayout, error) {
	if numRanks < 1 || numRanks > m.cfg.Nx {
		return nil, fmt.Errorf("cannot spread %d base columns over %d ranks", m.cfg.Nx, numRanks)
	}
	pb := &partitions.PartitionBuilder{
		Mesh:          &partitions.MeshConnectivity{NumElements: m.cfg.Nx},
		NumPartitions: numRanks,
		Strategy:      strategy,
	}
	columns, err := pb.BuildPartitions()
	if err != nil {
		return nil, fmt.Errorf("partition base columns: %w", err)
	}
	return columns.ExpandGroups(m.BaseColumns())
}

// Vertex returns the lattice point of a dof
func (m *Layered) Vertex(dof int) Vertex { return m.verts[dof] }

// Dof returns the dof of a lattice point
func (m *Layered) Dof(v Vertex) (int, bool) {
	dof, ok := m.dofs[v]
	return dof, ok
}

// Hanging returns the hanging dofs with the two dofs of the edge each one lies on
func (m *Layered) Hanging() map[int][]int {
	out := make(map[int][]int, len(m.partners))
	for dof, p := range m.partners {
		out[dof] = append([]int(nil), p...)
	}
	return out
}

// Relevant returns the dofs a rank works with: the vertices of its cells and of the ghost
// cells around them, plus the partners of every hanging vertex among those
func (m *Layered) Relevant(layout *partitions.PartitionLayout, rank int) []int {
	seen := make(map[int]struct{})
	for _, v := range layout.RelevantVertices(rank, m.eToV) {
		seen[v] = struct{}{}
	}
	for _, k := range layout.GhostElements(rank, m.eToV) {
		for _, v := range m.eToV[k] {
			seen[v] = struct{}{}
		}
	}
	for v := range seen {
		for _, p := range m.partners[v] {
			seen[p] = struct{}{}
		}
	}
	dofs := make([]int, 0, len(seen))
	for v := range seen {
		dofs = append(dofs, v)
	}
	sort.Ints(dofs)
	return dofs
}

// Reports describes every relevant vertex of a rank to the column registry. Connections come
// from the vertical edges of the local and ghost cells, constraints from the coarse edge a
// hanging vertex lies on.
func (m *Layered) Reports(layout *partitions.PartitionLayout, rank int) []registry.NodeReport {
	owners := layout.VertexOwners(m.eToV, len(m.verts))
	relevant := m.Relevant(layout, rank)
	inSet := make(map[int]struct{}, len(relevant))
	for _, d := range relevant {
		inSet[d] = struct{}{}
	}

	cells := append(append([]int(nil), layout.Partitions[rank].Elements...),
		layout.GhostElements(rank, m.eToV)...)
	conn := make(map[int]map[int]struct{})
	link := func(a, b int) {
		if conn[a] == nil {
			conn[a] = make(map[int]struct{})
		}
		conn[a][b] = struct{}{}
	}
	for _, k := range cells {
		verts := m.eToV[k]
		for _, e := range [2][2]int{{0, 2}, {1, 3}} {
			link(verts[e[0]], verts[e[1]])
			link(verts[e[1]], verts[e[0]])
		}
	}

	top := m.TopJ()
	reports := make([]registry.NodeReport, 0, len(relevant))
	for _, dof := range relevant {
		v := m.verts[dof]
		var connections []int
		for d := range conn[dof] {
			if _, ok := inSet[d]; ok {
				connections = append(connections, d)
			}
		}
		sort.Ints(connections)
		reports = append(reports, registry.NodeReport{
			X:           m.X(v.I),
			Z:           m.z[v],
			Dof:         dof,
			IsTop:       v.J == top,
			IsBottom:    v.J == 0,
			Constraints: append([]int(nil), m.partners[dof]...),
			Connections: connections,
			IsLocal:     owners[dof] == rank,
			Rank:        owners[dof],
		})
	}
	return reports
}

// Elevations returns the elevation of every dof
func (m *Layered) Elevations() map[int]float64 {
	out := make(map[int]float64, len(m.verts))
	for dof, v := range m.verts {
		out[dof] = m.z[v]
	}
	return out
}

// SetElevations writes elevations by dof and returns how many dofs it matched
func (m *Layered) SetElevations(z map[int]float64) (n int) {
	for dof, value := range z {
		if dof < 0 || dof >= len(m.verts) {
			continue
		}
		m.z[m.verts[dof]] = value
		n++
	}
	return
}

// DistributeConstraints places every hanging vertex on the straight line between the two
// vertices of the edge it lies on
func (m *Layered) DistributeConstraints() int {
	for dof, p := range m.partners {
		m.z[m.verts[dof]] = (m.z[m.verts[p[0]]] + m.z[m.verts[p[1]]]) / 2
	}
	return len(m.partners)
}

// CheckMonotone verifies that elevations strictly increase upward along every lattice column
func (m *Layered) CheckMonotone() error {
	var errs []error
	for a := 1; a < len(m.verts); a++ {
		lo, hi := m.verts[a-1], m.verts[a]
		if lo.I != hi.I {
			continue
		}
		if !(m.z[hi] > m.z[lo]) {
			errs = append(errs, fmt.Errorf("x=%g: vertex %d at z=%g is not above vertex %d at z=%g",
				m.X(hi.I), m.dofs[hi], m.z[hi], m.dofs[lo], m.z[lo]))
		}
	}
	return errors.Join(errs...)
}
