// Package mesh provides an adaptive, layered quad mesh of a vertical x-z slice. It plays the
// part of the finite element service: it owns the cells, numbers the vertex dofs, carries
// elevations through refinement and reports every vertex to the column registry.
package mesh

import (
	"fmt"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// CellID addresses a quad by refinement level and index at that level
type CellID struct {
	Level, I, J int
}

// Vertex is a point of the finest lattice
type Vertex struct {
	I, J int
}

// Flag marks a cell for the next adaptivity pass
type Flag int8

const (
	None Flag = iota
	Refine
	Coarsen
)

// Config describes the base grid
type Config struct {
	XMin     float64 // Left edge of the domain
	Width    float64 // Horizontal extent
	Bottom   float64 // Initial bottom elevation
	Top      float64 // Initial top elevation
	Nx, Nz   int     // Base cells along x and z
	MaxLevel int     // Deepest refinement level
}

// Layered is a quadtree refined quad mesh with one elevation dof per vertex
type Layered struct {
	cfg   Config
	cells map[CellID]struct{}
	z     map[Vertex]float64

	// Numbering of the current pass
	order    []CellID
	verts    []Vertex
	dofs     map[Vertex]int
	eToV     [][]int
	partners map[int][]int // Hanging dof to the dofs of the edge it lies on
}

// New builds the base grid with layers spread evenly between bottom and top
func New(cfg Config) (*Layered, error) {
	if cfg.Nx <= 0 || cfg.Nz <= 0 {
		return nil, fmt.Errorf("invalid base grid %dx%d", cfg.Nx, cfg.Nz)
	}
	if cfg.MaxLevel < 0 || cfg.MaxLevel > 20 {
		return nil, fmt.Errorf("invalid max level %d", cfg.MaxLevel)
	}
	if !(cfg.Width > 0) || !(cfg.Top > cfg.Bottom) {
		return nil, fmt.Errorf("invalid domain width %g, bottom %g, top %g", cfg.Width, cfg.Bottom, cfg.Top)
	}

	m := &Layered{
		cfg:   cfg,
		cells: make(map[CellID]struct{}),
		z:     make(map[Vertex]float64),
	}
	s := m.scale(0)
	layers := make([]float64, cfg.Nz+1)
	floats.Span(layers, cfg.Bottom, cfg.Top)
	for i := 0; i < cfg.Nx; i++ {
		for j := 0; j < cfg.Nz; j++ {
			m.cells[CellID{Level: 0, I: i, J: j}] = struct{}{}
		}
	}
	for i := 0; i <= cfg.Nx; i++ {
		for j := 0; j <= cfg.Nz; j++ {
			m.z[Vertex{I: i * s, J: j * s}] = layers[j]
		}
	}
	m.renumber()
	return m, nil
}

// scale is the lattice size of a cell at level l
func (m *Layered) scale(level int) int {
	return 1 << (m.cfg.MaxLevel - level)
}

// TopJ is the lattice row of the top surface
func (m *Layered) TopJ() int {
	return m.cfg.Nz * m.scale(0)
}

// X returns the horizontal coordinate of a lattice column
func (m *Layered) X(i int) float64 {
	return m.cfg.XMin + float64(i)*m.cfg.Width/float64(m.cfg.Nx*m.scale(0))
}

// corners returns the lattice corners of a cell: bottom-left, bottom-right, top-left, top-right
func (m *Layered) corners(c CellID) [4]Vertex {
	s := m.scale(c.Level)
	i0, j0 := c.I*s, c.J*s
	return [4]Vertex{
		{I: i0, J: j0},
		{I: i0 + s, J: j0},
		{I: i0, J: j0 + s},
		{I: i0 + s, J: j0 + s},
	}
}

func (m *Layered) children(c CellID) [4]CellID {
	l, i, j := c.Level+1, 2*c.I, 2*c.J
	return [4]CellID{
		{Level: l, I: i, J: j},
		{Level: l, I: i + 1, J: j},
		{Level: l, I: i, J: j + 1},
		{Level: l, I: i + 1, J: j + 1},
	}
}

func parent(c CellID) CellID {
	return CellID{Level: c.Level - 1, I: c.I / 2, J: c.J / 2}
}

// touches reports whether two cells share at least one boundary point
func (m *Layered) touches(a, b CellID) bool {
	sa, sb := m.scale(a.Level), m.scale(b.Level)
	ax0, ay0 := a.I*sa, a.J*sa
	bx0, by0 := b.I*sb, b.J*sb
	return ax0 <= bx0+sb && bx0 <= ax0+sa && ay0 <= by0+sb && by0 <= ay0+sa
}

// NumCells returns the number of active cells
func (m *Layered) NumCells() int { return len(m.cells) }

// NumVertices returns the number of dofs of the current numbering
func (m *Layered) NumVertices() int { return len(m.verts) }

// Cells returns the active cells in numbering order
func (m *Layered) Cells() []CellID { return m.order }

// RandomFlags draws a refine or coarsen flag for every active cell. A draw r in [1,100]
// refines when r < refinePct and coarsens when r > 100-coarsenPct.
func (m *Layered) RandomFlags(rng *rand.Rand, refinePct, coarsenPct int) map[CellID]Flag {
	flags := make(map[CellID]Flag)
	for _, c := range m.order {
		r := rng.Intn(100) + 1
		switch {
		case r < refinePct:
			flags[c] = Refine
		case r > 100-coarsenPct:
			flags[c] = Coarsen
		}
	}
	return flags
}

// Adapt executes the flags: coarsening of complete sibling groups, refinement, then
// refinement until neighbouring cells differ by at most one level at every vertex.
// New vertices get elevations interpolated from the cell they split. Dofs are renumbered.
func (m *Layered) Adapt(flags map[CellID]Flag) (refined, coarsened int) {
	// Coarsening: every sibling flagged and the parent stays balanced
	parents := make(map[CellID]int)
	for c, f := range flags {
		if f == Coarsen && c.Level > 0 {
			if _, ok := m.cells[c]; ok {
				parents[parent(c)]++
			}
		}
	}
	var toCoarsen []CellID
	for p, n := range parents {
		if n == 4 && m.canCoarsen(p) {
			toCoarsen = append(toCoarsen, p)
		}
	}
	sortCells(toCoarsen)
	for _, p := range toCoarsen {
		if !m.canCoarsen(p) {
			continue
		}
		for _, ch := range m.children(p) {
			delete(m.cells, ch)
		}
		m.cells[p] = struct{}{}
		coarsened++
	}

	var toRefine []CellID
	for c, f := range flags {
		if _, ok := m.cells[c]; ok && f == Refine && c.Level < m.cfg.MaxLevel {
			toRefine = append(toRefine, c)
		}
	}
	sortCells(toRefine)
	for _, c := range toRefine {
		m.refine(c)
		refined++
	}
	refined += m.balance()

	m.dropInactiveVertices()
	m.renumber()
	return
}

// canCoarsen reports whether replacing the children of p keeps the 2:1 balance
func (m *Layered) canCoarsen(p CellID) bool {
	for _, ch := range m.children(p) {
		if _, ok := m.cells[ch]; !ok {
			return false
		}
	}
	for c := range m.cells {
		if c.Level > p.Level+1 && m.touches(c, p) {
			return false
		}
	}
	return true
}

func (m *Layered) refine(c CellID) {
	if _, ok := m.cells[c]; !ok {
		return
	}
	k := m.corners(c)
	h := m.scale(c.Level) / 2
	zbl, zbr, ztl, ztr := m.z[k[0]], m.z[k[1]], m.z[k[2]], m.z[k[3]]
	mid := func(v Vertex, z float64) {
		if _, ok := m.z[v]; !ok {
			m.z[v] = z
		}
	}
	mid(Vertex{I: k[0].I + h, J: k[0].J}, (zbl+zbr)/2)
	mid(Vertex{I: k[2].I + h, J: k[2].J}, (ztl+ztr)/2)
	mid(Vertex{I: k[0].I, J: k[0].J + h}, (zbl+ztl)/2)
	mid(Vertex{I: k[1].I, J: k[1].J + h}, (zbr+ztr)/2)
	m.z[Vertex{I: k[0].I + h, J: k[0].J + h}] = (zbl + zbr + ztl + ztr) / 4

	delete(m.cells, c)
	for _, ch := range m.children(c) {
		m.cells[ch] = struct{}{}
	}
}

// balance refines cells touching a cell more than one level finer
func (m *Layered) balance() (refined int) {
	for {
		var offenders []CellID
		for a := range m.cells {
			for b := range m.cells {
				if b.Level > a.Level+1 && m.touches(a, b) {
					offenders = append(offenders, a)
					break
				}
			}
		}
		if len(offenders) == 0 {
			return
		}
		sortCells(offenders)
		for _, c := range offenders {
			m.refine(c)
			refined++
		}
	}
}

func (m *Layered) dropInactiveVertices() {
	active := make(map[Vertex]struct{}, len(m.z))
	for c := range m.cells {
		for _, v := range m.corners(c) {
			active[v] = struct{}{}
		}
	}
	for v := range m.z {
		if _, ok := active[v]; !ok {
			delete(m.z, v)
		}
	}
}

// sortCells orders cells along x, then z, then level
func sortCells(cells []CellID) {
	sort.Slice(cells, func(a, b int) bool {
		ca, cb := cells[a], cells[b]
		// compare lower-left corners scaled to a common level
		xa, xb := ca.I<<(31-ca.Level), cb.I<<(31-cb.Level)
		if xa != xb {
			return xa < xb
		}
		ya, yb := ca.J<<(31-ca.Level), cb.J<<(31-cb.Level)
		if ya != yb {
			return ya < yb
		}
		return ca.Level < cb.Level
	})
}
