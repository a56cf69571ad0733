package partitions

import (
	"fmt"
	"sort"
)

// Partition is the set of mesh cells owned by one rank
type Partition struct {
	// Rank that owns this partition
	ID int

	// Cell membership
	Elements    []int // Global cell indices in this partition
	NumElements int   // Number of cells
}

// PartitionLayout manages the complete mesh decomposition
type PartitionLayout struct {
	// All partitions in the mesh
	Partitions []Partition

	// Global sizing information
	KpartMax      int // max(NumElements) across all partitions
	TotalElements int // Sum of all cells across partitions
	NumPartitions int // Total number of partitions

	// Cell to partition mapping
	EToP []int // Length TotalElements: cell k belongs to partition EToP[k]
}

// PartitionMetrics tracks the balance of a layout
type PartitionMetrics struct {
	MinElements int
	MaxElements int
	Imbalance   float64 // max / mean, 1.0 is perfect
	SharedVerts int     // Vertices touched by more than one partition
}

// GetPartition returns the partition containing cell k
func (pl *PartitionLayout) GetPartition(elementID int) int {
	if elementID < 0 || elementID >= len(pl.EToP) {
		return -1
	}
	return pl.EToP[elementID]
}

// ValidateLayout checks partition consistency
func (pl *PartitionLayout) ValidateLayout() error {
	if len(pl.Partitions) != pl.NumPartitions {
		return fmt.Errorf("layout has %d partitions, expected %d", len(pl.Partitions), pl.NumPartitions)
	}
	actualMax, total := 0, 0
	for _, p := range pl.Partitions {
		if p.NumElements != len(p.Elements) {
			return fmt.Errorf("partition %d: NumElements %d != %d listed cells",
				p.ID, p.NumElements, len(p.Elements))
		}
		for _, k := range p.Elements {
			if pl.GetPartition(k) != p.ID {
				return fmt.Errorf("partition %d lists cell %d mapped to partition %d",
					p.ID, k, pl.GetPartition(k))
			}
		}
		if p.NumElements > actualMax {
			actualMax = p.NumElements
		}
		total += p.NumElements
	}
	if actualMax != pl.KpartMax {
		return fmt.Errorf("computed KpartMax %d != stored KpartMax %d", actualMax, pl.KpartMax)
	}
	if total != pl.TotalElements {
		return fmt.Errorf("partitions hold %d cells, layout has %d", total, pl.TotalElements)
	}
	return nil
}

// VertexOwners assigns every vertex to the lowest ranked partition among the cells that
// touch it. Vertices no cell touches get -1.
func (pl *PartitionLayout) VertexOwners(EToV [][]int, numVertices int) []int {
	owners := make([]int, numVertices)
	for i := range owners {
		owners[i] = -1
	}
	for k, verts := range EToV {
		p := pl.EToP[k]
		for _, v := range verts {
			if owners[v] < 0 || p < owners[v] {
				owners[v] = p
			}
		}
	}
	return owners
}

// RelevantVertices returns the sorted vertices of every cell in partition p,
// owned and ghost alike
func (pl *PartitionLayout) RelevantVertices(p int, EToV [][]int) []int {
	if p < 0 || p >= pl.NumPartitions {
		return nil
	}
	seen := make(map[int]struct{})
	for _, k := range pl.Partitions[p].Elements {
		for _, v := range EToV[k] {
			seen[v] = struct{}{}
		}
	}
	verts := make([]int, 0, len(seen))
	for v := range seen {
		verts = append(verts, v)
	}
	sort.Ints(verts)
	return verts
}

// Metrics computes balance figures for the layout
func (pl *PartitionLayout) Metrics(EToV [][]int) PartitionMetrics {
	m := PartitionMetrics{MinElements: pl.TotalElements}
	for _, p := range pl.Partitions {
		if p.NumElements < m.MinElements {
			m.MinElements = p.NumElements
		}
		if p.NumElements > m.MaxElements {
			m.MaxElements = p.NumElements
		}
	}
	if pl.NumPartitions > 0 && pl.TotalElements > 0 {
		mean := float64(pl.TotalElements) / float64(pl.NumPartitions)
		m.Imbalance = float64(m.MaxElements) / mean
	}
	touched := make(map[int]int)
	for k, verts := range EToV {
		for _, v := range verts {
			if prev, ok := touched[v]; !ok {
				touched[v] = pl.EToP[k]
			} else if prev != pl.EToP[k] && prev >= 0 {
				touched[v] = -1
				m.SharedVerts++
			}
		}
	}
	return m
}

// GhostElements returns the sorted cells outside partition p that share a vertex with one of
// its cells
func (pl *PartitionLayout) GhostElements(p int, EToV [][]int) []int {
	if p < 0 || p >= pl.NumPartitions {
		return nil
	}
	local := make(map[int]struct{})
	for _, k := range pl.Partitions[p].Elements {
		for _, v := range EToV[k] {
			local[v] = struct{}{}
		}
	}
	var ghosts []int
	for k, verts := range EToV {
		if pl.EToP[k] == p {
			continue
		}
		for _, v := range verts {
			if _, ok := local[v]; ok {
				ghosts = append(ghosts, k)
				break
			}
		}
	}
	return ghosts
}

// ExpandGroups builds a cell layout from a layout over groups of cells: cell k lands in the
// partition of group groupOf[k]
func (pl *PartitionLayout) ExpandGroups(groupOf []int) (*PartitionLayout, error) {
	eToP := make([]int, len(groupOf))
	for k, g := range groupOf {
		p := pl.GetPartition(g)
		if p < 0 {
			return nil, fmt.Errorf("cell %d: group %d is not partitioned", k, g)
		}
		eToP[k] = p
	}
	pb := &PartitionBuilder{Mesh: &MeshConnectivity{NumElements: len(groupOf)}}
	partitions := pb.createPartitions(eToP, pl.NumPartitions)
	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      pb.calculateKpartMax(partitions),
		TotalElements: len(groupOf),
		NumPartitions: pl.NumPartitions,
		EToP:          eToP,
	}
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid expanded layout: %w", err)
	}
	return layout, nil
}
