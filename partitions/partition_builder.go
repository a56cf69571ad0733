package partitions

import (
	"fmt"
	"math"
)

// PartitionBuilder assigns mesh cells to ranks
type PartitionBuilder struct {
	// Mesh connectivity
	Mesh *MeshConnectivity

	// Partitioning parameters
	NumPartitions       int // Number of ranks; when zero it follows from TargetPartitionSize
	TargetPartitionSize int // Desired cells per partition
	Strategy            PartitionStrategy
}

// MeshConnectivity provides the mesh topology needed for partitioning.
// Cells are expected in a spatially coherent order (e.g. sorted along x) so that block
// partitioning keeps neighbouring columns on the same rank.
type MeshConnectivity struct {
	NumElements int
	EToV        [][]int // Cell to vertex connectivity
}

// PartitionStrategy defines how cells are grouped
type PartitionStrategy int

const (
	BlockPartition PartitionStrategy = iota // Consecutive cells
	RoundRobin                              // Distribute cyclically
)

func (s PartitionStrategy) String() string {
	switch s {
	case BlockPartition:
		return "block"
	case RoundRobin:
		return "roundrobin"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a configuration name to a strategy
func ParseStrategy(name string) (PartitionStrategy, error) {
	switch name {
	case "", "block":
		return BlockPartition, nil
	case "roundrobin":
		return RoundRobin, nil
	default:
		return 0, fmt.Errorf("unknown partition strategy %q", name)
	}
}

// BuildPartitions creates a partition layout from mesh connectivity
func (pb *PartitionBuilder) BuildPartitions() (*PartitionLayout, error) {
	if pb.Mesh == nil || pb.Mesh.NumElements <= 0 {
		return nil, fmt.Errorf("no cells to partition")
	}
	if pb.Mesh.EToV != nil && len(pb.Mesh.EToV) != pb.Mesh.NumElements {
		return nil, fmt.Errorf("EToV length %d does not match %d cells",
			len(pb.Mesh.EToV), pb.Mesh.NumElements)
	}

	// Determine number of partitions needed
	numPartitions := pb.calculateNumPartitions()

	// Partition the cells
	eToP := pb.partitionElements(numPartitions)

	// Create partition structures
	partitions := pb.createPartitions(eToP, numPartitions)

	layout := &PartitionLayout{
		Partitions:    partitions,
		KpartMax:      pb.calculateKpartMax(partitions),
		TotalElements: pb.Mesh.NumElements,
		NumPartitions: numPartitions,
		EToP:          eToP,
	}

	// Validate the layout
	if err := layout.ValidateLayout(); err != nil {
		return nil, fmt.Errorf("invalid partition layout: %w", err)
	}

	return layout, nil
}

// calculateNumPartitions determines the partition count
func (pb *PartitionBuilder) calculateNumPartitions() int {
	numPartitions := pb.NumPartitions
	if numPartitions <= 0 && pb.TargetPartitionSize > 0 {
		numPartitions = int(math.Ceil(float64(pb.Mesh.NumElements) / float64(pb.TargetPartitionSize)))
	}

	// Ensure at least one partition, and no empty ones
	if numPartitions < 1 {
		numPartitions = 1
	}
	if numPartitions > pb.Mesh.NumElements {
		numPartitions = pb.Mesh.NumElements
	}

	return numPartitions
}

// partitionElements assigns cells to partitions
func (pb *PartitionBuilder) partitionElements(numPartitions int) []int {
	eToP := make([]int, pb.Mesh.NumElements)

	switch pb.Strategy {
	case RoundRobin:
		// Distribute cells cyclically
		for i := 0; i < pb.Mesh.NumElements; i++ {
			eToP[i] = i % numPartitions
		}

	default:
		// Block partitioning, remainder spread over the first partitions
		base := pb.Mesh.NumElements / numPartitions
		extra := pb.Mesh.NumElements % numPartitions
		i := 0
		for p := 0; p < numPartitions; p++ {
			n := base
			if p < extra {
				n++
			}
			for j := 0; j < n; j++ {
				eToP[i] = p
				i++
			}
		}
	}

	return eToP
}

// createPartitions builds partition structures from cell assignments
func (pb *PartitionBuilder) createPartitions(eToP []int, numPartitions int) []Partition {
	partitions := make([]Partition, numPartitions)

	for i := range partitions {
		partitions[i] = Partition{
			ID:       i,
			Elements: make([]int, 0),
		}
	}

	for elem, part := range eToP {
		partitions[part].Elements = append(partitions[part].Elements, elem)
		partitions[part].NumElements++
	}

	return partitions
}

// calculateKpartMax finds maximum cells across all partitions
func (pb *PartitionBuilder) calculateKpartMax(partitions []Partition) int {
	kpartMax := 0
	for _, p := range partitions {
		if p.NumElements > kpartMax {
			kpartMax = p.NumElements
		}
	}
	return kpartMax
}
