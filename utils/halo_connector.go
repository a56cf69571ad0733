package utils

import (
	"fmt"
)

// HaloConnector manages pick and place dof lists for ranks that hold ghost copies of
// vertices owned elsewhere
type HaloConnector struct {
	NumPartitions int

	// Input ownership
	Owners   []int   // Dof → owning rank, negative when no rank owns it
	Relevant [][]int // [rank] dofs the rank holds, owned and ghost

	GhostsPerPartition []int // Ghost dofs held by each rank

	// Pick/Place dofs per rank pair
	PickIndices  [][]PickBuffer  // [ownerPartition][holderPartition]
	PlaceIndices [][]PlaceBuffer // [holderPartition][ownerPartition]
}

// PickBuffer lists the dofs an owner sends to one holder
type PickBuffer struct {
	Indices         []int
	TargetPartition int
}

// PlaceBuffer lists the dofs a holder receives from one owner, in pick order
type PlaceBuffer struct {
	Indices         []int
	SourcePartition int
}

// NewHaloConnector builds the exchange lists from the relevant dofs of every rank and the
// owner of every dof
func NewHaloConnector(relevant [][]int, owners []int) (*HaloConnector, error) {
	if len(relevant) == 0 {
		return nil, fmt.Errorf("no partitions")
	}
	for p, dofs := range relevant {
		for _, dof := range dofs {
			if dof < 0 || dof >= len(owners) {
				return nil, fmt.Errorf("partition %d holds dof %d outside %d owners", p, dof, len(owners))
			}
			if owners[dof] < 0 || owners[dof] >= len(relevant) {
				return nil, fmt.Errorf("partition %d holds dof %d with owner %d", p, dof, owners[dof])
			}
		}
	}

	hc := &HaloConnector{
		NumPartitions: len(relevant),
		Owners:        owners,
		Relevant:      relevant,
	}
	hc.initializeBuffers()
	hc.BuildIndices()
	return hc, nil
}

// initializeBuffers creates empty pick and place buffer structures
func (hc *HaloConnector) initializeBuffers() {
	hc.GhostsPerPartition = make([]int, hc.NumPartitions)
	hc.PickIndices = make([][]PickBuffer, hc.NumPartitions)
	hc.PlaceIndices = make([][]PlaceBuffer, hc.NumPartitions)

	for p := 0; p < hc.NumPartitions; p++ {
		hc.PickIndices[p] = make([]PickBuffer, hc.NumPartitions)
		hc.PlaceIndices[p] = make([]PlaceBuffer, hc.NumPartitions)

		for q := 0; q < hc.NumPartitions; q++ {
			hc.PickIndices[p][q] = PickBuffer{TargetPartition: q}
			hc.PlaceIndices[p][q] = PlaceBuffer{SourcePartition: q}
		}
	}
}

// BuildIndices fills the pick and place lists: every ghost dof of a holder is picked from
// its owner
func (hc *HaloConnector) BuildIndices() {
	for p := 0; p < hc.NumPartitions; p++ {
		for _, dof := range hc.Relevant[p] {
			owner := hc.Owners[dof]
			if owner == p {
				continue
			}
			hc.GhostsPerPartition[p]++

			// The owner sends this dof to partition p
			hc.PickIndices[owner][p].Indices = append(hc.PickIndices[owner][p].Indices, dof)

			// Partition p overwrites its ghost copy
			hc.PlaceIndices[p][owner].Indices = append(hc.PlaceIndices[p][owner].Indices, dof)
		}
	}
}

// GetPickIndices returns the dofs sent from source to target partition
func (hc *HaloConnector) GetPickIndices(sourcePartition, targetPartition int) []int {
	if sourcePartition < 0 || sourcePartition >= hc.NumPartitions ||
		targetPartition < 0 || targetPartition >= hc.NumPartitions {
		return nil
	}
	return hc.PickIndices[sourcePartition][targetPartition].Indices
}

// GetPlaceIndices returns the dofs target partition receives from source
func (hc *HaloConnector) GetPlaceIndices(targetPartition, sourcePartition int) []int {
	if targetPartition < 0 || targetPartition >= hc.NumPartitions ||
		sourcePartition < 0 || sourcePartition >= hc.NumPartitions {
		return nil
	}
	return hc.PlaceIndices[targetPartition][sourcePartition].Indices
}

// Exchange copies the owners' values into the ghost entries of every holder table.
// It returns the number of values moved.
func (hc *HaloConnector) Exchange(tables []map[int]float64) (int, error) {
	if len(tables) != hc.NumPartitions {
		return 0, fmt.Errorf("got %d tables for %d partitions", len(tables), hc.NumPartitions)
	}
	moved := 0
	for src := 0; src < hc.NumPartitions; src++ {
		for dst := 0; dst < hc.NumPartitions; dst++ {
			pick := hc.PickIndices[src][dst].Indices
			place := hc.PlaceIndices[dst][src].Indices
			for i, dof := range pick {
				value, ok := tables[src][dof]
				if !ok {
					return moved, fmt.Errorf("partition %d has no value for owned dof %d", src, dof)
				}
				if tables[dst] == nil {
					tables[dst] = make(map[int]float64)
				}
				tables[dst][place[i]] = value
				moved++
			}
		}
	}
	return moved, nil
}

// Verify checks ownership, pick/place correspondence and conservation
func (hc *HaloConnector) Verify() error {
	// Verify 1: Ownership - every pick comes from the dof's owner
	for p := 0; p < hc.NumPartitions; p++ {
		for q := 0; q < hc.NumPartitions; q++ {
			for _, dof := range hc.PickIndices[p][q].Indices {
				if hc.Owners[dof] != p {
					return fmt.Errorf("partition %d picks dof %d owned by %d", p, dof, hc.Owners[dof])
				}
			}
		}
	}

	// Verify 2: Correspondence - pick and place lists match element by element
	for p := 0; p < hc.NumPartitions; p++ {
		for q := 0; q < hc.NumPartitions; q++ {
			pick := hc.PickIndices[p][q].Indices
			place := hc.PlaceIndices[q][p].Indices
			if len(pick) != len(place) {
				return fmt.Errorf("length mismatch: pick[%d][%d]=%d, place[%d][%d]=%d",
					p, q, len(pick), q, p, len(place))
			}
			for i := range pick {
				if pick[i] != place[i] {
					return fmt.Errorf("pick[%d][%d][%d]=%d but place[%d][%d][%d]=%d",
						p, q, i, pick[i], q, p, i, place[i])
				}
			}
		}
	}

	// Verify 3: Conservation - total picks equals total ghosts
	totalPicks, totalGhosts := 0, 0
	for p := 0; p < hc.NumPartitions; p++ {
		for q := 0; q < hc.NumPartitions; q++ {
			totalPicks += len(hc.PickIndices[p][q].Indices)
		}
		totalGhosts += hc.GhostsPerPartition[p]
	}
	if totalPicks != totalGhosts {
		return fmt.Errorf("conservation error: total picks %d != total ghosts %d", totalPicks, totalGhosts)
	}

	return nil
}
