package utils

import (
	"testing"

	"github.com/notargets/ZMesh/partitions"
)

// stripHalo partitions a row of quads where cell k has vertices {2k, 2k+1, 2k+2, 2k+3}
func stripHalo(t *testing.T, numCells, numPartitions int) (*HaloConnector, [][]int, []int) {
	t.Helper()
	EToV := make([][]int, numCells)
	for k := range EToV {
		EToV[k] = []int{2 * k, 2*k + 1, 2*k + 2, 2*k + 3}
	}
	pb := &partitions.PartitionBuilder{
		Mesh:          &partitions.MeshConnectivity{NumElements: numCells, EToV: EToV},
		NumPartitions: numPartitions,
	}
	layout, err := pb.BuildPartitions()
	if err != nil {
		t.Fatalf("BuildPartitions failed: %v", err)
	}
	owners := layout.VertexOwners(EToV, 2*numCells+2)
	relevant := make([][]int, numPartitions)
	for p := range relevant {
		relevant[p] = layout.RelevantVertices(p, EToV)
	}
	hc, err := NewHaloConnector(relevant, owners)
	if err != nil {
		t.Fatalf("NewHaloConnector failed: %v", err)
	}
	return hc, relevant, owners
}

func TestHaloConnector_TwoPartitions(t *testing.T) {
	hc, _, _ := stripHalo(t, 4, 2)
	if err := hc.Verify(); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// Vertices 4 and 5 are shared; rank 0 owns them, rank 1 holds ghosts
	pick := hc.GetPickIndices(0, 1)
	if len(pick) != 2 || pick[0] != 4 || pick[1] != 5 {
		t.Errorf("expected pick [4 5], got %v", pick)
	}
	if len(hc.GetPickIndices(1, 0)) != 0 {
		t.Errorf("rank 1 owns nothing rank 0 holds")
	}
	if hc.GhostsPerPartition[0] != 0 || hc.GhostsPerPartition[1] != 2 {
		t.Errorf("unexpected ghost counts %v", hc.GhostsPerPartition)
	}
	if hc.GetPickIndices(-1, 0) != nil || hc.GetPlaceIndices(0, 2) != nil {
		t.Errorf("out of range partitions should return nil")
	}
}

func TestHaloConnector_Exchange(t *testing.T) {
	hc, relevant, owners := stripHalo(t, 6, 3)
	if err := hc.Verify(); err != nil {
		t.Fatalf("Verify failed: %v", err)
	}

	// Owners know the truth, ghosts hold stale values
	tables := make([]map[int]float64, 3)
	for p, dofs := range relevant {
		tables[p] = make(map[int]float64)
		for _, dof := range dofs {
			if owners[dof] == p {
				tables[p][dof] = float64(10 * dof)
			} else {
				tables[p][dof] = -1
			}
		}
	}

	moved, err := hc.Exchange(tables)
	if err != nil {
		t.Fatalf("Exchange failed: %v", err)
	}
	if moved != 4 {
		t.Errorf("expected 4 values moved, got %d", moved)
	}
	for p, dofs := range relevant {
		for _, dof := range dofs {
			if tables[p][dof] != float64(10*dof) {
				t.Errorf("partition %d dof %d: expected %g, got %g", p, dof, float64(10*dof), tables[p][dof])
			}
		}
	}

	// An owner that lost a value is an error
	delete(tables[0], 4)
	if _, err := hc.Exchange(tables); err == nil {
		t.Errorf("expected error for missing owner value")
	}
}

func TestHaloConnector_VerifyDetectsCorruption(t *testing.T) {
	hc, _, _ := stripHalo(t, 4, 2)
	hc.PlaceIndices[1][0].Indices[0] = 9
	if err := hc.Verify(); err == nil {
		t.Errorf("expected correspondence error")
	}

	hc, _, _ = stripHalo(t, 4, 2)
	hc.GhostsPerPartition[1]++
	if err := hc.Verify(); err == nil {
		t.Errorf("expected conservation error")
	}
}

func TestNewHaloConnector_Invalid(t *testing.T) {
	if _, err := NewHaloConnector(nil, nil); err == nil {
		t.Errorf("expected error without partitions")
	}
	if _, err := NewHaloConnector([][]int{{0, 3}}, []int{0, 0}); err == nil {
		t.Errorf("expected error for dof outside owners")
	}
	if _, err := NewHaloConnector([][]int{{0, 1}}, []int{0, -1}); err == nil {
		t.Errorf("expected error for unowned dof")
	}
}
