package counting

import "testing"

func TestHungarianAssign_Empty(t *testing.T) {
	if result := HungarianAssign(nil); result != nil {
		t.Errorf("expected nil for empty cost matrix, got %v", result)
	}
}

func TestHungarianAssign_NoColumns(t *testing.T) {
	result := HungarianAssign([][]float64{{}, {}})
	if len(result) != 2 || result[0] != -1 || result[1] != -1 {
		t.Errorf("expected [-1 -1], got %v", result)
	}
}

func TestHungarianAssign_SquareOptimal(t *testing.T) {
	//   [1 2 3]     Optimal: row0→col0 (1), row1→col1 (4), row2→col2 (5) = 10
	//   [4 4 6]
	//   [9 8 5]
	cost := [][]float64{
		{1, 2, 3},
		{4, 4, 6},
		{9, 8, 5},
	}
	result := HungarianAssign(cost)
	if len(result) != 3 {
		t.Fatalf("expected 3 assignments, got %d", len(result))
	}

	total := 0.0
	for i, j := range result {
		if j < 0 {
			t.Errorf("row %d unassigned", i)
			continue
		}
		total += cost[i][j]
	}
	if total != 10 {
		t.Errorf("expected optimal cost 10, got %v (assignments: %v)", total, result)
	}
}

func TestHungarianAssign_MoreRowsThanColumns(t *testing.T) {
	cost := [][]float64{
		{1, 9},
		{9, 1},
		{5, 5},
	}
	result := HungarianAssign(cost)
	want := []int{0, 1, -1}
	for i := range want {
		if result[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, result)
		}
	}
}

func TestHungarianAssign_MoreColumnsThanRows(t *testing.T) {
	cost := [][]float64{
		{1, 2, 3},
		{3, 1, 2},
	}
	result := HungarianAssign(cost)
	if result[0] != 0 || result[1] != 1 {
		t.Errorf("expected [0 1], got %v", result)
	}
}

func TestHungarianAssign_Forbidden(t *testing.T) {
	// Row 1 has no reachable column.
	cost := [][]float64{
		{1, 2},
		{hungarianInf, hungarianInf},
	}
	result := HungarianAssign(cost)
	if len(result) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result))
	}
	if result[0] < 0 {
		t.Errorf("row 0 should be assigned, got %d", result[0])
	}
	if result[1] != -1 {
		t.Errorf("row 1 should be unassigned, got %d", result[1])
	}
}
