package counting

import (
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// match pairs a track row with a detection column of the distance matrix.
type match struct {
	row int
	col int
}

// assignFunc resolves a tracks×detections distance matrix into matches.
// Pairs farther apart than gate are never returned.
type assignFunc func(dist *mat.Dense, gate float64) []match

func assignerFor(a Assignment) assignFunc {
	if a == AssignHungarian {
		return hungarianAssign
	}
	return greedyAssign
}

// distanceMatrix returns the centroid distances between tracks (rows) and
// detections (columns). Both slices must be non-empty.
func distanceMatrix(tracks []*Track, detections []Detection) *mat.Dense {
	dist := mat.NewDense(len(tracks), len(detections), nil)
	for i, track := range tracks {
		for j, det := range detections {
			dist.Set(i, j, track.Center.DistanceTo(det.Center))
		}
	}
	return dist
}

// greedyAssign visits rows in ascending order of their minimum distance
// (ties keep row order) and gives each row its nearest column unless that
// row or column is already taken or the distance exceeds the gate. A row
// whose nearest column is taken is not retried against its second choice.
// Dense crossing scenes can therefore be mis-resolved; hungarianAssign is
// the optimal alternative.
func greedyAssign(dist *mat.Dense, gate float64) []match {
	rows, cols := dist.Dims()
	nearest := make([]int, rows)
	minimum := make([]float64, rows)
	order := make([]int, rows)
	for i := 0; i < rows; i++ {
		row := dist.RawRowView(i)
		nearest[i] = floats.MinIdx(row)
		minimum[i] = row[nearest[i]]
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return minimum[order[a]] < minimum[order[b]]
	})

	usedRows := make([]bool, rows)
	usedCols := make([]bool, cols)
	matches := make([]match, 0, min(rows, cols))
	for _, r := range order {
		c := nearest[r]
		if usedRows[r] || usedCols[c] {
			continue
		}
		if minimum[r] > gate {
			continue
		}
		usedRows[r] = true
		usedCols[c] = true
		matches = append(matches, match{row: r, col: c})
	}
	return matches
}

// hungarianAssign finds the gated assignment with minimum total distance.
// Matches are returned in ascending row order.
func hungarianAssign(dist *mat.Dense, gate float64) []match {
	rows, cols := dist.Dims()
	cost := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		cost[i] = make([]float64, cols)
		for j := 0; j < cols; j++ {
			d := dist.At(i, j)
			if d > gate {
				d = hungarianInf
			}
			cost[i][j] = d
		}
	}

	var matches []match
	for r, c := range HungarianAssign(cost) {
		if c >= 0 {
			matches = append(matches, match{row: r, col: c})
		}
	}
	return matches
}
