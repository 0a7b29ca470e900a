package dataset

import (
	"math"
	"math/rand"
	"sort"

	"trophos/internal/model"
)

// row is one joined training example before partitioning.
type row struct {
	embedding  []float64
	media      []float64
	label      float64
	typ        model.OrganismType
	confidence float64
}

// allocate distributes n rows over three ratios with largest-remainder
// rounding. Ties go to the earlier split, so train fills before val before
// test.
func allocate(n int, ratios [3]float64) [3]int {
	var counts [3]int
	var remainders [3]float64
	used := 0
	for i, ratio := range ratios {
		exact := ratio * float64(n)
		counts[i] = int(math.Floor(exact))
		remainders[i] = exact - math.Floor(exact)
		used += counts[i]
	}

	order := []int{0, 1, 2}
	sort.SliceStable(order, func(a, b int) bool {
		return remainders[order[a]] > remainders[order[b]]
	})
	for leftover := n - used; leftover > 0; leftover-- {
		counts[order[0]]++
		order = append(order[1:], order[0])
	}
	return counts
}

// stratifiedSplit partitions rows by organism type. Strata are visited in
// canonical type order, each shuffled with the shared seeded source and
// allocated by largest remainder, so the same seed over the same rows always
// reproduces the same membership. When every ratio is positive and there are
// at least three rows, a deterministic rebalance moves rows from the largest
// split so no split comes back empty.
func stratifiedSplit(rows []row, ratios [3]float64, seed int64) [3][]row {
	strata := make(map[model.OrganismType][]row)
	for _, r := range rows {
		strata[r.typ] = append(strata[r.typ], r)
	}

	typeOrder := make([]model.OrganismType, 0, len(strata))
	seen := make(map[model.OrganismType]bool, len(strata))
	for _, typ := range model.OrganismTypes {
		if _, ok := strata[typ]; ok {
			typeOrder = append(typeOrder, typ)
			seen[typ] = true
		}
	}
	var extra []model.OrganismType
	for typ := range strata {
		if !seen[typ] {
			extra = append(extra, typ)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	typeOrder = append(typeOrder, extra...)

	var out [3][]row
	rng := rand.New(rand.NewSource(seed))
	for _, typ := range typeOrder {
		stratum := strata[typ]
		rng.Shuffle(len(stratum), func(i, j int) {
			stratum[i], stratum[j] = stratum[j], stratum[i]
		})
		counts := allocate(len(stratum), ratios)
		start := 0
		for s := 0; s < 3; s++ {
			out[s] = append(out[s], stratum[start:start+counts[s]]...)
			start += counts[s]
		}
	}

	if len(rows) >= 3 && ratios[0] > 0 && ratios[1] > 0 && ratios[2] > 0 {
		rebalance(&out)
	}
	return out
}

// rebalance moves the tail row of the largest split into each empty one.
func rebalance(out *[3][]row) {
	for s := 0; s < 3; s++ {
		if len(out[s]) > 0 {
			continue
		}
		largest := 0
		for c := 1; c < 3; c++ {
			if len(out[c]) > len(out[largest]) {
				largest = c
			}
		}
		if len(out[largest]) < 2 {
			continue
		}
		last := len(out[largest]) - 1
		out[s] = append(out[s], out[largest][last])
		out[largest] = out[largest][:last]
	}
}
