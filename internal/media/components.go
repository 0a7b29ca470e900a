package media

import (
	"fmt"
	"sort"
)

// Component is one named entry of a decoded media vector.
type Component struct {
	IngredientID int64   `json:"ingredient_id"`
	Name         string  `json:"name"`
	GramsPerL    float64 `json:"grams_per_l"`
}

// Components lists the ingredients of a vector whose concentration exceeds
// the threshold, sorted by descending amount. Ties break on ingredient ID so
// the listing is stable.
func Components(vec []float64, vocab Vocabulary, threshold float64) ([]Component, error) {
	if len(vec) != vocab.Dim() {
		return nil, fmt.Errorf("vector length %d does not match vocabulary %s (%d)", len(vec), vocab.Version, vocab.Dim())
	}
	var out []Component
	for i, v := range vec {
		if v <= threshold {
			continue
		}
		out = append(out, Component{
			IngredientID: vocab.IDs[i],
			Name:         vocab.Names[i],
			GramsPerL:    v,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GramsPerL != out[j].GramsPerL {
			return out[i].GramsPerL > out[j].GramsPerL
		}
		return out[i].IngredientID < out[j].IngredientID
	})
	return out, nil
}
