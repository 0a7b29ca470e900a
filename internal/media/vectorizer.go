// Package media turns growth-media formulations into fixed-length
// concentration vectors over a shared ingredient vocabulary.
package media

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"trophos/internal/model"
)

var (
	ErrUnknownIngredient     = errors.New("ingredient not in vocabulary")
	ErrNegativeConcentration = errors.New("negative ingredient concentration")
)

// Vocabulary maps ingredient IDs to dense vector positions. The slices are
// parallel and ordered by ascending ingredient ID, so the same catalog always
// produces the same layout. Version changes exactly when membership changes.
type Vocabulary struct {
	IDs       []int64
	Names     []string
	MolarMass []float64
	Index     map[int64]int
	Version   string
}

// Dim reports the vector length for this vocabulary.
func (v Vocabulary) Dim() int {
	return len(v.IDs)
}

// IndexOf returns the dense position of an ingredient ID.
func (v Vocabulary) IndexOf(id int64) (int, bool) {
	idx, ok := v.Index[id]
	return idx, ok
}

// BuildVocabulary derives the canonical vocabulary from an ingredient
// catalog. Input order does not matter.
func BuildVocabulary(ingredients []model.Ingredient) Vocabulary {
	sorted := make([]model.Ingredient, len(ingredients))
	copy(sorted, ingredients)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	vocab := Vocabulary{
		IDs:       make([]int64, 0, len(sorted)),
		Names:     make([]string, 0, len(sorted)),
		MolarMass: make([]float64, 0, len(sorted)),
		Index:     make(map[int64]int, len(sorted)),
	}
	hasher := fnv.New64a()
	for _, ing := range sorted {
		if _, dup := vocab.Index[ing.ID]; dup {
			continue
		}
		vocab.Index[ing.ID] = len(vocab.IDs)
		vocab.IDs = append(vocab.IDs, ing.ID)
		vocab.Names = append(vocab.Names, ing.Name)
		vocab.MolarMass = append(vocab.MolarMass, ing.MolarMass)
		var buf [8]byte
		for shift := 0; shift < 8; shift++ {
			buf[shift] = byte(ing.ID >> (8 * shift))
		}
		_, _ = hasher.Write(buf[:])
	}
	vocab.Version = fmt.Sprintf("v%d-%016x", len(vocab.IDs), hasher.Sum64())
	return vocab
}

// Report carries per-formulation vectorization notes that are not errors.
type Report struct {
	MediaID string
	// RawUnitEntries counts components whose amount was given in mmol/L
	// with no molar mass on record, so the raw value was kept as is.
	RawUnitEntries int
}

// Vectorize lays a formulation out over the vocabulary. Each position holds
// the component concentration in g/L; mmol/L amounts are converted when the
// ingredient's molar mass is known. Duplicate components are summed in input
// order. A negative amount or an ingredient outside the vocabulary fails the
// whole formulation.
func Vectorize(f model.MediaFormulation, vocab Vocabulary) ([]float64, Report, error) {
	report := Report{MediaID: f.ID}
	for _, comp := range f.Composition {
		if comp.Grams < 0 || comp.Mmol < 0 {
			return nil, report, fmt.Errorf("media %s ingredient %d: %w", f.ID, comp.IngredientID, ErrNegativeConcentration)
		}
		if _, ok := vocab.Index[comp.IngredientID]; !ok {
			return nil, report, fmt.Errorf("media %s ingredient %d: %w (vocabulary %s)", f.ID, comp.IngredientID, ErrUnknownIngredient, vocab.Version)
		}
	}

	type amounts struct {
		grams float64
		mmol  float64
	}
	merged := make(map[int64]amounts, len(f.Composition))
	for _, comp := range f.Composition {
		a := merged[comp.IngredientID]
		a.grams += comp.Grams
		a.mmol += comp.Mmol
		merged[comp.IngredientID] = a
	}

	vec := make([]float64, vocab.Dim())
	for id, a := range merged {
		idx := vocab.Index[id]
		switch {
		case a.grams > 0:
			vec[idx] = a.grams
		case a.mmol > 0:
			if mass := vocab.MolarMass[idx]; mass > 0 {
				vec[idx] = a.mmol * mass / 1000
			} else {
				vec[idx] = a.mmol
				report.RawUnitEntries++
			}
		}
	}
	return vec, report, nil
}

// LogScale compresses concentrations with log1p. Media span several orders
// of magnitude between trace elements and bulk carbon sources.
func LogScale(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = math.Log1p(v)
	}
	return out
}

// Unscale inverts LogScale.
func Unscale(vec []float64) []float64 {
	out := make([]float64, len(vec))
	for i, v := range vec {
		out[i] = math.Expm1(v)
	}
	return out
}
