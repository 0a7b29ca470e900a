package media

import (
	"errors"
	"math"
	"testing"

	"trophos/internal/model"
)

func testCatalog() []model.Ingredient {
	return []model.Ingredient{
		{ID: 10, Name: "Glucose", MolarMass: 180.16},
		{ID: 3, Name: "NaCl", MolarMass: 58.44},
		{ID: 25, Name: "Yeast extract"},
	}
}

func TestBuildVocabularyOrdersByID(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	if vocab.Dim() != 3 {
		t.Fatalf("dim: got=%d want=3", vocab.Dim())
	}
	wantIDs := []int64{3, 10, 25}
	for i, id := range wantIDs {
		if vocab.IDs[i] != id {
			t.Fatalf("id[%d]: got=%d want=%d", i, vocab.IDs[i], id)
		}
		if idx, ok := vocab.IndexOf(id); !ok || idx != i {
			t.Fatalf("index of %d: got=%d,%v want=%d", id, idx, ok, i)
		}
	}
	if vocab.Names[0] != "NaCl" {
		t.Fatalf("name[0]: got=%q want=NaCl", vocab.Names[0])
	}
}

func TestBuildVocabularyVersionIgnoresInputOrder(t *testing.T) {
	catalog := testCatalog()
	reversed := []model.Ingredient{catalog[2], catalog[1], catalog[0]}

	a := BuildVocabulary(catalog)
	b := BuildVocabulary(reversed)
	if a.Version != b.Version {
		t.Fatalf("version depends on input order: %s != %s", a.Version, b.Version)
	}
}

func TestBuildVocabularyVersionTracksMembership(t *testing.T) {
	base := BuildVocabulary(testCatalog())
	grown := BuildVocabulary(append(testCatalog(), model.Ingredient{ID: 99, Name: "Agar"}))
	if base.Version == grown.Version {
		t.Fatalf("version unchanged after adding a member: %s", base.Version)
	}
}

func TestVectorizeGramsAndMmol(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	f := model.MediaFormulation{
		ID: "M1",
		Composition: []model.IngredientAmount{
			{IngredientID: 10, Grams: 5},
			{IngredientID: 3, Mmol: 100},
		},
	}

	vec, report, err := Vectorize(f, vocab)
	if err != nil {
		t.Fatalf("vectorize: %v", err)
	}
	if report.RawUnitEntries != 0 {
		t.Fatalf("raw unit entries: got=%d want=0", report.RawUnitEntries)
	}
	if got := vec[vocab.Index[10]]; got != 5 {
		t.Fatalf("glucose: got=%v want=5", got)
	}
	want := 100 * 58.44 / 1000
	if got := vec[vocab.Index[3]]; math.Abs(got-want) > 1e-12 {
		t.Fatalf("nacl: got=%v want=%v", got, want)
	}
}

func TestVectorizeKeepsRawValueWithoutMolarMass(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	f := model.MediaFormulation{
		ID:          "M2",
		Composition: []model.IngredientAmount{{IngredientID: 25, Mmol: 2.5}},
	}

	vec, report, err := Vectorize(f, vocab)
	if err != nil {
		t.Fatalf("vectorize: %v", err)
	}
	if report.RawUnitEntries != 1 {
		t.Fatalf("raw unit entries: got=%d want=1", report.RawUnitEntries)
	}
	if got := vec[vocab.Index[25]]; got != 2.5 {
		t.Fatalf("yeast extract: got=%v want=2.5", got)
	}
}

func TestVectorizeMergesDuplicateComponents(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	f := model.MediaFormulation{
		ID: "M3",
		Composition: []model.IngredientAmount{
			{IngredientID: 10, Grams: 2},
			{IngredientID: 10, Grams: 0.5},
		},
	}

	vec, _, err := Vectorize(f, vocab)
	if err != nil {
		t.Fatalf("vectorize: %v", err)
	}
	if got := vec[vocab.Index[10]]; got != 2.5 {
		t.Fatalf("merged glucose: got=%v want=2.5", got)
	}
}

func TestVectorizeRejectsNegativeAmount(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	f := model.MediaFormulation{
		ID:          "M4",
		Composition: []model.IngredientAmount{{IngredientID: 10, Grams: -1}},
	}
	_, _, err := Vectorize(f, vocab)
	if !errors.Is(err, ErrNegativeConcentration) {
		t.Fatalf("expected negative amount error, got %v", err)
	}
}

func TestVectorizeRejectsUnknownIngredient(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	f := model.MediaFormulation{
		ID:          "M5",
		Composition: []model.IngredientAmount{{IngredientID: 777, Grams: 1}},
	}
	_, _, err := Vectorize(f, vocab)
	if !errors.Is(err, ErrUnknownIngredient) {
		t.Fatalf("expected unknown ingredient error, got %v", err)
	}
}

func TestVectorizeIdempotent(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	f := model.MediaFormulation{
		ID: "M6",
		Composition: []model.IngredientAmount{
			{IngredientID: 3, Grams: 0.1},
			{IngredientID: 10, Grams: 0.2},
			{IngredientID: 10, Grams: 0.3},
			{IngredientID: 25, Mmol: 1},
		},
	}

	first, _, err := Vectorize(f, vocab)
	if err != nil {
		t.Fatalf("vectorize: %v", err)
	}
	second, _, err := Vectorize(f, vocab)
	if err != nil {
		t.Fatalf("vectorize again: %v", err)
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("vector differs at %d: %v != %v", i, first[i], second[i])
		}
	}
}

func TestLogScaleRoundTrip(t *testing.T) {
	vec := []float64{0, 0.001, 1, 250}
	back := Unscale(LogScale(vec))
	for i := range vec {
		if math.Abs(back[i]-vec[i]) > 1e-9 {
			t.Fatalf("round trip at %d: got=%v want=%v", i, back[i], vec[i])
		}
	}
}

func TestComponentsSortsByAmount(t *testing.T) {
	vocab := BuildVocabulary(testCatalog())
	vec := make([]float64, vocab.Dim())
	vec[vocab.Index[3]] = 0.5
	vec[vocab.Index[10]] = 4
	vec[vocab.Index[25]] = 0.0005

	comps, err := Components(vec, vocab, 0.001)
	if err != nil {
		t.Fatalf("components: %v", err)
	}
	if len(comps) != 2 {
		t.Fatalf("components: got=%d want=2", len(comps))
	}
	if comps[0].Name != "Glucose" || comps[1].Name != "NaCl" {
		t.Fatalf("unexpected order: %+v", comps)
	}

	if _, err := Components(vec[:2], vocab, 0); err == nil {
		t.Fatal("expected length mismatch error")
	}
}
