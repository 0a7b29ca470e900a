package ingest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/jarcoal/httpmock"

	"trophos/internal/storage"
)

func newTestIngestor(t *testing.T) (*Ingestor, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init store: %v", err)
	}
	client := newMockClient(t, ClientConfig{})
	in, err := NewIngestor(client, store, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("NewIngestor: %v", err)
	}
	return in, store
}

func registerMediaList(t *testing.T) {
	t.Helper()
	httpmock.RegisterResponderWithQuery("GET", testBase+"/media",
		url.Values{"limit": {"200"}, "offset": {"0"}},
		httpmock.NewStringResponder(http.StatusOK, `{"data":[
			{"id":1,"name":"Nutrient broth","complex_medium":true,"source":"DSMZ","min_pH":6.8,"max_pH":7.2},
			{"id":2,"name":"Glucose minimal","complex_medium":false,"source":"DSMZ"}
		]}`))
}

func TestMediaStoresFormulationsWithComposition(t *testing.T) {
	in, store := newTestIngestor(t)
	registerMediaList(t)
	httpmock.RegisterResponder("GET", testBase+"/medium-composition/1",
		httpmock.NewStringResponder(http.StatusOK, `{"data":[
			{"id":10,"name":"Peptone","g_l":5,"optional":false},
			{"id":11,"name":"NaCl","g_l":8,"optional":true}
		]}`))
	httpmock.RegisterResponder("GET", testBase+"/medium-composition/2",
		httpmock.NewStringResponder(http.StatusOK, `{"data":[
			{"id":12,"name":"Glucose","mmol_l":55.5}
		]}`))

	report, err := in.Media(context.Background())
	if err != nil {
		t.Fatalf("Media: %v", err)
	}
	if report.Stored != 2 || report.Failed != 0 {
		t.Fatalf("report = %+v, want 2 stored, 0 failed", report)
	}
	if report.BatchID == "" {
		t.Fatal("report has no batch id")
	}

	ctx := context.Background()
	m1, ok, err := store.GetMedia(ctx, "1")
	if err != nil || !ok {
		t.Fatalf("GetMedia(1): ok=%v err=%v", ok, err)
	}
	if m1.Name != "Nutrient broth" || !m1.Complex || m1.MinPH != 6.8 {
		t.Fatalf("medium 1 = %+v", m1)
	}
	if len(m1.Composition) != 2 {
		t.Fatalf("medium 1 composition = %+v", m1.Composition)
	}
	if m1.Composition[0].IngredientID != 10 || m1.Composition[0].Grams != 5 {
		t.Fatalf("medium 1 line 0 = %+v", m1.Composition[0])
	}
	if !m1.Composition[1].Optional {
		t.Fatal("medium 1 line 1 lost its optional flag")
	}

	m2, ok, err := store.GetMedia(ctx, "2")
	if err != nil || !ok {
		t.Fatalf("GetMedia(2): ok=%v err=%v", ok, err)
	}
	if len(m2.Composition) != 1 || m2.Composition[0].Mmol != 55.5 || m2.Composition[0].Grams != 0 {
		t.Fatalf("medium 2 composition = %+v", m2.Composition)
	}
}

func TestMediaSkipsCompletedListOnRerun(t *testing.T) {
	in, _ := newTestIngestor(t)
	registerMediaList(t)
	for _, id := range []string{"1", "2"} {
		httpmock.RegisterResponder("GET", testBase+"/medium-composition/"+id,
			httpmock.NewStringResponder(http.StatusOK, `{"data":[]}`))
	}

	if _, err := in.Media(context.Background()); err != nil {
		t.Fatalf("first Media: %v", err)
	}
	before := httpmock.GetTotalCallCount()

	report, err := in.Media(context.Background())
	if err != nil {
		t.Fatalf("second Media: %v", err)
	}
	if !report.Skipped {
		t.Fatal("rerun did not report the list pass as skipped")
	}
	if got := httpmock.GetTotalCallCount(); got != before {
		t.Fatalf("rerun refetched: calls %d -> %d", before, got)
	}
}

func TestMediaRetriesFailedCompositionOnRerun(t *testing.T) {
	in, store := newTestIngestor(t)
	registerMediaList(t)
	httpmock.RegisterResponder("GET", testBase+"/medium-composition/1",
		httpmock.NewStringResponder(http.StatusOK, `{"data":[{"id":10,"name":"Peptone","g_l":5}]}`))
	httpmock.RegisterResponder("GET", testBase+"/medium-composition/2",
		httpmock.NewStringResponder(http.StatusNotFound, "missing"))

	report, err := in.Media(context.Background())
	if err != nil {
		t.Fatalf("first Media: %v", err)
	}
	if report.Failed != 1 {
		t.Fatalf("Failed = %d, want 1", report.Failed)
	}

	// The composition task for medium 2 must stay open for the rerun.
	httpmock.RegisterResponder("GET", testBase+"/medium-composition/2",
		httpmock.NewStringResponder(http.StatusOK, `{"data":[{"id":12,"name":"Glucose","g_l":20}]}`))

	report, err = in.Media(context.Background())
	if err != nil {
		t.Fatalf("second Media: %v", err)
	}
	if report.Failed != 0 {
		t.Fatalf("Failed after rerun = %d, want 0", report.Failed)
	}
	m2, ok, err := store.GetMedia(context.Background(), "2")
	if err != nil || !ok {
		t.Fatalf("GetMedia(2): ok=%v err=%v", ok, err)
	}
	if len(m2.Composition) != 1 || m2.Composition[0].Grams != 20 {
		t.Fatalf("medium 2 composition after rerun = %+v", m2.Composition)
	}
}
