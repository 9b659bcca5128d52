package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"globiagent/internal/extractor"
	"globiagent/internal/globi"
	"globiagent/internal/records"
	"globiagent/internal/storage"
)

type fakeExtractor struct {
	params globi.SearchParameters
	err    error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, _ string) (globi.SearchParameters, error) {
	f.calls++
	return f.params, f.err
}

type failingFetcher struct{}

func (failingFetcher) QueryURL(p globi.SearchParameters) string {
	return "http://globi.invalid/taxon/" + p.SubjectTaxon + "/" + p.InteractionType + "?type=csv"
}

func (failingFetcher) FetchInteractions(_ context.Context, _ globi.SearchParameters) (globi.FetchResult, error) {
	return globi.FetchResult{}, fmt.Errorf("%w: connection refused", globi.ErrFetch)
}

type memoryRecorder struct {
	runs []storage.Run
}

func (m *memoryRecorder) RecordRun(_ context.Context, r storage.Run) (int64, error) {
	m.runs = append(m.runs, r)
	return int64(len(m.runs)), nil
}

type collector struct {
	events []Event
}

func (c *collector) Publish(_ context.Context, ev Event) error {
	c.events = append(c.events, ev)
	return nil
}

func najaNaja() globi.SearchParameters {
	return globi.SearchParameters{SubjectTaxon: "Naja naja", InteractionType: "eatenBy"}
}

func newGlobiServer(t *testing.T, body string) (*globi.Client, *int) {
	t.Helper()
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		if r.URL.Path != "/taxon/Naja naja/eatenBy" || r.URL.Query().Get("type") != "csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return globi.New(globi.Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Logger: zerolog.Nop()}), &hits
}

func TestRunFindInteractions(t *testing.T) {
	fixture, err := os.ReadFile("testdata/naja_naja_eaten_by.csv")
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	fetcher, hits := newGlobiServer(t, string(fixture))
	rec := &memoryRecorder{}
	a := New(Config{
		Extractor: &fakeExtractor{params: najaNaja()},
		Fetcher:   fetcher,
		Recorder:  rec,
		Logger:    zerolog.Nop(),
	})

	sink := &collector{}
	if err := a.Run(context.Background(), "What eats Naja naja?", EntrypointFindInteractions, sink); err != nil {
		t.Fatalf("run: %v", err)
	}

	queryURL := fetcher.QueryURL(najaNaja())
	parsed, err := records.ParseCSV(string(fixture))
	if err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	content, err := records.Encode(parsed)
	if err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	want := []Event{
		{Type: EventBegin, Summary: "Searching GloBI"},
		{Type: EventLog, Text: "Generating search parameters for the GloBI interactions API"},
		{Type: EventLog, Text: "Generated search parameters", Data: map[string]any{
			"subject_taxon":    "Naja naja",
			"interaction_type": "eatenBy",
		}},
		{Type: EventLog, Text: "Sending a GET request to the GloBI API at " + queryURL},
		{Type: EventLog, Text: "Found 4 distinct interaction(s) across 3 interaction type(s)"},
		{Type: EventArtifact, Artifact: &Artifact{
			Mimetype:    "application/json",
			Description: `List of taxa that "Naja naja" relates to as "eatenBy" or similar`,
			Content:     content,
			Metadata: map[string]string{
				"derived_from": queryURL,
				"source":       "GloBI",
			},
		}},
	}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if *hits != 1 {
		t.Fatalf("expected exactly one upstream request, got %d", *hits)
	}

	var decoded []map[string]string
	if err := json.Unmarshal(sink.events[5].Artifact.Content, &decoded); err != nil {
		t.Fatalf("artifact content is not a json array of objects: %v", err)
	}
	if len(decoded) != 4 || decoded[0]["target_taxon_name"] != "Ophiophagus hannah" {
		t.Fatalf("unexpected artifact content: %v", decoded)
	}

	if len(rec.runs) != 1 {
		t.Fatalf("expected one recorded run, got %d", len(rec.runs))
	}
	got := rec.runs[0]
	if got.Status != storage.RunStatusOK || got.RecordCount != 4 || got.InteractionTypeCount != 3 {
		t.Fatalf("unexpected recorded run: %+v", got)
	}
	if got.QueryURL != queryURL || got.UpstreamStatus != http.StatusOK {
		t.Fatalf("unexpected recorded provenance: %+v", got)
	}
}

func TestRunExtractionFailure(t *testing.T) {
	ex := &fakeExtractor{err: fmt.Errorf("%w: attempts exhausted", extractor.ErrExtraction)}
	fetcher, hits := newGlobiServer(t, "")
	rec := &memoryRecorder{}
	a := New(Config{Extractor: ex, Fetcher: fetcher, Recorder: rec, Logger: zerolog.Nop()})

	sink := &collector{}
	err := a.Run(context.Background(), "gibberish", EntrypointFindInteractions, sink)
	if !errors.Is(err, extractor.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}

	want := []Event{
		{Type: EventBegin, Summary: "Searching GloBI"},
		{Type: EventLog, Text: "Generating search parameters for the GloBI interactions API"},
	}
	if diff := cmp.Diff(want, sink.events); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if *hits != 0 {
		t.Fatalf("expected no upstream request, got %d", *hits)
	}
	if len(rec.runs) != 1 || rec.runs[0].Status != storage.RunStatusFailed || rec.runs[0].Error == "" {
		t.Fatalf("expected a failed run to be recorded, got %+v", rec.runs)
	}
}

func TestRunFetchFailure(t *testing.T) {
	a := New(Config{Extractor: &fakeExtractor{params: najaNaja()}, Fetcher: failingFetcher{}, Logger: zerolog.Nop()})

	sink := &collector{}
	err := a.Run(context.Background(), "What eats Naja naja?", EntrypointFindInteractions, sink)
	if !errors.Is(err, globi.ErrFetch) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if len(sink.events) != 4 {
		t.Fatalf("expected 4 events before the failure, got %d", len(sink.events))
	}
	for _, ev := range sink.events {
		if ev.Type == EventArtifact {
			t.Fatal("artifact must not be published after a fetch failure")
		}
	}
}

func TestRunNon2xxBodyPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	fetcher := globi.New(globi.Config{BaseURL: srv.URL, HTTPClient: srv.Client(), Logger: zerolog.Nop()})
	a := New(Config{Extractor: &fakeExtractor{params: najaNaja()}, Fetcher: fetcher, Logger: zerolog.Nop()})

	sink := &collector{}
	if err := a.Run(context.Background(), "What eats Naja naja?", EntrypointFindInteractions, sink); err != nil {
		t.Fatalf("run: %v", err)
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != EventArtifact || string(last.Artifact.Content) != "[]" {
		t.Fatalf("expected an empty artifact, got %+v", last)
	}
	if sink.events[len(sink.events)-2].Text != "Found 0 distinct interaction(s) across 0 interaction type(s)" {
		t.Fatalf("unexpected count log: %q", sink.events[len(sink.events)-2].Text)
	}
}

func TestRunUnknownEntrypoint(t *testing.T) {
	ex := &fakeExtractor{params: najaNaja()}
	a := New(Config{Extractor: ex, Fetcher: failingFetcher{}, Logger: zerolog.Nop()})

	sink := &collector{}
	err := a.Run(context.Background(), "What eats Naja naja?", "find_occurrences", sink)
	if !errors.Is(err, ErrUnknownEntrypoint) {
		t.Fatalf("expected unknown entrypoint error, got %v", err)
	}
	if len(sink.events) != 0 || ex.calls != 0 {
		t.Fatalf("expected nothing to happen, got %d events and %d extractions", len(sink.events), ex.calls)
	}
}

func TestRunStopsWhenSinkFails(t *testing.T) {
	ex := &fakeExtractor{params: najaNaja()}
	a := New(Config{Extractor: ex, Fetcher: failingFetcher{}, Logger: zerolog.Nop()})

	boom := errors.New("client went away")
	sink := SinkFunc(func(context.Context, Event) error { return boom })
	if err := a.Run(context.Background(), "What eats Naja naja?", EntrypointFindInteractions, sink); !errors.Is(err, boom) {
		t.Fatalf("expected sink error, got %v", err)
	}
	if ex.calls != 0 {
		t.Fatalf("expected extraction to be skipped, got %d calls", ex.calls)
	}
}

func TestCard(t *testing.T) {
	a := New(Config{PublicURL: "https://agents.example.org/globi", Logger: zerolog.Nop()})
	card := a.Card()
	if card.Name != "GloBI (Global Biotic Interactions)" || card.URL != "https://agents.example.org/globi" {
		t.Fatalf("unexpected card: %+v", card)
	}
	if len(card.Entrypoints) != 1 || card.Entrypoints[0].ID != "find_interactions" {
		t.Fatalf("unexpected entrypoints: %+v", card.Entrypoints)
	}

	raw, err := json.Marshal(card)
	if err != nil {
		t.Fatalf("marshal card: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err != nil {
		t.Fatalf("unmarshal card: %v", err)
	}
	entry := generic["entrypoints"].([]any)[0].(map[string]any)
	if v, ok := entry["parameters"]; !ok || v != nil {
		t.Fatalf("expected null parameters, got %v", v)
	}
}
