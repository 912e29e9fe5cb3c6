package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/oneclickreelsai/studious-system/internal/core"
)

// fakeSynth records calls and returns a canned suggestion per title.
type fakeSynth struct {
	calls    []string
	response map[string]*Suggestion
	err      error
}

func (f *fakeSynth) Synthesize(_ context.Context, title, _ string) (*Suggestion, error) {
	f.calls = append(f.calls, title)
	if f.err != nil {
		return nil, f.err
	}
	if s, ok := f.response[title]; ok {
		return s, nil
	}
	return &Suggestion{}, nil
}

func TestEnrichAll(t *testing.T) {
	t.Run("skips items with empty title", func(t *testing.T) {
		q := core.NewQueue()
		items := q.AddItems([]core.FileRef{{Filename: "clip.mp4"}, {Filename: ".mp4"}})
		if items[1].Title != "" {
			t.Fatalf("fixture: expected empty title, got %q", items[1].Title)
		}

		syn := &fakeSynth{response: map[string]*Suggestion{}}
		e := NewEnricher(q, syn)

		rep, err := e.EnrichAll(context.Background(), "comedy")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(syn.calls) != 1 {
			t.Errorf("synthesizer called %d times, want 1", len(syn.calls))
		}
		if rep.Skipped != 1 {
			t.Errorf("skipped = %d, want 1", rep.Skipped)
		}

		after, _ := q.Item(items[1].ID)
		if after.Description != "" || len(after.Tags) != 0 {
			t.Error("skipped item's metadata must remain unchanged")
		}
	})

	t.Run("merges only present fields", func(t *testing.T) {
		q := core.NewQueue()
		items := q.AddItems([]core.FileRef{{Filename: "sunset_walk.mp4"}})

		syn := &fakeSynth{response: map[string]*Suggestion{
			"sunset walk": {Description: "Golden hour.", Tags: []string{"sunset"}},
		}}
		rep, err := NewEnricher(q, syn).EnrichAll(context.Background(), "travel")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rep.Enriched != 1 {
			t.Errorf("enriched = %d, want 1", rep.Enriched)
		}

		it, _ := q.Item(items[0].ID)
		if it.Title != "sunset walk" {
			t.Errorf("absent title field must leave existing title, got %q", it.Title)
		}
		if it.Description != "Golden hour." || len(it.Tags) != 1 {
			t.Errorf("suggestion not merged: %+v", it)
		}
	})

	t.Run("failures are swallowed and the loop continues", func(t *testing.T) {
		q := core.NewQueue()
		q.AddItems([]core.FileRef{{Filename: "a.mp4"}, {Filename: "b.mp4"}})

		syn := &fakeSynth{err: errors.New("rate limited")}
		rep, err := NewEnricher(q, syn).EnrichAll(context.Background(), "music")
		if err != nil {
			t.Fatalf("a per-item failure must not halt the pass: %v", err)
		}
		if rep.Failed != 2 {
			t.Errorf("failed = %d, want 2", rep.Failed)
		}
		if len(syn.calls) != 2 {
			t.Errorf("synthesizer called %d times, want 2", len(syn.calls))
		}
	})

	t.Run("non-pending items are skipped", func(t *testing.T) {
		q := core.NewQueue()
		items := q.AddItems([]core.FileRef{{Filename: "a.mp4"}})
		q.BeginUpload(items[0].ID, []string{"youtube"})

		syn := &fakeSynth{}
		rep, _ := NewEnricher(q, syn).EnrichAll(context.Background(), "music")
		if len(syn.calls) != 0 {
			t.Error("uploading items must not be enriched")
		}
		if rep.Skipped != 1 {
			t.Errorf("skipped = %d, want 1", rep.Skipped)
		}
	})
}
