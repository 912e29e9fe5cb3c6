package enrich

import (
	"context"
	"errors"
	"log/slog"

	"github.com/oneclickreelsai/studious-system/internal/core"
)

// Report tallies one enrichment pass.
type Report struct {
	Enriched int `json:"enriched"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// Enricher runs best-effort metadata enrichment over pending queue items.
type Enricher struct {
	queue *core.Queue
	syn   Synthesizer
}

// NewEnricher creates an enricher over the given queue.
func NewEnricher(queue *core.Queue, syn Synthesizer) *Enricher {
	return &Enricher{queue: queue, syn: syn}
}

// EnrichAll requests synthesized metadata for every pending item with a
// non-empty title and merges the results. Items without a title are skipped.
// A failed synthesis is logged and swallowed; enrichment is not on the
// critical path. Each merge goes through the queue's update path, so partial
// writes to one item's metadata cannot interleave.
func (e *Enricher) EnrichAll(ctx context.Context, niche string) (Report, error) {
	var rep Report

	for _, it := range e.queue.Snapshot() {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		if it.Status != core.StatusPending || it.Title == "" {
			rep.Skipped++
			continue
		}

		sug, err := e.syn.Synthesize(ctx, it.Title, niche)
		if err != nil {
			slog.Warn("metadata synthesis failed", "item", it.ID, "title", it.Title, "error", err)
			rep.Failed++
			continue
		}

		patch := core.MetadataPatch{}
		if sug.Title != "" {
			patch.Title = &sug.Title
		}
		if sug.Description != "" {
			patch.Description = &sug.Description
		}
		if len(sug.Tags) > 0 {
			patch.Tags = sug.Tags
		}

		if _, err := e.queue.UpdateItem(it.ID, patch); err != nil {
			// The item may have been removed or dispatched since the snapshot.
			if errors.Is(err, core.ErrItemNotFound) || errors.Is(err, core.ErrMetadataFrozen) {
				rep.Skipped++
				continue
			}
			return rep, err
		}
		rep.Enriched++
	}

	return rep, nil
}
