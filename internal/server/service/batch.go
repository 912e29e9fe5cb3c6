package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/oneclickreelsai/studious-system/internal/core"
	"github.com/oneclickreelsai/studious-system/internal/dispatch"
	"github.com/oneclickreelsai/studious-system/internal/enrich"
	"github.com/oneclickreelsai/studious-system/internal/server/config"
	"github.com/oneclickreelsai/studious-system/internal/server/database"
	"github.com/oneclickreelsai/studious-system/internal/server/storage"
)

// Sentinel errors for the service layer.
var (
	ErrUnsupportedMedia = errors.New("file is not a supported video format")
	ErrFileTooLarge     = errors.New("file exceeds maximum allowed size")
	ErrMediaInUse       = errors.New("media is referenced by a queue item")
)

// DispatchStatus reports the state of the current or most recent run.
type DispatchStatus struct {
	Active       bool         `json:"active"`
	RunID        string       `json:"run_id,omitempty"`
	Retry        bool         `json:"retry,omitempty"`
	Destinations []string     `json:"destinations,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	FinishedAt   *time.Time   `json:"finished_at,omitempty"`
	Report       *core.Counts `json:"report,omitempty"`
	Queue        core.Counts  `json:"queue"`
}

// BatchService owns the queue and its collaborators. It is the single entry
// point for the API layer and serves media payloads to the dispatcher.
type BatchService struct {
	queue      *core.Queue
	dispatcher *dispatch.Dispatcher
	enricher   *enrich.Enricher
	store      storage.Store
	repo       *database.Repository
	cfg        *config.Config
}

// NewBatchService creates a batch service. The repository may be nil, in
// which case finished runs are not persisted.
func NewBatchService(queue *core.Queue, store storage.Store, repo *database.Repository, cfg *config.Config) *BatchService {
	return &BatchService{
		queue: queue,
		store: store,
		repo:  repo,
		cfg:   cfg,
	}
}

// Bind attaches the dispatcher and enricher after construction. The service
// is the dispatcher's media source, so the two cannot be built in one step.
func (s *BatchService) Bind(d *dispatch.Dispatcher, e *enrich.Enricher) {
	s.dispatcher = d
	s.enricher = e
}

// --- dispatch.MediaSource ---

// OpenMedia returns a reader over the stored payload for a queue item.
func (s *BatchService) OpenMedia(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	return s.store.Open(ctx, key)
}

// MediaURL returns the public URL destinations can fetch the payload from.
func (s *BatchService) MediaURL(key string) string {
	return fmt.Sprintf("%s/media/%s", s.cfg.BaseURL, key)
}

// --- Queue operations ---

// Ingest validates an incoming video, stores its payload, and enqueues a
// pending item. The item title is derived from the filename.
func (s *BatchService) Ingest(ctx context.Context, filename string, data io.Reader, size int64) (*core.QueueItem, error) {
	if !core.IsVideoFile(filename) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, filepath.Ext(filename))
	}
	if size > s.cfg.MaxUploadSize {
		return nil, ErrFileTooLarge
	}

	name := sanitizeFilename(filename)
	key := uuid.NewString() + strings.ToLower(filepath.Ext(name))

	stored, err := s.store.Save(ctx, key, data, size)
	if err != nil {
		return nil, fmt.Errorf("failed to store media: %w", err)
	}

	items := s.queue.AddItems([]core.FileRef{{
		Filename:   name,
		StorageKey: key,
		Size:       stored,
	}})
	item := items[0]

	slog.Info("item enqueued",
		"item", item.ID,
		"filename", name,
		"key", key,
		"size", stored,
	)
	return item, nil
}

// ListItems returns the queue in enqueue order plus its status tallies.
func (s *BatchService) ListItems() ([]*core.QueueItem, core.Counts) {
	return s.queue.Snapshot(), s.queue.Counts()
}

// GetItem returns one queue item.
func (s *BatchService) GetItem(id string) (*core.QueueItem, error) {
	item, ok := s.queue.Item(id)
	if !ok {
		return nil, core.ErrItemNotFound
	}
	return item, nil
}

// UpdateItem merges a metadata patch into a pending item.
func (s *BatchService) UpdateItem(id string, patch core.MetadataPatch) (*core.QueueItem, error) {
	return s.queue.UpdateItem(id, patch)
}

// RemoveItem takes an item out of the queue and releases its payload.
func (s *BatchService) RemoveItem(ctx context.Context, id string) error {
	item, err := s.queue.RemoveItem(id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, item.StorageKey); err != nil {
		slog.Error("failed to delete media", "key", item.StorageKey, "error", err)
	}
	slog.Info("item removed", "item", id, "filename", item.Filename)
	return nil
}

// Clear removes every finished item and releases their payloads. Returns the
// number of items removed.
func (s *BatchService) Clear(ctx context.Context) int {
	removed := s.queue.ClearFinished()
	for _, item := range removed {
		if err := s.store.Delete(ctx, item.StorageKey); err != nil {
			slog.Error("failed to delete media", "key", item.StorageKey, "error", err)
		}
	}
	if len(removed) > 0 {
		slog.Info("queue cleared", "removed", len(removed))
	}
	return len(removed)
}

// ReferencedKeys reports the storage keys currently held by queue items.
func (s *BatchService) ReferencedKeys() map[string]bool {
	items := s.queue.Snapshot()
	keys := make(map[string]bool, len(items))
	for _, item := range items {
		keys[item.StorageKey] = true
	}
	return keys
}

// --- Enrichment and dispatch ---

// Enrich fills missing metadata on pending items for the given niche.
func (s *BatchService) Enrich(ctx context.Context, niche string) (enrich.Report, error) {
	return s.enricher.EnrichAll(ctx, niche)
}

// Dispatch starts an upload run over all pending items.
func (s *BatchService) Dispatch(ctx context.Context, settings core.BatchSettings) (DispatchStatus, error) {
	run, err := s.dispatcher.DispatchAll(ctx, settings)
	if err != nil {
		return DispatchStatus{}, err
	}
	go s.persistRun(run)
	return s.runStatus(run), nil
}

// Retry starts an upload run restricted to failed and partial items.
func (s *BatchService) Retry(ctx context.Context, settings core.BatchSettings) (DispatchStatus, error) {
	run, err := s.dispatcher.RetryFailed(ctx, settings)
	if err != nil {
		return DispatchStatus{}, err
	}
	go s.persistRun(run)
	return s.runStatus(run), nil
}

// Cancel requests cancellation of the in-flight run.
func (s *BatchService) Cancel() bool {
	return s.dispatcher.Cancel()
}

// Status reports the current run, or the most recent one when idle.
func (s *BatchService) Status() DispatchStatus {
	if run, ok := s.dispatcher.Current(); ok {
		return s.runStatus(run)
	}
	if run, ok := s.dispatcher.Last(); ok {
		return s.runStatus(run)
	}
	return DispatchStatus{Queue: s.queue.Counts()}
}

func (s *BatchService) runStatus(run *dispatch.Run) DispatchStatus {
	st := DispatchStatus{
		RunID:        run.ID,
		Retry:        run.Retry,
		Destinations: run.Settings.Destinations,
		StartedAt:    &run.StartedAt,
		Queue:        s.queue.Counts(),
	}
	if report, done := run.Report(); done {
		finished := run.FinishedAt()
		st.FinishedAt = &finished
		st.Report = &report
	} else {
		st.Active = true
	}
	return st
}

// persistRun waits for the run to finish and records it, with the final
// state of its items, in the history tables. Runs over an empty snapshot
// are not recorded.
func (s *BatchService) persistRun(run *dispatch.Run) {
	report := run.Wait()
	if s.repo == nil || len(run.ItemIDs) == 0 {
		return
	}

	record := &database.BatchRun{
		ID:           run.ID,
		Niche:        run.Settings.Niche,
		Privacy:      string(run.Settings.Privacy),
		Destinations: run.Settings.Destinations,
		Retry:        run.Retry,
		StartedAt:    run.StartedAt,
		FinishedAt:   run.FinishedAt(),
		Succeeded:    report.Succeeded,
		Partial:      report.Partial,
		Failed:       report.Failed,
		Pending:      report.Pending,
	}
	for _, id := range run.ItemIDs {
		item, ok := s.queue.Item(id)
		if !ok {
			continue
		}
		record.Items = append(record.Items, &database.BatchRunItem{
			ItemID:   item.ID,
			RunID:    run.ID,
			Filename: item.Filename,
			Title:    item.Title,
			Status:   item.Status.String(),
			Error:    item.Error,
			Outcomes: item.Outcomes,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.repo.CreateRun(ctx, record); err != nil {
		slog.Error("failed to persist batch run", "run", run.ID, "error", err)
		return
	}
	slog.Info("batch run persisted", "run", run.ID, "items", len(record.Items))
}

// --- History ---

// ListRuns returns recent run records, newest first.
func (s *BatchService) ListRuns(ctx context.Context, limit int) ([]*database.BatchRun, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListRuns(ctx, limit)
}

// GetRun returns one run record with its item snapshots.
func (s *BatchService) GetRun(ctx context.Context, id string) (*database.BatchRun, error) {
	if s.repo == nil {
		return nil, database.ErrRunNotFound
	}
	return s.repo.GetRun(ctx, id)
}

// Stats returns aggregate history statistics.
func (s *BatchService) Stats(ctx context.Context) (*database.Stats, error) {
	if s.repo == nil {
		return &database.Stats{}, nil
	}
	return s.repo.GetStats(ctx)
}

// --- Media ---

// ListMedia returns every stored payload.
func (s *BatchService) ListMedia(ctx context.Context) ([]storage.ObjectInfo, error) {
	return s.store.List(ctx)
}

// DeleteMedia removes a stored payload that no queue item references.
func (s *BatchService) DeleteMedia(ctx context.Context, key string) error {
	if s.ReferencedKeys()[key] {
		return ErrMediaInUse
	}
	return s.store.Delete(ctx, key)
}

// sanitizeFilename strips directory components and limits length.
func sanitizeFilename(name string) string {
	// Normalize Windows-style backslashes before calling filepath.Base,
	// which is platform-specific.
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(name)

	if len(name) > 255 {
		ext := filepath.Ext(name)
		name = name[:255-len(ext)] + ext
	}

	if name == "" || name == "." {
		name = "clip.mp4"
	}
	return name
}
